// Package operator holds the closed library of pure recipe transforms the
// runner draws from, and the registry that exposes them to the bandit.
package operator

import (
	"context"
	"fmt"
	"sync"

	"github.com/brianmeyer/promptforge/internal/application/bandit"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// Context carries the inputs an Apply function may need beyond the
// recipe itself: the run and iteration identity, the task class, the
// task's sample input, and the run's cumulative history.
type Context struct {
	RunID      string
	Iteration  int
	TaskClass  models.TaskClass
	SampleInput map[string]any
	History    []models.Variant
}

// Apply transforms recipe into a new candidate recipe. Implementations
// must be pure: no I/O, no mutation of the input recipe, deterministic
// given the same inputs (aside from any explicit randomness seeded from
// Context).
type Apply func(recipe models.Recipe, ctx Context) (models.Recipe, error)

// Operator is one named, pure recipe transform tagged to a framework.
type Operator struct {
	Tag       string
	Framework models.Framework
	Describe  string
	Apply     Apply
}

// Registry is the closed set of 11 operators, looked up by tag and
// filtered by framework eligibility — the same Register/Get/Has/List
// shape as an executor manager, generalized from node types to operator
// tags.
type Registry struct {
	mu        sync.RWMutex
	operators map[string]Operator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{operators: make(map[string]Operator)}
}

// Register adds or replaces an operator.
func (r *Registry) Register(op Operator) error {
	if op.Tag == "" {
		return fmt.Errorf("operator: tag is required")
	}
	if op.Apply == nil {
		return fmt.Errorf("operator: %q has no Apply function", op.Tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[op.Tag] = op
	return nil
}

// Get retrieves an operator by tag.
func (r *Registry) Get(tag string) (Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.operators[tag]
	if !ok {
		return Operator{}, fmt.Errorf("operator: %q not registered", tag)
	}
	return op, nil
}

// List returns every registered operator tag.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.operators))
	for tag := range r.operators {
		tags = append(tags, tag)
	}
	return tags
}

// OperatorsFor implements bandit.OperatorCatalog: every registered
// operator whose Framework passes mask.
func (r *Registry) OperatorsFor(taskClass models.TaskClass, mask models.FrameworkMask) []bandit.OperatorRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]bandit.OperatorRef, 0, len(r.operators))
	for _, op := range r.operators {
		if mask.Allows(op.Framework) {
			refs = append(refs, bandit.OperatorRef{Tag: op.Tag, Framework: op.Framework})
		}
	}
	return refs
}

// ApplyOperator looks up tag and runs its Apply against recipe, wrapping
// any error with the operator's identity for diagnosability.
func (r *Registry) ApplyOperator(ctx context.Context, tag string, recipe models.Recipe, opCtx Context) (models.Recipe, error) {
	op, err := r.Get(tag)
	if err != nil {
		return models.Recipe{}, err
	}
	next, err := op.Apply(recipe.Clone(), opCtx)
	if err != nil {
		return models.Recipe{}, fmt.Errorf("operator %q: %w", tag, err)
	}
	return next, nil
}

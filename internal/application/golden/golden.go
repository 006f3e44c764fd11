// Package golden runs the deterministic golden-set evaluation suite
// against a recipe: a fixed, seeded set of scenarios, each scored through
// the same blended reward model a run's variants are scored with so
// golden and run-time rewards stay directly comparable.
package golden

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/reward"
	"github.com/brianmeyer/promptforge/internal/application/reward/assertioncache"
	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/pkg/models"
)

func newID() string { return uuid.New().String() }

// Evaluator runs the golden suite for a task class against a recipe
// rendered through a generation engine, using pinned sampling flags
// (fixed temperature/top_p) so repeated runs over the same recipe are
// comparable. Each item's Seed is stored with the item but is not passed
// to the generator.
type Evaluator struct {
	items      repository.GoldenRepository
	generator  collaborators.GenerationEngine
	scorer     *reward.Scorer
	assertions *assertioncache.Cache
	pinnedTemp float64
	pinnedTopP float64
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPinnedSampling overrides the temperature/top_p used for every
// golden item, regardless of the recipe under test.
func WithPinnedSampling(temperature, topP float64) Option {
	return func(e *Evaluator) { e.pinnedTemp, e.pinnedTopP = temperature, topP }
}

// New creates an Evaluator.
func New(items repository.GoldenRepository, generator collaborators.GenerationEngine, scorer *reward.Scorer, assertions *assertioncache.Cache, opts ...Option) *Evaluator {
	e := &Evaluator{items: items, generator: generator, scorer: scorer, assertions: assertions, pinnedTemp: 0, pinnedTopP: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Summary aggregates one evaluation run across all items for a recipe.
type Summary struct {
	Results        []models.GoldenResult
	PassRate       float64
	AvgTotalReward float64
	AvgCostPenalty float64
	AvgSteps       float64
}

// Run evaluates every golden item for taskClass against recipe, rendering
// the recipe's templates with each item's input.
func (e *Evaluator) Run(ctx context.Context, recipe models.Recipe, runID string) (Summary, error) {
	items, err := e.items.ListItems(ctx, recipe.TaskClass)
	if err != nil {
		return Summary{}, fmt.Errorf("golden: list items: %w", err)
	}
	if len(items) == 0 {
		return Summary{}, fmt.Errorf("golden: no items for task class %q", recipe.TaskClass)
	}

	var results []models.GoldenResult
	var totalReward, totalCost, totalSteps float64
	passes := 0

	for _, item := range items {
		result, err := e.runOne(ctx, recipe, item, runID)
		if err != nil {
			return Summary{}, fmt.Errorf("golden: item %q: %w", item.ID, err)
		}
		results = append(results, result)
		totalReward += result.TotalReward
		totalCost += result.CostPenalty
		totalSteps += float64(result.Steps)
		if result.Passed {
			passes++
		}
		if err := e.items.SaveResult(ctx, &result); err != nil {
			return Summary{}, fmt.Errorf("golden: save result: %w", err)
		}
	}

	n := float64(len(items))
	return Summary{
		Results:        results,
		PassRate:       float64(passes) / n,
		AvgTotalReward: totalReward / n,
		AvgCostPenalty: totalCost / n,
		AvgSteps:       totalSteps / n,
	}, nil
}

func (e *Evaluator) runOne(ctx context.Context, recipe models.Recipe, item models.GoldenItem, runID string) (models.GoldenResult, error) {
	started := time.Now()
	genResult, err := e.generator.Generate(ctx, collaborators.GenerationRequest{
		SystemPrompt: recipe.SystemPrompt,
		UserPrompt:   render(recipe.UserTemplate, item.Input),
		Temperature:  e.pinnedTemp,
		TopP:         e.pinnedTopP,
		MaxTokens:    recipe.MaxTokens,
	})
	if err != nil {
		return models.GoldenResult{
			ID: newID(), GoldenItemID: item.ID, RecipeID: recipe.ID, RunID: runID,
			Passed: false, FailedChecks: []string{fmt.Sprintf("generation error: %v", err)},
			Steps: 1, CreatedAt: time.Now(),
		}, nil
	}
	durationMs := time.Since(started).Milliseconds()

	env := map[string]any{"output": genResult.Output, "input": item.Input}
	signals := make(map[string]bool, len(item.Assertions))
	var failed []string
	for _, assertion := range item.Assertions {
		signals[assertion] = true
		ok, err := e.assertions.Eval(assertion, env)
		if err != nil || !ok {
			failed = append(failed, assertion)
		}
	}

	scored, err := e.scorer.Score(ctx, reward.ScoreRequest{
		TaskClass:       recipe.TaskClass,
		TaskDescription: string(recipe.TaskClass),
		Input:           item.Input,
		CandidateOutput: genResult.Output,
		TokensUsed:      genResult.TokensUsed,
		ToolCallsUsed:   genResult.ToolCallsUsed,
		DurationMs:      durationMs,
		ProcessSignals:  signals,
		ProcessEnv:      env,
	})
	if err != nil {
		return models.GoldenResult{}, fmt.Errorf("score: %w", err)
	}

	return models.GoldenResult{
		ID:            newID(),
		GoldenItemID:  item.ID,
		RecipeID:      recipe.ID,
		RunID:         runID,
		Passed:        len(failed) == 0,
		Score:         scored.Total,
		OutcomeReward: scored.Outcome,
		ProcessReward: scored.Process,
		CostPenalty:   scored.CostPenalty,
		TotalReward:   scored.Total,
		Steps:         1,
		FailedChecks:  failed,
		CreatedAt:     time.Now(),
	}, nil
}

func render(template string, input map[string]any) string {
	out := template
	for k, v := range input {
		out = replaceAll(out, "{{"+k+"}}", fmt.Sprintf("%v", v))
	}
	return out
}

func replaceAll(s, old, new string) string {
	for {
		idx := indexOf(s, old)
		if idx < 0 {
			return s
		}
		s = s[:idx] + new + s[idx+len(old):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// Package runner drives one Run's sequential iteration loop: select an
// operator, derive a candidate recipe, generate, score, update the
// bandit, and decide whether to promote — emitting an event at every
// step. One goroutine owns a Run end to end, the same ownership model an
// execution manager uses for a single DAG execution.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brianmeyer/promptforge/internal/application/bandit"
	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/eventbus"
	"github.com/brianmeyer/promptforge/internal/application/operator"
	"github.com/brianmeyer/promptforge/internal/application/retry"
	"github.com/brianmeyer/promptforge/internal/application/reward"
	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/logger"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// Promotion thresholds: a candidate recipe is proposed for promotion once
// it clears promotionMargin over the run's baseline reward without
// costing more than promotionCostMarginPending times the baseline's cost
// penalty, and is auto-approved outright once it clears
// promotionAutoApproveDelta at no more than promotionCostMarginAuto times
// baseline cost. Anything promoted but short of auto-approval is left
// pending for a human to confirm.
const (
	promotionCostMarginPending = 0.9
	promotionCostMarginAuto    = 0.8
	promotionAutoApproveDelta  = 0.2
)

// SampleProvider supplies the input used to render a recipe's user
// template and to score the resulting output, one sample per task class.
type SampleProvider interface {
	Sample(ctx context.Context, taskClass models.TaskClass) (input map[string]any, reference string, err error)
}

// Runner executes runs to completion.
type Runner struct {
	bandit            *bandit.Engine
	operators         *operator.Registry
	scorer            *reward.Scorer
	generator         collaborators.GenerationEngine
	samples           SampleProvider
	runs              repository.RunRepository
	variants          repository.VariantRepository
	recipes           repository.RecipeRepository
	promotions        repository.PromotionRepository
	bus               *eventbus.Bus
	promotionMargin   float64
	keepAliveInterval time.Duration
	retry             *retry.Policy
	logger            *logger.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for run-level diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithPromotionMargin sets the minimum reward delta over baseline
// required before a variant's recipe is proposed for promotion.
func WithPromotionMargin(margin float64) Option {
	return func(r *Runner) { r.promotionMargin = margin }
}

// WithKeepAliveInterval enables a background keep-alive event published on
// the run's channel every interval, so SSE subscribers behind idle proxies
// don't see the connection reaped between iterations. Zero disables it.
func WithKeepAliveInterval(interval time.Duration) Option {
	return func(r *Runner) { r.keepAliveInterval = interval }
}

// New creates a Runner.
func New(
	banditEngine *bandit.Engine,
	operators *operator.Registry,
	scorer *reward.Scorer,
	generator collaborators.GenerationEngine,
	samples SampleProvider,
	runs repository.RunRepository,
	variants repository.VariantRepository,
	recipes repository.RecipeRepository,
	promotions repository.PromotionRepository,
	bus *eventbus.Bus,
	opts ...Option,
) *Runner {
	r := &Runner{
		bandit: banditEngine, operators: operators, scorer: scorer, generator: generator,
		samples: samples, runs: runs, variants: variants, recipes: recipes, promotions: promotions, bus: bus,
		promotionMargin: 0.05, retry: retry.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// iterationState carries the bits of context that must survive across
// iterate calls within one Execute: the variant an operator's next
// candidate descends from, and the cost penalty the run's first scored
// variant set as its promotion baseline.
type iterationState struct {
	parentVariantID  string
	baselineCost     float64
	haveBaselineCost bool
}

// Execute runs run to completion or cancellation. Callers own the
// lifecycle: typically invoked from the job manager's active-run
// registry in its own goroutine.
func (r *Runner) Execute(ctx context.Context, run *models.Run, baseline models.Recipe) error {
	run.Status = models.RunStatusRunning
	if err := r.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("runner: failed to mark run running: %w", err)
	}
	r.publish(ctx, run.ID, eventbus.EventTypeRunStarted, map[string]any{"task_class": string(run.TaskClass)})

	keepAliveCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	if r.keepAliveInterval > 0 && r.bus != nil {
		go r.bus.KeepAlive(keepAliveCtx, run.ID, r.keepAliveInterval)
	}

	current := baseline
	state := &iterationState{}
	var execErr error

	for run.CurrentIteration < run.MaxIterations {
		if run.CancelRequested {
			execErr = r.finish(ctx, run, models.RunStatusCancelled, "")
			r.publish(ctx, run.ID, eventbus.EventTypeRunCancelled, nil)
			return execErr
		}

		select {
		case <-ctx.Done():
			_ = r.finish(ctx, run, models.RunStatusCancelled, ctx.Err().Error())
			r.publish(ctx, run.ID, eventbus.EventTypeRunCancelled, nil)
			return ctx.Err()
		default:
		}

		next, err := r.iterate(ctx, run, current, state)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				execErr = r.finish(ctx, run, models.RunStatusCancelled, err.Error())
				r.publish(ctx, run.ID, eventbus.EventTypeRunCancelled, nil)
				return execErr
			}
			execErr = r.finish(ctx, run, models.RunStatusError, err.Error())
			r.publish(ctx, run.ID, eventbus.EventTypeRunFailed, map[string]any{"error": err.Error()})
			return execErr
		}
		if next != nil {
			current = *next
		}
		run.CurrentIteration++
		if err := r.runs.Update(ctx, run); err != nil {
			return fmt.Errorf("runner: failed to checkpoint run: %w", err)
		}
	}

	execErr = r.finish(ctx, run, models.RunStatusComplete, "")
	r.publish(ctx, run.ID, eventbus.EventTypeRunCompleted, map[string]any{
		"best_variant_id": run.BestVariantID,
		"best_reward":     run.BestTotalReward,
	})
	return execErr
}

// iterate runs one bandit-select -> generate -> score -> bandit-update
// step, returning the recipe the next iteration should branch from (nil
// if generation or scoring failed, in which case the current recipe
// carries over unchanged and no bandit update happens — a
// CollaboratorFailure degrades the iteration, it never aborts the run).
// Judge failures alone do not return nil: the scorer falls back to the
// semantic term and the iteration proceeds as usual, bandit update
// included. The only error iterate returns is one that
// should end the run outright: ctx cancellation, or a failure in the
// engine's own plumbing (operator catalog, storage).
func (r *Runner) iterate(ctx context.Context, run *models.Run, current models.Recipe, state *iterationState) (*models.Recipe, error) {
	r.publish(ctx, run.ID, eventbus.EventTypeIterationStarted, map[string]any{"iteration": run.CurrentIteration})

	ref, err := r.bandit.Select(ctx, run.TaskClass, run.FrameworkMask)
	if err != nil {
		return nil, fmt.Errorf("operator selection failed: %w", err)
	}
	r.publish(ctx, run.ID, eventbus.EventTypeOperatorSelected, map[string]any{"operator": ref.Tag})

	history, err := r.variants.FindByRunID(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run history: %w", err)
	}

	opCtx := operator.Context{RunID: run.ID, Iteration: run.CurrentIteration, TaskClass: run.TaskClass, History: toValues(history)}
	candidate, err := r.operators.ApplyOperator(ctx, ref.Tag, current, opCtx)
	if err != nil {
		return nil, fmt.Errorf("operator application failed: %w", err)
	}

	input, reference, err := r.samples.Sample(ctx, run.TaskClass)
	if err != nil {
		return nil, fmt.Errorf("sample retrieval failed: %w", err)
	}

	variant := &models.Variant{
		ID: uuid.New().String(), RunID: run.ID, IterationNum: run.CurrentIteration,
		Operator: ref.Tag, TaskClass: run.TaskClass,
		Recipe: models.RecipeSnapshot{
			SystemPrompt: candidate.SystemPrompt,
			Temperature:  candidate.Temperature,
			TopK:         candidate.TopP,
			MemoryK:      candidate.MemoryK,
			RAGK:         candidate.RAGK,
			UseWeb:       candidate.UseWeb,
			Engine:       engineName(candidate.UseAltEngine),
		},
		RenderedPrompt: candidate.UserTemplate,
		PromptLength:   len(candidate.UserTemplate),
		CreatedAt:      time.Now(),
	}

	started := time.Now()
	var genResult collaborators.GenerationResult
	genErr := r.retry.Execute(ctx, func() error {
		var err error
		genResult, err = r.generator.Generate(ctx, collaborators.GenerationRequest{
			SystemPrompt: candidate.SystemPrompt,
			UserPrompt:   candidate.UserTemplate,
			Temperature:  candidate.Temperature,
			TopP:         candidate.TopP,
			MaxTokens:    candidate.MaxTokens,
			Tools:        candidate.Tools,
		})
		return err
	})
	variant.LatencyMs = time.Since(started).Milliseconds()

	if genErr != nil {
		variant.GenerationErr = genErr.Error()
		if err := r.variants.Create(ctx, variant); err != nil {
			return nil, fmt.Errorf("failed to persist failed variant: %w", err)
		}
		r.publish(ctx, run.ID, eventbus.EventTypeIterationError, map[string]any{
			"operator": ref.Tag, "variant_id": variant.ID, "error": genErr.Error(),
		})
		// No bandit update on generation failure: a variant with no
		// output carries no signal about the operator's quality.
		return nil, nil
	}

	variant.Output = genResult.Output
	variant.TokensUsed = genResult.TokensUsed
	variant.ToolCallsUsed = genResult.ToolCallsUsed

	taskDescription := run.Task
	if taskDescription == "" {
		taskDescription = string(run.TaskClass)
	}

	result, err := r.scorer.Score(ctx, reward.ScoreRequest{
		TaskClass:       run.TaskClass,
		TaskDescription: taskDescription,
		Input:           input,
		CandidateOutput: genResult.Output,
		ReferenceOutput: reference,
		TokensUsed:      genResult.TokensUsed,
		ToolCallsUsed:   genResult.ToolCallsUsed,
		DurationMs:      variant.LatencyMs,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// A scoring failure outside ctx cancellation is a
		// CollaboratorFailure: record it against the iteration and
		// move on, the same policy a judge outage degrades to inside
		// the scorer itself.
		variant.GenerationErr = err.Error()
		if err := r.variants.Create(ctx, variant); err != nil {
			return nil, fmt.Errorf("failed to persist errored variant: %w", err)
		}
		r.publish(ctx, run.ID, eventbus.EventTypeIterationError, map[string]any{
			"operator": ref.Tag, "variant_id": variant.ID, "error": err.Error(),
		})
		return nil, nil
	}

	variant.OutcomeReward = result.Outcome
	variant.ProcessReward = result.Process
	variant.CostPenalty = result.CostPenalty
	variant.TotalReward = result.Total
	variant.JudgeInfo = result.JudgeInfo
	variant.SemanticSim = result.SemanticSim
	variant.ProcessDetail = result.ProcessDetail

	if !state.haveBaselineCost {
		state.baselineCost = result.CostPenalty
		state.haveBaselineCost = true
	}

	candidate.ID = uuid.New().String()
	candidate.TaskClass = run.TaskClass
	candidate.ParentVariantID = state.parentVariantID
	candidate.CreatedAt = time.Now()
	r.evaluatePromotion(run, &candidate, result.Total, result.CostPenalty, state.baselineCost)
	if err := r.recipes.Create(ctx, &candidate); err != nil {
		return nil, fmt.Errorf("failed to persist candidate recipe: %w", err)
	}
	variant.RecipeID = candidate.ID

	if err := r.variants.Create(ctx, variant); err != nil {
		return nil, fmt.Errorf("failed to persist scored variant: %w", err)
	}

	if candidate.Approved != "" {
		if err := r.promote(ctx, run, variant, candidate); err != nil && r.logger != nil {
			r.logger.WarnContext(ctx, "runner: promotion bookkeeping failed", "error", err)
		}
	}

	if err := r.bandit.Update(ctx, run.TaskClass, ref.Tag, result.Total); err != nil {
		if r.logger != nil {
			r.logger.WarnContext(ctx, "runner: bandit update failed", "error", err)
		}
	}

	r.publish(ctx, run.ID, eventbus.EventTypeVariantScored, map[string]any{
		"variant_id":   variant.ID,
		"operator":     ref.Tag,
		"total_reward": variant.TotalReward,
	})

	if result.Total > run.BestTotalReward || run.BestVariantID == "" {
		run.BestTotalReward = result.Total
		run.BestVariantID = variant.ID
		variant.IsBaseline = false
	}

	state.parentVariantID = variant.ID
	return &candidate, nil
}

// evaluatePromotion stamps candidate's BaselineDelta, CostRatio, and
// Approved fields against run's baseline score and the run's first
// scored variant's cost penalty. Approved is left empty when the
// candidate doesn't clear the promotion margin, or clears it but costs
// more than promotionCostMarginPending times baseline.
func (r *Runner) evaluatePromotion(run *models.Run, candidate *models.Recipe, totalReward, costPenalty, baselineCost float64) {
	delta := totalReward - run.BaselineScore
	candidate.BaselineDelta = delta
	if baselineCost > 0 {
		candidate.CostRatio = costPenalty / baselineCost
	} else {
		candidate.CostRatio = 1
	}

	if delta < r.promotionMargin {
		return
	}
	if baselineCost > 0 && costPenalty > promotionCostMarginPending*baselineCost {
		return
	}

	candidate.Approved = models.ApprovalPending
	if delta >= promotionAutoApproveDelta && (baselineCost <= 0 || costPenalty <= promotionCostMarginAuto*baselineCost) {
		candidate.Approved = models.ApprovalAuto
	}
}

// promote records a Promotion event for an approved candidate and, once
// auto-approved, assigns it as the task class's new production recipe.
func (r *Runner) promote(ctx context.Context, run *models.Run, variant *models.Variant, candidate models.Recipe) error {
	if r.promotions != nil {
		p := &models.Promotion{
			ID:           uuid.New().String(),
			RunID:        run.ID,
			VariantID:    variant.ID,
			TaskClass:    run.TaskClass,
			FromRecipeID: run.BaselineRecipeID,
			ToRecipeID:   candidate.ID,
			RewardDelta:  candidate.BaselineDelta,
			PromotedAt:   time.Now(),
		}
		if err := r.promotions.Create(ctx, p); err != nil {
			return fmt.Errorf("failed to persist promotion: %w", err)
		}
	}
	if candidate.Approved == models.ApprovalAuto {
		variant.Promoted = true
		if err := r.recipes.SetProduction(ctx, run.TaskClass, candidate.ID); err != nil {
			return fmt.Errorf("failed to set production recipe: %w", err)
		}
		r.publish(ctx, run.ID, eventbus.EventTypePromotion, map[string]any{
			"variant_id": variant.ID, "recipe_id": candidate.ID, "baseline_delta": candidate.BaselineDelta,
		})
	}
	return nil
}

// finish transitions run to a terminal status and persists it. If
// reason is non-empty it's recorded as the run's error message.
func (r *Runner) finish(ctx context.Context, run *models.Run, status models.RunStatus, reason string) error {
	now := time.Now()
	run.Status = status
	run.CompletedAt = &now
	if reason != "" {
		run.Error = reason
	}
	if err := r.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("runner: failed to persist terminal status: %w", err)
	}
	return nil
}

func (r *Runner) publish(ctx context.Context, runID string, eventType eventbus.EventType, data map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, eventbus.Event{Type: eventType, RunID: runID, Timestamp: time.Now(), Data: data})
}

func engineName(useAlt bool) string {
	if useAlt {
		return "alt"
	}
	return "default"
}

func toValues(ptrs []*models.Variant) []models.Variant {
	out := make([]models.Variant, 0, len(ptrs))
	for _, p := range ptrs {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Package promptforge is the embeddable facade over the self-improving
// prompt-optimization engine: one Engine wires the bandit, reward
// scorer, runner, job manager, golden-set evaluator, and code-loop gate
// behind the small surface a host application actually calls, the way
// an SDK client wires an executor manager and repositories behind
// Workflows()/Executions()/Triggers().
package promptforge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/brianmeyer/promptforge/internal/application/bandit"
	"github.com/brianmeyer/promptforge/internal/application/codeloop"
	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/eventbus"
	"github.com/brianmeyer/promptforge/internal/application/golden"
	"github.com/brianmeyer/promptforge/internal/application/jobmanager"
	"github.com/brianmeyer/promptforge/internal/application/operator"
	"github.com/brianmeyer/promptforge/internal/application/reward"
	"github.com/brianmeyer/promptforge/internal/application/reward/assertioncache"
	"github.com/brianmeyer/promptforge/internal/application/runner"
	"github.com/brianmeyer/promptforge/internal/config"
	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/cache"
	"github.com/brianmeyer/promptforge/internal/infrastructure/logger"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// Repositories bundles the persistence contracts an Engine needs. A host
// application builds these over internal/infrastructure/storage (or
// fakes, for tests) and hands the bundle to New.
type Repositories struct {
	Recipes       repository.RecipeRepository
	Runs          repository.RunRepository
	Variants      repository.VariantRepository
	OperatorStats repository.OperatorStatRepository
	Promotions    repository.PromotionRepository
	Golden        repository.GoldenRepository
	CodeLoop      repository.CodeLoopRepository
	Analytics     repository.AnalyticsRepository
}

// Collaborators bundles the external-call adapters an Engine needs. Use
// the internal/application/collaborators/noop and
// internal/application/collaborators/gitpatcher adapters to stub out
// pieces a deployment doesn't need.
type Collaborators struct {
	Generator collaborators.GenerationEngine
	Judges    []collaborators.JudgeEngine
	Embedder  collaborators.EmbeddingFunc
	RAG       collaborators.RAGRetriever
	Memory    collaborators.MemoryRetriever
	Web       collaborators.WebSearcher
	Samples   runner.SampleProvider
	Patcher   collaborators.Patcher
	Critic    codeloop.Critic
	Editor    codeloop.Editor
	Tests     codeloop.TestRunner
}

// Engine is the process-wide handle to one running instance of the
// prompt-optimization engine. Construct one with New and keep it for the
// life of the process; it owns the event bus and the job manager's
// sweep goroutine.
type Engine struct {
	cfg    config.Config
	logger *logger.Logger
	repos  Repositories
	bus    *eventbus.Bus
	jobs   *jobmanager.Manager
	runner *runner.Runner
	golden *golden.Evaluator
	gate   *codeloop.Gate
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the logger used for engine-level diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New wires a complete Engine from configuration, repositories, and
// collaborator adapters. redisCache may be nil, in which case the
// code-loop hourly rate limit falls back to counting rows in
// Repositories.CodeLoop.
func New(cfg config.Config, repos Repositories, collab Collaborators, redisCache *cache.RedisCache, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, repos: repos, logger: logger.New(cfg.Logging)}
	for _, opt := range opts {
		opt(e)
	}

	algorithm := bandit.AlgorithmEpsilonGreedy
	if cfg.Bandit.Algorithm == "ucb1" {
		algorithm = bandit.AlgorithmUCB1
	}

	registry := operator.NewDefaultRegistry()

	banditEngine := bandit.New(bandit.Config{
		Algorithm:           algorithm,
		Epsilon:             cfg.Bandit.Epsilon,
		EpsilonDecay:        cfg.Bandit.EpsilonDecay,
		EpsilonMin:          cfg.Bandit.EpsilonMin,
		UCBExploration:      cfg.Bandit.UCBExploration,
		WarmStartPulls:      cfg.Bandit.WarmStartPulls,
		StratifyByFramework: cfg.Bandit.StratifyByFramework,
	}, registry, repos.OperatorStats)

	assertions := assertioncache.New(256)

	scorer := reward.New(reward.Config{
		OutcomeWeight:       cfg.Reward.OutcomeWeight,
		ProcessWeight:       cfg.Reward.ProcessWeight,
		CostPenaltyWeight:   cfg.Reward.CostPenaltyWeight,
		JudgeWeight:         cfg.Reward.JudgeWeight,
		SemanticWeight:      cfg.Reward.SemanticWeight,
		CostTimeWeight:      cfg.Reward.CostTimeWeight,
		CostToolCallWeight:  cfg.Reward.CostToolCallWeight,
		CostTokenWeight:     cfg.Reward.CostTokenWeight,
		InitialCostBaseline: cfg.Reward.InitialCostBaseline,
		JudgeCount:          cfg.Reward.JudgeCount,
		JudgeTieThreshold:   cfg.Reward.JudgeTieThreshold,
	}, collab.Judges, collab.Embedder, assertions)

	e.bus = eventbus.New(
		eventbus.WithLogger(e.logger),
		eventbus.WithCapacity(cfg.EventBus.QueueCapacity),
		eventbus.WithReplayGrace(cfg.EventBus.ReplayGrace),
	)

	e.runner = runner.New(
		banditEngine, registry, scorer, collab.Generator, collab.Samples,
		repos.Runs, repos.Variants, repos.Recipes, repos.Promotions, e.bus,
		runner.WithLogger(e.logger),
		runner.WithPromotionMargin(cfg.Run.PromotionMargin),
		runner.WithKeepAliveInterval(cfg.EventBus.KeepAliveEvery),
	)

	e.golden = golden.New(repos.Golden, collab.Generator, scorer, assertions)

	if collab.Patcher != nil && collab.Critic != nil && collab.Editor != nil && collab.Tests != nil {
		e.gate = codeloop.New(cfg.CodeLoop, collab.Critic, collab.Editor, collab.Patcher, collab.Tests, e.golden, repos.Variants, repos.CodeLoop)
	}

	e.jobs = jobmanager.New(e.runner, repos.Runs, repos.CodeLoop, redisCache, cfg.CodeLoop.MaxPerHour,
		jobmanager.WithLogger(e.logger),
		jobmanager.WithRunTimeout(cfg.Run.MaxWallClock),
	)

	return e, nil
}

// Start begins the job manager's background timeout sweep. Call once
// after New; Stop releases it on shutdown.
func (e *Engine) Start() error {
	return e.jobs.StartSweep()
}

// Stop halts the background timeout sweep.
func (e *Engine) Stop() {
	e.jobs.StopSweep()
}

// StartRunRequest carries the parameters of a new optimization run.
type StartRunRequest struct {
	SessionID     string
	TaskClass     models.TaskClass
	Task          string
	Baseline      models.Recipe
	MaxIterations int
	Strategy      string
	Epsilon       float64
	MemoryK       int
	RAGK          int
	BaselineScore float64
	FrameworkMask models.FrameworkMask
}

// StartRun creates and launches a new optimization run, returning the run
// record with its generated ID. The run executes asynchronously; use
// SubscribeEvents or GetRun to observe progress.
func (e *Engine) StartRun(ctx context.Context, req StartRunRequest) (*models.Run, error) {
	run := &models.Run{
		ID:                  uuid.New().String(),
		SessionID:           req.SessionID,
		TaskClass:           req.TaskClass,
		NormalizedTaskClass: normalizeTaskClass(req.TaskClass),
		Task:                req.Task,
		BaselineRecipeID:    req.Baseline.ID,
		FrameworkMask:       req.FrameworkMask,
		Strategy:            req.Strategy,
		Epsilon:             req.Epsilon,
		MemoryK:             req.MemoryK,
		RAGK:                req.RAGK,
		BaselineScore:       req.BaselineScore,
		Status:              models.RunStatusPending,
		MaxIterations:       req.MaxIterations,
	}
	if err := e.repos.Runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("promptforge: create run: %w", err)
	}
	if err := e.jobs.StartRun(ctx, run, req.Baseline); err != nil {
		return nil, err
	}
	return run, nil
}

// normalizeTaskClass lower-cases and trims a task class so runs recorded
// for, say, "Summarization" and "summarization " land in the same bandit
// arm bucket.
func normalizeTaskClass(taskClass models.TaskClass) models.TaskClass {
	return models.TaskClass(strings.ToLower(strings.TrimSpace(string(taskClass))))
}

// CancelRun requests cooperative cancellation of the active run for
// taskClass, returning false if none is active.
func (e *Engine) CancelRun(taskClass models.TaskClass) bool {
	return e.jobs.CancelRun(taskClass)
}

// SubscribeEvents returns a channel of lifecycle events for runID and an
// unsubscribe function the caller must invoke when done listening.
func (e *Engine) SubscribeEvents(runID string) (<-chan eventbus.Event, func()) {
	return e.bus.Subscribe(runID)
}

// GetRun loads a run by ID.
func (e *Engine) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return e.repos.Runs.FindByID(ctx, runID)
}

// GetVariant loads a variant by ID.
func (e *Engine) GetVariant(ctx context.Context, variantID string) (*models.Variant, error) {
	return e.repos.Variants.FindByID(ctx, variantID)
}

// ListOperatorStats returns the bandit arm statistics for taskClass,
// ordered by mean reward descending.
func (e *Engine) ListOperatorStats(ctx context.Context, taskClass models.TaskClass) ([]models.OperatorStat, error) {
	return e.repos.OperatorStats.ListByTaskClass(ctx, taskClass)
}

// Rate records a human rating against a variant. Ratings are analytics
// only; they never feed the bandit or the blended reward.
func (e *Engine) Rate(ctx context.Context, variantID string, score float64, raterID, comment string) error {
	return e.repos.Variants.Rate(ctx, &models.HumanRating{
		ID: uuid.New().String(), VariantID: variantID, RaterID: raterID, Score: score, Comment: comment,
	})
}

// RunGolden evaluates the deterministic golden suite against recipe,
// tagging results with runID for traceability.
func (e *Engine) RunGolden(ctx context.Context, recipe models.Recipe, runID string) (golden.Summary, error) {
	return e.golden.Run(ctx, recipe, runID)
}

// RunCodeLoop attempts one criticize/edit/test/decide cycle against
// sourceRun, subject to the job manager's global lock and hourly rate
// limit. It returns ErrCodeLoopLocked or ErrRateLimited if the gate
// can't run right now, and ErrCodeLoopDisabled if no editor/critic/test
// adapters were configured.
func (e *Engine) RunCodeLoop(ctx context.Context, sourceRunID string, taskClass models.TaskClass, recipe models.Recipe, beforeReward float64, afterRewardFn func(ctx context.Context) (float64, float64, error)) (codeloop.Decision, error) {
	if e.gate == nil {
		return codeloop.Decision{}, ErrCodeLoopDisabled
	}
	if existing, err := e.jobs.FindIdempotent(ctx, sourceRunID); err != nil {
		return codeloop.Decision{}, fmt.Errorf("promptforge: idempotency check: %w", err)
	} else if existing != nil {
		return codeloop.Decision{Accepted: existing.Accepted, Reason: existing.RollbackReason}, nil
	}

	release, err := e.jobs.AcquireCodeLoop(ctx)
	if err != nil {
		return codeloop.Decision{}, err
	}
	defer release()

	return e.gate.Run(ctx, sourceRunID, taskClass, recipe, beforeReward, afterRewardFn)
}

// GetAnalyticsSnapshot returns the latest rollup snapshot for taskClass.
func (e *Engine) GetAnalyticsSnapshot(ctx context.Context, taskClass models.TaskClass) (*models.AnalyticsSnapshot, error) {
	return e.repos.Analytics.FindLatest(ctx, taskClass)
}

// ErrCodeLoopDisabled is returned by RunCodeLoop when the Engine was
// constructed without a Critic, Editor, or TestRunner collaborator.
var ErrCodeLoopDisabled = fmt.Errorf("promptforge: code loop disabled, no critic/editor/tests configured")

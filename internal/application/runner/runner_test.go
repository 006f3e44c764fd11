package runner

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmeyer/promptforge/internal/application/bandit"
	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/eventbus"
	"github.com/brianmeyer/promptforge/internal/application/operator"
	"github.com/brianmeyer/promptforge/internal/application/reward"
	"github.com/brianmeyer/promptforge/internal/application/reward/assertioncache"
	"github.com/brianmeyer/promptforge/pkg/models"
)

type memRunRepo struct {
	mu   sync.Mutex
	runs map[string]*models.Run
}

func newMemRunRepo() *memRunRepo { return &memRunRepo{runs: make(map[string]*models.Run)} }

func (m *memRunRepo) Create(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}
func (m *memRunRepo) Update(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}
func (m *memRunRepo) FindByID(ctx context.Context, id string) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id], nil
}
func (m *memRunRepo) FindActiveByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]*models.Run, error) {
	return nil, nil
}
func (m *memRunRepo) FindBySourceRunID(ctx context.Context, sourceRunID string) (*models.Run, error) {
	return nil, nil
}

type memVariantRepo struct {
	mu       sync.Mutex
	variants []*models.Variant
}

func (m *memVariantRepo) Create(ctx context.Context, v *models.Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants = append(m.variants, v)
	return nil
}
func (m *memVariantRepo) FindByID(ctx context.Context, id string) (*models.Variant, error) { return nil, nil }
func (m *memVariantRepo) FindByRunID(ctx context.Context, runID string) ([]*models.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Variant
	for _, v := range m.variants {
		if v.RunID == runID {
			out = append(out, v)
		}
	}
	return out, nil
}
func (m *memVariantRepo) Rate(ctx context.Context, rating *models.HumanRating) error { return nil }

type memRecipeRepo struct{}

func (memRecipeRepo) Create(ctx context.Context, r *models.Recipe) error { return nil }
func (memRecipeRepo) FindByID(ctx context.Context, id string) (*models.Recipe, error) {
	return &models.Recipe{ID: id}, nil
}
func (memRecipeRepo) FindProduction(ctx context.Context, taskClass models.TaskClass) (*models.Recipe, error) {
	return nil, nil
}
func (memRecipeRepo) SetProduction(ctx context.Context, taskClass models.TaskClass, recipeID string) error {
	return nil
}

type memOperatorStatRepo struct{}

func (memOperatorStatRepo) Upsert(ctx context.Context, stat models.OperatorStat) error { return nil }
func (memOperatorStatRepo) ListByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]models.OperatorStat, error) {
	return nil, nil
}

type memPromotionRepo struct {
	mu         sync.Mutex
	promotions []*models.Promotion
}

func (m *memPromotionRepo) Create(ctx context.Context, promotion *models.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions = append(m.promotions, promotion)
	return nil
}
func (m *memPromotionRepo) FindByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]*models.Promotion, error) {
	return nil, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(ctx context.Context, req collaborators.GenerationRequest) (collaborators.GenerationResult, error) {
	return collaborators.GenerationResult{Output: "result text", TokensUsed: 50}, nil
}

type fakeJudge struct{}

func (fakeJudge) Judge(ctx context.Context, req collaborators.JudgeRequest) (collaborators.JudgeResult, error) {
	return collaborators.JudgeResult{Score: 0.7}, nil
}

type fakeSamples struct{}

func (fakeSamples) Sample(ctx context.Context, taskClass models.TaskClass) (map[string]any, string, error) {
	return map[string]any{"text": "hello"}, "reference", nil
}

func newTestRunner() *Runner {
	reg := operator.NewDefaultRegistry()
	be := bandit.New(bandit.Config{Algorithm: bandit.AlgorithmEpsilonGreedy, Epsilon: 0.5, WarmStartPulls: 0}, reg, memOperatorStatRepo{})
	scorer := reward.New(reward.Config{
		OutcomeWeight: 1.0, ProcessWeight: 0.2, CostPenaltyWeight: -0.0005,
		JudgeWeight: 0.9, SemanticWeight: 0.1, JudgeCount: 2, JudgeTieThreshold: 0.3,
		CostTimeWeight: 0.001, CostToolCallWeight: 5.0, CostTokenWeight: 0.01, InitialCostBaseline: 50,
	}, []collaborators.JudgeEngine{fakeJudge{}, fakeJudge{}}, nil, assertioncache.New(16))

	return New(be, reg, scorer, fakeGenerator{}, fakeSamples{}, newMemRunRepo(), &memVariantRepo{}, memRecipeRepo{}, &memPromotionRepo{}, eventbus.New())
}

func TestRunner_Execute_CompletesAllIterations(t *testing.T) {
	r := newTestRunner()
	run := &models.Run{ID: "run-1", TaskClass: "summarization", MaxIterations: 3, Status: models.RunStatusPending}
	require.NoError(t, r.runs.Create(context.Background(), run))

	err := r.Execute(context.Background(), run, models.Recipe{ID: "base", TaskClass: "summarization", Temperature: 0.5, TopP: 1})

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusComplete, run.Status)
	assert.Equal(t, 3, run.CurrentIteration)
	assert.NotEmpty(t, run.BestVariantID)
}

func TestRunner_Execute_StopsOnCancelRequest(t *testing.T) {
	r := newTestRunner()
	run := &models.Run{ID: "run-2", TaskClass: "summarization", MaxIterations: 10, Status: models.RunStatusPending, CancelRequested: true}
	require.NoError(t, r.runs.Create(context.Background(), run))

	err := r.Execute(context.Background(), run, models.Recipe{ID: "base", TaskClass: "summarization"})

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Equal(t, 0, run.CurrentIteration)
}

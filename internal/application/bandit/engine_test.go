package bandit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmeyer/promptforge/pkg/models"
)

type fakeCatalog struct {
	ops []OperatorRef
}

func (f fakeCatalog) OperatorsFor(taskClass models.TaskClass, mask models.FrameworkMask) []OperatorRef {
	return f.ops
}

type nopStatRepo struct{}

func (nopStatRepo) Upsert(ctx context.Context, stat models.OperatorStat) error { return nil }
func (nopStatRepo) ListByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]models.OperatorStat, error) {
	return nil, nil
}

const taskClass = models.TaskClass("summarization")

func TestEngine_Select_WarmStartCoversEveryArmBeforeExploiting(t *testing.T) {
	ops := []OperatorRef{
		{Tag: "a", Framework: models.FrameworkSEAL},
		{Tag: "b", Framework: models.FrameworkSEAL},
		{Tag: "c", Framework: models.FrameworkSEAL},
	}
	e := New(Config{Algorithm: AlgorithmUCB1, WarmStartPulls: 1}, fakeCatalog{ops: ops}, nopStatRepo{})

	seen := make(map[string]bool)
	for i := 0; i < len(ops); i++ {
		ref, err := e.Select(context.Background(), taskClass, nil)
		require.NoError(t, err)
		seen[ref.Tag] = true
		require.NoError(t, e.Update(context.Background(), taskClass, ref.Tag, 0.5))
	}

	assert.Len(t, seen, len(ops), "every arm must be pulled once before warm start is satisfied")
}

func TestEngine_Select_EpsilonGreedyTieBreaksUniformlyAtRandom(t *testing.T) {
	ops := []OperatorRef{
		{Tag: "a", Framework: models.FrameworkSEAL},
		{Tag: "b", Framework: models.FrameworkSEAL},
	}
	// Epsilon 0 forces pure exploitation; both arms tie at mean reward 0
	// once warmed, so argmaxMeanReward must be able to return either.
	e := New(Config{Algorithm: AlgorithmEpsilonGreedy, Epsilon: 0, WarmStartPulls: 0}, fakeCatalog{ops: ops}, nopStatRepo{})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ref := e.argmaxMeanReward(taskClass, ops)
		seen[ref.Tag] = true
	}

	assert.Len(t, seen, 2, "a random tie-break across 50 draws should eventually pick both tied arms")
}

func TestEngine_SelectUCB1_PrefersHigherMeanRewardArm(t *testing.T) {
	ops := []OperatorRef{
		{Tag: "strong", Framework: models.FrameworkSEAL},
		{Tag: "weak", Framework: models.FrameworkSEAL},
	}
	e := New(Config{Algorithm: AlgorithmUCB1, WarmStartPulls: 0, UCBExploration: 0}, fakeCatalog{ops: ops}, nopStatRepo{})

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Update(context.Background(), taskClass, "strong", 1.0))
		require.NoError(t, e.Update(context.Background(), taskClass, "weak", 0.0))
	}

	strongStats := e.statsFor(taskClass, "strong")
	weakStats := e.statsFor(taskClass, "weak")
	assert.Equal(t, 1.0, strongStats.MeanReward())
	assert.Equal(t, 0.0, weakStats.MeanReward())

	ref, err := e.Select(context.Background(), taskClass, nil)
	require.NoError(t, err)
	assert.Equal(t, "strong", ref.Tag)
}

func TestEngine_Stratify_RestrictsToFrameworksBelowQuota(t *testing.T) {
	ops := []OperatorRef{
		{Tag: "seal-1", Framework: models.FrameworkSEAL},
		{Tag: "seal-2", Framework: models.FrameworkSEAL},
		{Tag: "web-1", Framework: models.FrameworkWEB},
	}
	e := New(Config{Algorithm: AlgorithmUCB1, WarmStartPulls: 0, StratifyByFramework: true}, fakeCatalog{ops: ops}, nopStatRepo{})

	// SEAL gets 2/3 of the quota share, WEB gets 1/3. Pull SEAL's arms
	// heavily so SEAL clears its quota and only WEB remains eligible.
	for i := 0; i < 9; i++ {
		require.NoError(t, e.Update(context.Background(), taskClass, "seal-1", 0.5))
	}

	restricted := e.stratify(taskClass, ops)
	for _, ref := range restricted {
		assert.Equal(t, models.FrameworkWEB, ref.Framework)
	}
	assert.NotEmpty(t, restricted)
}

func TestEngine_Stratify_NoRestrictionWithoutPriorPulls(t *testing.T) {
	ops := []OperatorRef{
		{Tag: "seal-1", Framework: models.FrameworkSEAL},
		{Tag: "web-1", Framework: models.FrameworkWEB},
	}
	e := New(Config{Algorithm: AlgorithmUCB1}, fakeCatalog{ops: ops}, nopStatRepo{})

	restricted := e.stratify(taskClass, ops)
	assert.Len(t, restricted, len(ops))
}

func TestEngine_Warm_LoadsDurableStatsIntoCache(t *testing.T) {
	e := New(Config{Algorithm: AlgorithmUCB1}, fakeCatalog{}, warmStubRepo{})
	require.NoError(t, e.Warm(context.Background(), taskClass))

	stats := e.statsFor(taskClass, "seeded")
	assert.Equal(t, int64(4), stats.Pulls)
	assert.InDelta(t, 0.5, stats.MeanReward(), 0.001)
}

type warmStubRepo struct{ nopStatRepo }

func (warmStubRepo) ListByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]models.OperatorStat, error) {
	return []models.OperatorStat{{TaskClass: taskClass, Operator: "seeded", Pulls: 4, SumReward: 2}}, nil
}

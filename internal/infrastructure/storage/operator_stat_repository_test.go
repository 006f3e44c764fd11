//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmeyer/promptforge/internal/infrastructure/storage"
	"github.com/brianmeyer/promptforge/pkg/models"
	"github.com/brianmeyer/promptforge/testutil"
)

func TestOperatorStatRepository_UpsertAndList(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	repo := storage.NewOperatorStatRepository(testDB.DB)
	ctx := context.Background()

	stat := models.OperatorStat{
		TaskClass:    "summarization",
		Operator:     "rephrase",
		Pulls:        1,
		SumReward:    0.8,
		MeanReward:   0.8,
		LastPulledAt: time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, stat))

	stat.Pulls = 2
	stat.SumReward = 1.5
	stat.MeanReward = 0.75
	require.NoError(t, repo.Upsert(ctx, stat))

	other := models.OperatorStat{
		TaskClass:    "summarization",
		Operator:     "few_shot",
		Pulls:        1,
		SumReward:    0.9,
		MeanReward:   0.9,
		LastPulledAt: time.Now(),
	}
	require.NoError(t, repo.Upsert(ctx, other))

	stats, err := repo.ListByTaskClass(ctx, "summarization")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	// Ordered by mean_reward DESC: few_shot (0.9) before rephrase (0.75).
	assert.Equal(t, "few_shot", stats[0].Operator)
	assert.Equal(t, "rephrase", stats[1].Operator)
	assert.Equal(t, int64(2), stats[1].Pulls)
}

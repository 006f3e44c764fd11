package reward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/reward/assertioncache"
	"github.com/brianmeyer/promptforge/pkg/models"
)

type fakeJudge struct {
	score float64
	err   error
}

func (f fakeJudge) Judge(ctx context.Context, req collaborators.JudgeRequest) (collaborators.JudgeResult, error) {
	if f.err != nil {
		return collaborators.JudgeResult{}, f.err
	}
	return collaborators.JudgeResult{Model: "fake", Score: f.score}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func defaultConfig() Config {
	return Config{
		OutcomeWeight:       1.0,
		ProcessWeight:       0.2,
		CostPenaltyWeight:   -0.0005,
		JudgeWeight:         0.9,
		SemanticWeight:      0.1,
		CostTimeWeight:      0.001,
		CostToolCallWeight:  5.0,
		CostTokenWeight:     0.01,
		InitialCostBaseline: 50,
		JudgeCount:          2,
		JudgeTieThreshold:   0.15,
	}
}

func TestScorer_Score_BlendsOutcomeProcessCost(t *testing.T) {
	judges := []collaborators.JudgeEngine{fakeJudge{score: 0.8}, fakeJudge{score: 0.8}}
	s := New(defaultConfig(), judges, fakeEmbedder{}, assertioncache.New(16))

	result, err := s.Score(context.Background(), ScoreRequest{
		TaskDescription: "summarize",
		CandidateOutput: "candidate",
		ReferenceOutput: "reference",
		TokensUsed:      500,
		ProcessSignals:  map[string]bool{"len(output) > 0": true},
		ProcessEnv:      map[string]any{"output": "candidate"},
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.8, result.Outcome, 0.05)
	assert.Equal(t, 1.0, result.Process)
	assert.Greater(t, result.Total, 0.0)
}

func TestScorer_NormalizesTenScaleJudgeScores(t *testing.T) {
	judges := []collaborators.JudgeEngine{fakeJudge{score: 8}, fakeJudge{score: 8}}
	s := New(defaultConfig(), judges, nil, assertioncache.New(16))

	result, err := s.Score(context.Background(), ScoreRequest{
		CandidateOutput: "candidate",
		TokensUsed:      0,
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.8*0.9, result.Outcome, 0.02)
}

func TestScorer_CallsTieBreakerOnDisagreement(t *testing.T) {
	judges := []collaborators.JudgeEngine{
		fakeJudge{score: 0.1},
		fakeJudge{score: 0.9},
		fakeJudge{score: 0.5},
	}
	s := New(defaultConfig(), judges, nil, assertioncache.New(16))

	result, err := s.Score(context.Background(), ScoreRequest{CandidateOutput: "x"})

	require.NoError(t, err)
	assert.True(t, result.JudgeInfo.TieBreakerUsed)
	require.Len(t, result.JudgeInfo.Judges, 3)
	// The tie breaker's score becomes the final AI score directly, not a
	// median blended back in with the disagreeing first two.
	assert.InDelta(t, 0.9*0.5, result.Outcome, 0.02)
}

func TestScorer_OneOfFirstTwoJudgesFailingDoesNotPanic(t *testing.T) {
	judges := []collaborators.JudgeEngine{
		fakeJudge{score: 0.6},
		fakeJudge{err: assert.AnError},
	}
	s := New(defaultConfig(), judges, nil, assertioncache.New(16))

	result, err := s.Score(context.Background(), ScoreRequest{CandidateOutput: "x"})

	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.9, result.Outcome, 0.02)
	assert.False(t, result.JudgeInfo.TieBreakerUsed)
}

func TestScorer_AllJudgesFailDegradesToSemanticOnly(t *testing.T) {
	judges := []collaborators.JudgeEngine{
		fakeJudge{err: assert.AnError},
		fakeJudge{err: assert.AnError},
	}
	s := New(defaultConfig(), judges, fakeEmbedder{}, assertioncache.New(16))

	result, err := s.Score(context.Background(), ScoreRequest{
		CandidateOutput: "x", ReferenceOutput: "y",
	})

	require.NoError(t, err)
	assert.Empty(t, result.JudgeInfo.Judges)
	assert.InDelta(t, 1.0, result.Outcome, 0.01)
}

func TestScorer_CostPenaltyNormalizesAgainstRollingBaseline(t *testing.T) {
	s := New(defaultConfig(), []collaborators.JudgeEngine{fakeJudge{score: 0.5}, fakeJudge{score: 0.5}}, nil, assertioncache.New(16))

	// DurationMs chosen so the raw cost lands exactly on InitialCostBaseline
	// (w_t=0.001 * 50000 = 50), so the first observation's ratio is 1 and
	// its penalty is 0.
	first := s.costPenalty(ScoreRequest{TaskClass: models.TaskClass("t"), DurationMs: 50_000})
	assert.Equal(t, 0.0, first)

	cheap := s.costPenalty(ScoreRequest{TaskClass: models.TaskClass("t"), DurationMs: 1, TokensUsed: 1})
	assert.Less(t, cheap, 0.0)
}

func TestScorer_CostPenaltyClampsToThreeUpperBound(t *testing.T) {
	s := New(defaultConfig(), nil, nil, assertioncache.New(16))
	penalty := s.costPenalty(ScoreRequest{TaskClass: models.TaskClass("t"), DurationMs: 1_000_000, TokensUsed: 1_000_000})
	assert.Equal(t, 2.0, penalty) // ratio clipped to 3, penalty = ratio-1
}

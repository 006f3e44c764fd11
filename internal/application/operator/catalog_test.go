package operator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmeyer/promptforge/pkg/models"
)

func TestNewDefaultRegistry_RegistersAllElevenOperators(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Len(t, r.List(), 11)
}

func TestRegistry_ApplyOperator_UnknownTagErrors(t *testing.T) {
	r := NewDefaultRegistry()
	_, err := r.ApplyOperator(context.Background(), "does_not_exist", models.Recipe{}, Context{})
	assert.Error(t, err)
}

func TestApplyIncreaseDecreaseRAGK_ClampsAtBounds(t *testing.T) {
	r := models.Recipe{RAGK: 10}
	out, err := applyIncreaseRAGK(r, Context{})
	require.NoError(t, err)
	assert.Equal(t, 10, out.RAGK, "must not exceed the cap of 10")

	r = models.Recipe{RAGK: 0}
	out, err = applyDecreaseRAGK(r, Context{})
	require.NoError(t, err)
	assert.Equal(t, 0, out.RAGK, "must not go below the floor of 0")

	r = models.Recipe{RAGK: 3}
	out, err = applyIncreaseRAGK(r, Context{})
	require.NoError(t, err)
	assert.Equal(t, 4, out.RAGK)
}

func TestApplyToggleWebSearch_Flips(t *testing.T) {
	out, err := applyToggleWebSearch(models.Recipe{UseWeb: false}, Context{})
	require.NoError(t, err)
	assert.True(t, out.UseWeb)

	out, err = applyToggleWebSearch(out, Context{})
	require.NoError(t, err)
	assert.False(t, out.UseWeb)
}

func TestApplySwapGenerationEngine_Flips(t *testing.T) {
	out, err := applySwapGenerationEngine(models.Recipe{UseAltEngine: false}, Context{})
	require.NoError(t, err)
	assert.True(t, out.UseAltEngine)
}

func TestApplyAdjustTemperature_NudgesDownAfterPoorReward(t *testing.T) {
	history := []models.Variant{{TotalReward: 0.1}}
	out, err := applyAdjustTemperature(models.Recipe{Temperature: 0.5}, Context{History: history})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, out.Temperature, 0.001)
}

func TestApplyAdjustTemperature_NudgesUpByDefaultAndClampsAtTwo(t *testing.T) {
	out, err := applyAdjustTemperature(models.Recipe{Temperature: 1.95}, Context{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, out.Temperature)
}

func TestApplyAdjustTemperature_ClampsAtZero(t *testing.T) {
	history := []models.Variant{{TotalReward: 0.0}}
	out, err := applyAdjustTemperature(models.Recipe{Temperature: 0.05}, Context{History: history})
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Temperature)
}

func TestApplyTightenInstructions_StripsHedgingAndAddsConstraint(t *testing.T) {
	out, err := applyTightenInstructions(models.Recipe{SystemPrompt: "try to maybe summarize well"}, Context{})
	require.NoError(t, err)
	assert.NotContains(t, out.SystemPrompt, "try to")
	assert.NotContains(t, out.SystemPrompt, "maybe")
	assert.Contains(t, out.SystemPrompt, "Respond only with the requested output")
}

func TestApplyAddChainOfThought_IsIdempotent(t *testing.T) {
	out, err := applyAddChainOfThought(models.Recipe{SystemPrompt: "summarize"}, Context{})
	require.NoError(t, err)
	twice, err := applyAddChainOfThought(out, Context{})
	require.NoError(t, err)
	assert.Equal(t, out.SystemPrompt, twice.SystemPrompt, "re-applying must not duplicate the marker")
}

func TestApplyAddFewShotExample_UsesBestHistoricalVariant(t *testing.T) {
	history := []models.Variant{
		{TotalReward: 0.2, Output: "mediocre"},
		{TotalReward: 0.9, Output: "great output"},
		{TotalReward: 0.95, GenerationErr: "timeout", Output: "ignored, errored"},
	}
	out, err := applyAddFewShotExample(models.Recipe{UserTemplate: "Summarize: {{text}}"}, Context{History: history})
	require.NoError(t, err)
	assert.Contains(t, out.UserTemplate, "great output")
	assert.NotContains(t, out.UserTemplate, "ignored, errored")
}

func TestApplyAddFewShotExample_NoHistoryLeavesTemplateUnchanged(t *testing.T) {
	out, err := applyAddFewShotExample(models.Recipe{UserTemplate: "Summarize: {{text}}"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Summarize: {{text}}", out.UserTemplate)
}

func TestApplyOperator_ClonesRecipeWithoutMutatingParent(t *testing.T) {
	r := NewDefaultRegistry()
	parent := models.Recipe{RAGK: 1, Tools: []string{"search"}}
	candidate, err := r.ApplyOperator(context.Background(), TagIncreaseRAGK, parent, Context{})
	require.NoError(t, err)
	assert.Equal(t, 2, candidate.RAGK)
	assert.Equal(t, 1, parent.RAGK, "parent recipe must not be mutated by Apply")
}

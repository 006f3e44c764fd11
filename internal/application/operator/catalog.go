package operator

import (
	"fmt"
	"strings"

	"github.com/brianmeyer/promptforge/pkg/models"
)

// Tags of the closed operator set.
const (
	TagAddFewShotExample       = "add_few_shot_example"
	TagTightenInstructions     = "tighten_instructions"
	TagAddChainOfThought       = "add_chain_of_thought"
	TagAddSelfCritiqueStep     = "add_self_critique_step"
	TagAddOutputSchema         = "add_output_schema_constraint"
	TagIncreaseRAGK            = "increase_rag_k"
	TagDecreaseRAGK            = "decrease_rag_k"
	TagToggleWebSearch         = "toggle_web_search"
	TagSwapGenerationEngine    = "swap_generation_engine"
	TagAdjustTemperature       = "adjust_temperature"
	TagAdjustTopP              = "adjust_top_p"
)

// NewDefaultRegistry builds the registry with all 11 operators wired in.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, op := range defaultOperators() {
		_ = r.Register(op)
	}
	return r
}

func defaultOperators() []Operator {
	return []Operator{
		{
			Tag: TagAddFewShotExample, Framework: models.FrameworkSEAL,
			Describe: "appends one worked example drawn from run history to the user template",
			Apply:    applyAddFewShotExample,
		},
		{
			Tag: TagTightenInstructions, Framework: models.FrameworkSEAL,
			Describe: "trims hedging language from the system prompt and adds an explicit output constraint",
			Apply:    applyTightenInstructions,
		},
		{
			Tag: TagAddChainOfThought, Framework: models.FrameworkSEAL,
			Describe: "instructs the model to reason step by step before answering",
			Apply:    applyAddChainOfThought,
		},
		{
			Tag: TagAddSelfCritiqueStep, Framework: models.FrameworkSEAL,
			Describe: "asks the model to critique and revise its own draft before final output",
			Apply:    applyAddSelfCritiqueStep,
		},
		{
			Tag: TagAddOutputSchema, Framework: models.FrameworkSEAL,
			Describe: "appends an explicit output-shape constraint to the system prompt",
			Apply:    applyAddOutputSchema,
		},
		{
			Tag: TagIncreaseRAGK, Framework: models.FrameworkWEB,
			Describe: "increases the number of retrieved passages by one, capped at 10",
			Apply:    applyIncreaseRAGK,
		},
		{
			Tag: TagDecreaseRAGK, Framework: models.FrameworkWEB,
			Describe: "decreases the number of retrieved passages by one, floored at 0",
			Apply:    applyDecreaseRAGK,
		},
		{
			Tag: TagToggleWebSearch, Framework: models.FrameworkWEB,
			Describe: "flips whether the recipe consults the web searcher collaborator",
			Apply:    applyToggleWebSearch,
		},
		{
			Tag: TagSwapGenerationEngine, Framework: models.FrameworkENGINE,
			Describe: "flips the recipe's use_alt_engine flag",
			Apply:    applySwapGenerationEngine,
		},
		{
			Tag: TagAdjustTemperature, Framework: models.FrameworkSampling,
			Describe: "nudges temperature by +/-0.1 within [0,2]",
			Apply:    applyAdjustTemperature,
		},
		{
			Tag: TagAdjustTopP, Framework: models.FrameworkSampling,
			Describe: "nudges top_p by +/-0.05 within [0.1,1]",
			Apply:    applyAdjustTopP,
		},
	}
}

func applyAddFewShotExample(r models.Recipe, ctx Context) (models.Recipe, error) {
	best := bestHistoricalVariant(ctx.History)
	if best == nil {
		r.UserTemplate = strings.TrimSpace(r.UserTemplate)
		return r, nil
	}
	example := fmt.Sprintf("\n\nExample:\nOutput: %s\n", truncate(best.Output, 500))
	r.UserTemplate = strings.TrimSpace(r.UserTemplate) + example
	return r, nil
}

func applyTightenInstructions(r models.Recipe, _ Context) (models.Recipe, error) {
	replacer := strings.NewReplacer(
		"try to", "",
		"maybe", "",
		"if possible", "",
		"I think", "",
	)
	r.SystemPrompt = strings.TrimSpace(replacer.Replace(r.SystemPrompt))
	if !strings.Contains(r.SystemPrompt, "Respond only with the requested output") {
		r.SystemPrompt += "\nRespond only with the requested output, no preamble."
	}
	return r, nil
}

func applyAddChainOfThought(r models.Recipe, _ Context) (models.Recipe, error) {
	marker := "Think step by step, then give the final answer."
	if !strings.Contains(r.SystemPrompt, marker) {
		r.SystemPrompt = strings.TrimSpace(r.SystemPrompt) + "\n" + marker
	}
	return r, nil
}

func applyAddSelfCritiqueStep(r models.Recipe, _ Context) (models.Recipe, error) {
	marker := "Draft your answer, critique it for errors, then output only the revised final answer."
	if !strings.Contains(r.SystemPrompt, marker) {
		r.SystemPrompt = strings.TrimSpace(r.SystemPrompt) + "\n" + marker
	}
	return r, nil
}

func applyAddOutputSchema(r models.Recipe, _ Context) (models.Recipe, error) {
	marker := "Output must match the schema implied by the task; do not add extra keys."
	if !strings.Contains(r.SystemPrompt, marker) {
		r.SystemPrompt = strings.TrimSpace(r.SystemPrompt) + "\n" + marker
	}
	return r, nil
}

func applyIncreaseRAGK(r models.Recipe, _ Context) (models.Recipe, error) {
	if r.RAGK < 10 {
		r.RAGK++
	}
	return r, nil
}

func applyDecreaseRAGK(r models.Recipe, _ Context) (models.Recipe, error) {
	if r.RAGK > 0 {
		r.RAGK--
	}
	return r, nil
}

func applyToggleWebSearch(r models.Recipe, _ Context) (models.Recipe, error) {
	r.UseWeb = !r.UseWeb
	return r, nil
}

func applySwapGenerationEngine(r models.Recipe, _ Context) (models.Recipe, error) {
	r.UseAltEngine = !r.UseAltEngine
	return r, nil
}

func applyAdjustTemperature(r models.Recipe, ctx Context) (models.Recipe, error) {
	delta := 0.1
	if len(ctx.History) > 0 && ctx.History[len(ctx.History)-1].TotalReward < 0.3 {
		delta = -0.1
	}
	next := r.Temperature + delta
	if next < 0 {
		next = 0
	}
	if next > 2 {
		next = 2
	}
	r.Temperature = next
	return r, nil
}

func applyAdjustTopP(r models.Recipe, _ Context) (models.Recipe, error) {
	next := r.TopP + 0.05
	if next > 1 {
		next = r.TopP - 0.05
	}
	if next < 0.1 {
		next = 0.1
	}
	r.TopP = next
	return r, nil
}

func bestHistoricalVariant(history []models.Variant) *models.Variant {
	var best *models.Variant
	for i := range history {
		v := &history[i]
		if v.GenerationErr != "" {
			continue
		}
		if best == nil || v.TotalReward > best.TotalReward {
			best = v
		}
	}
	return best
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

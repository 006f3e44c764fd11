package models

import "time"

// TaskClass names a category of prompting task a recipe is built for,
// e.g. "summarization", "classification", "code_review".
type TaskClass string

// Framework is the closed set of operator families an operator belongs to.
type Framework string

const (
	FrameworkSEAL     Framework = "SEAL"
	FrameworkWEB      Framework = "WEB"
	FrameworkENGINE   Framework = "ENGINE"
	FrameworkSampling Framework = "SAMPLING"
)

// ApprovalState is the closed set of states a Recipe's promotion can be
// in once a variant has proposed it as a production candidate.
type ApprovalState string

const (
	ApprovalAuto    ApprovalState = "auto"
	ApprovalPending ApprovalState = "pending"
	ApprovalManual  ApprovalState = "manual"
)

// Recipe is a prompt-construction configuration: the base instructions
// plus the knobs operators mutate (retrieval, sampling, tool use). A
// Recipe created mid-run by an operator carries ParentVariantID, the
// reward delta and cost ratio it scored against its parent's baseline,
// and its promotion approval state; the seed/production recipe for a
// task class leaves those zero.
type Recipe struct {
	ID              string         `json:"id"`
	TaskClass       TaskClass      `json:"task_class"`
	SystemPrompt    string         `json:"system_prompt"`
	UserTemplate    string         `json:"user_template"`
	RAGK            int            `json:"rag_k"`
	MemoryK         int            `json:"memory_k"`
	UseWeb          bool           `json:"use_web"`
	UseAltEngine    bool           `json:"use_alt_engine"`
	Temperature     float64        `json:"temperature"`
	TopP            float64        `json:"top_p"`
	MaxTokens       int            `json:"max_tokens"`
	Tools           []string       `json:"tools,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentVariantID string         `json:"parent_variant_id,omitempty"`
	BaselineDelta   float64        `json:"baseline_delta"`
	CostRatio       float64        `json:"cost_ratio"`
	Approved        ApprovalState  `json:"approved,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Clone returns a deep-enough copy of the recipe for operators to mutate
// without aliasing the parent's slices/maps.
func (r Recipe) Clone() Recipe {
	c := r
	if r.Tools != nil {
		c.Tools = append([]string(nil), r.Tools...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// JudgeScore is one AI judge's verdict on a variant's output.
type JudgeScore struct {
	Model     string  `json:"model"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// JudgeInfo is the full audit trail of the outcome-reward judging
// protocol for one variant: every judge consulted, whether a
// disagreement forced a tie-breaker call, and the score that protocol
// ultimately settled on.
type JudgeInfo struct {
	Judges        []JudgeScore `json:"judges,omitempty"`
	TieBreakerUsed bool        `json:"tie_breaker_used"`
	FinalScore    float64      `json:"final_score"`
}

// RecipeSnapshot freezes the knobs that produced a variant's prompt at
// the moment it was generated. Variants keep their own copy instead of
// just a RecipeID because the shared recipe row a bandit arm points at
// can itself later be promoted, mutated, or pruned; the audit trail of
// what actually ran must survive that.
type RecipeSnapshot struct {
	SystemPrompt string  `json:"system"`
	Nudge        string  `json:"nudge,omitempty"`
	Temperature  float64 `json:"temperature"`
	TopK         float64 `json:"top_k"`
	MemoryK      int     `json:"memory_k"`
	RAGK         int     `json:"rag_k"`
	UseWeb       bool    `json:"use_web"`
	Engine       string  `json:"engine"`
	FewShot      string  `json:"fewshot,omitempty"`
}

// Variant is one generated candidate: a recipe rendered into an actual
// prompt, executed, scored, and optionally promoted.
type Variant struct {
	ID             string             `json:"id"`
	RunID          string             `json:"run_id"`
	IterationNum   int                `json:"iteration_num"`
	RecipeID       string             `json:"recipe_id"`
	Operator       string             `json:"operator"`
	TaskClass      TaskClass          `json:"task_class"`
	Recipe         RecipeSnapshot     `json:"recipe"`
	RenderedPrompt string             `json:"rendered_prompt"`
	PromptLength   int                `json:"prompt_length"`
	Output         string             `json:"output"`
	OutcomeReward  float64            `json:"outcome_reward"`
	ProcessReward  float64            `json:"process_reward"`
	CostPenalty    float64            `json:"cost_penalty"`
	TotalReward    float64            `json:"total_reward"`
	TokensUsed     int                `json:"tokens_used"`
	ToolCallsUsed  int                `json:"tool_calls_used"`
	LatencyMs      int64              `json:"latency_ms"`
	IsBaseline     bool               `json:"is_baseline"`
	Promoted       bool               `json:"promoted"`
	GenerationErr  string             `json:"generation_error,omitempty"`
	JudgeInfo      JudgeInfo          `json:"judge_info"`
	SemanticSim    float64            `json:"semantic_similarity"`
	ProcessDetail  map[string]float64 `json:"process_detail,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// OperatorStat is the durable bandit arm record for (task_class, operator).
type OperatorStat struct {
	TaskClass    TaskClass `json:"task_class"`
	Operator     string    `json:"operator"`
	Pulls        int64     `json:"pulls"`
	SumReward    float64   `json:"sum_reward"`
	MeanReward   float64   `json:"mean_reward"`
	LastPulledAt time.Time `json:"last_pulled_at"`
}

// Promotion records a variant replacing the task class's production recipe.
type Promotion struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	VariantID    string    `json:"variant_id"`
	TaskClass    TaskClass `json:"task_class"`
	FromRecipeID string    `json:"from_recipe_id"`
	ToRecipeID   string    `json:"to_recipe_id"`
	RewardDelta  float64   `json:"reward_delta"`
	PromotedAt   time.Time `json:"promoted_at"`
}

// HumanRating is an out-of-band, analytics-only rating a human attaches
// to a variant. It is never blended into total_reward.
type HumanRating struct {
	ID        string    `json:"id"`
	VariantID string    `json:"variant_id"`
	RaterID   string    `json:"rater_id"`
	Score     float64   `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GoldenItem is one pinned scenario in the deterministic evaluation suite.
type GoldenItem struct {
	ID         string         `json:"id"`
	TaskClass  TaskClass      `json:"task_class"`
	Input      map[string]any `json:"input"`
	Assertions []string       `json:"assertions"`
	Seed       int64          `json:"seed"`
}

// GoldenResult is the outcome of running one GoldenItem against a
// recipe, scored through the same reward model a run's variants are
// scored with so golden and run-time rewards stay comparable.
type GoldenResult struct {
	ID            string    `json:"id"`
	GoldenItemID  string    `json:"golden_item_id"`
	RecipeID      string    `json:"recipe_id"`
	RunID         string    `json:"run_id,omitempty"`
	Passed        bool      `json:"passed"`
	Score         float64   `json:"score"`
	OutcomeReward float64   `json:"outcome_reward"`
	ProcessReward float64   `json:"process_reward"`
	CostPenalty   float64   `json:"cost_penalty"`
	TotalReward   float64   `json:"total_reward"`
	Steps         int       `json:"steps"`
	FailedChecks  []string  `json:"failed_checks,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CodeLoopArtifact records one criticize/edit/test/decide cycle.
type CodeLoopArtifact struct {
	ID           string    `json:"id"`
	SourceRunID  string    `json:"source_run_id"`
	Critique     string    `json:"critique"`
	Patches      []string  `json:"patches"`
	FilesChanged []string  `json:"files_changed"`
	TestsPassed  bool      `json:"tests_passed"`
	RewardDelta  float64   `json:"reward_delta"`
	CostRatio    float64   `json:"cost_ratio"`
	GoldenPassRate float64 `json:"golden_pass_rate"`
	Accepted     bool      `json:"accepted"`
	RollbackReason string  `json:"rollback_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnalyticsSnapshot is a periodically refreshed rollup used by dashboards.
type AnalyticsSnapshot struct {
	ID               string             `json:"id"`
	TaskClass        TaskClass          `json:"task_class"`
	BestOperator     string             `json:"best_operator"`
	MeanTotalReward  float64            `json:"mean_total_reward"`
	TotalRuns        int64              `json:"total_runs"`
	TotalVariants    int64              `json:"total_variants"`
	OperatorBreakdown map[string]float64 `json:"operator_breakdown"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

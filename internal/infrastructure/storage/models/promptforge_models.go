package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

// RecipeModel is the durable row for a prompt-construction recipe.
type RecipeModel struct {
	bun.BaseModel `bun:"table:promptforge_recipes,alias:rc"`

	ID              uuid.UUID   `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	TaskClass       string      `bun:"task_class,notnull"`
	SystemPrompt    string      `bun:"system_prompt,notnull"`
	UserTemplate    string      `bun:"user_template,notnull"`
	RAGK            int         `bun:"rag_k,notnull,default:0"`
	MemoryK         int         `bun:"memory_k,notnull,default:0"`
	UseWeb          bool        `bun:"use_web,notnull,default:false"`
	UseAltEngine    bool        `bun:"use_alt_engine,notnull,default:false"`
	Temperature     float64     `bun:"temperature,notnull,default:0.7"`
	TopP            float64     `bun:"top_p,notnull,default:1"`
	MaxTokens       int         `bun:"max_tokens,notnull,default:1024"`
	Tools           StringArray `bun:"tools,type:text[]"`
	Metadata        JSONBMap    `bun:"metadata,type:jsonb,default:'{}'"`
	IsProduction    bool        `bun:"is_production,notnull,default:false"`
	ParentVariantID uuid.UUID   `bun:"parent_variant_id,type:uuid,nullzero"`
	BaselineDelta   float64     `bun:"baseline_delta,notnull,default:0"`
	CostRatio       float64     `bun:"cost_ratio,notnull,default:0"`
	Approved        string      `bun:"approved,notnull,default:''"`
	CreatedAt       time.Time   `bun:"created_at,notnull,default:current_timestamp"`
}

func (RecipeModel) TableName() string { return "promptforge_recipes" }

func (r *RecipeModel) BeforeInsert(ctx interface{}) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Metadata == nil {
		r.Metadata = make(JSONBMap)
	}
	r.CreatedAt = time.Now()
	return nil
}

func RecipeToStorage(r pkgmodels.Recipe) *RecipeModel {
	id := uuid.Nil
	if r.ID != "" {
		id, _ = uuid.Parse(r.ID)
	}
	var parentVariantID uuid.UUID
	if r.ParentVariantID != "" {
		parentVariantID, _ = uuid.Parse(r.ParentVariantID)
	}
	return &RecipeModel{
		ID: id, TaskClass: string(r.TaskClass), SystemPrompt: r.SystemPrompt, UserTemplate: r.UserTemplate,
		RAGK: r.RAGK, MemoryK: r.MemoryK, UseWeb: r.UseWeb, UseAltEngine: r.UseAltEngine,
		Temperature: r.Temperature, TopP: r.TopP, MaxTokens: r.MaxTokens,
		Tools: StringArray(r.Tools), Metadata: JSONBMap(r.Metadata), CreatedAt: r.CreatedAt,
		ParentVariantID: parentVariantID, BaselineDelta: r.BaselineDelta, CostRatio: r.CostRatio,
		Approved: string(r.Approved),
	}
}

func RecipeFromStorage(m *RecipeModel) *pkgmodels.Recipe {
	if m == nil {
		return nil
	}
	var parentVariantID string
	if m.ParentVariantID != uuid.Nil {
		parentVariantID = m.ParentVariantID.String()
	}
	return &pkgmodels.Recipe{
		ID: m.ID.String(), TaskClass: pkgmodels.TaskClass(m.TaskClass), SystemPrompt: m.SystemPrompt,
		UserTemplate: m.UserTemplate, RAGK: m.RAGK, MemoryK: m.MemoryK, UseWeb: m.UseWeb,
		UseAltEngine: m.UseAltEngine, Temperature: m.Temperature, TopP: m.TopP, MaxTokens: m.MaxTokens,
		Tools: []string(m.Tools), Metadata: map[string]any(m.Metadata), CreatedAt: m.CreatedAt,
		ParentVariantID: parentVariantID, BaselineDelta: m.BaselineDelta, CostRatio: m.CostRatio,
		Approved: pkgmodels.ApprovalState(m.Approved),
	}
}

// RunModel is the durable row for a meta-evolution run.
type RunModel struct {
	bun.BaseModel `bun:"table:promptforge_runs,alias:rn"`

	ID                  uuid.UUID   `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	SessionID           string      `bun:"session_id"`
	TaskClass           string      `bun:"task_class,notnull"`
	NormalizedTaskClass string      `bun:"normalized_task_class"`
	Task                string      `bun:"task"`
	BaselineRecipeID    uuid.UUID   `bun:"baseline_recipe_id,type:uuid"`
	FrameworkMask       StringArray `bun:"framework_mask,type:text[]"`
	Strategy            string      `bun:"strategy"`
	Epsilon             float64     `bun:"epsilon,notnull,default:0"`
	MemoryK             int         `bun:"memory_k,notnull,default:0"`
	RAGK                int         `bun:"rag_k,notnull,default:0"`
	BaselineScore       float64     `bun:"baseline_score,notnull,default:0"`
	Status              string      `bun:"status,notnull,default:'pending'"`
	MaxIterations       int         `bun:"max_iterations,notnull"`
	CurrentIteration    int         `bun:"current_iteration,notnull,default:0"`
	SourceRunID         uuid.UUID   `bun:"source_run_id,type:uuid,nullzero"`
	BestVariantID       uuid.UUID   `bun:"best_variant_id,type:uuid,nullzero"`
	BestTotalReward     float64     `bun:"best_total_reward,notnull,default:0"`
	Error               string      `bun:"error"`
	StartedAt           time.Time   `bun:"started_at,notnull,default:current_timestamp"`
	CompletedAt         *time.Time  `bun:"completed_at"`
	CancelRequested     bool        `bun:"cancel_requested,notnull,default:false"`
}

func (RunModel) TableName() string { return "promptforge_runs" }

func (r *RunModel) BeforeInsert(ctx interface{}) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	return nil
}

func RunToStorage(r *pkgmodels.Run) *RunModel {
	id := uuid.Nil
	if r.ID != "" {
		id, _ = uuid.Parse(r.ID)
	}
	baselineID, _ := uuid.Parse(r.BaselineRecipeID)
	var sourceID uuid.UUID
	if r.SourceRunID != "" {
		sourceID, _ = uuid.Parse(r.SourceRunID)
	}
	var bestID uuid.UUID
	if r.BestVariantID != "" {
		bestID, _ = uuid.Parse(r.BestVariantID)
	}
	mask := make(StringArray, 0, len(r.FrameworkMask))
	for _, fw := range r.FrameworkMask {
		mask = append(mask, string(fw))
	}
	return &RunModel{
		ID: id, SessionID: r.SessionID, TaskClass: string(r.TaskClass), NormalizedTaskClass: string(r.NormalizedTaskClass),
		Task: r.Task, BaselineRecipeID: baselineID, FrameworkMask: mask, Strategy: r.Strategy, Epsilon: r.Epsilon,
		MemoryK: r.MemoryK, RAGK: r.RAGK, BaselineScore: r.BaselineScore,
		Status: string(r.Status), MaxIterations: r.MaxIterations, CurrentIteration: r.CurrentIteration,
		SourceRunID: sourceID, BestVariantID: bestID, BestTotalReward: r.BestTotalReward, Error: r.Error,
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, CancelRequested: r.CancelRequested,
	}
}

func RunFromStorage(m *RunModel) *pkgmodels.Run {
	if m == nil {
		return nil
	}
	mask := make(pkgmodels.FrameworkMask, 0, len(m.FrameworkMask))
	for _, fw := range m.FrameworkMask {
		mask = append(mask, pkgmodels.Framework(fw))
	}
	var sourceID string
	if m.SourceRunID != uuid.Nil {
		sourceID = m.SourceRunID.String()
	}
	var bestID string
	if m.BestVariantID != uuid.Nil {
		bestID = m.BestVariantID.String()
	}
	return &pkgmodels.Run{
		ID: m.ID.String(), SessionID: m.SessionID, TaskClass: pkgmodels.TaskClass(m.TaskClass),
		NormalizedTaskClass: pkgmodels.TaskClass(m.NormalizedTaskClass), Task: m.Task,
		BaselineRecipeID: m.BaselineRecipeID.String(),
		FrameworkMask: mask, Strategy: m.Strategy, Epsilon: m.Epsilon, MemoryK: m.MemoryK, RAGK: m.RAGK,
		BaselineScore: m.BaselineScore, Status: pkgmodels.RunStatus(m.Status), MaxIterations: m.MaxIterations,
		CurrentIteration: m.CurrentIteration, SourceRunID: sourceID, BestVariantID: bestID,
		BestTotalReward: m.BestTotalReward, Error: m.Error, StartedAt: m.StartedAt,
		CompletedAt: m.CompletedAt, CancelRequested: m.CancelRequested,
	}
}

// VariantModel is the durable row for one generated candidate.
type VariantModel struct {
	bun.BaseModel `bun:"table:promptforge_variants,alias:vr"`

	ID             uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	RunID          uuid.UUID `bun:"run_id,notnull,type:uuid"`
	IterationNum   int       `bun:"iteration_num,notnull"`
	RecipeID       uuid.UUID `bun:"recipe_id,type:uuid"`
	Operator       string    `bun:"operator,notnull"`
	TaskClass      string    `bun:"task_class,notnull"`
	RecipeSnapshot JSONBMap  `bun:"recipe_snapshot,type:jsonb,default:'{}'"`
	RenderedPrompt string    `bun:"rendered_prompt"`
	PromptLength   int       `bun:"prompt_length,notnull,default:0"`
	Output         string    `bun:"output"`
	OutcomeReward  float64   `bun:"outcome_reward,notnull,default:0"`
	ProcessReward  float64   `bun:"process_reward,notnull,default:0"`
	CostPenalty    float64   `bun:"cost_penalty,notnull,default:0"`
	TotalReward    float64   `bun:"total_reward,notnull,default:0"`
	TokensUsed     int       `bun:"tokens_used,notnull,default:0"`
	ToolCallsUsed  int       `bun:"tool_calls_used,notnull,default:0"`
	LatencyMs      int64     `bun:"latency_ms,notnull,default:0"`
	IsBaseline     bool      `bun:"is_baseline,notnull,default:false"`
	Promoted       bool      `bun:"promoted,notnull,default:false"`
	GenerationErr  string    `bun:"generation_error"`
	JudgeInfo      JSONBMap  `bun:"judge_info,type:jsonb,default:'{}'"`
	SemanticSim    float64   `bun:"semantic_similarity,notnull,default:0"`
	ProcessDetail  JSONBMap  `bun:"process_detail,type:jsonb,default:'{}'"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

func (VariantModel) TableName() string { return "promptforge_variants" }

func (v *VariantModel) BeforeInsert(ctx interface{}) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.ProcessDetail == nil {
		v.ProcessDetail = make(JSONBMap)
	}
	v.CreatedAt = time.Now()
	return nil
}

func VariantToStorage(v *pkgmodels.Variant) *VariantModel {
	id := uuid.Nil
	if v.ID != "" {
		id, _ = uuid.Parse(v.ID)
	}
	runID, _ := uuid.Parse(v.RunID)
	var recipeID uuid.UUID
	if v.RecipeID != "" {
		recipeID, _ = uuid.Parse(v.RecipeID)
	}
	detail := make(JSONBMap, len(v.ProcessDetail))
	for k, val := range v.ProcessDetail {
		detail[k] = val
	}
	return &VariantModel{
		ID: id, RunID: runID, IterationNum: v.IterationNum, RecipeID: recipeID, Operator: v.Operator,
		TaskClass: string(v.TaskClass), RecipeSnapshot: toJSONBMap(v.Recipe),
		RenderedPrompt: v.RenderedPrompt, PromptLength: v.PromptLength, Output: v.Output,
		OutcomeReward: v.OutcomeReward, ProcessReward: v.ProcessReward, CostPenalty: v.CostPenalty,
		TotalReward: v.TotalReward, TokensUsed: v.TokensUsed, ToolCallsUsed: v.ToolCallsUsed,
		LatencyMs: v.LatencyMs, IsBaseline: v.IsBaseline,
		Promoted: v.Promoted, GenerationErr: v.GenerationErr, JudgeInfo: toJSONBMap(v.JudgeInfo),
		SemanticSim: v.SemanticSim, ProcessDetail: detail, CreatedAt: v.CreatedAt,
	}
}

func VariantFromStorage(m *VariantModel) *pkgmodels.Variant {
	if m == nil {
		return nil
	}
	var recipeID string
	if m.RecipeID != uuid.Nil {
		recipeID = m.RecipeID.String()
	}
	var snapshot pkgmodels.RecipeSnapshot
	fromJSONBMap(m.RecipeSnapshot, &snapshot)
	var judgeInfo pkgmodels.JudgeInfo
	fromJSONBMap(m.JudgeInfo, &judgeInfo)
	return &pkgmodels.Variant{
		ID: m.ID.String(), RunID: m.RunID.String(), IterationNum: m.IterationNum, RecipeID: recipeID,
		Operator: m.Operator, TaskClass: pkgmodels.TaskClass(m.TaskClass), Recipe: snapshot,
		RenderedPrompt: m.RenderedPrompt, PromptLength: m.PromptLength,
		Output: m.Output, OutcomeReward: m.OutcomeReward, ProcessReward: m.ProcessReward,
		CostPenalty: m.CostPenalty, TotalReward: m.TotalReward, TokensUsed: m.TokensUsed,
		ToolCallsUsed: m.ToolCallsUsed, LatencyMs: m.LatencyMs, IsBaseline: m.IsBaseline,
		Promoted: m.Promoted, GenerationErr: m.GenerationErr, JudgeInfo: judgeInfo,
		SemanticSim: m.SemanticSim, ProcessDetail: floatMap(m.ProcessDetail),
		CreatedAt: m.CreatedAt,
	}
}

// floatMap coerces a jsonb-decoded any-valued map to map[string]float64.
func floatMap(j JSONBMap) map[string]float64 {
	out := make(map[string]float64, len(j))
	for k, v := range j {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// toJSONBMap round-trips a struct through JSON so it can ride in a jsonb
// column without each caller hand-building the field-by-field map.
func toJSONBMap(v interface{}) JSONBMap {
	b, err := json.Marshal(v)
	if err != nil {
		return make(JSONBMap)
	}
	m := make(JSONBMap)
	if err := json.Unmarshal(b, &m); err != nil {
		return make(JSONBMap)
	}
	return m
}

// fromJSONBMap is the inverse of toJSONBMap; dst must be a pointer.
func fromJSONBMap(j JSONBMap, dst interface{}) {
	if len(j) == 0 {
		return
	}
	b, err := json.Marshal(j)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, dst)
}

// OperatorStatModel is the durable bandit arm row for (task_class, operator).
type OperatorStatModel struct {
	bun.BaseModel `bun:"table:promptforge_operator_stats,alias:os"`

	TaskClass    string    `bun:"task_class,pk"`
	Operator     string    `bun:"operator,pk"`
	Pulls        int64     `bun:"pulls,notnull,default:0"`
	SumReward    float64   `bun:"sum_reward,notnull,default:0"`
	MeanReward   float64   `bun:"mean_reward,notnull,default:0"`
	LastPulledAt time.Time `bun:"last_pulled_at,notnull,default:current_timestamp"`
}

func (OperatorStatModel) TableName() string { return "promptforge_operator_stats" }

func OperatorStatToStorage(s pkgmodels.OperatorStat) *OperatorStatModel {
	return &OperatorStatModel{
		TaskClass: string(s.TaskClass), Operator: s.Operator, Pulls: s.Pulls,
		SumReward: s.SumReward, MeanReward: s.MeanReward, LastPulledAt: s.LastPulledAt,
	}
}

func OperatorStatFromStorage(m *OperatorStatModel) pkgmodels.OperatorStat {
	return pkgmodels.OperatorStat{
		TaskClass: pkgmodels.TaskClass(m.TaskClass), Operator: m.Operator, Pulls: m.Pulls,
		SumReward: m.SumReward, MeanReward: m.MeanReward, LastPulledAt: m.LastPulledAt,
	}
}

// PromotionModel is the durable row recording a variant replacing production.
type PromotionModel struct {
	bun.BaseModel `bun:"table:promptforge_promotions,alias:pr"`

	ID           uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	RunID        uuid.UUID `bun:"run_id,notnull,type:uuid"`
	VariantID    uuid.UUID `bun:"variant_id,notnull,type:uuid"`
	TaskClass    string    `bun:"task_class,notnull"`
	FromRecipeID uuid.UUID `bun:"from_recipe_id,type:uuid"`
	ToRecipeID   uuid.UUID `bun:"to_recipe_id,notnull,type:uuid"`
	RewardDelta  float64   `bun:"reward_delta,notnull"`
	PromotedAt   time.Time `bun:"promoted_at,notnull,default:current_timestamp"`
}

func (PromotionModel) TableName() string { return "promptforge_promotions" }

func (p *PromotionModel) BeforeInsert(ctx interface{}) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.PromotedAt = time.Now()
	return nil
}

func PromotionToStorage(p *pkgmodels.Promotion) *PromotionModel {
	id := uuid.Nil
	if p.ID != "" {
		id, _ = uuid.Parse(p.ID)
	}
	runID, _ := uuid.Parse(p.RunID)
	variantID, _ := uuid.Parse(p.VariantID)
	fromID, _ := uuid.Parse(p.FromRecipeID)
	toID, _ := uuid.Parse(p.ToRecipeID)
	return &PromotionModel{
		ID: id, RunID: runID, VariantID: variantID, TaskClass: string(p.TaskClass),
		FromRecipeID: fromID, ToRecipeID: toID, RewardDelta: p.RewardDelta, PromotedAt: p.PromotedAt,
	}
}

func PromotionFromStorage(m *PromotionModel) *pkgmodels.Promotion {
	if m == nil {
		return nil
	}
	return &pkgmodels.Promotion{
		ID: m.ID.String(), RunID: m.RunID.String(), VariantID: m.VariantID.String(), TaskClass: pkgmodels.TaskClass(m.TaskClass),
		FromRecipeID: m.FromRecipeID.String(), ToRecipeID: m.ToRecipeID.String(), RewardDelta: m.RewardDelta, PromotedAt: m.PromotedAt,
	}
}

// GoldenItemModel is a pinned scenario in the deterministic evaluation suite.
type GoldenItemModel struct {
	bun.BaseModel `bun:"table:promptforge_golden_items,alias:gi"`

	ID         uuid.UUID   `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	TaskClass  string      `bun:"task_class,notnull"`
	Input      JSONBMap    `bun:"input,type:jsonb,default:'{}'"`
	Assertions StringArray `bun:"assertions,type:text[]"`
	Seed       int64       `bun:"seed,notnull,default:0"`
}

func (GoldenItemModel) TableName() string { return "promptforge_golden_items" }

func GoldenItemFromStorage(m *GoldenItemModel) pkgmodels.GoldenItem {
	return pkgmodels.GoldenItem{
		ID: m.ID.String(), TaskClass: pkgmodels.TaskClass(m.TaskClass), Input: map[string]any(m.Input),
		Assertions: []string(m.Assertions), Seed: m.Seed,
	}
}

// GoldenResultModel is the outcome of running one golden item against a recipe.
type GoldenResultModel struct {
	bun.BaseModel `bun:"table:promptforge_golden_results,alias:gr"`

	ID            uuid.UUID   `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	GoldenItemID  uuid.UUID   `bun:"golden_item_id,notnull,type:uuid"`
	RecipeID      uuid.UUID   `bun:"recipe_id,notnull,type:uuid"`
	RunID         uuid.UUID   `bun:"run_id,type:uuid,nullzero"`
	Passed        bool        `bun:"passed,notnull"`
	Score         float64     `bun:"score,notnull,default:0"`
	OutcomeReward float64     `bun:"outcome_reward,notnull,default:0"`
	ProcessReward float64     `bun:"process_reward,notnull,default:0"`
	CostPenalty   float64     `bun:"cost_penalty,notnull,default:0"`
	TotalReward   float64     `bun:"total_reward,notnull,default:0"`
	Steps         int         `bun:"steps,notnull,default:0"`
	FailedChecks  StringArray `bun:"failed_checks,type:text[]"`
	CreatedAt     time.Time   `bun:"created_at,notnull,default:current_timestamp"`
}

func (GoldenResultModel) TableName() string { return "promptforge_golden_results" }

func (g *GoldenResultModel) BeforeInsert(ctx interface{}) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.CreatedAt = time.Now()
	return nil
}

func GoldenResultToStorage(r *pkgmodels.GoldenResult) *GoldenResultModel {
	id := uuid.Nil
	if r.ID != "" {
		id, _ = uuid.Parse(r.ID)
	}
	itemID, _ := uuid.Parse(r.GoldenItemID)
	recipeID, _ := uuid.Parse(r.RecipeID)
	var runID uuid.UUID
	if r.RunID != "" {
		runID, _ = uuid.Parse(r.RunID)
	}
	return &GoldenResultModel{
		ID: id, GoldenItemID: itemID, RecipeID: recipeID, RunID: runID, Passed: r.Passed,
		Score: r.Score, OutcomeReward: r.OutcomeReward, ProcessReward: r.ProcessReward,
		CostPenalty: r.CostPenalty, TotalReward: r.TotalReward, Steps: r.Steps,
		FailedChecks: StringArray(r.FailedChecks), CreatedAt: r.CreatedAt,
	}
}

func GoldenResultFromStorage(m *GoldenResultModel) pkgmodels.GoldenResult {
	var runID string
	if m.RunID != uuid.Nil {
		runID = m.RunID.String()
	}
	return pkgmodels.GoldenResult{
		ID: m.ID.String(), GoldenItemID: m.GoldenItemID.String(), RecipeID: m.RecipeID.String(), RunID: runID,
		Passed: m.Passed, Score: m.Score, OutcomeReward: m.OutcomeReward, ProcessReward: m.ProcessReward,
		CostPenalty: m.CostPenalty, TotalReward: m.TotalReward, Steps: m.Steps,
		FailedChecks: []string(m.FailedChecks), CreatedAt: m.CreatedAt,
	}
}

// CodeLoopArtifactModel records one criticize/edit/test/decide cycle.
type CodeLoopArtifactModel struct {
	bun.BaseModel `bun:"table:promptforge_code_loop_artifacts,alias:cl"`

	ID             uuid.UUID   `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	SourceRunID    uuid.UUID   `bun:"source_run_id,notnull,type:uuid"`
	Critique       string      `bun:"critique"`
	Patches        StringArray `bun:"patches,type:text[]"`
	FilesChanged   StringArray `bun:"files_changed,type:text[]"`
	TestsPassed    bool        `bun:"tests_passed,notnull,default:false"`
	RewardDelta    float64     `bun:"reward_delta,notnull,default:0"`
	CostRatio      float64     `bun:"cost_ratio,notnull,default:0"`
	GoldenPassRate float64     `bun:"golden_pass_rate,notnull,default:0"`
	Accepted       bool        `bun:"accepted,notnull,default:false"`
	RollbackReason string      `bun:"rollback_reason"`
	CreatedAt      time.Time   `bun:"created_at,notnull,default:current_timestamp"`
}

func (CodeLoopArtifactModel) TableName() string { return "promptforge_code_loop_artifacts" }

func (c *CodeLoopArtifactModel) BeforeInsert(ctx interface{}) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	return nil
}

func CodeLoopArtifactToStorage(a *pkgmodels.CodeLoopArtifact) *CodeLoopArtifactModel {
	id := uuid.Nil
	if a.ID != "" {
		id, _ = uuid.Parse(a.ID)
	}
	sourceID, _ := uuid.Parse(a.SourceRunID)
	return &CodeLoopArtifactModel{
		ID: id, SourceRunID: sourceID, Critique: a.Critique, Patches: StringArray(a.Patches),
		FilesChanged: StringArray(a.FilesChanged), TestsPassed: a.TestsPassed, RewardDelta: a.RewardDelta,
		CostRatio: a.CostRatio, GoldenPassRate: a.GoldenPassRate, Accepted: a.Accepted,
		RollbackReason: a.RollbackReason, CreatedAt: a.CreatedAt,
	}
}

func CodeLoopArtifactFromStorage(m *CodeLoopArtifactModel) *pkgmodels.CodeLoopArtifact {
	if m == nil {
		return nil
	}
	return &pkgmodels.CodeLoopArtifact{
		ID: m.ID.String(), SourceRunID: m.SourceRunID.String(), Critique: m.Critique, Patches: []string(m.Patches),
		FilesChanged: []string(m.FilesChanged), TestsPassed: m.TestsPassed, RewardDelta: m.RewardDelta,
		CostRatio: m.CostRatio, GoldenPassRate: m.GoldenPassRate, Accepted: m.Accepted,
		RollbackReason: m.RollbackReason, CreatedAt: m.CreatedAt,
	}
}

// AnalyticsSnapshotModel is a periodically refreshed rollup row.
type AnalyticsSnapshotModel struct {
	bun.BaseModel `bun:"table:promptforge_analytics_snapshots,alias:an"`

	ID                uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
	TaskClass         string    `bun:"task_class,notnull"`
	BestOperator      string    `bun:"best_operator"`
	MeanTotalReward   float64   `bun:"mean_total_reward,notnull,default:0"`
	TotalRuns         int64     `bun:"total_runs,notnull,default:0"`
	TotalVariants     int64     `bun:"total_variants,notnull,default:0"`
	OperatorBreakdown JSONBMap  `bun:"operator_breakdown,type:jsonb,default:'{}'"`
	GeneratedAt       time.Time `bun:"generated_at,notnull,default:current_timestamp"`
}

func (AnalyticsSnapshotModel) TableName() string { return "promptforge_analytics_snapshots" }

func (a *AnalyticsSnapshotModel) BeforeInsert(ctx interface{}) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.GeneratedAt = time.Now()
	return nil
}

func AnalyticsSnapshotToStorage(s *pkgmodels.AnalyticsSnapshot) *AnalyticsSnapshotModel {
	id := uuid.Nil
	if s.ID != "" {
		id, _ = uuid.Parse(s.ID)
	}
	breakdown := make(JSONBMap, len(s.OperatorBreakdown))
	for k, v := range s.OperatorBreakdown {
		breakdown[k] = v
	}
	return &AnalyticsSnapshotModel{
		ID: id, TaskClass: string(s.TaskClass), BestOperator: s.BestOperator, MeanTotalReward: s.MeanTotalReward,
		TotalRuns: s.TotalRuns, TotalVariants: s.TotalVariants, OperatorBreakdown: breakdown, GeneratedAt: s.GeneratedAt,
	}
}

func AnalyticsSnapshotFromStorage(m *AnalyticsSnapshotModel) *pkgmodels.AnalyticsSnapshot {
	if m == nil {
		return nil
	}
	breakdown := make(map[string]float64, len(m.OperatorBreakdown))
	for k, v := range m.OperatorBreakdown {
		if f, ok := v.(float64); ok {
			breakdown[k] = f
		}
	}
	return &pkgmodels.AnalyticsSnapshot{
		ID: m.ID.String(), TaskClass: pkgmodels.TaskClass(m.TaskClass), BestOperator: m.BestOperator,
		MeanTotalReward: m.MeanTotalReward, TotalRuns: m.TotalRuns, TotalVariants: m.TotalVariants,
		OperatorBreakdown: breakdown, GeneratedAt: m.GeneratedAt,
	}
}

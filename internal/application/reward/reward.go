// Package reward computes the blended total_reward for a variant:
// total_reward = alpha*outcome + beta*process + gamma*cost_penalty.
package reward

import (
	"context"
	"math"
	"sync"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
	"github.com/brianmeyer/promptforge/internal/application/reward/assertioncache"
	"github.com/brianmeyer/promptforge/internal/application/retry"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// Config tunes the blend weights and judge protocol.
type Config struct {
	OutcomeWeight      float64
	ProcessWeight      float64
	CostPenaltyWeight  float64 // gamma; negative, so a worse-than-baseline cost subtracts from total
	JudgeWeight        float64
	SemanticWeight     float64
	CostTimeWeight     float64 // w_t
	CostToolCallWeight float64 // w_c
	CostTokenWeight    float64 // w_k
	InitialCostBaseline float64
	JudgeCount         int
	JudgeTieThreshold  float64
}

// Scorer computes blended rewards for a generated variant.
type Scorer struct {
	cfg        Config
	judges     []collaborators.JudgeEngine
	embedder   collaborators.EmbeddingFunc
	assertions *assertioncache.Cache
	retry      *retry.Policy
	baselines  *costBaselineTracker
}

// New creates a Scorer. judges must have at least 2 entries for the
// two-judge-with-tie-breaker protocol (a 3rd, the tie breaker, is called
// only when the first two disagree beyond JudgeTieThreshold).
func New(cfg Config, judges []collaborators.JudgeEngine, embedder collaborators.EmbeddingFunc, assertions *assertioncache.Cache) *Scorer {
	return &Scorer{
		cfg:        cfg,
		judges:     judges,
		embedder:   embedder,
		assertions: assertions,
		retry:      retry.Default(),
		baselines:  newCostBaselineTracker(cfg.InitialCostBaseline),
	}
}

// Result is the full breakdown backing a Variant's reward fields.
type Result struct {
	Outcome       float64
	Process       float64
	CostPenalty   float64
	Total         float64
	JudgeInfo     models.JudgeInfo
	SemanticSim   float64
	ProcessDetail map[string]float64
}

// Score computes the blended reward for one variant's generation. A
// failed or absent judge never fails the whole score: outcome degrades
// to semantic-similarity-only and the caller's iteration continues.
// The only error Score returns is a genuinely cancelled/expired ctx.
func (s *Scorer) Score(ctx context.Context, req ScoreRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	outcome, judgeInfo, semanticSim := s.outcome(ctx, req)
	process, detail := s.process(req)
	cost := s.costPenalty(req)

	total := s.cfg.OutcomeWeight*outcome + s.cfg.ProcessWeight*process + s.cfg.CostPenaltyWeight*cost
	judgeInfo.FinalScore = outcome

	return Result{
		Outcome:       outcome,
		Process:       process,
		CostPenalty:   cost,
		Total:         total,
		JudgeInfo:     judgeInfo,
		SemanticSim:   semanticSim,
		ProcessDetail: detail,
	}, nil
}

// ScoreRequest carries everything needed to score one variant.
type ScoreRequest struct {
	TaskClass       models.TaskClass
	TaskDescription string
	Input           map[string]any
	CandidateOutput string
	ReferenceOutput string
	TokensUsed      int
	ToolCallsUsed   int
	DurationMs      int64
	ProcessSignals  map[string]bool // keys are assertion expressions evaluated against ProcessEnv; values are not read
	ProcessEnv      map[string]any  // evaluation environment for ProcessSignals expressions
}

// outcome = judgeWeight*AI_judge + semanticWeight*semantic_similarity.
// AI_judge dispatches JudgeCount judges concurrently. If the first two
// disagree by at least JudgeTieThreshold, a third tie-breaker judge is
// called and its score alone becomes the final AI score. If any judge
// fails, the remaining successful judges are averaged; if every judge
// configured or called fails, AI_judge drops out and outcome falls back
// to semantic similarity alone.
func (s *Scorer) outcome(ctx context.Context, req ScoreRequest) (float64, models.JudgeInfo, float64) {
	var semanticSim float64
	if s.embedder != nil && req.ReferenceOutput != "" {
		sim, err := s.semanticSimilarity(ctx, req.CandidateOutput, req.ReferenceOutput)
		if err == nil {
			semanticSim = sim
		}
	}

	if len(s.judges) == 0 {
		return clamp01(semanticSim), models.JudgeInfo{}, semanticSim
	}

	n := s.cfg.JudgeCount
	if n < 2 {
		n = 2
	}
	if n > len(s.judges) {
		n = len(s.judges)
	}

	scores, judgeScores := s.callJudges(ctx, req, s.judges[:n])
	if len(scores) == 0 {
		// Every judge in the initial panel failed: this is a
		// CollaboratorFailure, not a run-fatal condition. Degrade to
		// semantic-only so the iteration still produces a usable reward.
		return clamp01(semanticSim), models.JudgeInfo{}, semanticSim
	}

	info := models.JudgeInfo{Judges: judgeScores}
	var judgeScore float64
	if len(scores) >= 2 && math.Abs(scores[0]-scores[1]) >= s.cfg.JudgeTieThreshold && len(s.judges) > n {
		tieScores, tieJudgeScores := s.callJudges(ctx, req, s.judges[n:n+1])
		if len(tieScores) > 0 {
			info.Judges = append(info.Judges, tieJudgeScores...)
			info.TieBreakerUsed = true
			judgeScore = tieScores[0]
		} else {
			judgeScore = mean(scores)
		}
	} else {
		judgeScore = mean(scores)
	}

	outcome := s.cfg.JudgeWeight*judgeScore + s.cfg.SemanticWeight*semanticSim
	return clamp01(outcome), info, semanticSim
}

// callJudges dispatches one JudgeRequest to each judge concurrently and
// collects the scores (and full per-judge records) of whichever judges
// succeeded, in panel order. A judge that errors after retry is simply
// omitted; an empty result means every judge in this batch failed.
func (s *Scorer) callJudges(ctx context.Context, req ScoreRequest, judges []collaborators.JudgeEngine) ([]float64, []models.JudgeScore) {
	results := make([]collaborators.JudgeResult, len(judges))
	errs := make([]error, len(judges))

	var wg sync.WaitGroup
	for i, j := range judges {
		wg.Add(1)
		go func(i int, j collaborators.JudgeEngine) {
			defer wg.Done()
			errs[i] = s.retry.Execute(ctx, func() error {
				var callErr error
				results[i], callErr = j.Judge(ctx, collaborators.JudgeRequest{
					TaskDescription: req.TaskDescription,
					Input:           req.Input,
					CandidateOutput: req.CandidateOutput,
					ReferenceOutput: req.ReferenceOutput,
				})
				return callErr
			})
		}(i, j)
	}
	wg.Wait()

	var scores []float64
	var judgeScores []models.JudgeScore
	for i, e := range errs {
		if e != nil {
			continue
		}
		normalized := normalizeJudgeScore(results[i].Score)
		scores = append(scores, normalized)
		judgeScores = append(judgeScores, models.JudgeScore{
			Model: results[i].Model, Score: normalized, Rationale: results[i].Rationale,
		})
	}
	return scores, judgeScores
}

func (s *Scorer) semanticSimilarity(ctx context.Context, candidate, reference string) (float64, error) {
	a, err := s.embedder.Embed(ctx, candidate)
	if err != nil {
		return 0, err
	}
	b, err := s.embedder.Embed(ctx, reference)
	if err != nil {
		return 0, err
	}
	return cosineSimilarity(a, b), nil
}

// process is the mean of the configured sub-heuristic assertions, each
// evaluated against ProcessEnv via the shared expr-lang cache.
func (s *Scorer) process(req ScoreRequest) (float64, map[string]float64) {
	if len(req.ProcessSignals) == 0 {
		return 0, nil
	}

	detail := make(map[string]float64, len(req.ProcessSignals))
	var sum float64
	for assertion := range req.ProcessSignals {
		ok, err := s.assertions.Eval(assertion, req.ProcessEnv)
		val := 0.0
		if err == nil && ok {
			val = 1.0
		}
		detail[assertion] = val
		sum += val
	}
	return sum / float64(len(req.ProcessSignals)), detail
}

// costPenalty blends wall-clock time, tool calls, and estimated tokens
// into a raw cost, normalizes it against a rolling per-task-class
// baseline, clips the ratio to [0,3], and returns ratio-1 so a variant
// at or under baseline scores <= 0.
func (s *Scorer) costPenalty(req ScoreRequest) float64 {
	rawCost := s.cfg.CostTimeWeight*float64(req.DurationMs) +
		s.cfg.CostToolCallWeight*float64(req.ToolCallsUsed) +
		s.cfg.CostTokenWeight*float64(req.TokensUsed)
	ratio := s.baselines.normalize(req.TaskClass, rawCost)
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 3 {
		ratio = 3
	}
	return ratio - 1
}

// costBaselineTracker maintains a rolling mean raw cost per task class,
// used as the normalization baseline for the next scoring call. A task
// class with no observations yet uses the configured initial baseline.
type costBaselineTracker struct {
	mu      sync.Mutex
	sums    map[models.TaskClass]float64
	counts  map[models.TaskClass]int64
	initial float64
}

func newCostBaselineTracker(initial float64) *costBaselineTracker {
	return &costBaselineTracker{
		sums:    make(map[models.TaskClass]float64),
		counts:  make(map[models.TaskClass]int64),
		initial: initial,
	}
}

func (t *costBaselineTracker) normalize(taskClass models.TaskClass, rawCost float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	baseline := t.initial
	if n := t.counts[taskClass]; n > 0 {
		baseline = t.sums[taskClass] / float64(n)
	}

	t.sums[taskClass] += rawCost
	t.counts[taskClass]++

	if baseline <= 0 {
		return 1
	}
	return rawCost / baseline
}

// normalizeJudgeScore coerces a judge reply outside [0,1]: values >1 are
// treated as a 1-10 scale and divided once, then the result is clamped.
func normalizeJudgeScore(score float64) float64 {
	if score > 1 {
		score /= 10
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

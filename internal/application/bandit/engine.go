package bandit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// Config tunes the selection strategies.
type Config struct {
	Algorithm           Algorithm
	Epsilon             float64
	EpsilonDecay        float64
	EpsilonMin          float64
	UCBExploration      float64
	WarmStartPulls      int
	StratifyByFramework bool
}

// OperatorCatalog answers which operators (and their frameworks) are
// eligible for a given task class and framework mask — implemented by
// the operator registry, kept as a narrow interface here to avoid an
// import cycle between bandit and operator.
type OperatorCatalog interface {
	OperatorsFor(taskClass models.TaskClass, mask models.FrameworkMask) []OperatorRef
}

// OperatorRef is the minimal operator identity the bandit needs.
type OperatorRef struct {
	Tag       string
	Framework models.Framework
}

// Engine selects operators and tracks their reward statistics. One Engine
// is shared process-wide; per-arm state lives behind a lock-free
// concurrent map so concurrent runs never contend on a single mutex.
type Engine struct {
	cfg     Config
	catalog OperatorCatalog
	store   repository.OperatorStatRepository
	arms    *xsync.MapOf[ArmKey, *ArmStats]
	rng     *rand.Rand
}

// New creates an Engine backed by catalog for operator eligibility and
// store for durable arm statistics.
func New(cfg Config, catalog OperatorCatalog, store repository.OperatorStatRepository) *Engine {
	return &Engine{
		cfg:     cfg,
		catalog: catalog,
		store:   store,
		arms:    xsync.NewMapOf[ArmKey, *ArmStats](),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Warm loads durable arm statistics into the in-process cache. Call once
// at startup and whenever a run resumes after a restart.
func (e *Engine) Warm(ctx context.Context, taskClass models.TaskClass) error {
	stats, err := e.store.ListByTaskClass(ctx, taskClass)
	if err != nil {
		return fmt.Errorf("bandit: warm load failed: %w", err)
	}
	for _, s := range stats {
		key := ArmKey{TaskClass: s.TaskClass, Operator: s.Operator}
		e.arms.Store(key, &ArmStats{Pulls: s.Pulls, SumReward: s.SumReward, LastPulledAt: s.LastPulledAt})
	}
	return nil
}

// Select picks one operator for taskClass, restricted to mask. Arms with
// fewer than WarmStartPulls pulls are always preferred over fully-pulled
// arms, guaranteeing every operator gets a baseline sample before the
// exploit/explore tradeoff kicks in.
func (e *Engine) Select(ctx context.Context, taskClass models.TaskClass, mask models.FrameworkMask) (OperatorRef, error) {
	candidates := e.catalog.OperatorsFor(taskClass, mask)
	if len(candidates) == 0 {
		return OperatorRef{}, fmt.Errorf("bandit: no eligible operators for task class %q", taskClass)
	}

	if op, ok := e.leastPulledUnderWarmStart(taskClass, candidates); ok {
		return op, nil
	}

	if e.cfg.StratifyByFramework {
		candidates = e.stratify(taskClass, candidates)
	}

	switch e.cfg.Algorithm {
	case AlgorithmUCB1:
		return e.selectUCB1(taskClass, candidates), nil
	default:
		return e.selectEpsilonGreedy(taskClass, candidates), nil
	}
}

// stratify narrows candidates to only the operators belonging to
// frameworks currently below their pull quota, where a framework's
// quota is its share of candidates times the total pulls recorded
// across all candidates so far. If no framework is below quota (or
// there's only one framework in play), every candidate stays eligible
// and ranking proceeds unrestricted. This keeps a framework that
// contributes many operator variants from dominating epsilon-greedy and
// UCB1 selection purely by headcount: every operator within an
// under-quota framework remains a candidate, nothing is collapsed down
// to a single representative.
func (e *Engine) stratify(taskClass models.TaskClass, candidates []OperatorRef) []OperatorRef {
	byFramework := make(map[models.Framework][]OperatorRef)
	order := make([]models.Framework, 0)
	for _, c := range candidates {
		if _, seen := byFramework[c.Framework]; !seen {
			order = append(order, c.Framework)
		}
		byFramework[c.Framework] = append(byFramework[c.Framework], c)
	}
	if len(byFramework) <= 1 {
		return candidates
	}

	pullsByFramework := make(map[models.Framework]int64, len(byFramework))
	var totalPulls int64
	for fw, ops := range byFramework {
		var sum int64
		for _, op := range ops {
			sum += e.statsFor(taskClass, op.Tag).Pulls
		}
		pullsByFramework[fw] = sum
		totalPulls += sum
	}
	if totalPulls == 0 {
		return candidates
	}

	var underQuota []models.Framework
	for _, fw := range order {
		share := float64(len(byFramework[fw])) / float64(len(candidates))
		quota := share * float64(totalPulls)
		if float64(pullsByFramework[fw]) < quota {
			underQuota = append(underQuota, fw)
		}
	}
	if len(underQuota) == 0 {
		return candidates
	}

	eligible := make(map[models.Framework]bool, len(underQuota))
	for _, fw := range underQuota {
		eligible[fw] = true
	}
	restricted := make([]OperatorRef, 0, len(candidates))
	for _, c := range candidates {
		if eligible[c.Framework] {
			restricted = append(restricted, c)
		}
	}
	return restricted
}

// leastPulledUnderWarmStart returns the candidate with the fewest pulls
// among those still below WarmStartPulls, ties broken by candidate
// order, so every operator gets a baseline sample before exploit/explore
// selection kicks in. ok is false once every candidate has warmed up.
func (e *Engine) leastPulledUnderWarmStart(taskClass models.TaskClass, candidates []OperatorRef) (OperatorRef, bool) {
	var best OperatorRef
	var bestPulls int64
	found := false
	for _, c := range candidates {
		pulls := e.statsFor(taskClass, c.Tag).Pulls
		if pulls >= int64(e.cfg.WarmStartPulls) {
			continue
		}
		if !found || pulls < bestPulls {
			best, bestPulls, found = c, pulls, true
		}
	}
	return best, found
}

func (e *Engine) selectEpsilonGreedy(taskClass models.TaskClass, candidates []OperatorRef) OperatorRef {
	eps := e.cfg.Epsilon
	if e.rng.Float64() < eps {
		return candidates[e.rng.Intn(len(candidates))]
	}
	return e.argmaxMeanReward(taskClass, candidates)
}

// argmaxMeanReward returns the candidate with the highest mean reward,
// breaking ties uniformly at random across every tied candidate rather
// than deterministically favoring the first one seen.
func (e *Engine) argmaxMeanReward(taskClass models.TaskClass, candidates []OperatorRef) OperatorRef {
	best := []OperatorRef{candidates[0]}
	bestMean := e.statsFor(taskClass, candidates[0].Tag).MeanReward()
	for _, c := range candidates[1:] {
		mean := e.statsFor(taskClass, c.Tag).MeanReward()
		switch {
		case mean > bestMean:
			bestMean = mean
			best = []OperatorRef{c}
		case mean == bestMean:
			best = append(best, c)
		}
	}
	return best[e.rng.Intn(len(best))]
}

func (e *Engine) selectUCB1(taskClass models.TaskClass, candidates []OperatorRef) OperatorRef {
	var totalPulls int64
	for _, c := range candidates {
		totalPulls += e.statsFor(taskClass, c.Tag).Pulls
	}
	if totalPulls == 0 {
		return candidates[e.rng.Intn(len(candidates))]
	}

	best := []OperatorRef{candidates[0]}
	bestScore := e.ucb1(e.statsFor(taskClass, candidates[0].Tag), totalPulls)
	for _, c := range candidates[1:] {
		score := e.ucb1(e.statsFor(taskClass, c.Tag), totalPulls)
		switch {
		case score > bestScore:
			bestScore = score
			best = []OperatorRef{c}
		case score == bestScore:
			best = append(best, c)
		}
	}
	return best[e.rng.Intn(len(best))]
}

func (e *Engine) ucb1(stats *ArmStats, totalPulls int64) float64 {
	if stats.Pulls == 0 {
		return math.Inf(1)
	}
	mean := stats.MeanReward()
	bound := e.cfg.UCBExploration * math.Sqrt(math.Log(float64(totalPulls))/float64(stats.Pulls))
	return mean + bound
}

func (e *Engine) statsFor(taskClass models.TaskClass, operator string) *ArmStats {
	key := ArmKey{TaskClass: taskClass, Operator: operator}
	stats, _ := e.arms.LoadOrCompute(key, func() *ArmStats {
		return &ArmStats{}
	})
	return stats
}

// Update records the reward for one pull of (taskClass, operator). It is
// skipped entirely on generation failure, per the no-signal contract:
// a variant that never produced output carries no information about the
// operator's quality.
func (e *Engine) Update(ctx context.Context, taskClass models.TaskClass, operator string, reward float64) error {
	key := ArmKey{TaskClass: taskClass, Operator: operator}
	now := time.Now()

	e.arms.Compute(key, func(old *ArmStats, loaded bool) (*ArmStats, bool) {
		next := &ArmStats{}
		if loaded {
			*next = *old
		}
		next.Pulls++
		next.SumReward += reward
		next.LastPulledAt = now
		return next, false
	})

	if e.cfg.Algorithm == AlgorithmEpsilonGreedy && e.cfg.EpsilonDecay > 0 {
		e.cfg.Epsilon = math.Max(e.cfg.EpsilonMin, e.cfg.Epsilon*e.cfg.EpsilonDecay)
	}

	stats, _ := e.arms.Load(key)
	if e.store == nil || stats == nil {
		return nil
	}
	if err := e.store.Upsert(ctx, stats.toOperatorStat(key)); err != nil {
		return fmt.Errorf("bandit: failed to persist arm update: %w", err)
	}
	return nil
}

// Snapshot returns the current in-process stats for every known arm of
// taskClass, sorted by mean reward descending.
func (e *Engine) Snapshot(taskClass models.TaskClass) []models.OperatorStat {
	var out []models.OperatorStat
	e.arms.Range(func(key ArmKey, stats *ArmStats) bool {
		if key.TaskClass == taskClass {
			out = append(out, stats.toOperatorStat(key))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MeanReward > out[j].MeanReward })
	return out
}

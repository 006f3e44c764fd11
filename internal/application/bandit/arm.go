// Package bandit selects which operator to apply next for a task class,
// balancing exploration of under-tried operators against exploitation of
// operators with a strong reward history.
package bandit

import (
	"time"

	"github.com/brianmeyer/promptforge/pkg/models"
)

// Algorithm is the closed set of selection strategies.
type Algorithm string

const (
	AlgorithmEpsilonGreedy Algorithm = "epsilon_greedy"
	AlgorithmUCB1          Algorithm = "ucb1"
)

// ArmKey identifies one bandit arm: an operator within a task class.
type ArmKey struct {
	TaskClass models.TaskClass
	Operator  string
}

// ArmStats is the mutable state tracked per arm. Updates happen under
// the arm's own entry in the engine's concurrent map, never a global lock.
type ArmStats struct {
	Pulls        int64
	SumReward    float64
	LastPulledAt time.Time
}

// MeanReward returns the running average reward, or 0 for an unpulled arm.
func (s ArmStats) MeanReward() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.SumReward / float64(s.Pulls)
}

func (s ArmStats) toOperatorStat(key ArmKey) models.OperatorStat {
	return models.OperatorStat{
		TaskClass:    key.TaskClass,
		Operator:     key.Operator,
		Pulls:        s.Pulls,
		SumReward:    s.SumReward,
		MeanReward:   s.MeanReward(),
		LastPulledAt: s.LastPulledAt,
	}
}

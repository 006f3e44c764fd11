package models

import "time"

// RunStatus is the closed set of lifecycle states a Run moves through.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the status will never transition further.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusComplete, RunStatusError, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// FrameworkMask selects which operator families a run is allowed to draw
// from; a nil/empty mask means all frameworks are eligible.
type FrameworkMask []Framework

// Allows reports whether fw is permitted under this mask.
func (m FrameworkMask) Allows(fw Framework) bool {
	if len(m) == 0 {
		return true
	}
	for _, f := range m {
		if f == fw {
			return true
		}
	}
	return false
}

// Run is one meta-evolution loop over a task class: a bounded sequence
// of iterations that each draw an operator, generate a variant, score it,
// and update the bandit.
type Run struct {
	ID                  string        `json:"id"`
	SessionID           string        `json:"session_id,omitempty"`
	TaskClass           TaskClass     `json:"task_class"`
	NormalizedTaskClass TaskClass     `json:"normalized_task_class,omitempty"`
	Task                string        `json:"task"`
	BaselineRecipeID    string        `json:"baseline_recipe_id"`
	FrameworkMask       FrameworkMask `json:"framework_mask,omitempty"`
	Strategy            string        `json:"strategy,omitempty"`
	Epsilon             float64       `json:"epsilon"`
	MemoryK             int           `json:"memory_k"`
	RAGK                int           `json:"rag_k"`
	BaselineScore       float64       `json:"baseline_score"`
	Status              RunStatus     `json:"status"`
	MaxIterations       int           `json:"max_iterations"`
	CurrentIteration    int           `json:"current_iteration"`
	SourceRunID         string        `json:"source_run_id,omitempty"`
	BestVariantID       string        `json:"best_variant_id,omitempty"`
	BestTotalReward     float64       `json:"best_total_reward"`
	Error               string        `json:"error,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
	CancelRequested     bool          `json:"cancel_requested"`
}

// Duration returns the elapsed wall-clock time, using now if the run
// hasn't completed yet.
func (r Run) Duration(now time.Time) time.Duration {
	end := now
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.StartedAt)
}

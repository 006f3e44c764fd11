// Package eventbus fans run lifecycle events out to subscribers (SSE
// clients, loggers, test harnesses) without letting a slow subscriber
// block the run loop.
package eventbus

import "time"

// EventType is the closed set of run lifecycle events.
type EventType string

const (
	EventTypeRunStarted       EventType = "run.started"
	EventTypeIterationStarted EventType = "iteration.started"
	EventTypeOperatorSelected EventType = "operator.selected"
	EventTypeVariantScored    EventType = "variant.scored"
	EventTypeIterationError   EventType = "iteration.error"
	EventTypePromotion        EventType = "promotion.applied"
	EventTypeRunCompleted     EventType = "run.completed"
	EventTypeRunFailed        EventType = "run.failed"
	EventTypeRunCancelled     EventType = "run.cancelled"
	EventTypeKeepAlive        EventType = "keepalive"
	EventTypeDropped          EventType = "dropped"
)

// Event is one fan-out message. Data carries the type-specific payload;
// callers type-assert against the EventType they expect.
type Event struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Dropped   int            `json:"dropped,omitempty"`
}

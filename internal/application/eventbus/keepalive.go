package eventbus

import (
	"context"
	"time"
)

// KeepAlive publishes a keepalive event on runID every interval until ctx
// is cancelled. Callers run this in its own goroutine alongside a run.
func (b *Bus) KeepAlive(ctx context.Context, runID string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Publish(ctx, Event{Type: EventTypeKeepAlive, RunID: runID, Timestamp: time.Now()})
		}
	}
}

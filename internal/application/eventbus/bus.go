package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/brianmeyer/promptforge/internal/infrastructure/logger"
)

// Bus owns one bounded, fan-out queue per run. Publish never blocks on a
// slow subscriber: when a subscriber's queue is full the oldest event is
// dropped and a dropped:N marker is queued in its place, mirroring the
// non-blocking, per-subscriber delivery of an observer manager but with
// bounded memory instead of unbounded goroutines.
type Bus struct {
	logger      *logger.Logger
	capacity    int
	replayGrace time.Duration

	mu   sync.Mutex
	runs map[string]*runQueues
}

type runQueues struct {
	subs      map[string]*subscription
	closed    bool
	closedAt  time.Time
	terminal  bool
}

type subscription struct {
	ch      chan Event
	dropped int
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for drop/close diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithCapacity sets the per-subscriber queue depth.
func WithCapacity(n int) Option {
	return func(b *Bus) { b.capacity = n }
}

// WithReplayGrace sets how long a terminal run's queues stay alive after
// the terminal event so existing subscribers can drain it before their
// channels are closed. Events are not stored: a subscriber that joins
// after the terminal event does not receive it.
func WithReplayGrace(d time.Duration) Option {
	return func(b *Bus) { b.replayGrace = d }
}

// New creates a Bus with sane defaults.
func New(opts ...Option) *Bus {
	b := &Bus{
		capacity:    256,
		replayGrace: 60 * time.Second,
		runs:        make(map[string]*runQueues),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) queuesFor(runID string) *runQueues {
	rq, ok := b.runs[runID]
	if !ok {
		rq = &runQueues{subs: make(map[string]*subscription)}
		b.runs[runID] = rq
	}
	return rq
}

// Subscribe registers a new subscriber for runID and returns a channel of
// events plus an unsubscribe func. The channel is closed on Unsubscribe
// or once the run's replay grace period elapses after a terminal event.
func (b *Bus) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rq := b.queuesFor(runID)
	id := newSubID()
	sub := &subscription{ch: make(chan Event, b.capacity)}
	rq.subs[id] = sub

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if rq, ok := b.runs[runID]; ok {
			if s, ok := rq.subs[id]; ok {
				close(s.ch)
				delete(rq.subs, id)
			}
		}
	}
	return sub.ch, unsub
}

// Publish delivers event to every current subscriber of event.RunID,
// never blocking: a full subscriber queue drops its oldest entry first.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rq := b.queuesFor(event.RunID)
	if isTerminal(event.Type) {
		rq.terminal = true
	}

	for _, sub := range rq.subs {
		b.enqueue(sub, event)
	}

	if rq.terminal && !rq.closed {
		rq.closed = true
		rq.closedAt = time.Now()
		go b.expireAfterGrace(event.RunID, rq.closedAt)
	}
}

// enqueue pushes event onto sub's channel. If the channel is full it
// drops the oldest queued entries to make room, then queues a dropped
// marker followed by event. Must be called with b.mu held.
func (b *Bus) enqueue(sub *subscription, event Event) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	// Drop the oldest entries until both the marker and event fit.
	for len(sub.ch) > 0 && cap(sub.ch)-len(sub.ch) < 2 {
		select {
		case old := <-sub.ch:
			if old.Type != EventTypeDropped {
				sub.dropped++
			}
		default:
		}
	}

	marker := Event{Type: EventTypeDropped, RunID: event.RunID, Timestamp: time.Now(), Dropped: sub.dropped}
	select {
	case sub.ch <- marker:
	default:
	}
	select {
	case sub.ch <- event:
	default:
		if b.logger != nil {
			b.logger.Warn("eventbus: subscriber queue saturated after drop", "run_id", event.RunID)
		}
	}
}

func (b *Bus) expireAfterGrace(runID string, closedAt time.Time) {
	time.Sleep(b.replayGrace)

	b.mu.Lock()
	defer b.mu.Unlock()
	rq, ok := b.runs[runID]
	if !ok || rq.closedAt != closedAt {
		return
	}
	for id, sub := range rq.subs {
		close(sub.ch)
		delete(rq.subs, id)
	}
	delete(b.runs, runID)
}

func isTerminal(t EventType) bool {
	switch t {
	case EventTypeRunCompleted, EventTypeRunFailed, EventTypeRunCancelled:
		return true
	default:
		return false
	}
}

var subCounter struct {
	mu sync.Mutex
	n  uint64
}

func newSubID() string {
	subCounter.mu.Lock()
	defer subCounter.mu.Unlock()
	subCounter.n++
	return time.Now().Format("150405") + "-" + itoa(subCounter.n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

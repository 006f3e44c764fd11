// Package jobmanager owns the process-wide registry of active runs, the
// global code-loop lock, the code-loop hourly rate limit, and a periodic
// sweep that times out runs that have stalled past their wall-clock
// budget — the same responsibilities a cron scheduler and an execution
// manager split between them, collapsed into one coordinator here since
// a run's lifecycle already owns its own goroutine.
package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/cache"
	"github.com/brianmeyer/promptforge/internal/infrastructure/logger"
	"github.com/brianmeyer/promptforge/pkg/models"
)

// ErrAlreadyActive is returned when a task class already has a run in
// flight and the caller tried to start another.
var ErrAlreadyActive = fmt.Errorf("jobmanager: task class already has an active run")

// ErrCodeLoopLocked is returned when a code-loop invocation is attempted
// while another one is already running; only one is allowed at a time
// process-wide.
var ErrCodeLoopLocked = fmt.Errorf("jobmanager: code-loop gate is already running")

// ErrRateLimited is returned when the code-loop's hourly invocation cap
// has been reached.
var ErrRateLimited = fmt.Errorf("jobmanager: code-loop hourly rate limit exceeded")

// RunExecutor runs a Run to completion; implemented by runner.Runner.
type RunExecutor interface {
	Execute(ctx context.Context, run *models.Run, baseline models.Recipe) error
}

// Manager coordinates run lifecycles process-wide.
type Manager struct {
	runner       RunExecutor
	runs         repository.RunRepository
	codeLoop     repository.CodeLoopRepository
	cache        *cache.RedisCache
	logger       *logger.Logger
	maxPerHour   int
	runTimeout   time.Duration

	mu          sync.Mutex
	active      map[models.TaskClass]*activeRun
	codeLoopBusy bool

	sweeper *cron.Cron
}

type activeRun struct {
	run    *models.Run
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for sweep diagnostics.
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRunTimeout sets the wall-clock budget past which the sweep cancels
// a stalled run.
func WithRunTimeout(d time.Duration) Option {
	return func(m *Manager) { m.runTimeout = d }
}

// New creates a Manager. maxPerHour bounds code-loop invocations. When
// cache is non-nil the limit is counted with Redis INCR/EXPIRE on one key
// per clock hour, so it holds across process restarts; this is a fixed
// window, not a sliding one, and the count restarts at each hour
// boundary. When cache is nil the limit counts code-loop artifacts
// created in the last hour via CodeLoopRepository.CountSince.
func New(runner RunExecutor, runs repository.RunRepository, codeLoop repository.CodeLoopRepository, cache *cache.RedisCache, maxPerHour int, opts ...Option) *Manager {
	m := &Manager{
		runner: runner, runs: runs, codeLoop: codeLoop, cache: cache, maxPerHour: maxPerHour,
		runTimeout: 2 * time.Hour, active: make(map[models.TaskClass]*activeRun),
		sweeper: cron.New(cron.WithSeconds()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSweep installs the periodic timeout sweep and starts the
// underlying cron scheduler. Call once at process startup.
func (m *Manager) StartSweep() error {
	_, err := m.sweeper.AddFunc("*/30 * * * * *", m.sweepTimeouts)
	if err != nil {
		return fmt.Errorf("jobmanager: failed to schedule sweep: %w", err)
	}
	m.sweeper.Start()
	return nil
}

// StopSweep stops the sweep, waiting for the in-flight sweep to finish.
func (m *Manager) StopSweep() {
	ctx := m.sweeper.Stop()
	<-ctx.Done()
}

// StartRun registers run as active for its task class and executes it in
// its own goroutine. Returns ErrAlreadyActive if the task class already
// has a run in flight — one active run per task class, matching the
// runner's single-goroutine-per-run ownership model.
func (m *Manager) StartRun(ctx context.Context, run *models.Run, baseline models.Recipe) error {
	m.mu.Lock()
	if _, ok := m.active[run.TaskClass]; ok {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.active[run.TaskClass] = &activeRun{run: run, cancel: cancel}
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.active, run.TaskClass)
			m.mu.Unlock()
			cancel()
		}()

		if err := m.runner.Execute(runCtx, run, baseline); err != nil && m.logger != nil {
			m.logger.Error("jobmanager: run execution failed", "run_id", run.ID, "error", err)
		}
	}()

	return nil
}

// CancelRun requests cancellation of the active run for taskClass, if any.
func (m *Manager) CancelRun(taskClass models.TaskClass) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[taskClass]
	if !ok {
		return false
	}
	ar.run.CancelRequested = true
	return true
}

// ActiveRun returns the run currently executing for taskClass, if any.
func (m *Manager) ActiveRun(taskClass models.TaskClass) (*models.Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[taskClass]
	if !ok {
		return nil, false
	}
	return ar.run, true
}

// sweepTimeouts cancels any active run whose wall-clock budget has been
// exceeded. Installed as a cron job rather than a sleep-per-run timer so
// one lightweight sweep covers every active run regardless of count.
func (m *Manager) sweepTimeouts() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for taskClass, ar := range m.active {
		if now.Sub(ar.run.StartedAt) > m.runTimeout {
			ar.run.CancelRequested = true
			if m.logger != nil {
				m.logger.Warn("jobmanager: run exceeded wall clock budget, cancelling", "task_class", string(taskClass), "run_id", ar.run.ID)
			}
		}
	}
}

// AcquireCodeLoop takes the process-wide code-loop lock and consumes one
// slot of the hourly rate limit. The returned release func must be
// called exactly once, whether or not the gate ultimately accepts its
// patch.
func (m *Manager) AcquireCodeLoop(ctx context.Context) (release func(), err error) {
	m.mu.Lock()
	if m.codeLoopBusy {
		m.mu.Unlock()
		return nil, ErrCodeLoopLocked
	}
	m.codeLoopBusy = true
	m.mu.Unlock()

	release = func() {
		m.mu.Lock()
		m.codeLoopBusy = false
		m.mu.Unlock()
	}

	ok, err := m.consumeRateLimit(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("jobmanager: rate limit check failed: %w", err)
	}
	if !ok {
		release()
		return nil, ErrRateLimited
	}

	return release, nil
}

func (m *Manager) consumeRateLimit(ctx context.Context) (bool, error) {
	if m.cache != nil {
		return m.consumeRateLimitRedis(ctx)
	}
	since := time.Now().Add(-time.Hour).Unix()
	count, err := m.codeLoop.CountSince(ctx, since)
	if err != nil {
		return false, err
	}
	return count < m.maxPerHour, nil
}

func (m *Manager) consumeRateLimitRedis(ctx context.Context) (bool, error) {
	key := "promptforge:codeloop:rate:" + time.Now().Format("2006010215")
	count, err := m.cache.Increment(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := m.cache.Expire(ctx, key, time.Hour); err != nil {
			return false, err
		}
	}
	return int(count) <= m.maxPerHour, nil
}

// FindIdempotent returns a prior code-loop artifact for sourceRunID if one
// already exists, so a retried invocation doesn't re-run an accepted
// (or rejected) cycle.
func (m *Manager) FindIdempotent(ctx context.Context, sourceRunID string) (*models.CodeLoopArtifact, error) {
	return m.codeLoop.FindBySourceRunID(ctx, sourceRunID)
}

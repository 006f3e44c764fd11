package jobmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brianmeyer/promptforge/pkg/models"
)

type blockingRunner struct {
	release chan struct{}
}

func (r *blockingRunner) Execute(ctx context.Context, run *models.Run, baseline models.Recipe) error {
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return nil
}

type memCodeLoopRepo struct {
	mu      sync.Mutex
	count   int
	bySource map[string]*models.CodeLoopArtifact
}

func newMemCodeLoopRepo() *memCodeLoopRepo {
	return &memCodeLoopRepo{bySource: make(map[string]*models.CodeLoopArtifact)}
}

func (r *memCodeLoopRepo) Create(ctx context.Context, artifact *models.CodeLoopArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySource[artifact.SourceRunID] = artifact
	r.count++
	return nil
}
func (r *memCodeLoopRepo) FindBySourceRunID(ctx context.Context, sourceRunID string) (*models.CodeLoopArtifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySource[sourceRunID], nil
}
func (r *memCodeLoopRepo) CountSince(ctx context.Context, since int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count, nil
}

func TestManager_StartRun_RejectsSecondActiveRunForSameTaskClass(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	defer close(runner.release)

	m := New(runner, newMemRunRepoJM(), newMemCodeLoopRepo(), nil, 10)

	run1 := &models.Run{ID: "r1", TaskClass: "summarization", StartedAt: time.Now()}
	require.NoError(t, m.StartRun(context.Background(), run1, models.Recipe{}))

	run2 := &models.Run{ID: "r2", TaskClass: "summarization", StartedAt: time.Now()}
	err := m.StartRun(context.Background(), run2, models.Recipe{})
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func TestManager_CodeLoop_RateLimitsAfterCap(t *testing.T) {
	repo := newMemCodeLoopRepo()
	repo.count = 5
	m := New(&blockingRunner{release: make(chan struct{})}, newMemRunRepoJM(), repo, nil, 5)

	_, err := m.AcquireCodeLoop(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestManager_CodeLoop_SerializesAcrossCallers(t *testing.T) {
	repo := newMemCodeLoopRepo()
	m := New(&blockingRunner{release: make(chan struct{})}, newMemRunRepoJM(), repo, nil, 10)

	release, err := m.AcquireCodeLoop(context.Background())
	require.NoError(t, err)

	_, err = m.AcquireCodeLoop(context.Background())
	assert.ErrorIs(t, err, ErrCodeLoopLocked)

	release()

	_, err = m.AcquireCodeLoop(context.Background())
	assert.NoError(t, err)
}

type memRunRepoJM struct{}

func newMemRunRepoJM() *memRunRepoJM { return &memRunRepoJM{} }

func (memRunRepoJM) Create(ctx context.Context, run *models.Run) error { return nil }
func (memRunRepoJM) Update(ctx context.Context, run *models.Run) error { return nil }
func (memRunRepoJM) FindByID(ctx context.Context, id string) (*models.Run, error) { return nil, nil }
func (memRunRepoJM) FindActiveByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]*models.Run, error) {
	return nil, nil
}
func (memRunRepoJM) FindBySourceRunID(ctx context.Context, sourceRunID string) (*models.Run, error) {
	return nil, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage/models"
	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

var _ repository.RunRepository = (*RunRepositoryImpl)(nil)

type RunRepositoryImpl struct {
	db bun.IDB
}

func NewRunRepository(db bun.IDB) *RunRepositoryImpl {
	return &RunRepositoryImpl{db: db}
}

func (r *RunRepositoryImpl) Create(ctx context.Context, run *pkgmodels.Run) error {
	m := models.RunToStorage(run)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("run repository: create: %w", err)
	}
	run.ID = m.ID.String()
	run.StartedAt = m.StartedAt
	return nil
}

func (r *RunRepositoryImpl) Update(ctx context.Context, run *pkgmodels.Run) error {
	m := models.RunToStorage(run)
	_, err := r.db.NewUpdate().
		Model(m).
		Column("status", "current_iteration", "best_variant_id", "best_total_reward", "error", "completed_at", "cancel_requested").
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("run repository: update: %w", err)
	}
	return nil
}

func (r *RunRepositoryImpl) FindByID(ctx context.Context, id string) (*pkgmodels.Run, error) {
	m := new(models.RunModel)
	err := r.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("run repository: find by id: %w", err)
	}
	return models.RunFromStorage(m), nil
}

func (r *RunRepositoryImpl) FindActiveByTaskClass(ctx context.Context, taskClass pkgmodels.TaskClass) ([]*pkgmodels.Run, error) {
	var rows []*models.RunModel
	err := r.db.NewSelect().Model(&rows).
		Where("task_class = ?", string(taskClass)).
		Where("status IN (?)", bun.In([]string{string(pkgmodels.RunStatusPending), string(pkgmodels.RunStatusRunning)})).
		Order("started_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("run repository: find active: %w", err)
	}
	out := make([]*pkgmodels.Run, len(rows))
	for i, row := range rows {
		out[i] = models.RunFromStorage(row)
	}
	return out, nil
}

func (r *RunRepositoryImpl) FindBySourceRunID(ctx context.Context, sourceRunID string) (*pkgmodels.Run, error) {
	m := new(models.RunModel)
	err := r.db.NewSelect().Model(m).Where("source_run_id = ?", sourceRunID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("run repository: find by source run id: %w", err)
	}
	return models.RunFromStorage(m), nil
}

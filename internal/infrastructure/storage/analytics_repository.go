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

var _ repository.AnalyticsRepository = (*AnalyticsRepositoryImpl)(nil)

type AnalyticsRepositoryImpl struct {
	db bun.IDB
}

func NewAnalyticsRepository(db bun.IDB) *AnalyticsRepositoryImpl {
	return &AnalyticsRepositoryImpl{db: db}
}

func (r *AnalyticsRepositoryImpl) Save(ctx context.Context, snapshot *pkgmodels.AnalyticsSnapshot) error {
	m := models.AnalyticsSnapshotToStorage(snapshot)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("analytics repository: save: %w", err)
	}
	snapshot.ID = m.ID.String()
	snapshot.GeneratedAt = m.GeneratedAt
	return nil
}

func (r *AnalyticsRepositoryImpl) FindLatest(ctx context.Context, taskClass pkgmodels.TaskClass) (*pkgmodels.AnalyticsSnapshot, error) {
	m := new(models.AnalyticsSnapshotModel)
	err := r.db.NewSelect().Model(m).
		Where("task_class = ?", string(taskClass)).
		Order("generated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("analytics repository: find latest: %w", err)
	}
	return models.AnalyticsSnapshotFromStorage(m), nil
}

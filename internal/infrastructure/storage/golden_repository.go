package storage

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage/models"
	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

var _ repository.GoldenRepository = (*GoldenRepositoryImpl)(nil)

type GoldenRepositoryImpl struct {
	db bun.IDB
}

func NewGoldenRepository(db bun.IDB) *GoldenRepositoryImpl {
	return &GoldenRepositoryImpl{db: db}
}

func (r *GoldenRepositoryImpl) ListItems(ctx context.Context, taskClass pkgmodels.TaskClass) ([]pkgmodels.GoldenItem, error) {
	var rows []*models.GoldenItemModel
	err := r.db.NewSelect().Model(&rows).
		Where("task_class = ?", string(taskClass)).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("golden repository: list items: %w", err)
	}
	out := make([]pkgmodels.GoldenItem, len(rows))
	for i, row := range rows {
		out[i] = models.GoldenItemFromStorage(row)
	}
	return out, nil
}

func (r *GoldenRepositoryImpl) SaveResult(ctx context.Context, result *pkgmodels.GoldenResult) error {
	m := models.GoldenResultToStorage(result)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("golden repository: save result: %w", err)
	}
	result.ID = m.ID.String()
	result.CreatedAt = m.CreatedAt
	return nil
}

func (r *GoldenRepositoryImpl) FindResultsByRunID(ctx context.Context, runID string) ([]pkgmodels.GoldenResult, error) {
	var rows []*models.GoldenResultModel
	err := r.db.NewSelect().Model(&rows).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("golden repository: find results by run id: %w", err)
	}
	out := make([]pkgmodels.GoldenResult, len(rows))
	for i, row := range rows {
		out[i] = models.GoldenResultFromStorage(row)
	}
	return out, nil
}

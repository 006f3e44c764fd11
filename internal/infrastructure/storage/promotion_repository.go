package storage

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage/models"
	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

var _ repository.PromotionRepository = (*PromotionRepositoryImpl)(nil)

type PromotionRepositoryImpl struct {
	db bun.IDB
}

func NewPromotionRepository(db bun.IDB) *PromotionRepositoryImpl {
	return &PromotionRepositoryImpl{db: db}
}

func (r *PromotionRepositoryImpl) Create(ctx context.Context, promotion *pkgmodels.Promotion) error {
	m := models.PromotionToStorage(promotion)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("promotion repository: create: %w", err)
	}
	promotion.ID = m.ID.String()
	promotion.PromotedAt = m.PromotedAt
	return nil
}

func (r *PromotionRepositoryImpl) FindByTaskClass(ctx context.Context, taskClass pkgmodels.TaskClass) ([]*pkgmodels.Promotion, error) {
	var rows []*models.PromotionModel
	err := r.db.NewSelect().Model(&rows).
		Where("task_class = ?", string(taskClass)).
		Order("promoted_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("promotion repository: find by task class: %w", err)
	}
	out := make([]*pkgmodels.Promotion, len(rows))
	for i, row := range rows {
		out[i] = models.PromotionFromStorage(row)
	}
	return out, nil
}

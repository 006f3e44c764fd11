package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage/models"
	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

var _ repository.VariantRepository = (*VariantRepositoryImpl)(nil)

type VariantRepositoryImpl struct {
	db bun.IDB
}

func NewVariantRepository(db bun.IDB) *VariantRepositoryImpl {
	return &VariantRepositoryImpl{db: db}
}

func (r *VariantRepositoryImpl) Create(ctx context.Context, variant *pkgmodels.Variant) error {
	m := models.VariantToStorage(variant)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("variant repository: create: %w", err)
	}
	variant.ID = m.ID.String()
	variant.CreatedAt = m.CreatedAt
	return nil
}

func (r *VariantRepositoryImpl) FindByID(ctx context.Context, id string) (*pkgmodels.Variant, error) {
	m := new(models.VariantModel)
	err := r.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("variant repository: find by id: %w", err)
	}
	return models.VariantFromStorage(m), nil
}

func (r *VariantRepositoryImpl) FindByRunID(ctx context.Context, runID string) ([]*pkgmodels.Variant, error) {
	var rows []*models.VariantModel
	err := r.db.NewSelect().Model(&rows).
		Where("run_id = ?", runID).
		Order("iteration_num ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("variant repository: find by run id: %w", err)
	}
	out := make([]*pkgmodels.Variant, len(rows))
	for i, row := range rows {
		out[i] = models.VariantFromStorage(row)
	}
	return out, nil
}

// Rate persists a human rating. Ratings are analytics-only: they are
// never read back into the reward blend, only surfaced to dashboards.
func (r *VariantRepositoryImpl) Rate(ctx context.Context, rating *pkgmodels.HumanRating) error {
	type humanRatingRow struct {
		bun.BaseModel `bun:"table:promptforge_human_ratings,alias:hr"`

		ID        uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()"`
		VariantID uuid.UUID `bun:"variant_id,notnull,type:uuid"`
		RaterID   string    `bun:"rater_id,notnull"`
		Score     float64   `bun:"score,notnull"`
		Comment   string    `bun:"comment"`
		CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	}

	variantID, err := uuid.Parse(rating.VariantID)
	if err != nil {
		return fmt.Errorf("variant repository: rate: invalid variant id: %w", err)
	}

	row := &humanRatingRow{VariantID: variantID, RaterID: rating.RaterID, Score: rating.Score, Comment: rating.Comment}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("variant repository: rate: %w", err)
	}
	rating.ID = row.ID.String()
	rating.CreatedAt = row.CreatedAt
	return nil
}

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

var _ repository.RecipeRepository = (*RecipeRepositoryImpl)(nil)

type RecipeRepositoryImpl struct {
	db bun.IDB
}

func NewRecipeRepository(db bun.IDB) *RecipeRepositoryImpl {
	return &RecipeRepositoryImpl{db: db}
}

func (r *RecipeRepositoryImpl) Create(ctx context.Context, recipe *pkgmodels.Recipe) error {
	m := models.RecipeToStorage(*recipe)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("recipe repository: create: %w", err)
	}
	recipe.ID = m.ID.String()
	recipe.CreatedAt = m.CreatedAt
	return nil
}

func (r *RecipeRepositoryImpl) FindByID(ctx context.Context, id string) (*pkgmodels.Recipe, error) {
	m := new(models.RecipeModel)
	err := r.db.NewSelect().Model(m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("recipe repository: find by id: %w", err)
	}
	return models.RecipeFromStorage(m), nil
}

func (r *RecipeRepositoryImpl) FindProduction(ctx context.Context, taskClass pkgmodels.TaskClass) (*pkgmodels.Recipe, error) {
	m := new(models.RecipeModel)
	err := r.db.NewSelect().Model(m).
		Where("task_class = ?", string(taskClass)).
		Where("is_production = TRUE").
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("recipe repository: find production: %w", err)
	}
	return models.RecipeFromStorage(m), nil
}

// SetProduction demotes any current production recipe for taskClass and
// promotes recipeID, inside a single transaction.
func (r *RecipeRepositoryImpl) SetProduction(ctx context.Context, taskClass pkgmodels.TaskClass, recipeID string) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewUpdate().
			Model((*models.RecipeModel)(nil)).
			Set("is_production = FALSE").
			Where("task_class = ? AND is_production = TRUE", string(taskClass)).
			Exec(ctx); err != nil {
			return fmt.Errorf("demote current production recipe: %w", err)
		}

		if _, err := tx.NewUpdate().
			Model((*models.RecipeModel)(nil)).
			Set("is_production = TRUE").
			Where("id = ?", recipeID).
			Exec(ctx); err != nil {
			return fmt.Errorf("promote recipe %s: %w", recipeID, err)
		}
		return nil
	})
}

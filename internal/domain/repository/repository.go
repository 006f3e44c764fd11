// Package repository defines persistence contracts for the engine's
// entities. Concrete implementations live under
// internal/infrastructure/storage and are backed by bun/PostgreSQL.
package repository

import (
	"context"

	"github.com/brianmeyer/promptforge/pkg/models"
)

// RecipeRepository persists prompt-construction recipes, including the
// production recipe currently assigned to each task class.
type RecipeRepository interface {
	Create(ctx context.Context, recipe *models.Recipe) error
	FindByID(ctx context.Context, id string) (*models.Recipe, error)
	FindProduction(ctx context.Context, taskClass models.TaskClass) (*models.Recipe, error)
	SetProduction(ctx context.Context, taskClass models.TaskClass, recipeID string) error
}

// RunRepository persists run lifecycle records.
type RunRepository interface {
	Create(ctx context.Context, run *models.Run) error
	Update(ctx context.Context, run *models.Run) error
	FindByID(ctx context.Context, id string) (*models.Run, error)
	FindActiveByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]*models.Run, error)
	FindBySourceRunID(ctx context.Context, sourceRunID string) (*models.Run, error)
}

// VariantRepository persists generated variants.
type VariantRepository interface {
	Create(ctx context.Context, variant *models.Variant) error
	FindByID(ctx context.Context, id string) (*models.Variant, error)
	FindByRunID(ctx context.Context, runID string) ([]*models.Variant, error)
	Rate(ctx context.Context, rating *models.HumanRating) error
}

// OperatorStatRepository persists bandit arm statistics, keyed by
// (task_class, operator). Upsert must take an exclusive lock scoped to
// the arm's own key, never a table-wide lock.
type OperatorStatRepository interface {
	Upsert(ctx context.Context, stat models.OperatorStat) error
	ListByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]models.OperatorStat, error)
}

// PromotionRepository persists promotion events.
type PromotionRepository interface {
	Create(ctx context.Context, promotion *models.Promotion) error
	FindByTaskClass(ctx context.Context, taskClass models.TaskClass) ([]*models.Promotion, error)
}

// GoldenRepository persists the golden set suite and its run results.
type GoldenRepository interface {
	ListItems(ctx context.Context, taskClass models.TaskClass) ([]models.GoldenItem, error)
	SaveResult(ctx context.Context, result *models.GoldenResult) error
	FindResultsByRunID(ctx context.Context, runID string) ([]models.GoldenResult, error)
}

// CodeLoopRepository persists code-loop gate artifacts and backs the
// sliding-window rate limit and idempotency checks.
type CodeLoopRepository interface {
	Create(ctx context.Context, artifact *models.CodeLoopArtifact) error
	FindBySourceRunID(ctx context.Context, sourceRunID string) (*models.CodeLoopArtifact, error)
	CountSince(ctx context.Context, since int64) (int, error)
}

// AnalyticsRepository persists rollup snapshots.
type AnalyticsRepository interface {
	Save(ctx context.Context, snapshot *models.AnalyticsSnapshot) error
	FindLatest(ctx context.Context, taskClass models.TaskClass) (*models.AnalyticsSnapshot, error)
}

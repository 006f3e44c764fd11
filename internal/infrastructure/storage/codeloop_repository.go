package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage/models"
	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

var _ repository.CodeLoopRepository = (*CodeLoopRepositoryImpl)(nil)

type CodeLoopRepositoryImpl struct {
	db bun.IDB
}

func NewCodeLoopRepository(db bun.IDB) *CodeLoopRepositoryImpl {
	return &CodeLoopRepositoryImpl{db: db}
}

func (r *CodeLoopRepositoryImpl) Create(ctx context.Context, artifact *pkgmodels.CodeLoopArtifact) error {
	m := models.CodeLoopArtifactToStorage(artifact)
	if _, err := r.db.NewInsert().Model(m).Exec(ctx); err != nil {
		return fmt.Errorf("code loop repository: create: %w", err)
	}
	artifact.ID = m.ID.String()
	artifact.CreatedAt = m.CreatedAt
	return nil
}

func (r *CodeLoopRepositoryImpl) FindBySourceRunID(ctx context.Context, sourceRunID string) (*pkgmodels.CodeLoopArtifact, error) {
	m := new(models.CodeLoopArtifactModel)
	err := r.db.NewSelect().Model(m).Where("source_run_id = ?", sourceRunID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("code loop repository: find by source run id: %w", err)
	}
	return models.CodeLoopArtifactFromStorage(m), nil
}

// CountSince counts code-loop artifacts, accepted or not, created at or
// after the given unix-second timestamp, backing the hourly rate limit.
func (r *CodeLoopRepositoryImpl) CountSince(ctx context.Context, since int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.CodeLoopArtifactModel)(nil)).
		Where("created_at >= ?", time.Unix(since, 0)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("code loop repository: count since: %w", err)
	}
	return count, nil
}

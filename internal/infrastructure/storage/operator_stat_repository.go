package storage

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/uptrace/bun"

	"github.com/brianmeyer/promptforge/internal/domain/repository"
	"github.com/brianmeyer/promptforge/internal/infrastructure/storage/models"
	pkgmodels "github.com/brianmeyer/promptforge/pkg/models"
)

var _ repository.OperatorStatRepository = (*OperatorStatRepositoryImpl)(nil)

type OperatorStatRepositoryImpl struct {
	db bun.IDB
}

func NewOperatorStatRepository(db bun.IDB) *OperatorStatRepositoryImpl {
	return &OperatorStatRepositoryImpl{db: db}
}

// Upsert takes a Postgres advisory lock scoped to the (task_class, operator)
// key for the duration of the transaction, so two runs updating the same
// arm concurrently serialize on that arm alone rather than the whole table.
func (r *OperatorStatRepositoryImpl) Upsert(ctx context.Context, stat pkgmodels.OperatorStat) error {
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		key := armLockKey(stat.TaskClass, stat.Operator)
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(?)", key); err != nil {
			return fmt.Errorf("operator stat repository: acquire advisory lock: %w", err)
		}

		m := models.OperatorStatToStorage(stat)
		_, err := tx.NewInsert().
			Model(m).
			On("CONFLICT (task_class, operator) DO UPDATE").
			Set("pulls = EXCLUDED.pulls").
			Set("sum_reward = EXCLUDED.sum_reward").
			Set("mean_reward = EXCLUDED.mean_reward").
			Set("last_pulled_at = EXCLUDED.last_pulled_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("operator stat repository: upsert: %w", err)
		}
		return nil
	})
}

func (r *OperatorStatRepositoryImpl) ListByTaskClass(ctx context.Context, taskClass pkgmodels.TaskClass) ([]pkgmodels.OperatorStat, error) {
	var rows []*models.OperatorStatModel
	err := r.db.NewSelect().Model(&rows).
		Where("task_class = ?", string(taskClass)).
		Order("mean_reward DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("operator stat repository: list by task class: %w", err)
	}
	out := make([]pkgmodels.OperatorStat, len(rows))
	for i, row := range rows {
		out[i] = models.OperatorStatFromStorage(row)
	}
	return out, nil
}

// armLockKey hashes (task_class, operator) into the int64 key
// pg_advisory_xact_lock expects.
func armLockKey(taskClass pkgmodels.TaskClass, operator string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(taskClass) + "|" + operator))
	return int64(h.Sum64())
}

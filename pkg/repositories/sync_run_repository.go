package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// SyncRunRepository records synchronization runs.
type SyncRunRepository interface {
	Start(ctx context.Context, run *models.SyncRun) error
	End(ctx context.Context, id uuid.UUID, endedAt time.Time, appCount int) error
	ListRecent(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

type syncRunRepository struct{}

// NewSyncRunRepository creates a new sync run repository.
func NewSyncRunRepository() SyncRunRepository {
	return &syncRunRepository{}
}

var _ SyncRunRepository = (*syncRunRepository)(nil)

func (r *syncRunRepository) Start(ctx context.Context, run *models.SyncRun) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `
		INSERT INTO translation_sync_runs (started_at, source, cached, single_app_url)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id`

	if err := q.QueryRow(ctx, query, run.StartedAt, run.Source, run.Cached, run.SingleAppURL).Scan(&run.ID); err != nil {
		return fmt.Errorf("failed to start sync run: %w", err)
	}
	return nil
}

func (r *syncRunRepository) End(ctx context.Context, id uuid.UUID, endedAt time.Time, appCount int) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx,
		`UPDATE translation_sync_runs SET ended_at = $2, app_count = $3 WHERE id = $1`,
		id, endedAt, appCount)
	if err != nil {
		return fmt.Errorf("failed to end sync run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *syncRunRepository) ListRecent(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, started_at, ended_at, source, cached, COALESCE(single_app_url, ''), app_count
		FROM translation_sync_runs
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		err := rows.Scan(&run.ID, &run.StartedAt, &run.EndedAt, &run.Source, &run.Cached, &run.SingleAppURL, &run.AppCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, nil
}

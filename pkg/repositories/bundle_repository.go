package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// BundleRepository defines data access for bundles.
type BundleRepository interface {
	// Get returns the bundle of a source for (language, target).
	// Returns apperrors.ErrNotFound if absent.
	Get(ctx context.Context, sourceID uuid.UUID, language, target string) (*models.Bundle, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error)

	// Create inserts a bundle. Returns apperrors.ErrConflict if the
	// (source, language, target) triple already exists.
	Create(ctx context.Context, bundle *models.Bundle) error

	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.Bundle, error)

	// MarkFromDeveloper sets is_from_developer. The flag is never cleared.
	MarkFromDeveloper(ctx context.Context, id uuid.UUID) error
}

type bundleRepository struct{}

// NewBundleRepository creates a new bundle repository.
func NewBundleRepository() BundleRepository {
	return &bundleRepository{}
}

var _ BundleRepository = (*bundleRepository)(nil)

const bundleColumns = `id, source_id, language, target_audience, is_from_developer, created_at`

func (r *bundleRepository) Get(ctx context.Context, sourceID uuid.UUID, language, target string) (*models.Bundle, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + bundleColumns + ` FROM translation_bundles
		WHERE source_id = $1 AND language = $2 AND target_audience = $3`

	b, err := scanBundle(q.QueryRow(ctx, query, sourceID, language, target))
	if err != nil {
		return nil, mapReadError(err, "get bundle")
	}
	return b, nil
}

func (r *bundleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	b, err := scanBundle(q.QueryRow(ctx, `SELECT `+bundleColumns+` FROM translation_bundles WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadError(err, "get bundle")
	}
	return b, nil
}

func (r *bundleRepository) Create(ctx context.Context, bundle *models.Bundle) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if bundle.CreatedAt.IsZero() {
		bundle.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO translation_bundles (source_id, language, target_audience, is_from_developer, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err = q.QueryRow(ctx, query,
		bundle.SourceID,
		bundle.Language,
		bundle.TargetAudience,
		bundle.IsFromDeveloper,
		bundle.CreatedAt,
	).Scan(&bundle.ID)
	if err != nil {
		return mapWriteError(err, "create bundle")
	}
	return nil
}

func (r *bundleRepository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]*models.Bundle, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT `+bundleColumns+` FROM translation_bundles
		WHERE source_id = $1
		ORDER BY language, target_audience`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*models.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bundles: %w", err)
	}
	return bundles, nil
}

func (r *bundleRepository) MarkFromDeveloper(ctx context.Context, id uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `UPDATE translation_bundles SET is_from_developer = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark bundle from developer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanBundle(row rowScanner) (*models.Bundle, error) {
	var b models.Bundle
	if err := row.Scan(&b.ID, &b.SourceID, &b.Language, &b.TargetAudience, &b.IsFromDeveloper, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

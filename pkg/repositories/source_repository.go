package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// SourceRepository defines data access for translation sources and the
// applications pointing at them.
type SourceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error)
	GetByURL(ctx context.Context, url string) (*models.Source, error)

	// GetOrCreate returns the source for url, creating it with the given flags
	// when absent. created reports whether this call inserted the row.
	GetOrCreate(ctx context.Context, url string, automatic bool, attributes string) (source *models.Source, created bool, err error)

	// UpdateFlags sets the automatic-update flag and attributes of a source.
	UpdateFlags(ctx context.Context, id uuid.UUID, automatic bool, attributes string) error

	GetApplication(ctx context.Context, appURL string) (*models.Application, error)
	CreateApplication(ctx context.Context, app *models.Application) error
	SetApplicationSource(ctx context.Context, appID, sourceID uuid.UUID) error
	ListApplications(ctx context.Context, sourceID uuid.UUID) ([]*models.Application, error)
}

type sourceRepository struct{}

// NewSourceRepository creates a new source repository.
func NewSourceRepository() SourceRepository {
	return &sourceRepository{}
}

var _ SourceRepository = (*sourceRepository)(nil)

const (
	sourceColumns = `id, url, is_automatic_update, attributes, created_at, updated_at`
	appColumns    = `id, app_url, source_id, created_at, updated_at`
)

func (r *sourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Source, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	src, err := scanSource(q.QueryRow(ctx, `SELECT `+sourceColumns+` FROM translation_sources WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadError(err, "get source")
	}
	return src, nil
}

func (r *sourceRepository) GetByURL(ctx context.Context, url string) (*models.Source, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	src, err := scanSource(q.QueryRow(ctx, `SELECT `+sourceColumns+` FROM translation_sources WHERE url = $1`, url))
	if err != nil {
		return nil, mapReadError(err, "get source by url")
	}
	return src, nil
}

func (r *sourceRepository) GetOrCreate(ctx context.Context, url string, automatic bool, attributes string) (*models.Source, bool, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO translation_sources (url, is_automatic_update, attributes)
		VALUES ($1, $2, $3)
		ON CONFLICT (url) DO NOTHING
		RETURNING ` + sourceColumns

	src, err := scanSource(q.QueryRow(ctx, query, url, automatic, attributes))
	switch {
	case err == nil:
		return src, true, nil
	case database.IsNoRows(err):
		existing, err := r.GetByURL(ctx, url)
		return existing, false, err
	default:
		return nil, false, fmt.Errorf("failed to create source: %w", err)
	}
}

func (r *sourceRepository) UpdateFlags(ctx context.Context, id uuid.UUID, automatic bool, attributes string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE translation_sources
		SET is_automatic_update = $2, attributes = $3, updated_at = $4
		WHERE id = $1`

	result, err := q.Exec(ctx, query, id, automatic, attributes, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sourceRepository) GetApplication(ctx context.Context, appURL string) (*models.Application, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	app, err := scanApplication(q.QueryRow(ctx, `SELECT `+appColumns+` FROM translation_apps WHERE app_url = $1`, appURL))
	if err != nil {
		return nil, mapReadError(err, "get application")
	}
	return app, nil
}

func (r *sourceRepository) CreateApplication(ctx context.Context, app *models.Application) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	app.CreatedAt = now
	app.UpdatedAt = now

	query := `
		INSERT INTO translation_apps (app_url, source_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := q.QueryRow(ctx, query, app.AppURL, app.SourceID, app.CreatedAt, app.UpdatedAt).Scan(&app.ID); err != nil {
		return mapWriteError(err, "create application")
	}
	return nil
}

func (r *sourceRepository) SetApplicationSource(ctx context.Context, appID, sourceID uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx,
		`UPDATE translation_apps SET source_id = $2, updated_at = $3 WHERE id = $1`,
		appID, sourceID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to re-point application: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sourceRepository) ListApplications(ctx context.Context, sourceID uuid.UUID) ([]*models.Application, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+appColumns+` FROM translation_apps WHERE source_id = $1 ORDER BY app_url`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating applications: %w", err)
	}
	return apps, nil
}

func scanSource(row rowScanner) (*models.Source, error) {
	var s models.Source
	if err := row.Scan(&s.ID, &s.URL, &s.IsAutomaticUpdate, &s.Attributes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var a models.Application
	if err := row.Scan(&a.ID, &a.AppURL, &a.SourceID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

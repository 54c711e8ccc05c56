package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// PresenceRepository tracks which users have a bundle open. Writes are
// last-write-wins.
type PresenceRepository interface {
	Touch(ctx context.Context, userID, bundleID uuid.UUID, at time.Time) error

	// ListSince returns the editors of a bundle seen after since, newest first.
	ListSince(ctx context.Context, bundleID uuid.UUID, since time.Time) ([]*models.ActiveEditor, error)
}

type presenceRepository struct{}

// NewPresenceRepository creates a new presence repository.
func NewPresenceRepository() PresenceRepository {
	return &presenceRepository{}
}

var _ PresenceRepository = (*presenceRepository)(nil)

func (r *presenceRepository) Touch(ctx context.Context, userID, bundleID uuid.UUID, at time.Time) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO translation_active_editors (user_id, bundle_id, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, bundle_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`

	if _, err := q.Exec(ctx, query, userID, bundleID, at); err != nil {
		return mapWriteError(err, "touch presence")
	}
	return nil
}

func (r *presenceRepository) ListSince(ctx context.Context, bundleID uuid.UUID, since time.Time) ([]*models.ActiveEditor, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT user_id, bundle_id, last_seen
		FROM translation_active_editors
		WHERE bundle_id = $1 AND last_seen >= $2
		ORDER BY last_seen DESC`

	rows, err := q.Query(ctx, query, bundleID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list active editors: %w", err)
	}
	defer rows.Close()

	var editors []*models.ActiveEditor
	for rows.Next() {
		var e models.ActiveEditor
		if err := rows.Scan(&e.UserID, &e.BundleID, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan active editor: %w", err)
		}
		editors = append(editors, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active editors: %w", err)
	}
	return editors, nil
}

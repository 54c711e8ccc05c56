package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// HistoryRepository defines data access for the append-only history log.
// Entries are never updated or deleted.
type HistoryRepository interface {
	// Append inserts an entry. A zero ID is replaced with a time-ordered UUID.
	Append(ctx context.Context, entry *models.HistoryEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.HistoryEntry, error)

	// LatestDeveloperValues returns, per key, the value of the most recent
	// developer-sourced entry of the bundle.
	LatestDeveloperValues(ctx context.Context, bundleID uuid.UUID) (map[string]string, error)

	// ListByBundle returns every entry of a bundle in creation order.
	ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*models.HistoryEntry, error)

	// ListByKey returns the entries of one key in creation order.
	ListByKey(ctx context.Context, bundleID uuid.UUID, key string) ([]*models.HistoryEntry, error)

	// CountChanges counts human edits of a source per (language, author) in
	// (since, until]. Default-derived and developer entries and the excluded
	// author are not counted.
	CountChanges(ctx context.Context, sourceID uuid.UUID, since, until time.Time, excludeAuthor uuid.UUID) ([]models.ChangeCount, error)
}

type historyRepository struct{}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository() HistoryRepository {
	return &historyRepository{}
}

var _ HistoryRepository = (*historyRepository)(nil)

const historyColumns = `id, bundle_id, key, value, author_id, created_at, parent_id,
	taken_from_default, from_developer, same_tool, COALESCE(tool_id, ''), COALESCE(format, ''),
	position, COALESCE(category, ''), COALESCE(namespace, '')`

func (r *historyRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if entry.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate history id: %w", err)
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO translation_history (
			id, bundle_id, key, value, author_id, created_at, parent_id,
			taken_from_default, from_developer, same_tool, tool_id, format,
			position, category, namespace
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), $13, NULLIF($14, ''), NULLIF($15, ''))`

	_, err = q.Exec(ctx, query,
		entry.ID,
		entry.BundleID,
		entry.Key,
		entry.Value,
		entry.AuthorID,
		entry.CreatedAt,
		entry.ParentID,
		entry.TakenFromDefault,
		entry.FromDeveloper,
		entry.SameTool,
		entry.ToolID,
		entry.Format,
		entry.Position,
		entry.Category,
		entry.Namespace,
	)
	if err != nil {
		return mapWriteError(err, "append history entry")
	}
	return nil
}

func (r *historyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.HistoryEntry, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := scanHistory(q.QueryRow(ctx, `SELECT `+historyColumns+` FROM translation_history WHERE id = $1`, id))
	if err != nil {
		return nil, mapReadError(err, "get history entry")
	}
	return entry, nil
}

func (r *historyRepository) LatestDeveloperValues(ctx context.Context, bundleID uuid.UUID) (map[string]string, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT ON (key) key, value
		FROM translation_history
		WHERE bundle_id = $1 AND from_developer
		ORDER BY key, created_at DESC, id DESC`

	rows, err := q.Query(ctx, query, bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query developer history: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan developer history: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating developer history: %w", err)
	}
	return values, nil
}

func (r *historyRepository) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*models.HistoryEntry, error) {
	return r.list(ctx, `SELECT `+historyColumns+` FROM translation_history
		WHERE bundle_id = $1
		ORDER BY created_at, id`, bundleID)
}

func (r *historyRepository) ListByKey(ctx context.Context, bundleID uuid.UUID, key string) ([]*models.HistoryEntry, error) {
	return r.list(ctx, `SELECT `+historyColumns+` FROM translation_history
		WHERE bundle_id = $1 AND key = $2
		ORDER BY created_at, id`, bundleID, key)
}

func (r *historyRepository) list(ctx context.Context, query string, args ...any) ([]*models.HistoryEntry, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		entry, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return entries, nil
}

func (r *historyRepository) CountChanges(ctx context.Context, sourceID uuid.UUID, since, until time.Time, excludeAuthor uuid.UUID) ([]models.ChangeCount, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT b.language, h.author_id, COUNT(*)
		FROM translation_history h
		JOIN translation_bundles b ON b.id = h.bundle_id
		WHERE b.source_id = $1
		  AND h.created_at > $2 AND h.created_at <= $3
		  AND NOT h.taken_from_default
		  AND NOT h.from_developer
		  AND h.author_id <> $4
		GROUP BY b.language, h.author_id
		ORDER BY b.language, COUNT(*) DESC`

	rows, err := q.Query(ctx, query, sourceID, since, until, excludeAuthor)
	if err != nil {
		return nil, fmt.Errorf("failed to count changes: %w", err)
	}
	defer rows.Close()

	var counts []models.ChangeCount
	for rows.Next() {
		var c models.ChangeCount
		if err := rows.Scan(&c.Language, &c.AuthorID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan change count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change counts: %w", err)
	}
	return counts, nil
}

func scanHistory(row rowScanner) (*models.HistoryEntry, error) {
	var h models.HistoryEntry
	err := row.Scan(
		&h.ID,
		&h.BundleID,
		&h.Key,
		&h.Value,
		&h.AuthorID,
		&h.CreatedAt,
		&h.ParentID,
		&h.TakenFromDefault,
		&h.FromDeveloper,
		&h.SameTool,
		&h.ToolID,
		&h.Format,
		&h.Position,
		&h.Category,
		&h.Namespace,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// ActiveRepository defines data access for the active projection: the current
// value per (bundle, key). Rows are created and deleted, never overwritten;
// a second row for the same (bundle, key) fails with apperrors.ErrConflict.
type ActiveRepository interface {
	// ListByBundle returns the active entries of a bundle ordered by key and age.
	ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*models.ActiveEntry, error)
	GetByKey(ctx context.Context, bundleID uuid.UUID, key string) (*models.ActiveEntry, error)
	Create(ctx context.Context, entry *models.ActiveEntry) error

	// Delete removes an entry read earlier in the transaction. A row already
	// gone was removed by a concurrent writer and yields ErrConflict.
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateFields refreshes the structural fields of an entry. Like Delete,
	// a missing row yields ErrConflict.
	UpdateFields(ctx context.Context, id uuid.UUID, fields models.MessageFields) error

	// FindNamespaceDonors returns, per (key, namespace), the most recently
	// updated real (not default-derived) value held by another bundle of the
	// same language and target.
	FindNamespaceDonors(ctx context.Context, excludeBundleID uuid.UUID, language, target string, keys []models.NamespaceKey) (map[models.NamespaceKey]*models.NamespaceDonor, error)

	// FindNamespaceConflicts returns the entries of other bundles with the same
	// language, target, key and namespace whose value differs from value.
	FindNamespaceConflicts(ctx context.Context, excludeBundleID uuid.UUID, language, target, key, namespace, value string) ([]*models.ActiveEntry, error)

	// BundlesWithNamespaceValues returns the (language, target) pairs that hold
	// a real value for any of the given (key, namespace) pairs.
	BundlesWithNamespaceValues(ctx context.Context, keys []models.NamespaceKey) ([]models.BundleRef, error)

	// LastModifiedByAuthor returns the newest active entry timestamp per author.
	LastModifiedByAuthor(ctx context.Context, bundleID uuid.UUID) ([]models.AuthorActivity, error)

	// ProgressBySource counts real, same-tool translations of the given keys
	// per bundle of a source.
	ProgressBySource(ctx context.Context, sourceID uuid.UUID, keys []string) ([]models.BundleProgress, error)
}

type activeRepository struct{}

// NewActiveRepository creates a new active projection repository.
func NewActiveRepository() ActiveRepository {
	return &activeRepository{}
}

var _ ActiveRepository = (*activeRepository)(nil)

const activeSelect = `
	SELECT a.id, a.bundle_id, a.key, a.value, a.history_id, a.updated_at,
		a.taken_from_default, a.from_developer, a.same_tool, COALESCE(a.tool_id, ''), COALESCE(a.format, ''),
		a.position, COALESCE(a.category, ''), COALESCE(a.namespace, ''), h.author_id
	FROM translation_active a
	JOIN translation_history h ON h.id = a.history_id`

func (r *activeRepository) ListByBundle(ctx context.Context, bundleID uuid.UUID) ([]*models.ActiveEntry, error) {
	return r.list(ctx, activeSelect+`
		WHERE a.bundle_id = $1
		ORDER BY a.key, a.updated_at, a.id`, bundleID)
}

func (r *activeRepository) GetByKey(ctx context.Context, bundleID uuid.UUID, key string) (*models.ActiveEntry, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := scanActive(q.QueryRow(ctx, activeSelect+`
		WHERE a.bundle_id = $1 AND a.key = $2
		ORDER BY a.updated_at, a.id
		LIMIT 1`, bundleID, key))
	if err != nil {
		return nil, mapReadError(err, "get active entry")
	}
	return entry, nil
}

func (r *activeRepository) Create(ctx context.Context, entry *models.ActiveEntry) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if entry.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate active id: %w", err)
		}
		entry.ID = id
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO translation_active (
			id, bundle_id, key, value, history_id, updated_at,
			taken_from_default, from_developer, same_tool, tool_id, format,
			position, category, namespace
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12, NULLIF($13, ''), NULLIF($14, ''))`

	_, err = q.Exec(ctx, query,
		entry.ID,
		entry.BundleID,
		entry.Key,
		entry.Value,
		entry.HistoryID,
		entry.UpdatedAt,
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
		return mapWriteError(err, "create active entry")
	}
	return nil
}

func (r *activeRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM translation_active WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete active entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("active entry %s already removed: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (r *activeRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields models.MessageFields) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE translation_active
		SET position = $2, category = NULLIF($3, ''), namespace = NULLIF($4, ''),
			tool_id = NULLIF($5, ''), same_tool = $6, format = NULLIF($7, '')
		WHERE id = $1`

	result, err := q.Exec(ctx, query, id,
		fields.Position, fields.Category, fields.Namespace, fields.ToolID, fields.SameTool, fields.Format)
	if err != nil {
		return fmt.Errorf("failed to update active entry fields: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("active entry %s already removed: %w", id, apperrors.ErrConflict)
	}
	return nil
}

func (r *activeRepository) FindNamespaceDonors(ctx context.Context, excludeBundleID uuid.UUID, language, target string, keys []models.NamespaceKey) (map[models.NamespaceKey]*models.NamespaceDonor, error) {
	donors := make(map[models.NamespaceKey]*models.NamespaceDonor)
	if len(keys) == 0 {
		return donors, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	names, namespaces := splitNamespaceKeys(keys)
	query := `
		SELECT DISTINCT ON (a.key, a.namespace)
			a.key, a.namespace, a.value, a.from_developer, h.author_id, a.bundle_id
		FROM translation_active a
		JOIN translation_bundles b ON b.id = a.bundle_id
		JOIN translation_history h ON h.id = a.history_id
		JOIN unnest($4::text[], $5::text[]) AS k(key, namespace)
			ON k.key = a.key AND k.namespace = a.namespace
		WHERE b.language = $1 AND b.target_audience = $2 AND a.bundle_id <> $3
		  AND NOT a.taken_from_default
		ORDER BY a.key, a.namespace, a.updated_at DESC, a.id DESC`

	rows, err := q.Query(ctx, query, language, target, excludeBundleID, names, namespaces)
	if err != nil {
		return nil, fmt.Errorf("failed to find namespace donors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d models.NamespaceDonor
		if err := rows.Scan(&d.Key, &d.Namespace, &d.Value, &d.FromDeveloper, &d.AuthorID, &d.BundleID); err != nil {
			return nil, fmt.Errorf("failed to scan namespace donor: %w", err)
		}
		donors[models.NamespaceKey{Key: d.Key, Namespace: d.Namespace}] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating namespace donors: %w", err)
	}
	return donors, nil
}

func (r *activeRepository) FindNamespaceConflicts(ctx context.Context, excludeBundleID uuid.UUID, language, target, key, namespace, value string) ([]*models.ActiveEntry, error) {
	return r.list(ctx, activeSelect+`
		JOIN translation_bundles b ON b.id = a.bundle_id
		WHERE b.language = $1 AND b.target_audience = $2 AND a.bundle_id <> $3
		  AND a.key = $4 AND a.namespace = $5 AND a.value <> $6
		ORDER BY a.bundle_id, a.id`, language, target, excludeBundleID, key, namespace, value)
}

func (r *activeRepository) BundlesWithNamespaceValues(ctx context.Context, keys []models.NamespaceKey) ([]models.BundleRef, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	names, namespaces := splitNamespaceKeys(keys)
	query := `
		SELECT DISTINCT b.language, b.target_audience
		FROM translation_active a
		JOIN translation_bundles b ON b.id = a.bundle_id
		JOIN unnest($1::text[], $2::text[]) AS k(key, namespace)
			ON k.key = a.key AND k.namespace = a.namespace
		WHERE NOT a.taken_from_default
		ORDER BY b.language, b.target_audience`

	rows, err := q.Query(ctx, query, names, namespaces)
	if err != nil {
		return nil, fmt.Errorf("failed to find namespace bundles: %w", err)
	}
	defer rows.Close()

	var refs []models.BundleRef
	for rows.Next() {
		var ref models.BundleRef
		if err := rows.Scan(&ref.Language, &ref.TargetAudience); err != nil {
			return nil, fmt.Errorf("failed to scan namespace bundle: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating namespace bundles: %w", err)
	}
	return refs, nil
}

func (r *activeRepository) LastModifiedByAuthor(ctx context.Context, bundleID uuid.UUID) ([]models.AuthorActivity, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT h.author_id, MAX(a.updated_at)
		FROM translation_active a
		JOIN translation_history h ON h.id = a.history_id
		WHERE a.bundle_id = $1
		GROUP BY h.author_id`

	rows, err := q.Query(ctx, query, bundleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query author activity: %w", err)
	}
	defer rows.Close()

	var activity []models.AuthorActivity
	for rows.Next() {
		var a models.AuthorActivity
		if err := rows.Scan(&a.AuthorID, &a.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan author activity: %w", err)
		}
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating author activity: %w", err)
	}
	return activity, nil
}

func (r *activeRepository) ProgressBySource(ctx context.Context, sourceID uuid.UUID, keys []string) ([]models.BundleProgress, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT b.language, b.target_audience, COUNT(DISTINCT a.key), MIN(a.updated_at), MAX(a.updated_at)
		FROM translation_active a
		JOIN translation_bundles b ON b.id = a.bundle_id
		WHERE b.source_id = $1
		  AND a.key = ANY($2)
		  AND NOT a.taken_from_default
		  AND a.same_tool
		GROUP BY b.language, b.target_audience
		ORDER BY b.language, b.target_audience`

	rows, err := q.Query(ctx, query, sourceID, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	var progress []models.BundleProgress
	for rows.Next() {
		var p models.BundleProgress
		if err := rows.Scan(&p.Language, &p.TargetAudience, &p.Translated, &p.FirstModified, &p.LastModified); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		progress = append(progress, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress: %w", err)
	}
	return progress, nil
}

func (r *activeRepository) list(ctx context.Context, query string, args ...any) ([]*models.ActiveEntry, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.ActiveEntry
	for rows.Next() {
		entry, err := scanActive(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active entries: %w", err)
	}
	return entries, nil
}

func splitNamespaceKeys(keys []models.NamespaceKey) ([]string, []string) {
	names := make([]string, len(keys))
	namespaces := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Key
		namespaces[i] = k.Namespace
	}
	return names, namespaces
}

func scanActive(row rowScanner) (*models.ActiveEntry, error) {
	var a models.ActiveEntry
	err := row.Scan(
		&a.ID,
		&a.BundleID,
		&a.Key,
		&a.Value,
		&a.HistoryID,
		&a.UpdatedAt,
		&a.TakenFromDefault,
		&a.FromDeveloper,
		&a.SameTool,
		&a.ToolID,
		&a.Format,
		&a.Position,
		&a.Category,
		&a.Namespace,
		&a.AuthorID,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

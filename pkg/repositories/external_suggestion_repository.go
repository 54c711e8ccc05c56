package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// ExternalSuggestionRepository caches machine translation results.
type ExternalSuggestionRepository interface {
	// Find returns cached candidates for the given source hashes, keyed by hash.
	Find(ctx context.Context, engine string, sourceHashes []string, originLanguage, language string) (map[string][]*models.ExternalSuggestion, error)

	// Save stores candidates. Existing (engine, hash, languages, value) rows
	// keep their original weight.
	Save(ctx context.Context, suggestions []*models.ExternalSuggestion) error
}

type externalSuggestionRepository struct{}

// NewExternalSuggestionRepository creates a new external suggestion repository.
func NewExternalSuggestionRepository() ExternalSuggestionRepository {
	return &externalSuggestionRepository{}
}

var _ ExternalSuggestionRepository = (*externalSuggestionRepository)(nil)

func (r *externalSuggestionRepository) Find(ctx context.Context, engine string, sourceHashes []string, originLanguage, language string) (map[string][]*models.ExternalSuggestion, error) {
	found := make(map[string][]*models.ExternalSuggestion)
	if len(sourceHashes) == 0 {
		return found, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, engine, source_hash, source_text, origin_language, language, value, weight, created_at
		FROM translation_external_suggestions
		WHERE engine = $1 AND source_hash = ANY($2) AND origin_language = $3 AND language = $4
		ORDER BY source_hash, weight DESC, created_at`

	rows, err := q.Query(ctx, query, engine, sourceHashes, originLanguage, language)
	if err != nil {
		return nil, fmt.Errorf("failed to find external suggestions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.ExternalSuggestion
		err := rows.Scan(&s.ID, &s.Engine, &s.SourceHash, &s.SourceText, &s.OriginLanguage,
			&s.Language, &s.Value, &s.Weight, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external suggestion: %w", err)
		}
		found[s.SourceHash] = append(found[s.SourceHash], &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating external suggestions: %w", err)
	}
	return found, nil
}

func (r *externalSuggestionRepository) Save(ctx context.Context, suggestions []*models.ExternalSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO translation_external_suggestions
			(engine, source_hash, source_text, origin_language, language, value, weight, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (engine, source_hash, origin_language, language, md5(value)) DO NOTHING`

	now := time.Now()
	for _, s := range suggestions {
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		_, err := q.Exec(ctx, query, s.Engine, s.SourceHash, s.SourceText, s.OriginLanguage,
			s.Language, s.Value, s.Weight, s.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to save external suggestion: %w", err)
		}
	}
	return nil
}

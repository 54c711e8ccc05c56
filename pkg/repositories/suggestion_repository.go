package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
)

// SuggestionRepository defines data access for the key and value suggestion
// frequency tables.
type SuggestionRepository interface {
	// IncrementKey counts one acceptance of value for key, inserting the row
	// with count 1 when absent. Safe under concurrent writers.
	IncrementKey(ctx context.Context, key, language, target, value string) error

	// IncrementValue counts one acceptance of value for a source text.
	IncrementValue(ctx context.Context, sourceText, language, target, value string) error

	// ListByKeys returns key suggestions for (language, target) in discovery
	// order: first by key, then by insertion.
	ListByKeys(ctx context.Context, keys []string, language, target string) ([]*models.KeySuggestion, error)

	// ListBySourceTexts returns value suggestions for (language, target).
	ListBySourceTexts(ctx context.Context, sourceTexts []string, language, target string) ([]*models.ValueSuggestion, error)
}

type suggestionRepository struct{}

// NewSuggestionRepository creates a new suggestion repository.
func NewSuggestionRepository() SuggestionRepository {
	return &suggestionRepository{}
}

var _ SuggestionRepository = (*suggestionRepository)(nil)

func (r *suggestionRepository) IncrementKey(ctx context.Context, key, language, target, value string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO translation_key_suggestions (key, language, target_audience, value, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (key, language, target_audience, md5(value))
		DO UPDATE SET count = translation_key_suggestions.count + 1`

	if _, err := q.Exec(ctx, query, key, language, target, value); err != nil {
		return fmt.Errorf("failed to increment key suggestion: %w", err)
	}
	return nil
}

func (r *suggestionRepository) IncrementValue(ctx context.Context, sourceText, language, target, value string) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO translation_value_suggestions (source_text, language, target_audience, value, count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (source_text, language, target_audience, md5(value))
		DO UPDATE SET count = translation_value_suggestions.count + 1`

	if _, err := q.Exec(ctx, query, models.TruncateRunes(sourceText, models.MaxFieldLength), language, target, value); err != nil {
		return fmt.Errorf("failed to increment value suggestion: %w", err)
	}
	return nil
}

func (r *suggestionRepository) ListByKeys(ctx context.Context, keys []string, language, target string) ([]*models.KeySuggestion, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT key, language, target_audience, value, count
		FROM translation_key_suggestions
		WHERE key = ANY($1) AND language = $2 AND target_audience = $3
		ORDER BY key, id`

	rows, err := q.Query(ctx, query, keys, language, target)
	if err != nil {
		return nil, fmt.Errorf("failed to list key suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*models.KeySuggestion
	for rows.Next() {
		var s models.KeySuggestion
		if err := rows.Scan(&s.Key, &s.Language, &s.TargetAudience, &s.Value, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan key suggestion: %w", err)
		}
		suggestions = append(suggestions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key suggestions: %w", err)
	}
	return suggestions, nil
}

func (r *suggestionRepository) ListBySourceTexts(ctx context.Context, sourceTexts []string, language, target string) ([]*models.ValueSuggestion, error) {
	if len(sourceTexts) == 0 {
		return nil, nil
	}

	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	truncated := make([]string, len(sourceTexts))
	for i, text := range sourceTexts {
		truncated[i] = models.TruncateRunes(text, models.MaxFieldLength)
	}

	query := `
		SELECT source_text, language, target_audience, value, count
		FROM translation_value_suggestions
		WHERE source_text = ANY($1) AND language = $2 AND target_audience = $3
		ORDER BY source_text, id`

	rows, err := q.Query(ctx, query, truncated, language, target)
	if err != nil {
		return nil, fmt.Errorf("failed to list value suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*models.ValueSuggestion
	for rows.Next() {
		var s models.ValueSuggestion
		if err := rows.Scan(&s.SourceText, &s.Language, &s.TargetAudience, &s.Value, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan value suggestion: %w", err)
		}
		suggestions = append(suggestions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating value suggestions: %w", err)
	}
	return suggestions, nil
}

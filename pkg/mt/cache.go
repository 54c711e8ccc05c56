package mt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// EngineTranslator is a Translator whose results can be cached by engine name.
type EngineTranslator interface {
	Translator
	Engine() string
}

// CachingTranslator serves repeated texts from the external suggestion table
// and only sends unseen texts to the wrapped translator.
type CachingTranslator struct {
	scope  func(context.Context) (context.Context, func(), error)
	repo   repositories.ExternalSuggestionRepository
	inner  EngineTranslator
	logger *zap.Logger
}

// NewCachingTranslator wraps inner with a database-backed cache. scope
// attaches a database connection to the context.
func NewCachingTranslator(
	scope func(context.Context) (context.Context, func(), error),
	repo repositories.ExternalSuggestionRepository,
	inner EngineTranslator,
	logger *zap.Logger,
) *CachingTranslator {
	return &CachingTranslator{
		scope:  scope,
		repo:   repo,
		inner:  inner,
		logger: logger.Named("mt-cache"),
	}
}

var _ Translator = (*CachingTranslator)(nil)

func (c *CachingTranslator) Translate(ctx context.Context, texts []string, from, to string) (map[string]map[string]float64, error) {
	result := make(map[string]map[string]float64, len(texts))
	if len(texts) == 0 {
		return result, nil
	}

	ctx, cleanup, err := c.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	engine := c.inner.Engine()
	hashes := make([]string, 0, len(texts))
	byHash := make(map[string]string, len(texts))
	for _, text := range texts {
		h := SourceHash(text)
		if _, ok := byHash[h]; ok {
			continue
		}
		byHash[h] = text
		hashes = append(hashes, h)
	}

	cached, err := c.repo.Find(ctx, engine, hashes, from, to)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, h := range hashes {
		text := byHash[h]
		rows, ok := cached[h]
		if !ok || len(rows) == 0 {
			missing = append(missing, text)
			continue
		}
		weights := make(map[string]float64, len(rows))
		for _, row := range rows {
			weights[row.Value] = row.Weight
		}
		result[text] = weights
	}

	c.logger.Debug("Machine translation cache lookup",
		zap.String("engine", engine),
		zap.String("to", to),
		zap.Int("hits", len(result)),
		zap.Int("misses", len(missing)))

	if len(missing) == 0 {
		return result, nil
	}

	fresh, err := c.inner.Translate(ctx, missing, from, to)
	if err != nil {
		if len(result) > 0 {
			c.logger.Warn("Machine translation failed, serving cached results only",
				zap.String("engine", engine),
				zap.Error(err))
			return result, nil
		}
		return nil, err
	}

	var rows []*models.ExternalSuggestion
	for text, weights := range fresh {
		result[text] = weights
		for value, weight := range weights {
			rows = append(rows, &models.ExternalSuggestion{
				Engine:         engine,
				SourceHash:     SourceHash(text),
				SourceText:     text,
				OriginLanguage: from,
				Language:       to,
				Value:          value,
				Weight:         weight,
			})
		}
	}
	if err := c.repo.Save(ctx, rows); err != nil {
		c.logger.Warn("Failed to cache machine translations",
			zap.String("engine", engine),
			zap.Error(err))
	}
	return result, nil
}

// SourceHash is the cache key of a source text.
func SourceHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

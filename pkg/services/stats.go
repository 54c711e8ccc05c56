package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/languages"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// StatsService reports translation progress.
type StatsService interface {
	// GetStats counts, per (language, target), the real translations of the
	// manifest keys that belong to the application itself (same tool).
	GetStats(ctx context.Context, sourceURL string, manifest models.Manifest) (*models.SourceStats, error)
}

type statsService struct {
	scope      ScopeFunc
	sourceRepo repositories.SourceRepository
	activeRepo repositories.ActiveRepository
	languages  *languages.Table
	logger     *zap.Logger
}

// NewStatsService creates a new stats service.
func NewStatsService(
	scope ScopeFunc,
	sourceRepo repositories.SourceRepository,
	activeRepo repositories.ActiveRepository,
	langs *languages.Table,
	logger *zap.Logger,
) StatsService {
	return &statsService{
		scope:      scope,
		sourceRepo: sourceRepo,
		activeRepo: activeRepo,
		languages:  langs,
		logger:     logger.Named("stats-service"),
	}
}

var _ StatsService = (*statsService)(nil)

func (s *statsService) GetStats(ctx context.Context, sourceURL string, manifest models.Manifest) (*models.SourceStats, error) {
	var keys []string
	for _, key := range manifest.Keys() {
		if manifest[key].SameTool {
			keys = append(keys, key)
		}
	}

	stats := &models.SourceStats{
		SourceURL: sourceURL,
		Items:     len(keys),
		Languages: make(map[string]*models.LanguageStats),
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	source, err := s.sourceRepo.GetByURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return stats, nil
	}

	progress, err := s.activeRepo.ProgressBySource(ctx, source.ID, keys)
	if err != nil {
		return nil, err
	}

	for _, p := range progress {
		lang, ok := stats.Languages[p.Language]
		if !ok {
			lang = &models.LanguageStats{
				Name:    s.languages.LanguageName(p.Language),
				Targets: make(map[string]*models.TargetStats),
			}
			stats.Languages[p.Language] = lang
		}
		lang.Targets[p.TargetAudience] = &models.TargetStats{
			Name:         s.languages.AudienceName(p.TargetAudience),
			Translated:   p.Translated,
			Items:        stats.Items,
			Percent:      float64(p.Translated) / float64(stats.Items),
			CreationDate: p.FirstModified,
			ModifiedDate: p.LastModified,
		}
	}
	return stats, nil
}

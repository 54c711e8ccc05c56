package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/languages"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// SubmitRequest is a full translation upload for one application bundle.
type SubmitRequest struct {
	AppURL        string
	SourceURL     string
	Metadata      models.AppMetadata
	Language      string
	Target        string
	AuthorID      uuid.UUID
	Values        map[string]string
	Manifest      models.Manifest
	FromDeveloper bool
}

// TranslationService is the entry point for translation writes and reads.
type TranslationService interface {
	// Submit registers the application, ensures the bundle exists and
	// reconciles the values into it.
	Submit(ctx context.Context, req SubmitRequest) (*ReconcileResult, error)

	// EnsureBundle returns the bundle of a source for (language, target),
	// creating it when missing.
	EnsureBundle(ctx context.Context, sourceID uuid.UUID, language, target string, fromDeveloper bool) (*models.Bundle, error)

	// GetActive returns the current values of a bundle. An unknown source is
	// ErrNotFound; a known source without the bundle yields an empty snapshot.
	GetActive(ctx context.Context, sourceURL, language, target string) (*models.ActiveSnapshot, error)

	// History returns the edit chain of a key, oldest first.
	History(ctx context.Context, bundleID uuid.UUID, key string) ([]*models.HistoryEntry, error)
}

type translationService struct {
	scope       ScopeFunc
	registry    RegistryService
	reconciler  Reconciler
	sourceRepo  repositories.SourceRepository
	bundleRepo  repositories.BundleRepository
	historyRepo repositories.HistoryRepository
	activeRepo  repositories.ActiveRepository
	languages   *languages.Table
	logger      *zap.Logger
}

// NewTranslationService creates a new translation service.
func NewTranslationService(
	scope ScopeFunc,
	registry RegistryService,
	reconciler Reconciler,
	sourceRepo repositories.SourceRepository,
	bundleRepo repositories.BundleRepository,
	historyRepo repositories.HistoryRepository,
	activeRepo repositories.ActiveRepository,
	langs *languages.Table,
	logger *zap.Logger,
) TranslationService {
	return &translationService{
		scope:       scope,
		registry:    registry,
		reconciler:  reconciler,
		sourceRepo:  sourceRepo,
		bundleRepo:  bundleRepo,
		historyRepo: historyRepo,
		activeRepo:  activeRepo,
		languages:   langs,
		logger:      logger.Named("translation-service"),
	}
}

var _ TranslationService = (*translationService)(nil)

func (s *translationService) Submit(ctx context.Context, req SubmitRequest) (*ReconcileResult, error) {
	if err := s.languages.ValidateLanguage(req.Language); err != nil {
		return nil, err
	}
	if err := s.languages.ValidateAudience(req.Target); err != nil {
		return nil, err
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	app, err := s.registry.RegisterApplication(ctx, req.AppURL, req.SourceURL, req.Metadata)
	if err != nil {
		return nil, err
	}

	bundle, err := s.EnsureBundle(ctx, app.SourceID, req.Language, req.Target, req.FromDeveloper)
	if err != nil {
		return nil, err
	}

	result, err := s.reconciler.Reconcile(ctx, ReconcileRequest{
		BundleID:      bundle.ID,
		AuthorID:      req.AuthorID,
		Values:        req.Values,
		Manifest:      req.Manifest,
		FromDeveloper: req.FromDeveloper,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Translation submitted",
		zap.String("app_url", req.AppURL),
		zap.String("language", req.Language),
		zap.String("target", req.Target),
		zap.Bool("from_developer", req.FromDeveloper),
		zap.Int("replaced", len(result.Replaced)),
		zap.Int("rejected", len(result.Rejected)))

	return result, nil
}

func (s *translationService) EnsureBundle(ctx context.Context, sourceID uuid.UUID, language, target string, fromDeveloper bool) (*models.Bundle, error) {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	bundle, err := s.bundleRepo.Get(ctx, sourceID, language, target)
	if err == nil {
		return bundle, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}

	bundle = &models.Bundle{
		SourceID:        sourceID,
		Language:        language,
		TargetAudience:  target,
		IsFromDeveloper: fromDeveloper,
	}
	err = s.bundleRepo.Create(ctx, bundle)
	switch {
	case err == nil:
		return bundle, nil
	case errors.Is(err, apperrors.ErrConflict):
		// Another caller created it first.
		return s.bundleRepo.Get(ctx, sourceID, language, target)
	default:
		return nil, fmt.Errorf("failed to create bundle: %w", err)
	}
}

func (s *translationService) GetActive(ctx context.Context, sourceURL, language, target string) (*models.ActiveSnapshot, error) {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	source, err := s.sourceRepo.GetByURL(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	snapshot := &models.ActiveSnapshot{
		Messages:  make(map[string]models.ActiveValue),
		Automatic: source.IsAutomaticUpdate,
	}

	bundle, err := s.bundleRepo.Get(ctx, source.ID, language, target)
	if errors.Is(err, apperrors.ErrNotFound) {
		return snapshot, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot.FromDeveloper = bundle.IsFromDeveloper

	entries, err := s.activeRepo.ListByBundle(ctx, bundle.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, ok := snapshot.Messages[e.Key]; ok {
			continue
		}
		snapshot.Messages[e.Key] = models.ActiveValue{
			Value:         e.Value,
			FromDefault:   e.TakenFromDefault,
			FromDeveloper: e.FromDeveloper,
			SameTool:      e.SameTool,
			ToolID:        e.ToolID,
		}
	}
	return snapshot, nil
}

func (s *translationService) History(ctx context.Context, bundleID uuid.UUID, key string) ([]*models.HistoryEntry, error) {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	entries, err := s.historyRepo.ListByKey(ctx, bundleID, key)
	if err != nil {
		return nil, err
	}

	active, err := s.activeRepo.GetByKey(ctx, bundleID, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}

	return editChain(entries, active.HistoryID), nil
}

// editChain walks parent links back from head and returns the chain oldest
// first. Parents outside entries end the chain.
func editChain(entries []*models.HistoryEntry, head uuid.UUID) []*models.HistoryEntry {
	byID := make(map[uuid.UUID]*models.HistoryEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	var chain []*models.HistoryEntry
	seen := make(map[uuid.UUID]bool)
	for id := head; ; {
		e, ok := byID[id]
		if !ok || seen[id] {
			break
		}
		seen[id] = true
		chain = append(chain, e)
		if e.ParentID == nil {
			break
		}
		id = *e.ParentID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

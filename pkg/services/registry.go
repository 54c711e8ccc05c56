package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// RegistryService manages sources, the applications pointing at them and
// the subscriptions attached to them.
type RegistryService interface {
	// RegisterApplication is RepointApplication under the name callers use
	// when they only want the application known.
	RegisterApplication(ctx context.Context, appURL, sourceURL string, metadata models.AppMetadata) (*models.Application, error)

	// RepointApplication makes appURL use sourceURL. When the application
	// previously used another source, its bundles are copied or merged into
	// the new one in the same transaction.
	RepointApplication(ctx context.Context, appURL, newSourceURL string, metadata models.AppMetadata) (*models.Application, error)

	// NamespaceBundles lists the (language, target) pairs that already hold a
	// real translation for any of the given (key, namespace) pairs.
	NamespaceBundles(ctx context.Context, pairs []models.NamespaceKey) ([]models.BundleRef, error)
}

type registryService struct {
	scope       ScopeFunc
	tx          database.Transactor
	sourceRepo  repositories.SourceRepository
	subRepo     repositories.SubscriptionRepository
	bundleRepo  repositories.BundleRepository
	historyRepo repositories.HistoryRepository
	activeRepo  repositories.ActiveRepository
	logger      *zap.Logger
	now         func() time.Time
}

// NewRegistryService creates a new registry service.
func NewRegistryService(
	scope ScopeFunc,
	tx database.Transactor,
	sourceRepo repositories.SourceRepository,
	subRepo repositories.SubscriptionRepository,
	bundleRepo repositories.BundleRepository,
	historyRepo repositories.HistoryRepository,
	activeRepo repositories.ActiveRepository,
	logger *zap.Logger,
) RegistryService {
	return &registryService{
		scope:       scope,
		tx:          tx,
		sourceRepo:  sourceRepo,
		subRepo:     subRepo,
		bundleRepo:  bundleRepo,
		historyRepo: historyRepo,
		activeRepo:  activeRepo,
		logger:      logger.Named("registry-service"),
		now:         time.Now,
	}
}

var _ RegistryService = (*registryService)(nil)

func (s *registryService) RegisterApplication(ctx context.Context, appURL, sourceURL string, metadata models.AppMetadata) (*models.Application, error) {
	return s.RepointApplication(ctx, appURL, sourceURL, metadata)
}

func (s *registryService) RepointApplication(ctx context.Context, appURL, newSourceURL string, metadata models.AppMetadata) (*models.Application, error) {
	if strings.TrimSpace(appURL) == "" {
		return nil, &apperrors.ValidationError{Field: "app_url", Reason: "is empty"}
	}
	if strings.TrimSpace(newSourceURL) == "" {
		return nil, &apperrors.ValidationError{Field: "source_url", Reason: "is empty"}
	}

	var app *models.Application
	report, err := runInTx(ctx, s.tx, s.logger, "register application", func(txCtx context.Context) error {
		var err error
		app, err = s.point(txCtx, appURL, newSourceURL, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !report.Conflicted {
		return app, nil
	}

	// A concurrent registration won both attempts; return what it stored.
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()
	return s.sourceRepo.GetApplication(ctx, appURL)
}

// point runs inside a transaction.
func (s *registryService) point(ctx context.Context, appURL, sourceURL string, metadata models.AppMetadata) (*models.Application, error) {
	source, err := s.ensureSource(ctx, sourceURL, metadata)
	if err != nil {
		return nil, err
	}
	if err := s.syncSubscriptions(ctx, source.ID, metadata.Emails); err != nil {
		return nil, err
	}

	app, err := s.sourceRepo.GetApplication(ctx, appURL)
	if errors.Is(err, apperrors.ErrNotFound) {
		app = &models.Application{AppURL: appURL, SourceID: source.ID}
		if err := s.sourceRepo.CreateApplication(ctx, app); err != nil {
			return nil, err
		}
		s.logger.Info("Registered application",
			zap.String("app_url", appURL),
			zap.String("source_url", sourceURL))
		return app, nil
	}
	if err != nil {
		return nil, err
	}
	if app.SourceID == source.ID {
		return app, nil
	}

	oldSourceID := app.SourceID
	if err := s.copyBundles(ctx, oldSourceID, source.ID); err != nil {
		return nil, err
	}
	if err := s.sourceRepo.SetApplicationSource(ctx, app.ID, source.ID); err != nil {
		return nil, err
	}
	app.SourceID = source.ID

	s.logger.Info("Repointed application",
		zap.String("app_url", appURL),
		zap.String("old_source_id", oldSourceID.String()),
		zap.String("source_url", sourceURL))
	return app, nil
}

func (s *registryService) ensureSource(ctx context.Context, url string, metadata models.AppMetadata) (*models.Source, error) {
	automatic := metadata.IsAutomatic()
	source, created, err := s.sourceRepo.GetOrCreate(ctx, url, automatic, metadata.Attributes)
	if err != nil {
		return nil, err
	}
	if created || (source.IsAutomaticUpdate == automatic && source.Attributes == metadata.Attributes) {
		return source, nil
	}
	if err := s.sourceRepo.UpdateFlags(ctx, source.ID, automatic, metadata.Attributes); err != nil {
		return nil, err
	}
	source.IsAutomaticUpdate = automatic
	source.Attributes = metadata.Attributes
	return source, nil
}

// syncSubscriptions makes the source's metadata-managed subscriptions match
// emails exactly.
func (s *registryService) syncSubscriptions(ctx context.Context, sourceID uuid.UUID, emails []string) error {
	wanted := make(map[string]bool, len(emails))
	for _, email := range emails {
		if email = strings.TrimSpace(email); email != "" {
			wanted[email] = true
		}
	}

	current, err := s.subRepo.ListBySource(ctx, sourceID, models.SubscriptionMechanismSource)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(current))
	for _, sub := range current {
		if wanted[sub.RecipientEmail] {
			have[sub.RecipientEmail] = true
			continue
		}
		if err := s.subRepo.Remove(ctx, sub.ID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
	}

	for _, email := range sortedKeys(wanted) {
		if have[email] {
			continue
		}
		recipient, err := s.subRepo.GetOrCreateRecipient(ctx, email)
		if err != nil {
			return err
		}
		if err := s.subRepo.Add(ctx, sourceID, recipient.ID, models.SubscriptionMechanismSource); err != nil {
			return err
		}
	}
	return nil
}

// copyBundles brings every bundle of the old source into the new one:
// deep-copied when the new source lacks the (language, target) pair,
// merged otherwise.
func (s *registryService) copyBundles(ctx context.Context, oldSourceID, newSourceID uuid.UUID) error {
	oldBundles, err := s.bundleRepo.ListBySource(ctx, oldSourceID)
	if err != nil {
		return err
	}
	newBundles, err := s.bundleRepo.ListBySource(ctx, newSourceID)
	if err != nil {
		return err
	}
	existing := make(map[models.BundleRef]*models.Bundle, len(newBundles))
	for _, b := range newBundles {
		existing[b.Ref()] = b
	}

	writer := activeWriter{historyRepo: s.historyRepo, activeRepo: s.activeRepo}
	for _, src := range oldBundles {
		if dst, ok := existing[src.Ref()]; ok {
			if err := s.mergeBundle(ctx, writer, src, dst); err != nil {
				return err
			}
			continue
		}
		dst := &models.Bundle{
			SourceID:        newSourceID,
			Language:        src.Language,
			TargetAudience:  src.TargetAudience,
			IsFromDeveloper: src.IsFromDeveloper,
		}
		if err := s.bundleRepo.Create(ctx, dst); err != nil {
			return err
		}
		if err := s.deepCopyBundle(ctx, src, dst); err != nil {
			return err
		}
	}
	return nil
}

// deepCopyBundle copies the full history of src into the empty bundle dst,
// remapping parent links to the new ids, then recreates the active entries.
func (s *registryService) deepCopyBundle(ctx context.Context, src, dst *models.Bundle) error {
	history, err := s.historyRepo.ListByBundle(ctx, src.ID)
	if err != nil {
		return err
	}

	remap := make(map[uuid.UUID]uuid.UUID, len(history))
	for _, h := range history {
		copied := *h
		copied.ID = uuid.Nil
		copied.BundleID = dst.ID
		copied.ParentID = nil
		if h.ParentID != nil {
			if parent, ok := remap[*h.ParentID]; ok {
				copied.ParentID = &parent
			}
		}
		if err := s.historyRepo.Append(ctx, &copied); err != nil {
			return err
		}
		remap[h.ID] = copied.ID
	}

	active, err := s.activeRepo.ListByBundle(ctx, src.ID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, a := range active {
		historyID, ok := remap[a.HistoryID]
		if !ok {
			return fmt.Errorf("active entry %q references history outside its bundle", a.Key)
		}
		copied := *a
		copied.ID = uuid.Nil
		copied.BundleID = dst.ID
		copied.HistoryID = historyID
		copied.UpdatedAt = now
		if err := s.activeRepo.Create(ctx, &copied); err != nil {
			return err
		}
	}

	s.logger.Debug("Copied bundle",
		zap.String("language", src.Language),
		zap.String("target", src.TargetAudience),
		zap.Int("history", len(history)),
		zap.Int("active", len(active)))
	return nil
}

// mergeBundle copies into dst the keys it lacks, and replaces dst entries
// that are only default-derived when src has a real value. Real dst entries
// are never overwritten.
func (s *registryService) mergeBundle(ctx context.Context, writer activeWriter, src, dst *models.Bundle) error {
	srcEntries, err := s.activeRepo.ListByBundle(ctx, src.ID)
	if err != nil {
		return err
	}
	dstEntries, err := s.activeRepo.ListByBundle(ctx, dst.ID)
	if err != nil {
		return err
	}
	current := groupByKey(dstEntries)

	now := s.now()
	copied, replaced := 0, 0
	for _, a := range srcEntries {
		in := activeWrite{
			BundleID:         dst.ID,
			Key:              a.Key,
			Value:            a.Value,
			AuthorID:         a.AuthorID,
			At:               now,
			TakenFromDefault: a.TakenFromDefault,
			FromDeveloper:    a.FromDeveloper,
			Fields:           a.MessageFields,
		}

		existing, ok := current[a.Key]
		if !ok {
			entry, err := writer.write(ctx, in)
			if err != nil {
				return err
			}
			current[a.Key] = []*models.ActiveEntry{entry}
			copied++
			continue
		}

		target := existing[0]
		if !target.TakenFromDefault || a.TakenFromDefault {
			continue
		}
		entry, err := writer.replace(ctx, target, in)
		if err != nil {
			return err
		}
		current[a.Key] = append([]*models.ActiveEntry{entry}, existing[1:]...)
		replaced++
	}

	s.logger.Debug("Merged bundle",
		zap.String("language", src.Language),
		zap.String("target", src.TargetAudience),
		zap.Int("copied", copied),
		zap.Int("replaced", replaced))
	return nil
}

func (s *registryService) NamespaceBundles(ctx context.Context, pairs []models.NamespaceKey) ([]models.BundleRef, error) {
	var keys []models.NamespaceKey
	for _, p := range pairs {
		if p.Namespace != "" {
			keys = append(keys, p)
		}
	}
	if len(keys) == 0 {
		return []models.BundleRef{}, nil
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	refs, err := s.activeRepo.BundlesWithNamespaceValues(ctx, keys)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []models.BundleRef{}
	}
	return refs, nil
}

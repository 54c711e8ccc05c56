package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/logging"
	"github.com/ekaya-inc/ekaya-translator/pkg/manifest"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// DefaultSyncConcurrency bounds concurrent application syncs when none is configured.
const DefaultSyncConcurrency = 4

// AppRegistration is one application handed to the synchronizer.
type AppRegistration struct {
	AppURL    string
	SourceURL string
	Metadata  models.AppMetadata
}

// SyncRequest describes a synchronization batch.
type SyncRequest struct {
	// Source names what triggered the batch, e.g. "scheduler" or "manual".
	Source string
	Apps   []AppRegistration

	// SingleAppURL restricts the batch to one of Apps.
	SingleAppURL string

	// Cached allows manifests to be served from the manifest cache.
	Cached bool
}

// SyncResult summarizes a synchronization batch.
type SyncResult struct {
	RunID   uuid.UUID
	Synced  []string
	Failed  map[string]error
	Bundles int
}

// Synchronizer re-reads application manifests and structurally reconciles
// every bundle of their sources.
type Synchronizer interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)
}

// invalidator is implemented by extractors that cache manifests.
type invalidator interface {
	Invalidate(ctx context.Context, appURL string) error
}

type synchronizer struct {
	scope       ScopeFunc
	audit       SyncAuditService
	registry    RegistryService
	reconciler  Reconciler
	identity    IdentityService
	extractor   manifest.Extractor
	bundleRepo  repositories.BundleRepository
	concurrency int
	logger      *zap.Logger
}

// NewSynchronizer creates a new synchronizer.
func NewSynchronizer(
	scope ScopeFunc,
	audit SyncAuditService,
	registry RegistryService,
	reconciler Reconciler,
	identity IdentityService,
	extractor manifest.Extractor,
	bundleRepo repositories.BundleRepository,
	concurrency int,
	logger *zap.Logger,
) Synchronizer {
	if concurrency < 1 {
		concurrency = DefaultSyncConcurrency
	}
	return &synchronizer{
		scope:       scope,
		audit:       audit,
		registry:    registry,
		reconciler:  reconciler,
		identity:    identity,
		extractor:   extractor,
		bundleRepo:  bundleRepo,
		concurrency: concurrency,
		logger:      logger.Named("synchronizer"),
	}
}

var _ Synchronizer = (*synchronizer)(nil)

func (s *synchronizer) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	apps := req.Apps
	if req.SingleAppURL != "" {
		apps = nil
		for _, app := range req.Apps {
			if app.AppURL == req.SingleAppURL {
				apps = append(apps, app)
			}
		}
		if len(apps) == 0 {
			return nil, &apperrors.ValidationError{Field: "single_app_url", Reason: "is not among the applications"}
		}
	}

	author, err := s.identity.DefaultAuthor(ctx)
	if err != nil {
		return nil, err
	}

	runID, err := s.audit.StartRun(ctx, req.Source, req.Cached, req.SingleAppURL)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{RunID: runID, Failed: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, app := range apps {
		g.Go(func() error {
			bundles, err := s.syncApp(gctx, app, author.ID, req.Cached)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("Failed to synchronize application",
					zap.String("run_id", runID.String()),
					zap.String("app_url", app.AppURL),
					zap.String("error", logging.SanitizeError(err)))
				result.Failed[app.AppURL] = err
				return nil
			}
			result.Synced = append(result.Synced, app.AppURL)
			result.Bundles += bundles
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(result.Synced)

	if err := s.audit.EndRun(ctx, runID, len(result.Synced)); err != nil {
		return result, err
	}
	return result, nil
}

// syncApp registers one application and resyncs its source's bundles.
// Returns the number of bundles reconciled.
func (s *synchronizer) syncApp(ctx context.Context, app AppRegistration, authorID uuid.UUID, cached bool) (int, error) {
	if strings.TrimSpace(app.SourceURL) == "" {
		app.SourceURL = app.AppURL
	}

	if inv, ok := s.extractor.(invalidator); ok && !cached {
		if err := inv.Invalidate(ctx, app.AppURL); err != nil {
			s.logger.Warn("Failed to invalidate cached manifest",
				zap.String("app_url", app.AppURL),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	m, err := s.extractor.Extract(ctx, app.AppURL)
	if err != nil {
		return 0, fmt.Errorf("failed to extract manifest: %w", err)
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	registered, err := s.registry.RegisterApplication(ctx, app.AppURL, app.SourceURL, app.Metadata)
	if err != nil {
		return 0, err
	}

	bundles, err := s.bundleRepo.ListBySource(ctx, registered.SourceID)
	if err != nil {
		return 0, err
	}

	for _, b := range bundles {
		res, err := s.reconciler.Reconcile(ctx, ReconcileRequest{
			BundleID: b.ID,
			AuthorID: authorID,
			Manifest: m,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to resync bundle %s: %w", b.ID, err)
		}
		s.logger.Debug("Resynced bundle",
			zap.String("app_url", app.AppURL),
			zap.String("bundle_id", b.ID.String()),
			zap.Int("created", len(res.Created)),
			zap.Int("deleted", len(res.Deleted)),
			zap.Int("healed", len(res.Healed)))
	}
	return len(bundles), nil
}

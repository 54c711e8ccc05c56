package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// DefaultRecentRuns is how many synchronization runs ListRecentRuns returns
// when no limit is given.
const DefaultRecentRuns = 10

// SyncAuditService brackets synchronization batches for observability.
type SyncAuditService interface {
	StartRun(ctx context.Context, source string, cached bool, singleAppURL string) (uuid.UUID, error)
	EndRun(ctx context.Context, runID uuid.UUID, appCount int) error

	// ListRecentRuns returns the newest runs first.
	ListRecentRuns(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

type syncAuditService struct {
	scope   ScopeFunc
	runRepo repositories.SyncRunRepository
	logger  *zap.Logger
	now     func() time.Time
}

// NewSyncAuditService creates a new sync audit service.
func NewSyncAuditService(scope ScopeFunc, runRepo repositories.SyncRunRepository, logger *zap.Logger) SyncAuditService {
	return &syncAuditService{
		scope:   scope,
		runRepo: runRepo,
		logger:  logger.Named("sync-audit"),
		now:     time.Now,
	}
}

var _ SyncAuditService = (*syncAuditService)(nil)

func (s *syncAuditService) StartRun(ctx context.Context, source string, cached bool, singleAppURL string) (uuid.UUID, error) {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	run := &models.SyncRun{
		StartedAt:    s.now(),
		Source:       source,
		Cached:       cached,
		SingleAppURL: singleAppURL,
	}
	if err := s.runRepo.Start(ctx, run); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Synchronization started",
		zap.String("run_id", run.ID.String()),
		zap.String("source", source),
		zap.Bool("cached", cached),
		zap.String("single_app_url", singleAppURL))
	return run.ID, nil
}

func (s *syncAuditService) EndRun(ctx context.Context, runID uuid.UUID, appCount int) error {
	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	if err := s.runRepo.End(ctx, runID, s.now(), appCount); err != nil {
		return err
	}

	s.logger.Info("Synchronization finished",
		zap.String("run_id", runID.String()),
		zap.Int("app_count", appCount))
	return nil
}

func (s *syncAuditService) ListRecentRuns(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit <= 0 {
		limit = DefaultRecentRuns
	}

	ctx, cleanup, err := s.scope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	return s.runRepo.ListRecent(ctx, limit)
}

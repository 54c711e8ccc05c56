package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/repositories"
)

// ReconcileRequest is one batch of changes for a bundle.
type ReconcileRequest struct {
	BundleID uuid.UUID
	AuthorID uuid.UUID

	// Values maps keys to new values. Nil means a structural resync against
	// Manifest without any value change.
	Values map[string]string

	// Manifest is the current source-language content of the bundle's source.
	Manifest models.Manifest

	// FromDeveloper marks content pushed through the developer channel.
	FromDeveloper bool
}

// ReconcileResult reports what a reconcile changed. Key lists are sorted.
type ReconcileResult struct {
	// Replaced are keys whose incoming value was written.
	Replaced []string
	// Unchanged are incoming keys that kept their current entry.
	Unchanged []string
	// Suppressed are developer values dropped because the developer pushed
	// them before and a translator has since changed the key.
	Suppressed []string
	// Created are manifest keys that got a first entry.
	Created []string
	// Deleted are keys removed because the manifest no longer has them.
	Deleted []string
	// Healed are default-derived keys filled from another bundle's namespace value.
	Healed []string

	// Propagated counts entries overwritten in other bundles sharing a namespace.
	Propagated int
	// Deduplicated counts surplus active entries removed.
	Deduplicated int

	// Rejected lists manifest entries that failed validation and were skipped.
	Rejected []*apperrors.ValidationError

	// Conflicted is set when every attempt lost a uniqueness race to a
	// concurrent writer. The call still succeeds.
	Conflicted bool
	Attempts   int
}

// Reconciler merges developer pushes, translator edits and manifest changes
// into a bundle's history and active projection.
type Reconciler interface {
	// Reconcile applies a batch atomically. Concurrent identical writes are
	// absorbed; ErrNotFound is returned for an unknown bundle and
	// ErrStoreUnavailable for storage failures.
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)
}

type reconciler struct {
	tx             database.Transactor
	bundleRepo     repositories.BundleRepository
	historyRepo    repositories.HistoryRepository
	activeRepo     repositories.ActiveRepository
	suggestionRepo repositories.SuggestionRepository
	logger         *zap.Logger
	now            func() time.Time
}

// NewReconciler creates a new reconciler.
func NewReconciler(
	tx database.Transactor,
	bundleRepo repositories.BundleRepository,
	historyRepo repositories.HistoryRepository,
	activeRepo repositories.ActiveRepository,
	suggestionRepo repositories.SuggestionRepository,
	logger *zap.Logger,
) Reconciler {
	return &reconciler{
		tx:             tx,
		bundleRepo:     bundleRepo,
		historyRepo:    historyRepo,
		activeRepo:     activeRepo,
		suggestionRepo: suggestionRepo,
		logger:         logger.Named("reconciler"),
		now:            time.Now,
	}
}

var _ Reconciler = (*reconciler)(nil)

func (r *reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	manifest, rejected := req.Manifest.Validate()
	for _, verr := range rejected {
		r.logger.Warn("Skipping invalid manifest entry",
			zap.String("bundle_id", req.BundleID.String()),
			zap.String("key", verr.Key),
			zap.String("field", verr.Field),
			zap.String("reason", verr.Reason))
	}

	var run *reconcileRun
	report, err := runInTx(ctx, r.tx, r.logger, "reconcile bundle", func(txCtx context.Context) error {
		run = r.newRun(req, manifest, rejected)
		return run.apply(txCtx)
	})
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	if !report.Conflicted {
		result = run.result
	}
	result.Rejected = rejected
	result.Conflicted = report.Conflicted
	result.Attempts = report.Attempts

	r.logger.Debug("Reconciled bundle",
		zap.String("bundle_id", req.BundleID.String()),
		zap.Bool("from_developer", req.FromDeveloper),
		zap.Int("replaced", len(result.Replaced)),
		zap.Int("suppressed", len(result.Suppressed)),
		zap.Int("created", len(result.Created)),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("healed", len(result.Healed)),
		zap.Int("propagated", result.Propagated),
		zap.Int("deduplicated", result.Deduplicated),
		zap.Int("attempts", result.Attempts),
		zap.Bool("conflicted", result.Conflicted))

	return result, nil
}

func (r *reconciler) newRun(req ReconcileRequest, manifest models.Manifest, rejected []*apperrors.ValidationError) *reconcileRun {
	skipped := make(map[string]bool, len(rejected))
	for _, verr := range rejected {
		skipped[verr.Key] = true
	}
	return &reconcileRun{
		req:      req,
		manifest: manifest,
		skipped:  skipped,
		now:      r.now(),
		writer:   activeWriter{historyRepo: r.historyRepo, activeRepo: r.activeRepo},
		r:        r,
		result:   &ReconcileResult{},
	}
}

package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
)

// maxTxAttempts is how many times a write transaction runs before a
// uniqueness conflict is accepted as a concurrent identical write.
const maxTxAttempts = 2

// txReport describes how runInTx finished.
type txReport struct {
	Attempts   int
	Conflicted bool
}

// runInTx runs fn in one transaction and re-runs it once when a concurrent
// writer wins a uniqueness race or removes a row fn read earlier. A second
// conflict is not an error: the other writer already stored the same change,
// so Conflicted is set and nil returned.
// NotFound and validation errors pass through; anything else is reported as
// apperrors.ErrStoreUnavailable wrapping the cause.
func runInTx(ctx context.Context, tx database.Transactor, logger *zap.Logger, op string, fn func(ctx context.Context) error) (txReport, error) {
	var report txReport
	for report.Attempts < maxTxAttempts {
		report.Attempts++

		outcome, err := tx.WithinTx(ctx, fn)
		switch outcome {
		case database.TxCommitted:
			return report, nil
		case database.TxConflict:
			logger.Info("Concurrent write conflict",
				zap.String("operation", op),
				zap.Int("attempt", report.Attempts),
				zap.Error(err))
			continue
		}

		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrValidation) {
			return report, err
		}
		logger.Error("Transaction failed",
			zap.String("operation", op),
			zap.Error(err))
		return report, fmt.Errorf("failed to %s: %w", op, errors.Join(apperrors.ErrStoreUnavailable, err))
	}

	report.Conflicted = true
	return report, nil
}

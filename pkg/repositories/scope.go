// Package repositories implements PostgreSQL data access for the translation
// engine. Every repository reads its connection from the database scope in the
// context, so calls made inside database.DB.WithinTx share the transaction.
package repositories

import (
	"context"
	"fmt"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-translator/pkg/database"
)

func querier(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}
	return scope.Conn, nil
}

// mapWriteError converts unique violations into apperrors.ErrConflict.
func mapWriteError(err error, action string) error {
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("failed to %s: %w", action, apperrors.ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// mapReadError converts pgx.ErrNoRows into apperrors.ErrNotFound.
func mapReadError(err error, action string) error {
	if database.IsNoRows(err) {
		return apperrors.ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

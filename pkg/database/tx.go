package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-translator/pkg/apperrors"
)

// ApplicationName identifies the engine's PostgreSQL and Redis connections.
const ApplicationName = "ekaya-translator"

// pingTimeout bounds the connectivity check run when a client is opened.
const pingTimeout = 5 * time.Second

// PostgreSQL error codes treated as concurrent-write conflicts.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// TxOutcome classifies how a transaction ended.
type TxOutcome int

const (
	// TxCommitted means every statement was applied.
	TxCommitted TxOutcome = iota
	// TxConflict means the transaction was rolled back because a concurrent
	// writer won a uniqueness race.
	TxConflict
	// TxFailed means the transaction was rolled back for any other reason.
	TxFailed
)

func (o TxOutcome) String() string {
	switch o {
	case TxCommitted:
		return "committed"
	case TxConflict:
		return "conflict"
	default:
		return "failed"
	}
}

// DB is the engine's connection pool. It is the Transactor used by the
// reconciler and the registry.
type DB struct {
	*pgxpool.Pool
}

// Open connects to PostgreSQL at url with at most maxConns pooled
// connections; zero keeps the pgx default.
func Open(ctx context.Context, url string, maxConns int32) (*DB, error) {
	cfg, err := poolConfig(url, maxConns)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func poolConfig(url string, maxConns int32) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	params := cfg.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = ApplicationName
	}
	// Zero-row writes are classified as conflicts, which holds only while
	// each statement sees rows committed by other writers.
	params["default_transaction_isolation"] = "read committed"
	return cfg, nil
}

// Transactor runs a function inside a single transaction. The context passed
// to fn carries a transaction scope, so repositories called with it take part
// in the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) (TxOutcome, error)
}

var _ Transactor = (*DB)(nil)

// WithinTx begins a transaction on the scope found in ctx, or on a freshly
// acquired connection, and commits it when fn returns nil. Calls nested inside
// an open transaction join it.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (TxOutcome, error) {
	scope, ok := GetScope(ctx)
	if ok && scope.InTx() {
		err := fn(ctx)
		return Classify(err), err
	}

	if !ok || scope.conn == nil {
		acquired, err := db.WithScope(ctx)
		if err != nil {
			return TxFailed, err
		}
		defer acquired.Close()
		scope = acquired
	}

	tx, err := scope.conn.Begin(ctx)
	if err != nil {
		return TxFailed, fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := SetScope(ctx, &Scope{Conn: tx, tx: tx})
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return Classify(err), err
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(err), fmt.Errorf("failed to commit transaction: %w", err)
	}
	return TxCommitted, nil
}

// Classify maps an error returned inside a transaction to its outcome.
func Classify(err error) TxOutcome {
	switch {
	case err == nil:
		return TxCommitted
	case IsConflict(err):
		return TxConflict
	default:
		return TxFailed
	}
}

// IsConflict reports whether err is a uniqueness violation or another error
// caused by a concurrent writer.
func IsConflict(err error) bool {
	if errors.Is(err, apperrors.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return true
		}
	}
	return false
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsNoRows reports whether err means a single-row query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the statement surface shared by pooled connections and
// transactions. Repositories only ever talk to a Querier.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope wraps the connection (or open transaction) repositories use for the
// lifetime of one operation.
type Scope struct {
	Conn Querier

	conn *pgxpool.Conn
	tx   pgx.Tx
}

// InTx reports whether the scope is bound to an open transaction.
func (s *Scope) InTx() bool {
	return s.tx != nil
}

// Close releases the pooled connection. Transaction scopes are closed by
// WithinTx and Close is a no-op for them.
func (s *Scope) Close() {
	if s.conn == nil {
		return
	}
	s.conn.Release()
	s.conn = nil
}

// WithScope acquires a connection from the pool.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) WithScope(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn, conn: conn}, nil
}

// ScopedContext returns ctx with a database scope attached. When ctx already
// carries one it is reused and the cleanup function does nothing.
func (db *DB) ScopedContext(ctx context.Context) (context.Context, func(), error) {
	if _, ok := GetScope(ctx); ok {
		return ctx, func() {}, nil
	}
	scope, err := db.WithScope(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}

// Package store is the data access layer for the interactions service.
//
// All state lives in one service database: sellers, interactions, watermarks
// and the auto-reply ledger. A Store can be bound either to the *sql.DB or,
// via WithTx, to an open transaction — ingestion binds one transaction per
// channel run so the run commits or rolls back as a unit.
package store

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the service database.
type Store struct {
	db DBTX
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx. Writes through it are part of the
// caller's transaction.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx}
}

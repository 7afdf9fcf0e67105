// Package pgx implements store.Store on PostgreSQL. Uniqueness rules are
// carried by the schema in internal/db: the fingerprint unique constraint for
// deduplication and a partial unique index for the one-active-session rule.
package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"

	activeSessionIndex = "uniq_processing_sessions_active"
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Store is a store.Store backed by a pgx connection or pool.
type Store struct {
	conn dbConn
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{conn: pool}
}

// NewWithConnection wraps any pgx connection, e.g. a transaction.
func NewWithConnection(conn dbConn) *Store {
	return &Store{conn: conn}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// withTx runs fn in a transaction and commits when fn returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx pgxv5.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// mapError translates driver errors to the ingest sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgxv5.ErrNoRows) {
		return ingest.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeForeignKeyViolation:
			return fmt.Errorf("%w: %s", ingest.ErrNotFound, pgErr.ConstraintName)
		case codeUniqueViolation:
			if pgErr.ConstraintName == activeSessionIndex {
				return ingest.ErrConcurrentSessionExists
			}
		case codeCheckViolation:
			return fmt.Errorf("%w: %s", ingest.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

// Package store provides Postgres-backed persistence for the three tables
// the alert pipeline owns outside of Redis: the audit log, the singleton
// routing configuration row, and troubleshooting guides.
//
// # Design
//
// The store uses raw SQL with pgx, matching the control-plane convention it
// is adapted from: no ORM, hand-written queries, errors wrapped with
// component context.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new store with the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewFromURL creates a new store by connecting to the given database URL.
func NewFromURL(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool returns the underlying connection pool for advanced operations (used
// by the migration runner at startup).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

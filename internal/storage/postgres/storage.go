package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/turntimer/internal/storage"
)

//go:embed schema.sql
var schema string

// Storage is a Postgres-backed implementation of the storage interface.
// Timer locks are row locks taken inside the unit of work's transaction.
type Storage struct {
	pool *pgxpool.Pool
}

// New connects a pool and verifies it
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Storage{pool: pool}, nil
}

// NewWithPool wraps an existing pool
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Migrate creates the tables if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Begin starts a transaction backing the unit of work
func (s *Storage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{tx: tx}, nil
}

// Close closes the pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

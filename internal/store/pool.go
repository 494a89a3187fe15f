// Package store is the only writer to the analytics database. It applies
// upsert-based loads inside transactions that advance the partition
// checkpoint atomically with the data commit.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhealth/gho-ingest/internal/config"
)

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxConns          int32
	TotalConns        int32
	AcquiredConns     int32
	IdleConns         int32
	AcquireCount      int64
	EmptyAcquireCount int64
}

// Store manages a pool of PostgreSQL connections to the analytics database.
type Store struct {
	pool      *pgxpool.Pool
	batchSize int
}

// New creates a connection pool and verifies connectivity.
func New(ctx context.Context, cfg *config.DatabaseConfig, batchSize int) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if batchSize < 1 {
		batchSize = 500
	}

	return &Store{pool: pool, batchSize: batchSize}, nil
}

// Close closes all connections in the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping tests the connection to the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats returns current connection pool statistics.
func (s *Store) Stats() PoolStats {
	stats := s.pool.Stat()
	return PoolStats{
		MaxConns:          stats.MaxConns(),
		TotalConns:        stats.TotalConns(),
		AcquiredConns:     stats.AcquiredConns(),
		IdleConns:         stats.IdleConns(),
		AcquireCount:      stats.AcquireCount(),
		EmptyAcquireCount: stats.EmptyAcquireCount(),
	}
}

// Package postgres is the storage layer: a pgxpool-backed connection pool,
// schema migrations, and one repository per entity-ownership boundary from
// §3, each taking an explicit pgx.Tx so callers control transaction scope.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the shared connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Open parses databaseURL, tunes the pool, connects, and verifies
// reachability before returning.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Health reports whether the pool can still reach the database.
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

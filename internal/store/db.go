// Package store implements Postgres persistence: bars keyed by natural
// key, screening results and runs, the scheduler's daily cycle markers,
// the persistent cache tier, and the screened universe.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/sawpanic/maverick/internal/config"
)

// DB bundles the connection pool with the per-call query timeout.
type DB struct {
	conn    *sqlx.DB
	timeout time.Duration
}

// Open connects, configures the pool, and verifies the connection.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime.Std())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, timeout: cfg.QueryTimeout.Std()}, nil
}

// NewWithConn wraps an existing connection; used by tests with sqlmock.
func NewWithConn(conn *sqlx.DB, timeout time.Duration) *DB {
	return &DB{conn: conn, timeout: timeout}
}

// Close closes the pool.
func (d *DB) Close() error { return d.conn.Close() }

// Health pings the store.
func (d *DB) Health(ctx context.Context) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	return d.conn.PingContext(ctx)
}

// Bars returns the bar repository.
func (d *DB) Bars() *BarRepo { return &BarRepo{db: d} }

// Results returns the screening result repository.
func (d *DB) Results() *ResultRepo { return &ResultRepo{db: d} }

// Runs returns the screening run repository.
func (d *DB) Runs() *RunRepo { return &RunRepo{db: d} }

// Markers returns the scheduler cycle marker repository.
func (d *DB) Markers() *MarkerRepo { return &MarkerRepo{db: d} }

// CacheEntries returns the persistent cache tier repository.
func (d *DB) CacheEntries() *CacheRepo { return &CacheRepo{db: d} }

// Universe returns the screened universe repository.
func (d *DB) Universe() *UniverseRepo { return &UniverseRepo{db: d} }

func (d *DB) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

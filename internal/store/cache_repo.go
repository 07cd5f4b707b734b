package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CacheRepo is the persistent tier of the tiered cache: keyed opaque blobs
// with an expiry. It implements cache.PersistentStore.
type CacheRepo struct {
	db *DB
}

// Get reads an unexpired entry.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	var value []byte
	err := r.db.conn.GetContext(ctx, &value,
		`SELECT value FROM cache_entries WHERE key = $1 AND expires_at > now()`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return value, true, nil
}

// Set upserts an entry; updates are whole-value replacements.
func (r *CacheRepo) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, tier_origin, expires_at)
		VALUES ($1, $2, 'store', $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// DeletePrefix removes every entry under the prefix and reports the count.
func (r *CacheRepo) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache prefix: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpired removes expired rows; run opportunistically by the
// scheduler at the end of a cycle.
func (r *CacheRepo) PurgeExpired(ctx context.Context) (int64, error) {
	ctx, cancel := r.db.opCtx(ctx)
	defer cancel()

	res, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/sawpanic/maverick/internal/metrics"
)

// Tier names, in lookup order.
const (
	TierLocal = "local"
	TierRedis = "redis"
	TierStore = "store"
)

// KeyVersion prefixes every cache key so a format change can be rolled out
// without colliding with old entries.
const KeyVersion = "v1"

// Key builds a namespaced cache key: {version}:{domain}:{operation}:{params...}.
func Key(parts ...string) string {
	return KeyVersion + ":" + strings.Join(parts, ":")
}

// Namespace builds the key prefix for an algorithm or domain, used for
// scoped invalidation.
func Namespace(parts ...string) string {
	return Key(parts...) + ":"
}

// ErrCacheUnavailable marks the distributed tier being unreachable. The
// tiered cache degrades to local+persistent operation on it; it never
// surfaces as a request failure.
var ErrCacheUnavailable = errors.New("distributed cache unavailable")

// Entry is a stored cache row as seen by the persistent tier.
type Entry struct {
	Key        string    `db:"key"`
	Value      []byte    `db:"value"`
	TierOrigin string    `db:"tier_origin"`
	ExpiresAt  time.Time `db:"expires_at"`
}

// PersistentStore is the third tier: keyed blob storage with expiry,
// implemented by the Postgres cache repo.
type PersistentStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// TierStats reports per-tier cache counters.
type TierStats struct {
	Tier      string `json:"tier"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions,omitempty"`
	Entries   int64  `json:"entries,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Errors    int64  `json:"errors,omitempty"`
}

// ComputeFunc produces the value for a missing key. The cache never calls
// the provider chain or screening engine itself; callers pass the recompute
// explicitly so the write path stays visible and testable.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// TieredCache is the three-level read-through/write-through cache. The
// Redis and persistent tiers are optional: a nil client/store simply skips
// that tier, which is also how the cache degrades when Redis is down.
type TieredCache struct {
	local  *LocalCache
	redis  *redis.Client
	store  PersistentStore
	prefix string

	flight singleflight.Group

	redisHits   atomic.Int64
	redisMisses atomic.Int64
	redisErrors atomic.Int64
	storeHits   atomic.Int64
	storeMisses atomic.Int64
}

// Options configures the tiered cache.
type Options struct {
	LocalMaxEntries int
	LocalMaxBytes   int64
	Redis           *redis.Client
	RedisKeyPrefix  string
	Store           PersistentStore
}

// New creates a tiered cache.
func New(opts Options) *TieredCache {
	if opts.LocalMaxEntries == 0 {
		opts.LocalMaxEntries = 4096
	}
	if opts.LocalMaxBytes == 0 {
		opts.LocalMaxBytes = 64 << 20
	}
	return &TieredCache{
		local:  NewLocalCache(opts.LocalMaxEntries, opts.LocalMaxBytes),
		redis:  opts.Redis,
		store:  opts.Store,
		prefix: opts.RedisKeyPrefix,
	}
}

// PurgeExpired drops expired rows from the persistent tier when the store
// supports it. The scheduler calls this at the end of a cycle so the table
// does not accumulate dead entries between invalidations.
func (t *TieredCache) PurgeExpired(ctx context.Context) (int64, error) {
	purger, ok := t.store.(interface {
		PurgeExpired(ctx context.Context) (int64, error)
	})
	if !ok {
		return 0, nil
	}
	return purger.PurgeExpired(ctx)
}

// Get looks the key up tier by tier. A hit at a slower tier is promoted
// into every faster tier before returning. The returned tier names where
// the value was found.
func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, string, bool) {
	if value, ok := t.local.Get(key); ok {
		metrics.CacheRequests.WithLabelValues(TierLocal, "hit").Inc()
		return value, TierLocal, true
	}
	metrics.CacheRequests.WithLabelValues(TierLocal, "miss").Inc()

	if value, ok := t.redisGet(ctx, key); ok {
		metrics.CacheRequests.WithLabelValues(TierRedis, "hit").Inc()
		// Promote with the remaining Redis TTL so tiers expire together.
		ttl := t.redisTTL(ctx, key)
		t.local.Set(key, value, ttl)
		return value, TierRedis, true
	}
	metrics.CacheRequests.WithLabelValues(TierRedis, "miss").Inc()

	if t.store != nil {
		value, ok, err := t.store.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("persistent cache tier read failed")
			return nil, "", false
		}
		if ok {
			t.storeHits.Add(1)
			metrics.CacheRequests.WithLabelValues(TierStore, "hit").Inc()
			ttl := 5 * time.Minute // promotion TTL; store row keeps its own expiry
			t.local.Set(key, value, ttl)
			t.redisSet(ctx, key, value, ttl)
			return value, TierStore, true
		}
		t.storeMisses.Add(1)
		metrics.CacheRequests.WithLabelValues(TierStore, "miss").Inc()
	}

	return nil, "", false
}

// Set writes through all tiers. Tier failures are logged and counted; a
// down Redis never fails the write because the local and persistent tiers
// still hold the value.
func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	t.local.Set(key, value, ttl)
	t.redisSet(ctx, key, value, ttl)

	if t.store != nil {
		if err := t.store.Set(ctx, key, value, time.Now().Add(ttl)); err != nil {
			return fmt.Errorf("persistent cache tier write failed: %w", err)
		}
	}
	return nil
}

// Invalidate removes every entry whose key starts with the prefix, across
// all tiers. Invalidation is scoped: one algorithm's namespace never
// touches another's.
func (t *TieredCache) Invalidate(ctx context.Context, prefix string) error {
	removed := t.local.DeletePrefix(prefix)

	if err := t.redisDeletePrefix(ctx, prefix); err != nil {
		log.Warn().Err(err).Str("prefix", prefix).Msg("redis invalidation failed")
	}

	if t.store != nil {
		n, err := t.store.DeletePrefix(ctx, prefix)
		if err != nil {
			return fmt.Errorf("persistent cache invalidation failed: %w", err)
		}
		removed += int(n)
	}

	log.Debug().Str("prefix", prefix).Int("removed", removed).Msg("cache namespace invalidated")
	return nil
}

// GetOrCompute returns the cached value or computes it exactly once.
// Concurrent callers for the same cold key share the single in-flight
// computation; the per-key flight is released on every exit path, so a
// failed compute never deadlocks future requests.
func (t *TieredCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fn ComputeFunc) ([]byte, error) {
	if value, _, ok := t.Get(ctx, key); ok {
		return value, nil
	}

	result, err, _ := t.flight.Do(key, func() (interface{}, error) {
		// Another caller may have filled the key while we queued.
		if value, _, ok := t.Get(ctx, key); ok {
			return value, nil
		}

		release := t.acquireRecomputeLock(ctx, key, ttl)
		defer release()

		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := t.Set(ctx, key, value, ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("cache write-through failed after compute")
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Stats reports counters for all three tiers.
func (t *TieredCache) Stats() []TierStats {
	return []TierStats{
		t.local.Stats(),
		{Tier: TierRedis, Hits: t.redisHits.Load(), Misses: t.redisMisses.Load(), Errors: t.redisErrors.Load()},
		{Tier: TierStore, Hits: t.storeHits.Load(), Misses: t.storeMisses.Load()},
	}
}

// acquireRecomputeLock takes a best-effort cross-process SETNX guard so
// sibling processes do not all recompute the same key. Single-process
// stampede control is already handled by singleflight; when Redis is
// absent or down this is a no-op.
func (t *TieredCache) acquireRecomputeLock(ctx context.Context, key string, ttl time.Duration) func() {
	if t.redis == nil {
		return func() {}
	}

	lockKey := t.prefix + "lock:" + key
	lockTTL := ttl
	if lockTTL > time.Minute {
		lockTTL = time.Minute
	}

	ok, err := t.redis.SetNX(ctx, lockKey, 1, lockTTL).Result()
	if err != nil || !ok {
		return func() {}
	}
	return func() {
		if err := t.redis.Del(context.Background(), lockKey).Err(); err != nil {
			log.Debug().Err(err).Str("key", lockKey).Msg("recompute lock release failed")
		}
	}
}

func (t *TieredCache) redisGet(ctx context.Context, key string) ([]byte, bool) {
	if t.redis == nil {
		return nil, false
	}

	value, err := t.redis.Get(ctx, t.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			t.redisMisses.Add(1)
		} else {
			t.redisErrors.Add(1)
			log.Warn().Err(err).Str("key", key).Msg("redis tier read failed, degrading")
		}
		return nil, false
	}

	t.redisHits.Add(1)
	return value, true
}

func (t *TieredCache) redisSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if t.redis == nil {
		return
	}
	if err := t.redis.Set(ctx, t.prefix+key, value, ttl).Err(); err != nil {
		t.redisErrors.Add(1)
		log.Warn().Err(err).Str("key", key).Msg("redis tier write failed, degrading")
	}
}

func (t *TieredCache) redisTTL(ctx context.Context, key string) time.Duration {
	if t.redis == nil {
		return 5 * time.Minute
	}
	ttl, err := t.redis.TTL(ctx, t.prefix+key).Result()
	if err != nil || ttl <= 0 {
		return 5 * time.Minute
	}
	return ttl
}

func (t *TieredCache) redisDeletePrefix(ctx context.Context, prefix string) error {
	if t.redis == nil {
		return nil
	}

	match := t.prefix + prefix + "*"
	var cursor uint64
	for {
		keys, next, err := t.redis.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			t.redisErrors.Add(1)
			return fmt.Errorf("%w: scan failed: %v", ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			if err := t.redis.Del(ctx, keys...).Err(); err != nil {
				t.redisErrors.Add(1)
				return fmt.Errorf("%w: delete failed: %v", ErrCacheUnavailable, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

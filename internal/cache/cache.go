// Package cache implements the gateway's two-tier response cache: a
// process-local map for low-latency acceleration and a shared Redis tier
// that is authoritative across processes.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key builds the gateway's cache key scheme for a request.
func Key(method, path, query string) string {
	return fmt.Sprintf("gateway_cache:%s:%s:%s", method, path, query)
}

type localEntry struct {
	value  []byte
	expiry time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return !e.expiry.After(now)
}

// Sealer optionally encrypts/decrypts values stored in the remote tier.
// A nil Sealer leaves remote values in plaintext.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(ciphertext string) ([]byte, error)
}

// Opts configures a Cache.
type Opts struct {
	LocalTTL     time.Duration // default 10s
	RemoteTTL    time.Duration // default 60s (CACHE_TTL)
	MaxLocalSize int           // default 1000
	Sealer       Sealer        // optional, remote tier only
	Logger       *slog.Logger
}

func (o Opts) withDefaults() Opts {
	if o.LocalTTL <= 0 {
		o.LocalTTL = 10 * time.Second
	}
	if o.RemoteTTL <= 0 {
		o.RemoteTTL = 60 * time.Second
	}
	if o.MaxLocalSize <= 0 {
		o.MaxLocalSize = 1000
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Cache is the two-tier response cache described in the data model: a
// mutex-guarded local map backed by a shared Redis tier. Cache errors are
// never fatal to a request — they degrade to a miss.
type Cache struct {
	opts   Opts
	remote *redis.Client

	mu    sync.Mutex
	local map[string]localEntry
}

// New builds a Cache over an already-constructed Redis client. remote may
// be nil, in which case the cache runs local-tier-only (useful for tests).
func New(remote *redis.Client, opts Opts) *Cache {
	return &Cache{
		opts:   opts.withDefaults(),
		remote: remote,
		local:  make(map[string]localEntry),
	}
}

// Get consults the local tier first, then the remote tier on a local miss.
// A remote hit is promoted into the local tier before returning.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.local[key]; ok && !e.expired(now) {
		c.mu.Unlock()
		return e.value, true
	}
	c.mu.Unlock()

	if c.remote == nil {
		return nil, false
	}

	raw, err := c.remote.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.opts.Logger.Warn("cache remote get failed", "key", key, "error", err)
		return nil, false
	}

	value := []byte(raw)
	if c.opts.Sealer != nil {
		value, err = c.opts.Sealer.Open(raw)
		if err != nil {
			c.opts.Logger.Warn("cache remote value decrypt failed", "key", key, "error", err)
			return nil, false
		}
	}

	c.mu.Lock()
	c.local[key] = localEntry{value: value, expiry: now.Add(c.opts.LocalTTL)}
	c.prune(now)
	c.mu.Unlock()

	return value, true
}

// Set writes value to both tiers. The remote write happens outside the
// local-tier lock since it may block on network I/O.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.RemoteTTL
	}

	if c.remote != nil {
		payload := string(value)
		writeRemote := true
		if c.opts.Sealer != nil {
			sealed, err := c.opts.Sealer.Seal(value)
			if err != nil {
				c.opts.Logger.Warn("cache value encrypt failed", "key", key, "error", err)
				writeRemote = false
			} else {
				payload = sealed
			}
		}
		if writeRemote {
			if err := c.remote.Set(ctx, key, payload, ttl).Err(); err != nil {
				c.opts.Logger.Warn("cache remote set failed", "key", key, "error", err)
			}
		}
	}

	localTTL := ttl
	if localTTL > c.opts.LocalTTL {
		localTTL = c.opts.LocalTTL
	}

	now := time.Now()
	c.mu.Lock()
	c.local[key] = localEntry{value: value, expiry: now.Add(localTTL)}
	c.prune(now)
	c.mu.Unlock()
}

// Invalidate deletes every local entry whose key contains prefix, then
// deletes matching remote keys by SCAN. Fire-and-forget from the caller's
// perspective; errors are logged, never returned.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	c.mu.Lock()
	for k := range c.local {
		if strings.Contains(k, prefix) {
			delete(c.local, k)
		}
	}
	c.mu.Unlock()

	if c.remote == nil {
		return
	}

	pattern := "*" + prefix + "*"
	iter := c.remote.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.opts.Logger.Warn("cache remote scan failed", "prefix", prefix, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.remote.Del(ctx, keys...).Err(); err != nil {
		c.opts.Logger.Warn("cache remote delete failed", "prefix", prefix, "error", err)
	}
}

// prune must be called with mu held. It evicts expired entries first; if
// the map is still over MaxLocalSize, it evicts the earliest-expiring
// entries until back at the cap.
func (c *Cache) prune(now time.Time) {
	if len(c.local) <= c.opts.MaxLocalSize {
		return
	}

	for k, e := range c.local {
		if e.expired(now) {
			delete(c.local, k)
		}
	}

	for len(c.local) > c.opts.MaxLocalSize {
		var oldestKey string
		var oldestExpiry time.Time
		first := true
		for k, e := range c.local {
			if first || e.expiry.Before(oldestExpiry) {
				oldestKey = k
				oldestExpiry = e.expiry
				first = false
			}
		}
		delete(c.local, oldestKey)
	}
}

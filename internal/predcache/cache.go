// Package predcache caches per-domain predictions keyed by the exact
// input that produced them. Expiry is lazy: entries are checked and
// dropped at read time, never by a background sweeper.
package predcache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/health-analytics-server/internal/domain"
)

type entry struct {
	Prediction *domain.Prediction `json:"prediction"`
	ExpiresAt  time.Time          `json:"expires_at"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

// Cache is the prediction cache. The in-memory tier is size-bounded by
// LRU; the optional Redis tier shares entries across instances and is
// consulted only on a memory miss.
type Cache struct {
	logger  *logrus.Logger
	cfg     domain.CacheConfig
	entries *lru.Cache[string, entry]
	rdb     *redis.Client

	now func() time.Time

	mu        sync.Mutex
	hits      uint64
	misses    uint64
	evictions uint64
}

// New builds the cache from configuration. A Redis URL that fails to
// parse is an error; an unreachable Redis is tolerated at runtime and
// degrades the cache to memory-only behavior per call.
func New(logger *logrus.Logger, cfg domain.CacheConfig) (*Cache, error) {
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	entries, err := lru.New[string, entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("creating lru cache: %w", err)
	}

	c := &Cache{
		logger:  logger,
		cfg:     cfg,
		entries: entries,
		now:     time.Now,
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		c.rdb = redis.NewClient(opts)
		logger.Info("Prediction cache redis tier enabled")
	}

	return c, nil
}

// Key derives the cache key from the domain and the exact request
// payload. Two requests collide only when both match.
func Key(d domain.Domain, payload any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(append([]byte(d+":"), raw...))
	return fmt.Sprintf("pred:%s:%x", d, sum)
}

// Get returns the cached prediction for key, if present and fresh. An
// expired entry is evicted on this read.
func (c *Cache) Get(ctx context.Context, key string) (*domain.Prediction, bool) {
	if e, ok := c.entries.Get(key); ok {
		if c.now().Before(e.ExpiresAt) {
			c.count(&c.hits)
			return e.Prediction, true
		}
		c.entries.Remove(key)
		c.count(&c.evictions)
	}

	if c.rdb != nil {
		if pred, ok := c.getRedis(ctx, key); ok {
			c.count(&c.hits)
			return pred, true
		}
	}

	c.count(&c.misses)
	return nil, false
}

// Put stores a prediction under key with the domain's TTL. Zero and
// negative TTLs disable caching for the domain.
func (c *Cache) Put(ctx context.Context, d domain.Domain, key string, pred *domain.Prediction) {
	ttl := c.cfg.TTL(d)
	if ttl <= 0 {
		return
	}

	e := entry{Prediction: pred, ExpiresAt: c.now().Add(ttl)}
	c.entries.Add(key, e)

	if c.rdb != nil {
		raw, err := json.Marshal(e)
		if err == nil {
			if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
				c.logger.WithError(err).Debug("Redis cache write failed")
			}
		}
	}
}

func (c *Cache) getRedis(ctx context.Context, key string) (*domain.Prediction, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debug("Redis cache read failed")
		}
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false
	}
	if !c.now().Before(e.ExpiresAt) {
		return nil, false
	}

	// Refill the memory tier so the next read is local.
	c.entries.Add(key, e)
	return e.Prediction, true
}

// Clear drops every entry from the memory tier and, when configured,
// the Redis tier.
func (c *Cache) Clear(ctx context.Context) {
	c.entries.Purge()
	if c.rdb != nil {
		if err := c.rdb.FlushDB(ctx).Err(); err != nil {
			c.logger.WithError(err).Debug("Redis cache flush failed")
		}
	}

	c.mu.Lock()
	c.hits, c.misses, c.evictions = 0, 0, 0
	c.mu.Unlock()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.entries.Len(),
	}
}

func (c *Cache) count(field *uint64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

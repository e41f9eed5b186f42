// Package cache caches query results in Redis. Keys embed the index epoch
// and generation, so any change to the index, a rebuild request or a restart
// makes older entries unreachable and they expire on their TTL; nothing is
// invalidated explicitly.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/internal/query"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/resilience"
)

const keyPrefix = "iix:q:"

// Store is the byte store behind the cache. *pkgredis.Client satisfies it;
// a missing key must be reported with an error matched by
// pkgredis.IsNilError.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Version identifies the index state a result was computed from.
type Version struct {
	Epoch      string
	Generation uint64
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	breaker *resilience.Breaker
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64

	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
}

func New(store Store, ttl time.Duration) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: resilience.NewBreaker("redis-cache", resilience.BreakerConfig{}),
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// GetOrCompute returns the cached result for plan at version, computing
// and storing it on a miss. Concurrent misses for the same key compute once.
// Redis failures degrade to computing without the cache.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	version Version,
	plan *query.Plan,
	computeFn func() (*query.Result, error),
) (*query.Result, bool, error) {
	key := buildKey(version, plan)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*query.Result), false, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*query.Result, bool) {
	var data []byte
	err := c.breaker.Do(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		c.logger.Warn("cache get failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	if data == nil {
		c.recordMiss()
		return nil, false
	}
	var result query.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.recordHit()
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *query.Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Instrument mirrors hits and misses into Prometheus counters.
func (c *QueryCache) Instrument(hits, misses prometheus.Counter) {
	c.hitCounter = hits
	c.missCounter = misses
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.hitCounter != nil {
		c.hitCounter.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.missCounter != nil {
		c.missCounter.Inc()
	}
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(v Version, plan *query.Plan) string {
	hash := sha256.Sum256([]byte(plan.Key()))
	return fmt.Sprintf("%s%s:%d:%x", keyPrefix, v.Epoch, v.Generation, hash[:16])
}

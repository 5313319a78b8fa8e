package position

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis key prefixes for the position snapshot mirror.
const (
	positionKeyPrefix = "spotcore:position"
	positionListKey    = "spotcore:positions:list"
	positionStateTTL   = 7 * 24 * time.Hour
)

// RedisCache is a best-effort mirror of open-position snapshots in Redis,
// used to warm-resume open positions across a restart. It falls back to
// an in-memory-only cache when Redis is unreachable: an atomic
// availability flag flips off on the first failed round-trip and every
// later call degrades gracefully instead of erroring.
type RedisCache struct {
	client    *redis.Client
	log       zerolog.Logger
	available atomic.Bool

	mu      sync.RWMutex
	inMemory map[string]Position // key = position ID
}

// NewRedisCache returns a cache backed by client. If client is nil, or an
// initial ping fails, the cache operates in memory-only mode and every
// subsequent call degrades gracefully rather than erroring.
func NewRedisCache(client *redis.Client, log zerolog.Logger) *RedisCache {
	c := &RedisCache{
		client:   client,
		log:      log.With().Str("component", "position.RedisCache").Logger(),
		inMemory: make(map[string]Position),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			c.log.Warn().Err(err).Msg("redis unavailable at startup, using in-memory cache")
			c.available.Store(false)
		} else {
			c.available.Store(true)
		}
	}
	return c
}

func (c *RedisCache) key(id string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, id)
}

// SavePosition mirrors a position snapshot, always updating the in-memory
// fallback and best-effort pushing to Redis when available.
func (c *RedisCache) SavePosition(p Position) {
	c.mu.Lock()
	c.inMemory[p.ID] = p
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(p)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to marshal position snapshot")
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(p.ID), data, positionStateTTL)
	pipe.SAdd(ctx, positionListKey, p.ID)
	pipe.Expire(ctx, positionListKey, positionStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to mirror position to redis, in-memory cache still authoritative")
		c.available.Store(false)
	}
}

// DeletePosition removes a position snapshot from both the in-memory
// fallback and Redis.
func (c *RedisCache) DeletePosition(id string) {
	c.mu.Lock()
	delete(c.inMemory, id)
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, c.key(id))
	pipe.SRem(ctx, positionListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Msg("failed to delete mirrored position from redis")
		c.available.Store(false)
	}
}

// LoadAll loads every mirrored position snapshot, preferring Redis when
// available and falling back to the in-memory cache otherwise.
func (c *RedisCache) LoadAll() []Position {
	if c.client != nil && c.available.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		ids, err := c.client.SMembers(ctx, positionListKey).Result()
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to read position list from redis, using in-memory cache")
			c.available.Store(false)
			return c.loadAllFromMemory()
		}

		out := make([]Position, 0, len(ids))
		for _, id := range ids {
			data, err := c.client.Get(ctx, c.key(id)).Result()
			if err != nil {
				continue
			}
			var p Position
			if err := json.Unmarshal([]byte(data), &p); err != nil {
				continue
			}
			out = append(out, p)
		}
		return out
	}

	return c.loadAllFromMemory()
}

func (c *RedisCache) loadAllFromMemory() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, 0, len(c.inMemory))
	for _, p := range c.inMemory {
		out = append(out, p)
	}
	return out
}

// IsAvailable reports whether Redis is currently reachable.
func (c *RedisCache) IsAvailable() bool {
	return c.available.Load()
}

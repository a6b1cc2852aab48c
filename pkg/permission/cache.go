package permission

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aquiline/gatehouse/pkg/rbac"
)

// CacheKey identifies a cached resolution result.
type CacheKey struct {
	PrincipalID   string
	ReferenceType rbac.Scope
	ReferenceID   string
}

func (k CacheKey) String() string {
	return k.PrincipalID + "|" + string(k.ReferenceType) + "|" + k.ReferenceID
}

// Cache stores resolved permission sets. Resolution correctness never depends
// on it: entries are TTL-bounded and invalidated per principal on membership
// mutation.
type Cache interface {
	Get(ctx context.Context, key CacheKey) (Set, bool)
	Set(ctx context.Context, key CacheKey, set Set)
	Invalidate(ctx context.Context, principalID string)
}

// LRUCache is an in-process TTL-bounded LRU cache.
type LRUCache struct {
	lru *expirable.LRU[string, Set]
}

// NewLRUCache creates an in-process cache holding up to size entries, each
// expiring after ttl.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: expirable.NewLRU[string, Set](size, nil, ttl)}
}

func (c *LRUCache) Get(ctx context.Context, key CacheKey) (Set, bool) {
	return c.lru.Get(key.String())
}

func (c *LRUCache) Set(ctx context.Context, key CacheKey, set Set) {
	c.lru.Add(key.String(), set)
}

func (c *LRUCache) Invalidate(ctx context.Context, principalID string) {
	prefix := principalID + "|"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

// RedisCache shares resolved permission sets across processes.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

const redisKeyPrefix = "gatehouse:perm:"

// NewRedisCache creates a Redis-backed cache with the given entry TTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) redisKey(key CacheKey) string {
	return redisKeyPrefix + key.PrincipalID + ":" + string(key.ReferenceType) + ":" + key.ReferenceID
}

func (c *RedisCache) Get(ctx context.Context, key CacheKey) (Set, bool) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, false
	}
	return set, true
}

func (c *RedisCache) Set(ctx context.Context, key CacheKey, set Set) {
	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.redisKey(key), data, c.ttl)
}

func (c *RedisCache) Invalidate(ctx context.Context, principalID string) {
	pattern := redisKeyPrefix + principalID + ":*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			c.client.Del(ctx, keys...)
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

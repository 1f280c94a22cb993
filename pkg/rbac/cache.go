package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// PermissionCache stores the role-derived permission set of a user. Entries
// are bounded by the cache's own ttl; readers check PermissionSet.ValidUntil
// against their clock before trusting a hit.
type PermissionCache interface {
	Get(ctx context.Context, userID string) (*PermissionSet, bool)
	Set(ctx context.Context, userID string, set *PermissionSet)
	Invalidate(ctx context.Context, userID string)
	Purge(ctx context.Context)
}

// LRUCache is an in-process cache with per-entry expiry
type LRUCache struct {
	lru *lru.LRU[string, *PermissionSet]
}

// NewLRUCache creates an LRU cache holding up to size users for ttl
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	return &LRUCache{lru: lru.NewLRU[string, *PermissionSet](size, nil, ttl)}
}

func (c *LRUCache) Get(_ context.Context, userID string) (*PermissionSet, bool) {
	set, ok := c.lru.Get(userID)
	if !ok {
		return nil, false
	}
	return set.clone(), true
}

func (c *LRUCache) Set(_ context.Context, userID string, set *PermissionSet) {
	c.lru.Add(userID, set.clone())
}

func (c *LRUCache) Invalidate(_ context.Context, userID string) {
	c.lru.Remove(userID)
}

func (c *LRUCache) Purge(_ context.Context) {
	c.lru.Purge()
}

// Len returns the number of cached users
func (c *LRUCache) Len() int {
	return c.lru.Len()
}

// RedisConfig holds redis connection settings
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// NewRedisClient connects to redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisCache shares permission sets between instances. Redis errors are
// logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedisCache creates a redis-backed cache. Keys are "<prefix>perms:<user>".
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, log logrus.FieldLogger) *RedisCache {
	if log == nil {
		log = logrus.New()
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, log: log}
}

func (c *RedisCache) key(userID string) string {
	return fmt.Sprintf("%sperms:%s", c.prefix, userID)
}

func (c *RedisCache) Get(ctx context.Context, userID string) (*PermissionSet, bool) {
	key := c.key(userID)
	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		c.log.WithError(err).Warn("redis get failed")
		return nil, false
	}

	var set PermissionSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		c.client.Del(ctx, key)
		return nil, false
	}
	return &set, true
}

// Set stores set for the cache ttl, or until set.ValidUntil when that is sooner
func (c *RedisCache) Set(ctx context.Context, userID string, set *PermissionSet) {
	ttl := c.ttl
	if set.ValidUntil != nil {
		if until := time.Until(*set.ValidUntil); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(set)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		c.log.WithError(err).Warn("redis set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.log.WithError(err).Warn("redis delete failed")
	}
}

// Purge removes every key under the prefix using SCAN
func (c *RedisCache) Purge(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"perms:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.WithError(err).WithField("key", iter.Val()).Warn("redis delete failed")
		}
	}
	if err := iter.Err(); err != nil {
		c.log.WithError(err).Warn("redis scan failed")
	}
}

// TieredCache reads through an ordered list of caches, back-filling the
// faster tiers on a hit in a slower one
type TieredCache struct {
	tiers []PermissionCache
}

// NewTieredCache creates a cache over tiers, fastest first. Nil tiers are skipped.
func NewTieredCache(tiers ...PermissionCache) *TieredCache {
	t := &TieredCache{}
	for _, c := range tiers {
		if c != nil {
			t.tiers = append(t.tiers, c)
		}
	}
	return t
}

func (t *TieredCache) Get(ctx context.Context, userID string) (*PermissionSet, bool) {
	for i, c := range t.tiers {
		if set, ok := c.Get(ctx, userID); ok {
			for j := 0; j < i; j++ {
				t.tiers[j].Set(ctx, userID, set)
			}
			return set, true
		}
	}
	return nil, false
}

func (t *TieredCache) Set(ctx context.Context, userID string, set *PermissionSet) {
	for _, c := range t.tiers {
		c.Set(ctx, userID, set)
	}
}

func (t *TieredCache) Invalidate(ctx context.Context, userID string) {
	for _, c := range t.tiers {
		c.Invalidate(ctx, userID)
	}
}

func (t *TieredCache) Purge(ctx context.Context) {
	for _, c := range t.tiers {
		c.Purge(ctx)
	}
}

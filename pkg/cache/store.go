package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss indicates the requested key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Store reads and writes raw response bodies against the Redis backend.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new store with a Redis backend.
func NewStore(redisClient *redis.Client) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis: redisClient,
	}
}

// Get retrieves the raw cached body for a full request URL.
// Returns ErrCacheMiss if the key doesn't exist or has expired.
func (s *Store) Get(ctx context.Context, fullURL string) ([]byte, error) {
	data, err := s.redis.Get(ctx, fullURL).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	CacheHits.WithLabelValues("redis").Inc()
	CacheSize.WithLabelValues("redis").Add(float64(len(data)))

	return data, nil
}

// Set stores a raw response body under the full request URL.
// Expiry is delegated to Redis; the key vanishes when the TTL elapses.
func (s *Store) Set(ctx context.Context, fullURL string, body []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	if err := s.redis.Set(ctx, fullURL, body, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues("redis").Add(float64(len(body)))

	return nil
}

// Delete removes a cached body.
func (s *Store) Delete(ctx context.Context, fullURL string) error {
	if err := s.redis.Del(ctx, fullURL).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Cache combines the compiled rules with the Redis-backed store.
// It is the unit the dispatcher and the proxy consume.
type Cache struct {
	rules *Rules
	store *Store
}

// New creates a Cache from compiled rules and a store.
func New(rules *Rules, store *Store) *Cache {
	return &Cache{rules: rules, store: store}
}

// Match reports cacheability and TTL for a request. See Rules.Match.
func (c *Cache) Match(fullURL, method string) (time.Duration, bool) {
	if c == nil {
		return 0, false
	}
	return c.rules.Match(fullURL, method)
}

// Get retrieves the cached body for a URL.
func (c *Cache) Get(ctx context.Context, fullURL string) ([]byte, error) {
	return c.store.Get(ctx, fullURL)
}

// Set writes a response body for a URL with the rule's TTL.
func (c *Cache) Set(ctx context.Context, fullURL string, body []byte, ttl time.Duration) error {
	return c.store.Set(ctx, fullURL, body, ttl)
}

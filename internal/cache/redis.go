package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pulseboard/pulseboard/internal/core"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists entries as single JSON documents with no expiry. A SET
// replaces the whole value atomically, so readers never observe a
// half-written entry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) *RedisStore {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	return &RedisStore{client: redis.NewClient(opt)}
}

// NewRedisStoreWithClient wraps an existing client, mainly for tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, tenantSlug, subjectSlug, rangeName string) (*core.CacheEntry, error) {
	data, err := s.client.Get(ctx, Key(tenantSlug, subjectSlug, rangeName)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var entry core.CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	return &entry, nil
}

func (s *RedisStore) Put(ctx context.Context, tenantSlug, subjectSlug, rangeName string, entry *core.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	if err := s.client.Set(ctx, Key(tenantSlug, subjectSlug, rangeName), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, tenantSlug, subjectSlug, rangeName string) error {
	if err := s.client.Del(ctx, Key(tenantSlug, subjectSlug, rangeName)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

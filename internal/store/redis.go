package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"session-service/internal/client"
)

const sessionStatePrefix = "session_state:"

// RedisStore is a DurableStore over Redis, used when agent processes share a
// Redis instance instead of a local state file. Keys carry a TTL slightly
// above the absolute timeout so abandoned sessions cannot outlive it.
type RedisStore struct {
	client    *client.RedisClient
	partition string
	ttl       time.Duration
}

func NewRedisStore(rc *client.RedisClient, partition string, absoluteTimeout time.Duration) *RedisStore {
	return &RedisStore{
		client:    rc,
		partition: partition,
		ttl:       absoluteTimeout + time.Hour,
	}
}

func (s *RedisStore) key(key string) string {
	return sessionStatePrefix + s.partition + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	value, err := s.client.Get(ctx, s.key(key))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read session key %s: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, s.ttl); err != nil {
		return fmt.Errorf("failed to write session key %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = s.key(key)
	}
	if err := s.client.Del(ctx, prefixed...); err != nil {
		return fmt.Errorf("failed to clear session keys: %w", err)
	}
	return nil
}

package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers request keys for a bounded window so a retried
// booking request cannot create a second appointment. Keys live in Redis
// with an explicit TTL rather than in a process-lifetime map.
type IdempotencyStore interface {
	// Reserve claims the key. It returns false when the key was already
	// claimed inside the TTL window.
	Reserve(ctx context.Context, key string) (bool, error)

	// Release frees a reserved key. Callers release after a failed
	// booking so the client's retry is not rejected as a duplicate.
	Release(ctx context.Context, key string) error
}

type redisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) IdempotencyStore {
	return &redisIdempotencyStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *redisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, "idem:booking:"+key, "1", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *redisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, "idem:booking:"+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Package idempotency remembers request idempotency keys in Redis, mapping
// each key to the ID first reserved under it, so a retried request can be
// recognised and answered with the result it already produced, grounded on
// the teacher's internal/pkg/cache Redis wrapper.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/google/uuid"
)

// TTL bounds how long a key is remembered; once it expires, a retry with
// the same key is treated as a new request.
const TTL = 10 * time.Minute

// Cache is the idempotency-key capability.
type Cache interface {
	// Reserve returns (existing correlation ID, true) if key was already
	// seen, or records key against correlationID and returns (_, false).
	Reserve(ctx context.Context, key string, correlationID uuid.UUID) (uuid.UUID, bool, error)
}

type redisCache struct {
	client      *redis.Client
	serviceName string
}

func NewRedisCache(addr, serviceName string) Cache {
	return &redisCache{client: redis.NewClient(&redis.Options{Addr: addr}), serviceName: serviceName}
}

func (r *redisCache) key(k string) string {
	return fmt.Sprintf("%s:idempotency:%s", r.serviceName, k)
}

func (r *redisCache) Reserve(ctx context.Context, key string, correlationID uuid.UUID) (uuid.UUID, bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), correlationID.String(), TTL).Result()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency: reserve %s: %w", key, err)
	}
	if ok {
		return uuid.Nil, false, nil
	}
	existing, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency: read existing %s: %w", key, err)
	}
	id, err := uuid.Parse(existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("idempotency: parse cached correlation id: %w", err)
	}
	return id, true, nil
}

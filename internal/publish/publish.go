// Package publish implements the fire-and-forget domain event sink
// (spec.md §6): a Redis Pub/Sub publisher never awaited as part of saga
// completion, grounded on the teacher's internal/pkg/cache Redis wrapper.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Topic names the fixed set of domain events the sink carries (spec.md §6).
type Topic string

const (
	TopicEscrowReleased       Topic = "escrow:released"
	TopicEscrowDispute        Topic = "escrow:dispute"
	TopicEscrowApprovalAdded  Topic = "escrow:approval-added"
	TopicInsurancePurchased   Topic = "insurance:purchased"
	TopicInsuranceClaimFiled  Topic = "insurance:claim-filed"
	TopicInsuranceClaimApprov Topic = "insurance:claim-approved"
)

// Sink is the publish capability every component depends on. Implementations
// must not block the caller past a best-effort attempt; a saga never awaits
// delivery.
type Sink interface {
	Publish(ctx context.Context, topic Topic, payload map[string]any)
}

// RedisSink publishes to a Redis Pub/Sub channel per topic.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(addr string) *RedisSink {
	return &RedisSink{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Publish marshals payload to JSON and fires a PUBLISH, logging but never
// returning an error — the sink is explicitly fire-and-forget.
func (s *RedisSink) Publish(ctx context.Context, topic Topic, payload map[string]any) {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "publish: marshal payload failed", "topic", topic, "error", err)
		return
	}
	if err := s.client.Publish(ctx, string(topic), b).Err(); err != nil {
		slog.ErrorContext(ctx, "publish: redis publish failed", "topic", topic, "error", err)
	}
}

// NopSink discards every event. Used by tests and by cmd/torcd when
// TORC_REDIS_ADDR is unset.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, topic Topic, payload map[string]any) {}

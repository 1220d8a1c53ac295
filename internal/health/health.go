// Package health aggregates an operational snapshot computed on demand
// from the Store: DLQ depth and the number of pending compensation actions.
// Pipeline success rate, stuck saga count and average processing time are
// not computed.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jcmexdev/torc/internal/store"
)

// Aggregator computes and persists HealthMetric snapshots.
type Aggregator struct {
	store store.Store
}

func New(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Snapshot is the on-demand aggregated view: DLQ depth and pending
// compensation count at RecordedAt.
type Snapshot struct {
	DLQDepth         int
	PendingCompCount int
	RecordedAt       time.Time
}

// Collect recomputes the snapshot and persists each metric row so History
// callers (and the healthapi surface) can chart them over time.
func (a *Aggregator) Collect(ctx context.Context) (Snapshot, error) {
	now := time.Now().UTC()
	snap := Snapshot{RecordedAt: now}

	dlqDepth, err := a.store.CountDLQ(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("health: count dlq: %w", err)
	}
	snap.DLQDepth = dlqDepth

	pending, err := a.store.ListPendingCompensations(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("health: list pending compensations: %w", err)
	}
	snap.PendingCompCount = len(pending)

	if err := a.store.InsertHealthMetric(ctx, store.HealthMetric{
		MetricType: store.MetricDLQSize, MetricName: "dlq_depth", MetricValue: float64(dlqDepth), RecordedAt: now,
	}); err != nil {
		return Snapshot{}, fmt.Errorf("health: record dlq metric: %w", err)
	}
	if err := a.store.InsertHealthMetric(ctx, store.HealthMetric{
		MetricType: store.MetricCompensationRate, MetricName: "pending_compensation_count", MetricValue: float64(len(pending)), RecordedAt: now,
	}); err != nil {
		return Snapshot{}, fmt.Errorf("health: record compensation metric: %w", err)
	}

	return snap, nil
}

// History returns recent samples of one metric type.
func (a *Aggregator) History(ctx context.Context, mt store.MetricType, limit int) ([]store.HealthMetric, error) {
	return a.store.ListHealthMetrics(ctx, mt, limit)
}

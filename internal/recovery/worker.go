package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/saga"
	"github.com/jcmexdev/torc/internal/store"
)

// Worker drives the three scheduled loops spec.md §4.2 and §5 name: the
// recovery tick, the stuck-saga scan, and the DLQ-size sampler.
type Worker struct {
	pipeline *Pipeline
	sagas    *saga.Manager
	store    store.Store
	cfg      config.SchedulerConfig
}

func NewWorker(p *Pipeline, sagas *saga.Manager, st store.Store, cfg config.SchedulerConfig) *Worker {
	return &Worker{pipeline: p, sagas: sagas, store: st, cfg: cfg}
}

// Run blocks until ctx is cancelled, ticking each loop at its configured
// cadence. Graceful shutdown: each loop finishes its current unit of work
// before observing ctx.Done (spec.md §5).
func (w *Worker) Run(ctx context.Context) {
	recoveryTicker := time.NewTicker(w.cfg.RecoveryTickInterval)
	stuckTicker := time.NewTicker(w.cfg.StuckScanInterval)
	dlqTicker := time.NewTicker(w.cfg.DLQSampleInterval)
	defer recoveryTicker.Stop()
	defer stuckTicker.Stop()
	defer dlqTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("recovery worker shutting down")
			return
		case <-recoveryTicker.C:
			if err := w.pipeline.Tick(ctx); err != nil {
				slog.ErrorContext(ctx, "recovery tick failed", "error", err)
			}
		case <-stuckTicker.C:
			w.scanStuck(ctx)
		case <-dlqTicker.C:
			w.sampleDLQ(ctx)
		}
	}
}

func (w *Worker) scanStuck(ctx context.Context) {
	stuck, err := w.sagas.Stuck(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "stuck saga scan failed", "error", err)
		return
	}
	if len(stuck) == 0 {
		return
	}
	slog.WarnContext(ctx, "stuck sagas detected", "count", len(stuck))
	if err := w.store.InsertHealthMetric(ctx, store.HealthMetric{
		MetricType:  store.MetricStuckTransactions,
		MetricName:  "stuck_saga_count",
		MetricValue: float64(len(stuck)),
	}); err != nil {
		slog.ErrorContext(ctx, "record stuck saga metric failed", "error", err)
	}
}

func (w *Worker) sampleDLQ(ctx context.Context) {
	n, err := w.store.CountDLQ(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "dlq sample failed", "error", err)
		return
	}
	if err := w.store.InsertHealthMetric(ctx, store.HealthMetric{
		MetricType:  store.MetricDLQSize,
		MetricName:  "dlq_depth",
		MetricValue: float64(n),
	}); err != nil {
		slog.ErrorContext(ctx, "record dlq metric failed", "error", err)
	}
}

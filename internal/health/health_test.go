package health

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCollectReportsCountsAndPersistsMetrics(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	dlqID, compID := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{dlqID, compID} {
		if err := st.InsertSaga(ctx, store.Saga{
			CorrelationID: id, OperationType: store.OpEscrowRelease,
			EntityType: "invoice", EntityID: id.String(), CurrentState: store.SagaDLQ,
		}); err != nil {
			t.Fatalf("InsertSaga: %v", err)
		}
	}

	if err := st.InsertDLQ(ctx, store.DLQEntry{
		CorrelationID:        dlqID,
		OperationType:        store.OpEscrowRelease,
		FailureReason:        "ledger unavailable",
		RequiresCompensation: true,
		CompensationStatus:   store.CompensationPending,
	}); err != nil {
		t.Fatalf("InsertDLQ: %v", err)
	}
	if err := st.InsertCompensation(ctx, store.CompensationAction{
		CorrelationID: compID,
		ActionType:    "escrow_release_refund",
		Status:        store.CompensationPending,
	}); err != nil {
		t.Fatalf("InsertCompensation: %v", err)
	}

	agg := New(st)
	snap, err := agg.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.DLQDepth != 1 {
		t.Fatalf("expected dlq depth 1, got %d", snap.DLQDepth)
	}
	if snap.PendingCompCount != 1 {
		t.Fatalf("expected 1 pending compensation, got %d", snap.PendingCompCount)
	}

	dlqHistory, err := agg.History(ctx, store.MetricDLQSize, 10)
	if err != nil {
		t.Fatalf("History(dlq_size): %v", err)
	}
	if len(dlqHistory) != 1 || dlqHistory[0].MetricValue != 1 {
		t.Fatalf("expected one dlq_size sample of 1, got %+v", dlqHistory)
	}

	compHistory, err := agg.History(ctx, store.MetricCompensationRate, 10)
	if err != nil {
		t.Fatalf("History(compensation_rate): %v", err)
	}
	if len(compHistory) != 1 || compHistory[0].MetricValue != 1 {
		t.Fatalf("expected one compensation_rate sample of 1, got %+v", compHistory)
	}
}

func TestCollectReportsZeroOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	agg := New(newTestStore(t))

	snap, err := agg.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.DLQDepth != 0 || snap.PendingCompCount != 0 {
		t.Fatalf("expected zero counts on an empty store, got %+v", snap)
	}
}

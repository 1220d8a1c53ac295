package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/saga"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/store/sqlite"
	"github.com/jcmexdev/torc/internal/torcerr"
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

// scriptedHandler fails the first n-1 calls with a retryable error, then
// succeeds, tracking how many times it ran.
type scriptedHandler struct {
	failures int
	calls    int
	kind     torcerr.Kind
	steps    []string
}

func (h *scriptedHandler) Retry(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) ([]string, error) {
	h.calls++
	if h.calls <= h.failures {
		return nil, torcerr.New(h.kind, "scriptedHandler.Retry", errors.New("simulated failure"))
	}
	return h.steps, nil
}

func TestTickConvergesAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sagas := saga.New(st)
	registry := NewRegistry()
	handler := &scriptedHandler{failures: 2, kind: torcerr.TransientLedgerError, steps: []string{StepBlockchainTx, StepDBUpdate}}
	registry.Register(store.OpEscrowRelease, handler)

	cfg := config.Default()
	pipe := New(st, sagas, registry, cfg)

	id, err := sagas.Begin(ctx, store.OpEscrowRelease, "invoice", "inv-1", []string{StepBlockchainTx, StepDBUpdate}, nil, "tester", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := sagas.Advance(ctx, id, store.SagaProcessing, saga.AdvanceOpts{}); err != nil {
		t.Fatalf("advance to processing: %v", err)
	}
	if err := sagas.Advance(ctx, id, store.SagaFailed, saga.AdvanceOpts{}); err != nil {
		t.Fatalf("advance to failed: %v", err)
	}
	if err := pipe.Enqueue(ctx, id, store.OpEscrowRelease, nil, 0, "initial failure"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for round := 0; round < 3; round++ {
		entry, err := st.GetRecovery(ctx, id)
		if err != nil {
			t.Fatalf("round %d: GetRecovery: %v", round, err)
		}
		entry.NextRetryAt = time.Now().UTC().Add(-time.Minute)
		entry.Status = store.RecoveryPending
		if err := st.UpsertRecovery(ctx, entry); err != nil {
			t.Fatalf("round %d: force claimable: %v", round, err)
		}
		if err := pipe.Tick(ctx); err != nil {
			t.Fatalf("round %d: Tick: %v", round, err)
		}
	}

	if handler.calls != 3 {
		t.Fatalf("expected 3 handler calls (2 failures + 1 success), got %d", handler.calls)
	}

	sg, err := sagas.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if sg.CurrentState != store.SagaCompleted {
		t.Fatalf("expected completed after convergence, got %s", sg.CurrentState)
	}
	if _, err := st.GetRecovery(ctx, id); err != store.ErrNotFound {
		t.Fatalf("expected recovery row deleted after completion, got %v", err)
	}
}

// TestMaxRetriesPromotesToDLQWithCompensation exercises scenario S3: a
// saga whose steps_completed includes the externally-visible blockchain
// step exhausts max_retries and is promoted to the DLQ with a pending
// compensation action.
func TestMaxRetriesPromotesToDLQWithCompensation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sagas := saga.New(st)
	registry := NewRegistry()
	handler := &scriptedHandler{failures: 1000, kind: torcerr.TransientLedgerError}
	registry.Register(store.OpEscrowRelease, handler)

	cfg := config.Default()
	cfg.RecoveryMaxRetries = 2
	pipe := New(st, sagas, registry, cfg)

	id, err := sagas.Begin(ctx, store.OpEscrowRelease, "invoice", "inv-2", []string{StepDBUpdate}, nil, "tester", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := sagas.Advance(ctx, id, store.SagaProcessing, saga.AdvanceOpts{}); err != nil {
		t.Fatalf("advance to processing: %v", err)
	}
	if err := sagas.Advance(ctx, id, store.SagaFailed, saga.AdvanceOpts{
		StepsCompleted: []string{StepBlockchainTx},
		StepsRemaining: []string{StepDBUpdate},
	}); err != nil {
		t.Fatalf("advance to failed: %v", err)
	}
	if err := pipe.Enqueue(ctx, id, store.OpEscrowRelease, nil, 0, "initial failure"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for round := 0; round < 3; round++ {
		entry, err := st.GetRecovery(ctx, id)
		if err != nil {
			// once promoted to DLQ the row is deleted; stop early.
			break
		}
		entry.NextRetryAt = time.Now().UTC().Add(-time.Minute)
		entry.Status = store.RecoveryPending
		if err := st.UpsertRecovery(ctx, entry); err != nil {
			t.Fatalf("round %d: force claimable: %v", round, err)
		}
		if err := pipe.Tick(ctx); err != nil {
			t.Fatalf("round %d: Tick: %v", round, err)
		}
	}

	sg, err := sagas.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if sg.CurrentState != store.SagaDLQ {
		t.Fatalf("expected dlq after exhausting retries, got %s", sg.CurrentState)
	}

	dlq, err := st.GetDLQ(ctx, id)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if !dlq.RequiresCompensation {
		t.Fatal("expected requires_compensation=true: BLOCKCHAIN_TX was already completed")
	}

	pending, err := st.ListPendingCompensations(ctx)
	if err != nil {
		t.Fatalf("ListPendingCompensations: %v", err)
	}
	found := false
	for _, c := range pending {
		if c.CorrelationID == id {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a pending compensation action for the DLQ'd saga")
	}
}

// TestPermanentFailureSkipsDLQWithoutCompensation exercises spec.md §7's
// policy table: a non-retryable error on a saga with no externally
// visible completed step fails terminally without ever reaching the DLQ.
func TestPermanentFailureSkipsDLQWithoutCompensation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sagas := saga.New(st)
	registry := NewRegistry()
	handler := &scriptedHandler{failures: 1000, kind: torcerr.PermanentLedgerError}
	registry.Register(store.OpEscrowRelease, handler)

	pipe := New(st, sagas, registry, config.Default())

	id, err := sagas.Begin(ctx, store.OpEscrowRelease, "invoice", "inv-3", []string{StepBlockchainTx}, nil, "tester", "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := sagas.Advance(ctx, id, store.SagaProcessing, saga.AdvanceOpts{}); err != nil {
		t.Fatalf("advance to processing: %v", err)
	}
	if err := sagas.Advance(ctx, id, store.SagaFailed, saga.AdvanceOpts{}); err != nil {
		t.Fatalf("advance to failed: %v", err)
	}
	if err := pipe.Enqueue(ctx, id, store.OpEscrowRelease, nil, 0, "initial failure"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entry, err := st.GetRecovery(ctx, id)
	if err != nil {
		t.Fatalf("GetRecovery: %v", err)
	}
	entry.NextRetryAt = time.Now().UTC().Add(-time.Minute)
	if err := st.UpsertRecovery(ctx, entry); err != nil {
		t.Fatalf("force claimable: %v", err)
	}
	if err := pipe.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	sg, err := sagas.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if sg.CurrentState != store.SagaFailed {
		t.Fatalf("expected terminally failed (no dlq), got %s", sg.CurrentState)
	}
	if _, err := st.GetDLQ(ctx, id); err != store.ErrNotFound {
		t.Fatalf("expected no dlq entry, got err=%v", err)
	}
	if _, err := st.GetRecovery(ctx, id); err != store.ErrNotFound {
		t.Fatalf("expected recovery row deleted, got err=%v", err)
	}
}

func TestBackoffRespectsCap(t *testing.T) {
	cfg := config.Default()
	cfg.RecoveryBackoffCapMinutes = 10
	pipe := New(nil, nil, nil, cfg)

	if got := pipe.backoff(0); got != time.Minute {
		t.Errorf("backoff(0) = %s, want 1m", got)
	}
	if got := pipe.backoff(10); got != 10*time.Minute {
		t.Errorf("backoff(10) = %s, want the 10m cap", got)
	}
}

package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestWithinTxReentersWithoutOpeningASecondTransaction(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	invoiceID := uuid.New()

	err := st.WithinTx(ctx, func(ctx context.Context) error {
		if err := st.UpsertEscrow(ctx, store.Escrow{
			InvoiceID: invoiceID, Seller: "seller", Buyer: "buyer",
			Amount: money.FromInt64(1000), Status: store.EscrowCreated,
		}); err != nil {
			return err
		}
		// a nested WithinTx call must reuse the outer transaction rather
		// than deadlock or open a second one against the single-conn pool.
		return st.WithinTx(ctx, func(ctx context.Context) error {
			e, ok, err := st.GetEscrow(ctx, invoiceID)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("expected to see the outer transaction's write")
			}
			e.Status = store.EscrowFunded
			return st.UpsertEscrow(ctx, e)
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	e, ok, err := st.GetEscrow(ctx, invoiceID)
	if err != nil || !ok {
		t.Fatalf("GetEscrow: %v %v", ok, err)
	}
	if e.Status != store.EscrowFunded {
		t.Fatalf("expected funded after commit, got %s", e.Status)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	invoiceID := uuid.New()

	wantErr := errors.New("boom")
	err := st.WithinTx(ctx, func(ctx context.Context) error {
		if err := st.UpsertEscrow(ctx, store.Escrow{
			InvoiceID: invoiceID, Seller: "seller", Buyer: "buyer",
			Amount: money.FromInt64(1000), Status: store.EscrowCreated,
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the wrapped sentinel error, got %v", err)
	}

	if _, ok, err := st.GetEscrow(ctx, invoiceID); err != nil || ok {
		t.Fatalf("expected the write to be rolled back, got ok=%v err=%v", ok, err)
	}
}

func TestClaimPendingRecoveryOnlyClaimsDueEntries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	due := uuid.New()
	notYetDue := uuid.New()
	now := time.Now().UTC()

	for _, id := range []uuid.UUID{due, notYetDue} {
		if err := st.InsertSaga(ctx, store.Saga{
			CorrelationID: id, OperationType: store.OpEscrowRelease,
			EntityType: "invoice", EntityID: id.String(), CurrentState: store.SagaFailed,
		}); err != nil {
			t.Fatalf("InsertSaga: %v", err)
		}
	}
	if err := st.UpsertRecovery(ctx, store.RecoveryEntry{
		CorrelationID: due, OperationType: store.OpEscrowRelease,
		MaxRetries: 5, NextRetryAt: now.Add(-time.Minute), Status: store.RecoveryPending,
	}); err != nil {
		t.Fatalf("UpsertRecovery(due): %v", err)
	}
	if err := st.UpsertRecovery(ctx, store.RecoveryEntry{
		CorrelationID: notYetDue, OperationType: store.OpEscrowRelease,
		MaxRetries: 5, NextRetryAt: now.Add(time.Hour), Status: store.RecoveryPending,
	}); err != nil {
		t.Fatalf("UpsertRecovery(notYetDue): %v", err)
	}

	claimed, err := st.ClaimPendingRecovery(ctx, 10, now)
	if err != nil {
		t.Fatalf("ClaimPendingRecovery: %v", err)
	}
	if len(claimed) != 1 || claimed[0].CorrelationID != due {
		t.Fatalf("expected only the due entry claimed, got %+v", claimed)
	}

	entry, err := st.GetRecovery(ctx, due)
	if err != nil {
		t.Fatalf("GetRecovery: %v", err)
	}
	if entry.Status != store.RecoveryProcessing {
		t.Fatalf("expected claimed entry marked processing, got %s", entry.Status)
	}
}

func TestClaimPendingRecoveryDoesNotReclaimAlreadyProcessingEntries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	id := uuid.New()
	now := time.Now().UTC()

	if err := st.InsertSaga(ctx, store.Saga{
		CorrelationID: id, OperationType: store.OpEscrowRelease,
		EntityType: "invoice", EntityID: id.String(), CurrentState: store.SagaFailed,
	}); err != nil {
		t.Fatalf("InsertSaga: %v", err)
	}
	if err := st.UpsertRecovery(ctx, store.RecoveryEntry{
		CorrelationID: id, OperationType: store.OpEscrowRelease,
		MaxRetries: 5, NextRetryAt: now.Add(-time.Minute), Status: store.RecoveryPending,
	}); err != nil {
		t.Fatalf("UpsertRecovery: %v", err)
	}

	first, err := st.ClaimPendingRecovery(ctx, 10, now)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim: %v %+v", err, first)
	}

	second, err := st.ClaimPendingRecovery(ctx, 10, now)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected an already-processing entry not to be reclaimed, got %+v", second)
	}
}

func TestLockEscrowForUpdateSeesUncommittedWritesWithinTheSameTx(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	invoiceID := uuid.New()

	err := st.WithinTx(ctx, func(ctx context.Context) error {
		if err := st.UpsertEscrow(ctx, store.Escrow{
			InvoiceID: invoiceID, Seller: "seller", Buyer: "buyer",
			Amount: money.FromInt64(1000), Status: store.EscrowCreated,
		}); err != nil {
			return err
		}
		e, ok, err := st.LockEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("expected to lock the row written earlier in this transaction")
		}
		if e.Status != store.EscrowCreated {
			return errors.New("unexpected status on locked row")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
}

func TestLockEscrowForUpdateReportsMissingRow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, ok, err := st.LockEscrowForUpdate(ctx, uuid.New())
	if err != nil {
		t.Fatalf("LockEscrowForUpdate: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a non-existent invoice")
	}
}

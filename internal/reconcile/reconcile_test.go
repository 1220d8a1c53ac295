package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/store/sqlite"
)

func newTestEngine(t *testing.T) (*Engine, store.Store, ledger.Client) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	lc := ledger.NewFake()
	return New(lc, st, config.Default()), st, lc
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.FromString(s)
	if err != nil {
		t.Fatalf("FromString(%q): %v", s, err)
	}
	return a
}

// seedMatched creates an invoice whose mirror and chain agree exactly.
func seedMatched(t *testing.T, e *Engine, st store.Store, lc ledger.Client) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	invoiceID := uuid.New()
	if err := st.UpsertEscrow(ctx, store.Escrow{
		InvoiceID: invoiceID, Seller: "seller", Buyer: "buyer",
		Amount: mustAmount(t, "5000"), Token: "USDC", Status: store.EscrowFunded,
	}); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}
	if _, err := lc.Submit(ctx, ledger.OpCreate, ledger.EncodeKey(invoiceID), map[string]string{
		"seller": "seller", "buyer": "buyer", "amount": "5000", "token": "USDC", "duration": "1h",
	}); err != nil {
		t.Fatalf("seed chain create: %v", err)
	}
	if _, err := lc.Submit(ctx, ledger.OpDeposit, ledger.EncodeKey(invoiceID), map[string]string{}); err != nil {
		t.Fatalf("seed chain deposit: %v", err)
	}
	return invoiceID
}

func TestDiffReportsNoneWhenBothSidesAgree(t *testing.T) {
	e, st, lc := newTestEngine(t)
	invoiceID := seedMatched(t, e, st, lc)

	log, err := e.diff(context.Background(), invoiceID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if log.DiscrepancyType != store.DiscrepancyNone {
		t.Fatalf("expected none, got %s (%s)", log.DiscrepancyType, log.Notes)
	}
}

func TestDiffReportsMissingChainWhenOnlyMirrorHasARow(t *testing.T) {
	e, st, _ := newTestEngine(t)
	ctx := context.Background()
	invoiceID := uuid.New()
	if err := st.UpsertEscrow(ctx, store.Escrow{
		InvoiceID: invoiceID, Seller: "seller", Buyer: "buyer",
		Amount: mustAmount(t, "5000"), Token: "USDC", Status: store.EscrowFunded,
	}); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	log, err := e.diff(ctx, invoiceID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if log.DiscrepancyType != store.DiscrepancyMissingChain {
		t.Fatalf("expected missing_chain, got %s", log.DiscrepancyType)
	}
}

func TestDiffReportsMissingDBWhenOnlyChainHasARow(t *testing.T) {
	e, _, lc := newTestEngine(t)
	ctx := context.Background()
	invoiceID := uuid.New()
	if _, err := lc.Submit(ctx, ledger.OpCreate, ledger.EncodeKey(invoiceID), map[string]string{
		"seller": "seller", "buyer": "buyer", "amount": "5000", "token": "USDC", "duration": "1h",
	}); err != nil {
		t.Fatalf("seed chain: %v", err)
	}

	log, err := e.diff(ctx, invoiceID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if log.DiscrepancyType != store.DiscrepancyMissingDB {
		t.Fatalf("expected missing_db, got %s", log.DiscrepancyType)
	}
}

func TestDiffReportsStatusMismatch(t *testing.T) {
	e, st, lc := newTestEngine(t)
	ctx := context.Background()
	invoiceID := seedMatched(t, e, st, lc)

	// mirror believes the escrow was disputed; the chain still says funded.
	mirror, _, err := st.GetEscrow(ctx, invoiceID)
	if err != nil {
		t.Fatalf("GetEscrow: %v", err)
	}
	mirror.Status = store.EscrowDisputed
	if err := st.UpsertEscrow(ctx, mirror); err != nil {
		t.Fatalf("UpsertEscrow: %v", err)
	}

	log, err := e.diff(ctx, invoiceID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if log.DiscrepancyType != store.DiscrepancyStatusMismatch {
		t.Fatalf("expected status_mismatch, got %s", log.DiscrepancyType)
	}
}

func TestDiffReportsAmountMismatchAsSignedDelta(t *testing.T) {
	e, st, lc := newTestEngine(t)
	ctx := context.Background()
	invoiceID := seedMatched(t, e, st, lc)

	mirror, _, err := st.GetEscrow(ctx, invoiceID)
	if err != nil {
		t.Fatalf("GetEscrow: %v", err)
	}
	mirror.Amount = mustAmount(t, "4000") // chain says 5000, db says 4000
	if err := st.UpsertEscrow(ctx, mirror); err != nil {
		t.Fatalf("UpsertEscrow: %v", err)
	}

	log, err := e.diff(ctx, invoiceID)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if log.DiscrepancyType != store.DiscrepancyAmountMismatch {
		t.Fatalf("expected amount_mismatch, got %s", log.DiscrepancyType)
	}
	if log.DiscrepancyAmount.Cmp(mustAmount(t, "1000")) != 0 {
		t.Fatalf("expected a signed delta of +1000 (chain-db), got %s", log.DiscrepancyAmount.String())
	}
}

// TestRunSumsAbsoluteDiscrepancyAcrossOppositeSigns exercises the Open
// Question decision that the summary's total discrepancy amount sums
// absolute values rather than netting opposite-signed mismatches to zero.
func TestRunSumsAbsoluteDiscrepancyAcrossOppositeSigns(t *testing.T) {
	e, st, lc := newTestEngine(t)
	ctx := context.Background()

	over := seedMatched(t, e, st, lc)
	mirror, _, _ := st.GetEscrow(ctx, over)
	mirror.Amount = mustAmount(t, "4000") // chain - db = +1000
	if err := st.UpsertEscrow(ctx, mirror); err != nil {
		t.Fatalf("UpsertEscrow: %v", err)
	}

	under := seedMatched(t, e, st, lc)
	mirror, _, _ = st.GetEscrow(ctx, under)
	mirror.Amount = mustAmount(t, "6000") // chain - db = -1000
	if err := st.UpsertEscrow(ctx, mirror); err != nil {
		t.Fatalf("UpsertEscrow: %v", err)
	}

	summary, err := e.Run(ctx, store.RunManual, 50)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", summary.Status)
	}
	if want := mustAmount(t, "2000"); summary.TotalDiscrepancyAmount.Cmp(want) != 0 {
		t.Fatalf("expected summed absolute discrepancy of 2000, got %s", summary.TotalDiscrepancyAmount.String())
	}
	if summary.DiscrepancyCount != 2 {
		t.Fatalf("expected 2 discrepancies counted, got %d", summary.DiscrepancyCount)
	}
}

func TestRunReportsLatestSummaryViaStatus(t *testing.T) {
	e, st, lc := newTestEngine(t)
	seedMatched(t, e, st, lc)

	if _, err := e.Run(context.Background(), store.RunManual, 0); err != nil {
		t.Fatalf("Run: %v", err)
	}

	latest, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if latest.Status != store.RunCompleted {
		t.Fatalf("expected completed, got %s", latest.Status)
	}
	if latest.MatchedCount != 1 {
		t.Fatalf("expected 1 matched invoice, got %d", latest.MatchedCount)
	}
}

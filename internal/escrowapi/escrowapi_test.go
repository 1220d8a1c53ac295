package escrowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/escrow"
	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/publish"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/store/sqlite"
)

// fakeIdempotencyCache is an in-memory stand-in for idempotency.NewRedisCache,
// since the pack carries no groundable Redis test fixture (see DESIGN.md).
type fakeIdempotencyCache struct {
	mu   sync.Mutex
	seen map[string]uuid.UUID
}

func newFakeIdempotencyCache() *fakeIdempotencyCache {
	return &fakeIdempotencyCache{seen: make(map[string]uuid.UUID)}
}

func (c *fakeIdempotencyCache) Reserve(ctx context.Context, key string, correlationID uuid.UUID) (uuid.UUID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.seen[key]; ok {
		return existing, true, nil
	}
	c.seen[key] = correlationID
	return uuid.Nil, false, nil
}

func newTestRouter(t *testing.T) (http.Handler, store.Store, *fakeIdempotencyCache) {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	p := escrow.New(ledger.NewFake(), st, config.Default(), escrow.NewStaticRegistry("0xarb1", "0xarb2", "0xarb3"), publish.NopSink{})
	idem := newFakeIdempotencyCache()
	return NewRouter(NewHandler(p, st, idem)), st, idem
}

func createBody(invoiceID uuid.UUID) []byte {
	b, _ := json.Marshal(CreateEscrowRequest{
		InvoiceID: invoiceID.String(), Seller: "seller", Buyer: "buyer",
		Amount: "10000", Token: "USDC", DurationSeconds: int64(time.Hour / time.Second),
	})
	return b
}

func TestCreateEscrowReturns201AndPersistsMirrorRow(t *testing.T) {
	router, st, _ := newTestRouter(t)
	invoiceID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok, err := st.GetEscrow(context.Background(), invoiceID); err != nil || !ok {
		t.Fatalf("expected mirror row for %s, ok=%v err=%v", invoiceID, ok, err)
	}
}

func TestCreateEscrowRejectsBelowMinimumAmount(t *testing.T) {
	router, _, _ := newTestRouter(t)
	body, _ := json.Marshal(CreateEscrowRequest{
		InvoiceID: uuid.New().String(), Seller: "seller", Buyer: "buyer",
		Amount: "1", Token: "USDC", DurationSeconds: 3600,
	})

	req := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for below-minimum amount, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateEscrowRetriedWithSameIdempotencyKeyReturnsCachedEscrow(t *testing.T) {
	router, _, _ := newTestRouter(t)
	invoiceID := uuid.New()
	body := createBody(invoiceID)

	first := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(body))
	first.Header.Set(HeaderIdempotencyKey, "retry-key-1")
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, first)
	if w1.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d: %s", w1.Code, w1.Body.String())
	}

	second := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(body))
	second.Header.Set(HeaderIdempotencyKey, "retry-key-1")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, second)
	if w2.Code != http.StatusOK {
		t.Fatalf("retried create: expected 200 (cached), got %d: %s", w2.Code, w2.Body.String())
	}

	var resp EscrowResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.InvoiceID != invoiceID.String() {
		t.Fatalf("expected cached invoice id %s, got %s", invoiceID, resp.InvoiceID)
	}
}

func TestCreateEscrowReusedIdempotencyKeyForDifferentInvoiceConflicts(t *testing.T) {
	router, _, _ := newTestRouter(t)

	first := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(uuid.New())))
	first.Header.Set(HeaderIdempotencyKey, "shared-key")
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, first)
	if w1.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d: %s", w1.Code, w1.Body.String())
	}

	second := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(uuid.New())))
	second.Header.Set(HeaderIdempotencyKey, "shared-key")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, second)
	if w2.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key on a different invoice, got %d: %s", w2.Code, w2.Body.String())
	}
}

func TestDepositFundsEscrow(t *testing.T) {
	router, _, _ := newTestRouter(t)
	invoiceID := uuid.New()
	createReq := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID)))
	router.ServeHTTP(httptest.NewRecorder(), createReq)

	body, _ := json.Marshal(CallerRequest{Caller: "buyer"})
	req := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp EscrowResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Status != string(store.EscrowFunded) {
		t.Fatalf("expected status funded, got %s", resp.Status)
	}
}

func TestDepositByWrongCallerIsRejected(t *testing.T) {
	router, _, _ := newTestRouter(t)
	invoiceID := uuid.New()
	createReq := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID)))
	router.ServeHTTP(httptest.NewRecorder(), createReq)

	body, _ := json.Marshal(CallerRequest{Caller: "someone-else"})
	req := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-buyer caller, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConfirmReleaseByBothPartiesReleasesEscrow(t *testing.T) {
	router, _, _ := newTestRouter(t)
	invoiceID := uuid.New()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID))))

	depositBody, _ := json.Marshal(CallerRequest{Caller: "buyer"})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(depositBody)))

	for _, caller := range []string{"seller", "buyer"} {
		body, _ := json.Marshal(CallerRequest{Caller: caller})
		req := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/confirm-release", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("confirm by %s: expected 200, got %d: %s", caller, w.Code, w.Body.String())
		}
	}

	statusReq := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(depositBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, statusReq)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected depositing an already-released escrow to conflict, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRaiseDisputeAndVoteResolvesByQuorum(t *testing.T) {
	router, _, _ := newTestRouter(t)
	invoiceID := uuid.New()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID))))

	depositBody, _ := json.Marshal(CallerRequest{Caller: "buyer"})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(depositBody)))

	disputeBody, _ := json.Marshal(CallerRequest{Caller: "seller"})
	disputeReq := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/disputes", bytes.NewReader(disputeBody))
	disputeW := httptest.NewRecorder()
	router.ServeHTTP(disputeW, disputeReq)
	if disputeW.Code != http.StatusOK {
		t.Fatalf("raise dispute: expected 200, got %d: %s", disputeW.Code, disputeW.Body.String())
	}

	var lastResp DisputeVoteResponse
	for i, arb := range []string{"0xarb1", "0xarb2"} {
		voteBody, _ := json.Marshal(VoteRequest{Arbitrator: arb, VoteForBuyer: true})
		req := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/disputes/vote", bytes.NewReader(voteBody))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("vote %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		if err := json.Unmarshal(w.Body.Bytes(), &lastResp); err != nil {
			t.Fatalf("decode vote response: %v", err)
		}
	}
	if !lastResp.Resolved {
		t.Fatalf("expected dispute resolved after quorum reached, got %+v", lastResp)
	}
}

func TestAddApprovalAutoReleasesAtThreshold(t *testing.T) {
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	lc := ledger.NewFake()
	invoiceID := uuid.New()
	lc.SeedApprovals(ledger.EncodeKey(invoiceID), ledger.MultiSigApprovals{Required: 1})

	p := escrow.New(lc, st, config.Default(), escrow.NewStaticRegistry("0xarb1", "0xarb2", "0xarb3"), publish.NopSink{})
	router := NewRouter(NewHandler(p, st, newFakeIdempotencyCache()))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID))))

	depositBody, _ := json.Marshal(CallerRequest{Caller: "buyer"})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(depositBody)))

	body, _ := json.Marshal(ApproverRequest{Approver: "0xapprover1"})
	req := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/approvals", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	e, ok, err := st.GetEscrow(context.Background(), invoiceID)
	if err != nil || !ok {
		t.Fatalf("GetEscrow: ok=%v err=%v", ok, err)
	}
	if e.Status != store.EscrowReleased {
		t.Fatalf("expected escrow released at threshold, got %s", e.Status)
	}
}

func TestCreateEscrowRejectsMalformedInvoiceID(t *testing.T) {
	router, _, _ := newTestRouter(t)
	body, _ := json.Marshal(CreateEscrowRequest{InvoiceID: "not-a-uuid", Amount: "10000"})

	req := httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed invoice id, got %d", w.Code)
	}
}

func TestSafeEscapeRejectsWhenQuorumStillReachable(t *testing.T) {
	router, _, _ := newTestRouter(t)
	invoiceID := uuid.New()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows", bytes.NewReader(createBody(invoiceID))))

	depositBody, _ := json.Marshal(CallerRequest{Caller: "buyer"})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/deposit", bytes.NewReader(depositBody)))

	disputeBody, _ := json.Marshal(CallerRequest{Caller: "seller"})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/disputes", bytes.NewReader(disputeBody)))

	safeBody, _ := json.Marshal(SafeEscapeRequest{SellerWins: true})
	req := httptest.NewRequest(http.MethodPost, "/escrows/"+invoiceID.String()+"/disputes/safe-escape", bytes.NewReader(safeBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 while quorum is still reachable, got %d: %s", w.Code, w.Body.String())
	}
}

// Package escrowapi exposes the Escrow Protocol over HTTP: the "dedicated
// RPC entrypoint" the upstream invoice/payment caller (out of scope per
// spec.md §1) talks to, grounded on the teacher's api-gateway httpx handler
// (internal/api-gateway/infra/httpx/handler.go) — decode, validate, call the
// domain capability, map the result back to JSON.
package escrowapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/escrow"
	"github.com/jcmexdev/torc/internal/idempotency"
	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/torcerr"
)

// HeaderIdempotencyKey mirrors the teacher's X-Idempotency-Key convention
// (api-gateway/infra/httpx/middlewares/tracing.go).
const HeaderIdempotencyKey = "X-Idempotency-Key"

// Handler serves the Escrow Protocol's HTTP surface. idem is optional: a nil
// Cache skips dedupe and every Create call reaches the protocol directly.
type Handler struct {
	protocol *escrow.Protocol
	store    store.Store
	idem     idempotency.Cache
}

func NewHandler(p *escrow.Protocol, st store.Store, idem idempotency.Cache) *Handler {
	return &Handler{protocol: p, store: st, idem: idem}
}

// Create opens a new escrow. A caller that retries the same request with the
// same X-Idempotency-Key header gets back the escrow it already created
// instead of a duplicate-invoice validation error.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if key := r.Header.Get(HeaderIdempotencyKey); key != "" && h.idem != nil {
		existing, found, err := h.idem.Reserve(r.Context(), key, invoiceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if found {
			if existing != invoiceID {
				writeError(w, http.StatusConflict, errors.New("idempotency key already used for a different invoice"))
				return
			}
			e, ok, err := h.store.GetEscrow(r.Context(), invoiceID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			if ok {
				writeJSON(w, http.StatusOK, toEscrowResponse(e))
				return
			}
		}
	}

	amount, err := money.FromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var deadline *time.Time
	if req.DiscountDeadline != nil {
		t, err := time.Parse(time.RFC3339, *req.DiscountDeadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		deadline = &t
	}

	e, err := h.protocol.Create(r.Context(), escrow.CreateParams{
		InvoiceID:        invoiceID,
		Seller:           req.Seller,
		Buyer:            req.Buyer,
		Amount:           amount,
		Token:            req.Token,
		Duration:         time.Duration(req.DurationSeconds) * time.Second,
		RWANFTContract:   req.RWANFTContract,
		RWATokenID:       req.RWATokenID,
		DiscountBps:      req.DiscountBps,
		DiscountDeadline: deadline,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowResponse(e))
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := h.protocol.Deposit(r.Context(), invoiceID, req.Caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

func (h *Handler) ConfirmRelease(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := h.protocol.ConfirmRelease(r.Context(), invoiceID, req.Caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

func (h *Handler) ReclaimExpiredFunds(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := h.protocol.ReclaimExpiredFunds(r.Context(), invoiceID, req.Caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

func (h *Handler) AddApproval(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req ApproverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := h.protocol.AddApproval(r.Context(), invoiceID, req.Approver)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MultiSigResponse{InvoiceID: invoiceID.String(), Approvers: m.Approvers, Required: m.Required})
}

func (h *Handler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req CallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	e, err := h.protocol.RaiseDispute(r.Context(), invoiceID, req.Caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(e))
}

func (h *Handler) VoteOnDispute(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	v, err := h.protocol.VoteOnDispute(r.Context(), invoiceID, req.Arbitrator, req.VoteForBuyer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVoteResponse(invoiceID, v))
}

// SafeEscape is admin-only; the caller (out-of-scope API gateway) is
// responsible for authorizing the actor before this is reached, matching
// escrow.Protocol.Create's own documented authorization boundary.
func (h *Handler) SafeEscape(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := parseInvoiceID(w, r)
	if !ok {
		return
	}
	var req SafeEscapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.protocol.SafeEscape(r.Context(), invoiceID, req.SellerWins); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func parseInvoiceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "invoice_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return uuid.UUID{}, false
	}
	return id, true
}

func toEscrowResponse(e store.Escrow) EscrowResponse {
	return EscrowResponse{
		InvoiceID:       e.InvoiceID.String(),
		Seller:          e.Seller,
		Buyer:           e.Buyer,
		Amount:          e.Amount.String(),
		Token:           e.Token,
		Status:          string(e.Status),
		SellerConfirmed: e.SellerConfirmed,
		BuyerConfirmed:  e.BuyerConfirmed,
		DisputeRaised:   e.DisputeRaised,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
		ExpiresAt:       e.ExpiresAt.Format(time.RFC3339),
		FeeAmount:       e.FeeAmount.String(),
	}
}

func toVoteResponse(invoiceID uuid.UUID, v store.DisputeVote) DisputeVoteResponse {
	return DisputeVoteResponse{
		InvoiceID:             invoiceID.String(),
		SnapshotArbitratorCnt: v.SnapshotArbitratorCnt,
		VotesForBuyer:         v.VotesForBuyer,
		VotesForSeller:        v.VotesForSeller,
		Resolved:              v.Resolved,
		VotedArbitrators:      v.VotedArbitrators,
	}
}

// writeDomainError maps a torcerr.Kind to the HTTP status a caller should
// act on: validation/state-machine mistakes are the caller's fault (4xx),
// anything else is the protocol's (5xx/502, mirroring the teacher's
// order_service_error mapping for a downstream dependency failure).
func writeDomainError(w http.ResponseWriter, err error) {
	kind, ok := torcerr.KindOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	switch kind {
	case torcerr.ValidationError:
		writeError(w, http.StatusBadRequest, err)
	case torcerr.StateMachineViolation:
		writeError(w, http.StatusConflict, err)
	case torcerr.TransientLedgerError, torcerr.StoreContention:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: err.Error()})
}

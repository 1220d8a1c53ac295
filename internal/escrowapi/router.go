package escrowapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the Escrow Protocol's HTTP surface (spec.md §4.3's
// create/deposit/confirmRelease/reclaimExpiredFunds/raiseDispute/
// voteOnDispute/safeEscape plus multi-sig approvals), grounded on the
// teacher's api-gateway router (internal/api-gateway/infra/httpx/router.go).
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/escrows", h.Create)
	r.Route("/escrows/{invoice_id}", func(r chi.Router) {
		r.Post("/deposit", h.Deposit)
		r.Post("/confirm-release", h.ConfirmRelease)
		r.Post("/reclaim", h.ReclaimExpiredFunds)
		r.Post("/approvals", h.AddApproval)
		r.Post("/disputes", h.RaiseDispute)
		r.Post("/disputes/vote", h.VoteOnDispute)
		r.Post("/disputes/safe-escape", h.SafeEscape)
	})
	return r
}

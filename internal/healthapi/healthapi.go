// Package healthapi exposes the thin health/metrics/admin-compensation
// HTTP surface spec.md §1 scopes in (explicitly not the full API gateway,
// which is out of scope), using chi the way the teacher's api-gateway
// wires its router.
package healthapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/health"
	"github.com/jcmexdev/torc/internal/reconcile"
	"github.com/jcmexdev/torc/internal/store"
)

// NewRouter builds the admin/health surface.
func NewRouter(st store.Store, agg *health.Aggregator, recon *reconcile.Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics/summary", func(w http.ResponseWriter, req *http.Request) {
		snap, err := agg.Collect(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/reconciliation/status", func(w http.ResponseWriter, req *http.Request) {
		summary, err := recon.Status(req.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	r.Post("/admin/compensation/{correlation_id}/resolve", func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(chi.URLParam(req, "correlation_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var body struct {
			ActionType string `json:"action_type"`
			Result     string `json:"result"`
			ResolvedBy string `json:"resolved_by"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := st.UpdateCompensationStatus(req.Context(), id, body.ActionType, store.CompensationCompleted, body.Result); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := st.ResolveDLQ(req.Context(), id, body.ResolvedBy, body.Result); err != nil {
			slog.WarnContext(req.Context(), "admin resolve: dlq entry not found or already resolved", "correlation_id", id, "error", err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("healthapi: encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

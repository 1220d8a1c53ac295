// Package reconcile implements the Reconciliation Engine: a periodic and
// on-demand scanner that diffs external ledger state against the internal
// store for every escrow-bearing invoice (spec.md §4.5).
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/store"
)

// canonicalFromChain maps the ledger's u8 status code to the canonical
// status vocabulary (spec.md §4.5 step 2).
func canonicalFromChain(s ledger.Status, present bool) string {
	if !present {
		return "not_found"
	}
	switch s {
	case ledger.StatusCreated:
		return "created"
	case ledger.StatusFunded:
		return "funded"
	case ledger.StatusDisputed:
		return "disputed"
	case ledger.StatusReleased:
		return "released"
	case ledger.StatusExpired:
		return "expired"
	default:
		return "not_found"
	}
}

// canonicalFromMirror maps the mirror's richer status vocabulary onto the
// same canonical set via the fixed table spec.md §4.5 step 3 describes.
func canonicalFromMirror(s store.EscrowStatus, present bool) string {
	if !present {
		return "not_found"
	}
	switch s {
	case store.EscrowCreated, "pending", "payment_pending":
		return "created"
	case store.EscrowFunded, "escrow_locked":
		return "funded"
	case store.EscrowReleased, "settled":
		return "released"
	case store.EscrowDisputed:
		return "disputed"
	case store.EscrowExpired, "cancelled", "failed":
		return "expired"
	default:
		return "not_found"
	}
}

// Engine is the Reconciliation Engine capability.
type Engine struct {
	ledger ledger.Client
	store  store.Store
	cfg    config.SchedulerConfig
}

func New(lc ledger.Client, st store.Store, cfg config.SchedulerConfig) *Engine {
	return &Engine{ledger: lc, store: st, cfg: cfg}
}

// Run inserts a running summary row, synchronously runs the batch diff
// over every mirrored invoice, and returns the final summary (spec.md
// §4.5: "Synchronous completion with run_id returned immediately after
// insertion of the running summary row").
func (e *Engine) Run(ctx context.Context, runType store.RunType, batchSize int) (store.ReconciliationSummary, error) {
	batchSize = e.cfg.ClampBatchSize(batchSize)

	summary := store.ReconciliationSummary{
		RunID:     uuid.New(),
		RunType:   runType,
		StartedAt: time.Now().UTC(),
		Status:    store.RunRunning,
	}
	if err := e.store.InsertReconciliationSummary(ctx, summary); err != nil {
		return store.ReconciliationSummary{}, fmt.Errorf("reconcile: insert summary: %w", err)
	}

	if err := e.processAll(ctx, &summary, batchSize); err != nil {
		summary.Status = store.RunFailed
		summary.ErrorMessage = err.Error()
		now := time.Now().UTC()
		summary.CompletedAt = &now
		_ = e.store.UpdateReconciliationSummary(ctx, summary)
		return summary, fmt.Errorf("reconcile: run %s: %w", summary.RunID, err)
	}

	summary.Status = store.RunCompleted
	now := time.Now().UTC()
	summary.CompletedAt = &now
	if err := e.store.UpdateReconciliationSummary(ctx, summary); err != nil {
		return summary, fmt.Errorf("reconcile: finalize summary: %w", err)
	}
	slog.InfoContext(ctx, "reconciliation run completed", "run_id", summary.RunID,
		"total", summary.TotalCount, "discrepancies", summary.DiscrepancyCount)
	return summary, nil
}

func (e *Engine) processAll(ctx context.Context, summary *store.ReconciliationSummary, batchSize int) error {
	offset := 0
	for {
		ids, err := e.store.ListEscrowInvoiceIDs(ctx, offset, batchSize)
		if err != nil {
			return fmt.Errorf("list invoices at offset %d: %w", offset, err)
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			e.processOne(ctx, summary, id)
		}
		offset += len(ids)
	}
}

func (e *Engine) processOne(ctx context.Context, summary *store.ReconciliationSummary, invoiceID uuid.UUID) {
	summary.TotalCount++

	logRow, err := e.diff(ctx, invoiceID)
	logRow.RunID = summary.RunID
	if err != nil {
		logRow.DiscrepancyType = store.DiscrepancyError
		logRow.Notes = err.Error()
	}
	if insertErr := e.store.InsertReconciliationLog(ctx, logRow); insertErr != nil {
		slog.ErrorContext(ctx, "reconcile: insert log row failed", "invoice_id", invoiceID, "error", insertErr)
	}

	switch logRow.DiscrepancyType {
	case store.DiscrepancyNone:
		summary.MatchedCount++
	case store.DiscrepancyMissingChain:
		summary.MissingChainCount++
		summary.DiscrepancyCount++
	case store.DiscrepancyMissingDB:
		summary.MissingDBCount++
		summary.DiscrepancyCount++
	case store.DiscrepancyError:
		// engine keeps going; no count bump besides total
	default:
		summary.DiscrepancyCount++
	}
	summary.TotalDiscrepancyAmount = summary.TotalDiscrepancyAmount.Add(absAmount(logRow.DiscrepancyAmount))
}

// diff runs the per-invoice algorithm (spec.md §4.5 steps 1-4).
func (e *Engine) diff(ctx context.Context, invoiceID uuid.UUID) (store.ReconciliationLog, error) {
	log := store.ReconciliationLog{InvoiceID: invoiceID, DiscrepancyAmount: money.Zero()}

	mirror, mirrorOK, err := e.store.GetEscrow(ctx, invoiceID)
	if err != nil {
		return log, fmt.Errorf("read mirror: %w", err)
	}

	key := ledger.EncodeKey(invoiceID)
	chain, chainOK, err := e.ledger.ReadEscrow(ctx, key)
	if err != nil {
		return log, fmt.Errorf("read chain: %w", err)
	}

	log.ChainStatus = canonicalFromChain(chain.Status, chainOK)
	log.DBStatus = canonicalFromMirror(mirror.Status, mirrorOK)
	if chainOK {
		log.ChainAmount = chain.Amount.String()
		log.ChainCounterparty = chain.Seller
	}
	if mirrorOK {
		log.DBAmount = mirror.Amount.String()
		log.DBCounterparty = mirror.Seller
	}

	switch {
	case !chainOK && mirrorOK:
		log.DiscrepancyType = store.DiscrepancyMissingChain
		log.Notes = "present in store, absent on ledger"
		return log, nil
	case chainOK && !mirrorOK:
		log.DiscrepancyType = store.DiscrepancyMissingDB
		log.Notes = "present on ledger, absent in store"
		return log, nil
	case !chainOK && !mirrorOK:
		log.DiscrepancyType = store.DiscrepancyNone
		return log, nil
	}

	if log.ChainStatus != log.DBStatus {
		log.DiscrepancyType = store.DiscrepancyStatusMismatch
		log.Notes = fmt.Sprintf("Status mismatch: chain=%s db=%s", log.ChainStatus, log.DBStatus)
	}

	if chain.Amount.Cmp(mirror.Amount) != 0 {
		log.DiscrepancyAmount = chain.Amount.Sub(mirror.Amount)
		if log.DiscrepancyType == "" {
			log.DiscrepancyType = store.DiscrepancyAmountMismatch
		}
		log.Notes = strings.TrimSpace(log.Notes + " amount mismatch: chain-db differ")
	}

	if !strings.EqualFold(chain.Seller, mirror.Seller) {
		log.Notes = strings.TrimSpace(log.Notes + " counterparty mismatch")
		if log.DiscrepancyType == "" {
			log.DiscrepancyType = store.DiscrepancyStatusMismatch
		}
	}

	if log.DiscrepancyType == "" {
		log.DiscrepancyType = store.DiscrepancyNone
	}
	return log, nil
}

func absAmount(a money.Amount) money.Amount {
	if a.Sign() < 0 {
		return money.Zero().Sub(a)
	}
	return a
}

// Status returns the most recent summary.
func (e *Engine) Status(ctx context.Context) (store.ReconciliationSummary, error) {
	return e.store.GetLatestSummary(ctx)
}

// Discrepancies returns a page of discrepancy log rows.
func (e *Engine) Discrepancies(ctx context.Context, f store.DiscrepancyFilter) ([]store.ReconciliationLog, error) {
	f.Limit = e.cfg.ClampBatchSize(f.Limit)
	return e.store.ListDiscrepancies(ctx, f)
}

// History returns a page of past run summaries.
func (e *Engine) History(ctx context.Context, limit, offset int) ([]store.ReconciliationSummary, error) {
	return e.store.ListSummaries(ctx, e.cfg.ClampBatchSize(limit), offset)
}

// Schedule starts the periodic 6-hour trigger (spec.md §4.5), dispatching
// a `scheduled` run each tick until ctx is cancelled.
func (e *Engine) Schedule(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReconciliationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Run(ctx, store.RunScheduled, e.cfg.ReconciliationBatchSize); err != nil {
				slog.ErrorContext(ctx, "scheduled reconciliation run failed", "error", err)
			}
		}
	}
}

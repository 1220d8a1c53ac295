// Package ingest implements the Event Ingestor: it consumes the
// LedgerClient's event stream, applies accepted events to the internal
// mirror under event-identity dedupe, and triggers a recovery saga on
// mirror-update failure (spec.md §4.4).
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/recovery"
	"github.com/jcmexdev/torc/internal/saga"
	"github.com/jcmexdev/torc/internal/store"
)

// Ingestor owns the subscription loop and the per-identity dedupe set.
type Ingestor struct {
	ledger ledger.Client
	store  store.Store
	sagas  *saga.Manager
	pipe   *recovery.Pipeline

	mu   sync.Mutex
	seen map[ledger.EventIdentity]bool
}

func New(lc ledger.Client, st store.Store, sagas *saga.Manager, pipe *recovery.Pipeline) *Ingestor {
	return &Ingestor{ledger: lc, store: st, sagas: sagas, pipe: pipe, seen: make(map[ledger.EventIdentity]bool)}
}

// Run subscribes to the event stream and applies each event until ctx is
// cancelled or the stream closes.
func (in *Ingestor) Run(ctx context.Context) error {
	events, err := in.ledger.Events(ctx)
	if err != nil {
		return fmt.Errorf("ingest: subscribe: %w", err)
	}
	for ev := range events {
		in.apply(ctx, ev)
	}
	return nil
}

// apply applies one event to the mirror, deduping on (event_name, tx_hash,
// log_index) (spec.md §4.4). Ordering is per-invoice in ledger order;
// across invoices ordering is best-effort (the Reconciliation Engine
// catches any divergence).
func (in *Ingestor) apply(ctx context.Context, ev ledger.Event) {
	identity := ev.Identity()

	in.mu.Lock()
	if in.seen[identity] {
		in.mu.Unlock()
		slog.DebugContext(ctx, "ingest: duplicate event ignored", "event", ev.Name, "tx_hash", ev.TxHash, "log_index", ev.LogIndex)
		return
	}
	in.seen[identity] = true
	in.mu.Unlock()

	if err := in.applyMirror(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "ingest: mirror update failed, starting recovery saga", "event", ev.Name, "error", err)
		in.startRecoverySaga(ctx, ev, err)
	}
}

func (in *Ingestor) applyMirror(ctx context.Context, ev ledger.Event) error {
	invoiceIDHex := ev.Args["invoice_id"]
	if invoiceIDHex == "" {
		return fmt.Errorf("ingest: event %s missing invoice_id arg", ev.Name)
	}

	invoiceID, err := uuid.Parse(invoiceIDHex)
	if err != nil {
		return fmt.Errorf("ingest: invalid invoice_id %q: %w", invoiceIDHex, err)
	}

	return in.store.WithinTx(ctx, func(ctx context.Context) error {
		e, ok, err := in.store.GetEscrow(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("ingest: read mirror for %s: %w", ev.Name, err)
		}
		if !ok {
			return fmt.Errorf("ingest: no mirror row for invoice %s", invoiceIDHex)
		}
		if status, found := ev.Args["status"]; found {
			e.Status = store.EscrowStatus(status)
		}
		if err := in.store.UpsertEscrow(ctx, e); err != nil {
			return fmt.Errorf("ingest: upsert mirror for %s: %w", ev.Name, err)
		}
		return nil
	})
}

func (in *Ingestor) startRecoverySaga(ctx context.Context, ev ledger.Event, cause error) {
	payload, err := structpb.NewStruct(argsToAny(ev.Args))
	if err != nil {
		slog.ErrorContext(ctx, "ingest: build recovery payload failed", "error", err)
		return
	}

	id, err := in.sagas.Begin(ctx, store.OpEventProcessing, "ledger_event", ev.Args["invoice_id"], []string{"MIRROR_UPDATE"}, payload, "event_ingestor", "")
	if err != nil {
		slog.ErrorContext(ctx, "ingest: begin recovery saga failed", "error", err)
		return
	}
	if err := in.sagas.Advance(ctx, id, store.SagaProcessing, saga.AdvanceOpts{}); err != nil {
		slog.ErrorContext(ctx, "ingest: advance recovery saga to processing failed", "error", err)
		return
	}
	if err := in.sagas.Advance(ctx, id, store.SagaFailed, saga.AdvanceOpts{}); err != nil {
		slog.ErrorContext(ctx, "ingest: advance recovery saga to failed failed", "error", err)
		return
	}
	if err := in.pipe.Enqueue(ctx, id, store.OpEventProcessing, payload, 0, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "ingest: enqueue recovery entry failed", "error", err)
	}
}

func argsToAny(args map[string]string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

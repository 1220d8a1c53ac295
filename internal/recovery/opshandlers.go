package recovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/torcerr"
)

// EscrowReleaseHandler re-applies the DB status transition to released.
// The ledger tx is assumed already committed if BLOCKCHAIN_TX is in
// steps_completed; otherwise it re-submits confirmRelease (spec.md §4.2.1).
type EscrowReleaseHandler struct {
	Ledger ledger.Client
	Store  store.Store
}

func (h *EscrowReleaseHandler) Retry(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) ([]string, error) {
	invoiceID, err := invoiceIDFromEntity(sg)
	if err != nil {
		return nil, torcerr.New(torcerr.ValidationError, "EscrowReleaseHandler.Retry", err)
	}
	key := ledger.EncodeKey(invoiceID)

	completed := append([]string{}, sg.StepsCompleted...)
	if !stepDone(completed, StepBlockchainTx) {
		if _, err := h.Ledger.Submit(ctx, ledger.OpConfirmRelease, key, map[string]string{"party": "retry"}); err != nil {
			return nil, torcerr.New(torcerr.TransientLedgerError, "EscrowReleaseHandler.Retry", err)
		}
		completed = append(completed, StepBlockchainTx)
	}

	if !stepDone(completed, StepDBUpdate) {
		e, ok, err := h.Store.GetEscrow(ctx, invoiceID)
		if err != nil {
			return nil, torcerr.New(torcerr.StoreContention, "EscrowReleaseHandler.Retry", err)
		}
		if !ok {
			return nil, torcerr.New(torcerr.ValidationError, "EscrowReleaseHandler.Retry", fmt.Errorf("no escrow mirror for %s", invoiceID))
		}
		e.Status = store.EscrowReleased
		if err := h.Store.UpsertEscrow(ctx, e); err != nil {
			return nil, torcerr.New(torcerr.StoreContention, "EscrowReleaseHandler.Retry", err)
		}
		completed = append(completed, StepDBUpdate)
	}

	if !stepDone(completed, StepAuditLog) {
		completed = append(completed, StepAuditLog)
	}
	return completed, nil
}

// FinancingPipelineHandler re-submits the funding call with the original
// parameters; safe because the ledger contract is idempotent on invoice
// hash (spec.md §4.2.1).
type FinancingPipelineHandler struct {
	Ledger ledger.Client
}

func (h *FinancingPipelineHandler) Retry(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) ([]string, error) {
	invoiceID, err := invoiceIDFromEntity(sg)
	if err != nil {
		return nil, torcerr.New(torcerr.ValidationError, "FinancingPipelineHandler.Retry", err)
	}
	key := ledger.EncodeKey(invoiceID)

	payload := structFieldsToStrings(entry.OperationData)
	if _, err := h.Ledger.Submit(ctx, ledger.OpDeposit, key, payload); err != nil {
		return nil, torcerr.New(torcerr.TransientLedgerError, "FinancingPipelineHandler.Retry", err)
	}

	completed := append([]string{}, sg.StepsCompleted...)
	if !stepDone(completed, StepLiquidityLeg) {
		completed = append(completed, StepLiquidityLeg)
	}
	return completed, nil
}

// EventProcessingHandler re-runs the event mirror update for the event
// payload carried by operation_data (spec.md §4.2.1, §4.4).
type EventProcessingHandler struct {
	Store store.Store
}

func (h *EventProcessingHandler) Retry(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) ([]string, error) {
	invoiceID, err := invoiceIDFromEntity(sg)
	if err != nil {
		return nil, torcerr.New(torcerr.ValidationError, "EventProcessingHandler.Retry", err)
	}
	fields := structFieldsToStrings(entry.OperationData)

	e, ok, err := h.Store.GetEscrow(ctx, invoiceID)
	if err != nil {
		return nil, torcerr.New(torcerr.StoreContention, "EventProcessingHandler.Retry", err)
	}
	if !ok {
		return nil, torcerr.New(torcerr.ValidationError, "EventProcessingHandler.Retry", fmt.Errorf("no escrow mirror for %s", invoiceID))
	}
	if status, found := fields["status"]; found {
		e.Status = store.EscrowStatus(status)
	}
	if err := h.Store.UpsertEscrow(ctx, e); err != nil {
		return nil, torcerr.New(torcerr.StoreContention, "EventProcessingHandler.Retry", err)
	}
	return append([]string{}, sg.StepsCompleted...), nil
}

func invoiceIDFromEntity(sg store.Saga) (uuid.UUID, error) {
	return uuid.Parse(sg.EntityID)
}

// structFieldsToStrings flattens a *structpb.Struct's string-valued fields
// into a plain map for handing to ledger.Client.Submit's payload, which is
// always map[string]string.
func structFieldsToStrings(s *structpb.Struct) map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for k, v := range s.Fields {
		out[k] = v.GetStringValue()
	}
	return out
}

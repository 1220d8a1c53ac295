// Package saga implements the Saga Manager: durable, step-logged tracking
// of multi-step operations keyed by correlation ID (spec.md §4.1).
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/torcerr"
)

// StuckAfter is the staleness threshold used by Stuck (spec.md §4.1).
const StuckAfter = 5 * time.Minute

// legalTransitions enumerates the edges of the saga state machine
// (spec.md §3). A transition not listed here is rejected.
var legalTransitions = map[store.SagaState]map[store.SagaState]bool{
	store.SagaPending: {
		store.SagaProcessing: true,
	},
	store.SagaProcessing: {
		store.SagaCompleted:    true,
		store.SagaFailed:       true,
		store.SagaCompensating: true,
	},
	store.SagaFailed: {
		// A failed saga re-enters processing on the next recovery tick
		// (spec.md §4.2's retry loop); pending->processing->failed is the
		// documented happy path but the recovery worker cycles
		// failed->processing until max_retries is hit.
		store.SagaProcessing:   true,
		store.SagaDLQ:          true,
		store.SagaCompensating: true,
	},
	store.SagaCompensating: {
		store.SagaCompensated: true,
	},
}

// Manager is the Saga Manager capability. It is stateless beyond the
// Store it wraps; every method is safe for concurrent use.
type Manager struct {
	store store.Store
}

func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// Begin inserts a saga in pending state. If idempotencyKey is non-empty and
// a saga with that key already exists, Begin returns the existing
// correlation ID instead of inserting a duplicate.
func (m *Manager) Begin(ctx context.Context, opType store.OperationType, entityType, entityID string, stepsRemaining []string, ctxData *structpb.Struct, initiatedBy, idempotencyKey string) (uuid.UUID, error) {
	if idempotencyKey != "" {
		if existing, err := m.store.FindSagaByIdempotencyKey(ctx, idempotencyKey); err == nil {
			slog.InfoContext(ctx, "saga begin deduped by idempotency key", "correlation_id", existing.CorrelationID, "idempotency_key", idempotencyKey)
			return existing.CorrelationID, nil
		} else if err != store.ErrNotFound {
			return uuid.Nil, fmt.Errorf("saga: lookup idempotency key: %w", err)
		}
	}

	id := uuid.New()
	now := time.Now().UTC()
	sg := store.Saga{
		CorrelationID:  id,
		OperationType:  opType,
		EntityType:     entityType,
		EntityID:       entityID,
		CurrentState:   store.SagaPending,
		StepsRemaining: stepsRemaining,
		ContextData:    ctxData,
		InitiatedBy:    initiatedBy,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.InsertSaga(ctx, sg); err != nil {
		return uuid.Nil, fmt.Errorf("saga: begin %s/%s: %w", opType, entityID, err)
	}
	slog.InfoContext(ctx, "saga begun", "correlation_id", id, "operation_type", opType, "entity_id", entityID)
	return id, nil
}

// AdvanceOpts carries the optional fields Advance may update alongside the
// state transition itself.
type AdvanceOpts struct {
	StepsCompleted []string
	StepsRemaining []string
}

// Advance performs an atomic state transition, rejecting any edge not in
// legalTransitions. completed/dlq/compensated stamp completed_at exactly
// once (the Store's COALESCE keeps a retried Advance idempotent there).
func (m *Manager) Advance(ctx context.Context, correlationID uuid.UUID, newState store.SagaState, opts AdvanceOpts) error {
	sg, err := m.store.GetSaga(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("saga: advance %s: %w", correlationID, err)
	}

	if !legalTransitions[sg.CurrentState][newState] {
		return torcerr.New(torcerr.StateMachineViolation, "saga.Advance",
			fmt.Errorf("illegal transition %s -> %s for saga %s", sg.CurrentState, newState, correlationID))
	}

	completed := opts.StepsCompleted
	if completed == nil {
		completed = sg.StepsCompleted
	}
	remaining := opts.StepsRemaining
	if remaining == nil {
		remaining = sg.StepsRemaining
	}
	if newState == store.SagaCompleted && len(remaining) != 0 {
		return torcerr.New(torcerr.StateMachineViolation, "saga.Advance",
			fmt.Errorf("saga %s cannot complete with steps_remaining=%v", correlationID, remaining))
	}

	if err := m.store.UpdateSagaState(ctx, correlationID, newState, completed, remaining); err != nil {
		return fmt.Errorf("saga: advance %s: %w", correlationID, err)
	}
	slog.InfoContext(ctx, "saga advanced", "correlation_id", correlationID, "from", sg.CurrentState, "to", newState)
	return nil
}

func (m *Manager) Read(ctx context.Context, correlationID uuid.UUID) (store.Saga, error) {
	return m.store.GetSaga(ctx, correlationID)
}

// Stuck returns sagas in processing/compensating whose updated_at is older
// than StuckAfter.
func (m *Manager) Stuck(ctx context.Context) ([]store.Saga, error) {
	return m.store.ListStuckSagas(ctx, time.Now().UTC().Add(-StuckAfter))
}

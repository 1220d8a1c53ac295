package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/saga"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/torcerr"
)

// TickBatchSize is N in spec.md §4.2's tick(): "selects up to N (N=10)".
const TickBatchSize = 10

// Pipeline is the Recovery Pipeline capability.
type Pipeline struct {
	store    store.Store
	sagas    *saga.Manager
	registry *Registry
	cfg      config.SchedulerConfig
}

func New(st store.Store, sagas *saga.Manager, registry *Registry, cfg config.SchedulerConfig) *Pipeline {
	return &Pipeline{store: st, sagas: sagas, registry: registry, cfg: cfg}
}

// backoff computes next_retry_at = now + min(2^retry_count, cap) minutes
// (spec.md §3).
func (p *Pipeline) backoff(retryCount int) time.Duration {
	minutes := math.Pow(2, float64(retryCount))
	backoffCap := float64(p.cfg.RecoveryBackoffCapMinutes)
	if minutes > backoffCap {
		minutes = backoffCap
	}
	return time.Duration(minutes) * time.Minute
}

// Enqueue upserts a retry entry for correlationID, replacing any existing
// row (spec.md §4.2).
func (p *Pipeline) Enqueue(ctx context.Context, correlationID uuid.UUID, opType store.OperationType, operationData *structpb.Struct, retryCount int, lastErr string) error {
	entry := store.RecoveryEntry{
		CorrelationID: correlationID,
		OperationType: opType,
		OperationData: operationData,
		RetryCount:    retryCount,
		MaxRetries:    p.cfg.RecoveryMaxRetries,
		NextRetryAt:   time.Now().UTC().Add(p.backoff(retryCount)),
		LastError:     lastErr,
		Status:        store.RecoveryPending,
	}
	if err := p.store.UpsertRecovery(ctx, entry); err != nil {
		return fmt.Errorf("recovery: enqueue %s: %w", correlationID, err)
	}
	slog.InfoContext(ctx, "recovery entry enqueued", "correlation_id", correlationID, "retry_count", retryCount, "next_retry_at", entry.NextRetryAt)
	return nil
}

// PromoteToDLQ inserts a DLQ row, advances the saga to dlq, deletes the
// recovery row, and — if requiresCompensation is true — creates a pending
// CompensationAction (spec.md §4.2, §4.2.2).
func (p *Pipeline) PromoteToDLQ(ctx context.Context, entry store.RecoveryEntry, reason string) error {
	sg, err := p.sagas.Read(ctx, entry.CorrelationID)
	if err != nil {
		return fmt.Errorf("recovery: promote %s: %w", entry.CorrelationID, err)
	}
	needsComp := requiresCompensation(sg.OperationType, sg.StepsCompleted)

	return p.store.WithinTx(ctx, func(ctx context.Context) error {
		dlq := store.DLQEntry{
			CorrelationID:        entry.CorrelationID,
			OperationType:        entry.OperationType,
			OperationData:        entry.OperationData,
			FailureReason:        reason,
			RetryCount:           entry.RetryCount,
			RequiresCompensation: needsComp,
			CompensationStatus:   store.CompensationPending,
		}
		if err := p.store.InsertDLQ(ctx, dlq); err != nil {
			return fmt.Errorf("recovery: insert dlq %s: %w", entry.CorrelationID, err)
		}
		if err := p.sagas.Advance(ctx, entry.CorrelationID, store.SagaDLQ, saga.AdvanceOpts{}); err != nil {
			return fmt.Errorf("recovery: advance saga to dlq %s: %w", entry.CorrelationID, err)
		}
		if err := p.store.DeleteRecovery(ctx, entry.CorrelationID); err != nil {
			return fmt.Errorf("recovery: delete recovery row %s: %w", entry.CorrelationID, err)
		}
		if needsComp {
			action := store.CompensationAction{
				CorrelationID: entry.CorrelationID,
				ActionType:    string(sg.OperationType) + "_refund",
				ActionData:    entry.OperationData,
				Status:        store.CompensationPending,
			}
			if err := p.store.InsertCompensation(ctx, action); err != nil {
				return fmt.Errorf("recovery: insert compensation %s: %w", entry.CorrelationID, err)
			}
		}
		slog.WarnContext(ctx, "saga promoted to dlq", "correlation_id", entry.CorrelationID, "reason", reason, "requires_compensation", needsComp)
		return nil
	})
}

// Tick runs one recovery pass: claims up to TickBatchSize pending entries
// whose next_retry_at has passed, re-executes each via its registered
// handler, and either completes, re-enqueues with backoff, or promotes to
// DLQ (spec.md §4.2).
func (p *Pipeline) Tick(ctx context.Context) error {
	now := time.Now().UTC()
	claimed, err := p.store.ClaimPendingRecovery(ctx, TickBatchSize, now)
	if err != nil {
		return fmt.Errorf("recovery: tick claim: %w", err)
	}

	for _, entry := range claimed {
		p.retryOne(ctx, entry)
	}
	return nil
}

func (p *Pipeline) retryOne(ctx context.Context, entry store.RecoveryEntry) {
	if err := p.sagas.Advance(ctx, entry.CorrelationID, store.SagaProcessing, saga.AdvanceOpts{}); err != nil {
		slog.ErrorContext(ctx, "recovery: advance to processing failed", "correlation_id", entry.CorrelationID, "error", err)
	}

	sg, err := p.sagas.Read(ctx, entry.CorrelationID)
	if err != nil {
		slog.ErrorContext(ctx, "recovery: read saga failed", "correlation_id", entry.CorrelationID, "error", err)
		return
	}

	handler, ok := p.registry.Lookup(entry.OperationType)
	if !ok {
		p.failAndBackoff(ctx, entry, errUnknownOperation(entry.OperationType))
		return
	}

	stepsCompleted, retryErr := handler.Retry(ctx, entry, sg)
	if retryErr == nil {
		if err := p.sagas.Advance(ctx, entry.CorrelationID, store.SagaCompleted, saga.AdvanceOpts{StepsCompleted: stepsCompleted, StepsRemaining: []string{}}); err != nil {
			slog.ErrorContext(ctx, "recovery: advance to completed failed", "correlation_id", entry.CorrelationID, "error", err)
			return
		}
		if err := p.store.DeleteRecovery(ctx, entry.CorrelationID); err != nil {
			slog.ErrorContext(ctx, "recovery: delete recovery row failed", "correlation_id", entry.CorrelationID, "error", err)
		}
		slog.InfoContext(ctx, "recovery entry completed", "correlation_id", entry.CorrelationID)
		return
	}

	if !torcerr.Retryable(firstKind(retryErr)) {
		// PermanentLedgerError / StateMachineViolation (spec.md §7): no
		// retry, mark failed, and only escalate to DLQ if the steps
		// already completed need an operator compensation.
		p.failPermanently(ctx, entry, retryErr)
		return
	}
	p.failAndBackoff(ctx, entry, retryErr)
}

// failPermanently handles a non-retryable error: the saga is marked failed
// terminally; it is only promoted to DLQ when requiresCompensation says an
// operator must act on already-visible side effects.
func (p *Pipeline) failPermanently(ctx context.Context, entry store.RecoveryEntry, cause error) {
	sg, err := p.sagas.Read(ctx, entry.CorrelationID)
	if err != nil {
		slog.ErrorContext(ctx, "recovery: read saga failed", "correlation_id", entry.CorrelationID, "error", err)
		return
	}
	if err := p.sagas.Advance(ctx, entry.CorrelationID, store.SagaFailed, saga.AdvanceOpts{}); err != nil {
		slog.ErrorContext(ctx, "recovery: advance to failed failed", "correlation_id", entry.CorrelationID, "error", err)
		return
	}
	if !requiresCompensation(sg.OperationType, sg.StepsCompleted) {
		if err := p.store.DeleteRecovery(ctx, entry.CorrelationID); err != nil {
			slog.ErrorContext(ctx, "recovery: delete recovery row failed", "correlation_id", entry.CorrelationID, "error", err)
		}
		slog.WarnContext(ctx, "saga failed permanently, no compensation needed", "correlation_id", entry.CorrelationID, "error", cause)
		return
	}
	if err := p.PromoteToDLQ(ctx, entry, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "recovery: promote to dlq failed", "correlation_id", entry.CorrelationID, "error", err)
	}
}

// failAndBackoff handles a retryable error: re-enqueue with incremented
// retry_count and backoff, or promote to DLQ once max_retries is reached.
func (p *Pipeline) failAndBackoff(ctx context.Context, entry store.RecoveryEntry, cause error) {
	retryCount := entry.RetryCount + 1
	maxRetries := entry.MaxRetries
	if maxRetries == 0 {
		maxRetries = p.cfg.RecoveryMaxRetries
	}

	if retryCount >= maxRetries {
		if err := p.sagas.Advance(ctx, entry.CorrelationID, store.SagaFailed, saga.AdvanceOpts{}); err != nil {
			slog.ErrorContext(ctx, "recovery: advance to failed failed", "correlation_id", entry.CorrelationID, "error", err)
		}
		if err := p.PromoteToDLQ(ctx, entry, cause.Error()); err != nil {
			slog.ErrorContext(ctx, "recovery: promote to dlq failed", "correlation_id", entry.CorrelationID, "error", err)
		}
		return
	}

	if err := p.sagas.Advance(ctx, entry.CorrelationID, store.SagaFailed, saga.AdvanceOpts{}); err != nil {
		slog.ErrorContext(ctx, "recovery: advance to failed failed", "correlation_id", entry.CorrelationID, "error", err)
	}
	if err := p.Enqueue(ctx, entry.CorrelationID, entry.OperationType, entry.OperationData, retryCount, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "recovery: re-enqueue failed", "correlation_id", entry.CorrelationID, "error", err)
	}
}

func firstKind(err error) torcerr.Kind {
	if k, ok := torcerr.KindOf(err); ok {
		return k
	}
	return torcerr.TransientLedgerError
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// DiscrepancyFilter narrows Discrepancies' page.
type DiscrepancyFilter struct {
	Type   DiscrepancyType // empty means any non-none type
	Limit  int
	Offset int
}

// Store is the transactional persistence capability (spec.md §6). Every
// method participates in whatever transaction is active on ctx when called
// from inside WithinTx; outside of one, each call is its own unit of work.
type Store interface {
	// WithinTx runs fn inside a single transaction, committing on nil
	// return and rolling back otherwise. Nested calls reuse the outer
	// transaction rather than opening a new one.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Sagas
	InsertSaga(ctx context.Context, s Saga) error
	GetSaga(ctx context.Context, correlationID uuid.UUID) (Saga, error)
	UpdateSagaState(ctx context.Context, correlationID uuid.UUID, newState SagaState, stepsCompleted, stepsRemaining []string) error
	ListStuckSagas(ctx context.Context, olderThan time.Time) ([]Saga, error)
	FindSagaByIdempotencyKey(ctx context.Context, key string) (Saga, error)

	// Recovery queue
	UpsertRecovery(ctx context.Context, e RecoveryEntry) error
	DeleteRecovery(ctx context.Context, correlationID uuid.UUID) error
	ClaimPendingRecovery(ctx context.Context, limit int, now time.Time) ([]RecoveryEntry, error)
	GetRecovery(ctx context.Context, correlationID uuid.UUID) (RecoveryEntry, error)

	// DLQ
	InsertDLQ(ctx context.Context, d DLQEntry) error
	GetDLQ(ctx context.Context, correlationID uuid.UUID) (DLQEntry, error)
	ListDLQ(ctx context.Context, limit, offset int) ([]DLQEntry, error)
	ResolveDLQ(ctx context.Context, correlationID uuid.UUID, resolvedBy, notes string) error
	CountDLQ(ctx context.Context) (int, error)

	// Compensation
	InsertCompensation(ctx context.Context, c CompensationAction) error
	UpdateCompensationStatus(ctx context.Context, correlationID uuid.UUID, actionType string, status CompensationStatus, result string) error
	ListPendingCompensations(ctx context.Context) ([]CompensationAction, error)

	// Escrow mirror
	UpsertEscrow(ctx context.Context, e Escrow) error
	GetEscrow(ctx context.Context, invoiceID uuid.UUID) (Escrow, bool, error)
	LockEscrowForUpdate(ctx context.Context, invoiceID uuid.UUID) (Escrow, bool, error)
	ListEscrowInvoiceIDs(ctx context.Context, offset, limit int) ([]uuid.UUID, error)
	CountEscrows(ctx context.Context) (int, error)

	// Multi-sig
	UpsertMultiSig(ctx context.Context, m MultiSigApproval) error
	GetMultiSig(ctx context.Context, invoiceID uuid.UUID) (MultiSigApproval, bool, error)

	// Disputes
	UpsertDispute(ctx context.Context, d DisputeVote) error
	GetDispute(ctx context.Context, invoiceID uuid.UUID) (DisputeVote, bool, error)

	// Reconciliation
	InsertReconciliationSummary(ctx context.Context, s ReconciliationSummary) error
	UpdateReconciliationSummary(ctx context.Context, s ReconciliationSummary) error
	GetLatestSummary(ctx context.Context) (ReconciliationSummary, error)
	ListSummaries(ctx context.Context, limit, offset int) ([]ReconciliationSummary, error)
	InsertReconciliationLog(ctx context.Context, l ReconciliationLog) error
	ListDiscrepancies(ctx context.Context, f DiscrepancyFilter) ([]ReconciliationLog, error)

	// Health
	InsertHealthMetric(ctx context.Context, m HealthMetric) error
	ListHealthMetrics(ctx context.Context, mt MetricType, limit int) ([]HealthMetric, error)

	Close() error
}

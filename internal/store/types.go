// Package store defines the Store capability (spec.md §6) — transactional
// persistence for every entity in spec.md §3 — plus its default sqlite
// implementation under store/sqlite. Every TORC component depends on this
// interface, never on a database driver directly.
package store

import (
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jcmexdev/torc/internal/money"
)

// --- Saga ---

type OperationType string

const (
	OpEscrowRelease     OperationType = "escrow_release"
	OpEscrowDispute     OperationType = "escrow_dispute"
	OpEventProcessing   OperationType = "event_processing"
	OpTokenization      OperationType = "tokenization"
	OpFinancingPipeline OperationType = "financing_pipeline"
)

type SagaState string

const (
	SagaPending      SagaState = "pending"
	SagaProcessing   SagaState = "processing"
	SagaCompleted    SagaState = "completed"
	SagaFailed       SagaState = "failed"
	SagaDLQ          SagaState = "dlq"
	SagaCompensating SagaState = "compensating"
	SagaCompensated  SagaState = "compensated"
)

// Saga is the durable, step-logged record of one multi-step operation
// (spec.md §3).
type Saga struct {
	CorrelationID   uuid.UUID
	OperationType   OperationType
	EntityType      string
	EntityID        string
	CurrentState    SagaState
	StepsCompleted  []string
	StepsRemaining  []string
	ContextData     *structpb.Struct
	InitiatedBy     string
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// --- Recovery ---

type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryProcessing RecoveryStatus = "processing"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
)

// RecoveryEntry is one row of the durable retry queue (spec.md §3).
type RecoveryEntry struct {
	CorrelationID uuid.UUID
	OperationType OperationType
	OperationData *structpb.Struct
	RetryCount    int
	MaxRetries    int
	NextRetryAt   time.Time
	LastError     string
	Status        RecoveryStatus
	UpdatedAt     time.Time
}

// --- DLQ ---

type CompensationStatus string

const (
	CompensationPending    CompensationStatus = "pending"
	CompensationInProgress CompensationStatus = "in_progress"
	CompensationCompleted  CompensationStatus = "completed"
	CompensationFailed     CompensationStatus = "failed"
)

// DLQEntry is the terminal resting place for a saga that exhausted retries
// (spec.md §3).
type DLQEntry struct {
	CorrelationID        uuid.UUID
	OperationType        OperationType
	OperationData        *structpb.Struct
	FailureReason        string
	RetryCount           int
	RequiresCompensation bool
	CompensationStatus   CompensationStatus
	CreatedAt            time.Time
	ResolvedAt           *time.Time
	ResolvedBy           string
	ResolutionNotes      string
}

// CompensationAction is the operator-actionable reversal record created
// when a DLQ entry requires compensation (spec.md §3).
type CompensationAction struct {
	CorrelationID uuid.UUID
	ActionType    string
	ActionData    *structpb.Struct
	Status        CompensationStatus
	Result        string
	ExecutedAt    *time.Time
	CreatedAt     time.Time
}

// --- Escrow mirror ---

type EscrowStatus string

const (
	EscrowCreated  EscrowStatus = "created"
	EscrowFunded   EscrowStatus = "funded"
	EscrowDisputed EscrowStatus = "disputed"
	EscrowReleased EscrowStatus = "released"
	EscrowExpired  EscrowStatus = "expired"
)

// Escrow mirrors the ledger's escrow state (spec.md §3).
type Escrow struct {
	InvoiceID        uuid.UUID
	Seller           string
	Buyer            string
	Amount           money.Amount
	Token            string
	Status           EscrowStatus
	SellerConfirmed  bool
	BuyerConfirmed   bool
	DisputeRaised    bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RWANFTContract   string
	RWATokenID       string
	FeeAmount        money.Amount
	DiscountBps      int
	DiscountDeadline *time.Time
}

// MultiSigApproval tracks approver accumulation for a funded escrow
// (spec.md §3).
type MultiSigApproval struct {
	InvoiceID uuid.UUID
	Approvers []string
	Required  int
}

// DisputeVote is the per-dispute arbitrator voting record (spec.md §3).
type DisputeVote struct {
	InvoiceID             uuid.UUID
	SnapshotArbitratorCnt int
	VotesForBuyer         int
	VotesForSeller        int
	Resolved              bool
	VotedArbitrators      []string
}

// --- Reconciliation ---

type DiscrepancyType string

const (
	DiscrepancyNone           DiscrepancyType = "none"
	DiscrepancyAmountMismatch DiscrepancyType = "amount_mismatch"
	DiscrepancyStatusMismatch DiscrepancyType = "status_mismatch"
	DiscrepancyMissingChain   DiscrepancyType = "missing_chain"
	DiscrepancyMissingDB      DiscrepancyType = "missing_db"
	DiscrepancyError          DiscrepancyType = "error"
)

// ReconciliationLog is one row per (invoice, run) (spec.md §3).
type ReconciliationLog struct {
	RunID              uuid.UUID
	InvoiceID          uuid.UUID
	ChainStatus        string
	DBStatus           string
	ChainAmount        string
	DBAmount           string
	DiscrepancyAmount  money.Amount
	DiscrepancyType    DiscrepancyType
	ChainCounterparty  string
	DBCounterparty     string
	Notes              string
	CreatedAt          time.Time
}

type RunType string

const (
	RunFull      RunType = "full"
	RunPartial   RunType = "partial"
	RunManual    RunType = "manual"
	RunScheduled RunType = "scheduled"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationSummary is one row per run (spec.md §3).
type ReconciliationSummary struct {
	RunID                  uuid.UUID
	RunType                RunType
	TotalCount             int
	MatchedCount           int
	DiscrepancyCount       int
	MissingChainCount      int
	MissingDBCount         int
	TotalDiscrepancyAmount money.Amount
	StartedAt              time.Time
	CompletedAt            *time.Time
	Status                 RunStatus
	ErrorMessage           string
}

// --- Health ---

type MetricType string

const (
	MetricSuccessRate       MetricType = "success_rate"
	MetricRetryCount        MetricType = "retry_count"
	MetricDLQSize           MetricType = "dlq_size"
	MetricAvgProcessingTime MetricType = "avg_processing_time"
	MetricStuckTransactions MetricType = "stuck_transactions"
	MetricCompensationRate  MetricType = "compensation_rate"
	MetricErrorRate         MetricType = "error_rate"
)

// HealthMetric is one aggregated observation (spec.md §3).
type HealthMetric struct {
	MetricType  MetricType
	MetricName  string
	MetricValue float64
	RecordedAt  time.Time
	Metadata    *structpb.Struct
}

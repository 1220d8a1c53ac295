// Package ledger defines the LedgerClient capability (spec.md §6) — the
// only trusted external surface the core depends on — plus the invoice-ID
// codec and two implementations: an in-memory fake used by tests and the
// cmd/torcd demo, and a thin gRPC-transport adapter proving the capability
// is satisfiable over the wire without pulling the ledger's own service
// definition (out of scope per spec.md §1) into this module.
package ledger

import (
	"context"
	"time"

	"github.com/jcmexdev/torc/internal/money"
)

// Status is the canonical on-ledger escrow status code (spec.md §6).
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusDisputed
	StatusReleased
	StatusExpired
)

// EscrowState is what LedgerClient.ReadEscrow returns for a live invoice.
type EscrowState struct {
	Seller           string
	Buyer            string
	Amount           money.Amount
	Token            string
	Status           Status
	SellerConfirmed  bool
	BuyerConfirmed   bool
	DisputeRaised    bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// MultiSigApprovals is what LedgerClient.ReadMultiSigApprovals returns.
type MultiSigApprovals struct {
	Approvers []string
	Required  int
	Count     int
}

// Event is one entry from LedgerClient.Events' stream.
type Event struct {
	Name        string
	Args        map[string]string
	TxHash      string
	LogIndex    uint32
	BlockNumber uint64
}

// Identity returns the stable event identity used for dedupe (spec.md
// §4.4): (event_name, ledger_tx_hash, log_index).
func (e Event) Identity() EventIdentity {
	return EventIdentity{Name: e.Name, TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// EventIdentity is the comparable dedupe key for an Event.
type EventIdentity struct {
	Name     string
	TxHash   string
	LogIndex uint32
}

// Operation names the on-ledger call Submit should make.
type Operation string

const (
	OpCreate                Operation = "create"
	OpDeposit               Operation = "deposit"
	OpConfirmRelease        Operation = "confirmRelease"
	OpReclaimExpiredFunds   Operation = "reclaimExpiredFunds"
	OpRaiseDispute          Operation = "raiseDispute"
	OpVoteOnDispute         Operation = "voteOnDispute"
	OpSafeEscape            Operation = "safeEscape"
	OpAddApproval           Operation = "addApproval"
)

// Client is the LedgerClient capability (spec.md §6). The core never talks
// to a chain client library directly — every escrow/recovery/reconciliation
// component depends on this interface only.
type Client interface {
	// ReadEscrow returns the live escrow state for key, or ok=false if no
	// record exists (seller address is the zero value on the ledger).
	ReadEscrow(ctx context.Context, key Key) (state EscrowState, ok bool, err error)

	// Submit issues a state-changing call and returns its transaction hash.
	// payload is operation-specific (see the Op* constants).
	Submit(ctx context.Context, op Operation, key Key, payload map[string]string) (txHash string, err error)

	// Events streams ledger events. Callers range over the returned channel
	// until ctx is done or the channel is closed.
	Events(ctx context.Context) (<-chan Event, error)

	// ReadMultiSigApprovals returns the current approver set for a funded
	// escrow.
	ReadMultiSigApprovals(ctx context.Context, key Key) (MultiSigApprovals, error)
}

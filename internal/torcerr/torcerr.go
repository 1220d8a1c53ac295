// Package torcerr defines the error-kind taxonomy every TORC subsystem uses
// to decide local policy: retry via the recovery pipeline, fail a saga fast,
// or require operator compensation. Callers should not invent ad-hoc error
// types — wrap the underlying cause with the right Kind and let the kind
// drive behavior.
package torcerr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed, independent of the error message.
type Kind string

const (
	// TransientLedgerError: RPC timeout, nonce collision, temporary network
	// failure. Retried via the recovery pipeline with backoff.
	TransientLedgerError Kind = "transient_ledger_error"

	// PermanentLedgerError: a revert with a known reason string. No retry;
	// the saga is marked failed; DLQ only if compensation is needed.
	PermanentLedgerError Kind = "permanent_ledger_error"

	// StoreContention: a serialization or deadlock error from the store.
	// Retryable, so the recovery pipeline re-enqueues it with backoff;
	// nothing retries it in place.
	StoreContention Kind = "store_contention"

	// ValidationError: caller-supplied data rejected at saga entry. Never
	// enqueued; rejected synchronously.
	ValidationError Kind = "validation_error"

	// StateMachineViolation: an illegal state transition was attempted.
	// Fails fast; never retried; no compensation.
	StateMachineViolation Kind = "state_machine_violation"

	// CompensationRequired: a saga reached terminal failure after visible
	// external side effects. A pending CompensationAction is created and an
	// operator must act.
	CompensationRequired Kind = "compensation_required"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// policy without parsing message strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind, recording op (typically "<component>.<method>")
// for log/trace readability.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, walking the Unwrap chain. Returns
// ("", false) if neither err nor anything in its chain is a *Error.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Is reports whether err's Kind (anywhere in its chain) equals kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Retryable reports whether the recovery pipeline should enqueue a retry
// for an error of this kind.
func Retryable(kind Kind) bool {
	switch kind {
	case TransientLedgerError, StoreContention:
		return true
	default:
		return false
	}
}

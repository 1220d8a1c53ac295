package torcerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfExtractsThroughWrapping(t *testing.T) {
	cause := errors.New("ledger timeout")
	err := New(TransientLedgerError, "ledger.Submit", cause)
	wrapped := fmt.Errorf("recovery: retry failed: %w", err)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatal("expected KindOf to find a *Error through fmt.Errorf wrapping")
	}
	if kind != TransientLedgerError {
		t.Fatalf("expected transient_ledger_error, got %s", kind)
	}
	if !Is(wrapped, TransientLedgerError) {
		t.Fatal("expected Is to match through wrapping")
	}
	if Is(wrapped, PermanentLedgerError) {
		t.Fatal("expected Is not to match a different kind")
	}
}

func TestKindOfReportsFalseForPlainErrors(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatal("expected KindOf to report false for an error with no Kind")
	}
}

func TestNewReturnsNilForNilCause(t *testing.T) {
	if err := New(ValidationError, "escrow.Create", nil); err != nil {
		t.Fatalf("expected New(nil) to return nil, got %v", err)
	}
}

func TestRetryableClassifiesEachKind(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{TransientLedgerError, true},
		{StoreContention, true},
		{PermanentLedgerError, false},
		{ValidationError, false},
		{StateMachineViolation, false},
		{CompensationRequired, false},
	}
	for _, c := range cases {
		if got := Retryable(c.kind); got != c.want {
			t.Errorf("Retryable(%s) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestErrorMessageIncludesOpWhenPresent(t *testing.T) {
	err := New(StateMachineViolation, "saga.Advance", errors.New("illegal transition"))
	got := err.Error()
	want := "saga.Advance: state_machine_violation: illegal transition"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

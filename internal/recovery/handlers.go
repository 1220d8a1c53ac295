// Package recovery implements the durable retry queue, DLQ promotion, and
// compensation-action creation driving saga retries (spec.md §4.2).
package recovery

import (
	"context"
	"fmt"

	"github.com/jcmexdev/torc/internal/store"
)

// Handler re-executes one operation_type on a recovery tick, consulting
// steps_completed to skip already-committed effects (spec.md §4.2.1). It
// returns the updated steps_completed list on success.
type Handler interface {
	Retry(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) (stepsCompleted []string, err error)
}

// Registry maps operation_type to its Handler. cmd/torcd registers one
// Handler per operation_type here, and the pipeline dispatches every retry
// through it (spec.md §9: "the handler registry [is] the sole coupling
// point").
type Registry struct {
	handlers map[store.OperationType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[store.OperationType]Handler)}
}

func (r *Registry) Register(op store.OperationType, h Handler) {
	r.handlers[op] = h
}

func (r *Registry) Lookup(op store.OperationType) (Handler, bool) {
	h, ok := r.handlers[op]
	return h, ok
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) ([]string, error)

func (f HandlerFunc) Retry(ctx context.Context, entry store.RecoveryEntry, sg store.Saga) ([]string, error) {
	return f(ctx, entry, sg)
}

// errUnknownOperation builds the failure retryOne records when no handler
// is registered for a recovery entry's operation_type; the entry then goes
// through failAndBackoff like any other failed retry.
func errUnknownOperation(op store.OperationType) error {
	return fmt.Errorf("recovery: no handler registered for operation_type %q", op)
}

package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jcmexdev/torc/internal/money"
)

// Ensure fakeClient implements Client at compile time.
var _ Client = (*fakeClient)(nil)

// fakeClient is an in-memory implementation of Client intended for local
// development, the cmd/torcd demo, and unit tests. Do NOT use in production
// — it holds no actual funds and has no cryptographic signing.
type fakeClient struct {
	mu          sync.Mutex
	escrows     map[Key]EscrowState
	approvals   map[Key]MultiSigApprovals
	subscribers []chan Event
}

// NewFake returns an in-memory Client for development/testing.
func NewFake() *fakeClient {
	return &fakeClient{
		escrows:   make(map[Key]EscrowState),
		approvals: make(map[Key]MultiSigApprovals),
	}
}

func (f *fakeClient) ReadEscrow(ctx context.Context, key Key) (EscrowState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.escrows[key]
	return s, ok, nil
}

func (f *fakeClient) ReadMultiSigApprovals(ctx context.Context, key Key) (MultiSigApprovals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approvals[key], nil
}

// Submit applies the operation directly to the in-memory escrow map and
// emits a synthetic event to every subscriber, mimicking what a real chain
// submission + event stream would produce.
func (f *fakeClient) Submit(ctx context.Context, op Operation, key Key, payload map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	txHash := fmt.Sprintf("0xfake%d", time.Now().UnixNano())

	switch op {
	case OpCreate:
		if _, exists := f.escrows[key]; exists {
			return "", fmt.Errorf("ledger: escrow already exists for key %x", key)
		}
		amt, err := money.FromString(payload["amount"])
		if err != nil {
			return "", err
		}
		dur, _ := time.ParseDuration(payload["duration"])
		f.escrows[key] = EscrowState{
			Seller:    payload["seller"],
			Buyer:     payload["buyer"],
			Amount:    amt,
			Token:     payload["token"],
			Status:    StatusCreated,
			CreatedAt: time.Now().UTC(),
			ExpiresAt: time.Now().UTC().Add(dur),
		}
	case OpDeposit:
		s, ok := f.escrows[key]
		if !ok {
			return "", fmt.Errorf("ledger: no escrow for key %x", key)
		}
		s.Status = StatusFunded
		if payload["payable"] != "" {
			amt, err := money.FromString(payload["payable"])
			if err != nil {
				return "", err
			}
			s.Amount = amt
		}
		f.escrows[key] = s
	case OpConfirmRelease:
		s, ok := f.escrows[key]
		if !ok {
			return "", fmt.Errorf("ledger: no escrow for key %x", key)
		}
		switch payload["party"] {
		case "seller":
			s.SellerConfirmed = true
		case "buyer":
			s.BuyerConfirmed = true
		}
		if s.SellerConfirmed && s.BuyerConfirmed {
			s.Status = StatusReleased
		}
		f.escrows[key] = s
	case OpReclaimExpiredFunds:
		s, ok := f.escrows[key]
		if !ok {
			return "", fmt.Errorf("ledger: no escrow for key %x", key)
		}
		s.Status = StatusExpired
		f.escrows[key] = s
	case OpRaiseDispute:
		s, ok := f.escrows[key]
		if !ok {
			return "", fmt.Errorf("ledger: no escrow for key %x", key)
		}
		s.Status = StatusDisputed
		s.DisputeRaised = true
		f.escrows[key] = s
	case OpVoteOnDispute, OpSafeEscape:
		s, ok := f.escrows[key]
		if !ok {
			return "", fmt.Errorf("ledger: no escrow for key %x", key)
		}
		if payload["resolved"] == "true" {
			s.Status = StatusReleased
		}
		f.escrows[key] = s
	case OpAddApproval:
		s, ok := f.escrows[key]
		if !ok {
			return "", fmt.Errorf("ledger: no escrow for key %x", key)
		}
		a := f.approvals[key]
		approver := payload["approver"]
		found := false
		for _, existing := range a.Approvers {
			if existing == approver {
				found = true
				break
			}
		}
		if !found {
			a.Approvers = append(a.Approvers, approver)
			a.Count = len(a.Approvers)
		}
		f.approvals[key] = a
		if a.Required > 0 && a.Count >= a.Required {
			s.Status = StatusReleased
		}
		f.escrows[key] = s
	default:
		return "", fmt.Errorf("ledger: unknown operation %q", op)
	}

	args := make(map[string]string, len(payload)+2)
	for k, v := range payload {
		args[k] = v
	}
	args["invoice_id"], _ = decodeKeyToUUIDString(key)
	args["status"] = statusString(f.escrows[key].Status)

	f.publish(Event{Name: string(op), Args: args, TxHash: txHash, BlockNumber: uint64(time.Now().UnixNano())})
	return txHash, nil
}

func decodeKeyToUUIDString(key Key) (string, error) {
	id, err := DecodeKey(key)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func statusString(s Status) string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusDisputed:
		return "disputed"
	case StatusReleased:
		return "released"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func (f *fakeClient) publish(ev Event) {
	for _, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Events returns a channel fed by every subsequent Submit call. The channel
// is closed when ctx is done.
func (f *fakeClient) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		close(ch)
	}()

	return ch, nil
}

// SeedApprovals sets the multi-sig approver set for tests that exercise the
// escrow protocol's auto-release-on-threshold path directly against the
// ledger state rather than through Submit.
func (f *fakeClient) SeedApprovals(key Key, a MultiSigApprovals) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals[key] = a
}

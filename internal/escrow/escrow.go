// Package escrow implements the Escrow Protocol state machine driving
// Created -> Funded -> {Released | Disputed -> Resolved | Expired}
// (spec.md §4.3), including multi-sig approval accumulation and arbitrator
// quorum voting.
package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/publish"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/torcerr"
)

// Protocol is the Escrow Protocol capability. One instance serves every
// escrow; there is no per-invoice object, matching the ledger's own
// stateless-call model.
type Protocol struct {
	ledger      ledger.Client
	store       store.Store
	cfg         config.SchedulerConfig
	arbitrators ArbitratorRegistry
	sink        publish.Sink
}

func New(lc ledger.Client, st store.Store, cfg config.SchedulerConfig, arb ArbitratorRegistry, sink publish.Sink) *Protocol {
	return &Protocol{ledger: lc, store: st, cfg: cfg, arbitrators: arb, sink: sink}
}

// MinimumAmount is the ceil(10000/fee_bps) precondition from spec.md §4.3.
func (p *Protocol) MinimumAmount() money.Amount {
	return money.CeilDiv10000Over(p.cfg.FeeBasisPoints)
}

// CreateParams carries Create's caller-supplied arguments.
type CreateParams struct {
	InvoiceID        uuid.UUID
	Seller           string
	Buyer            string
	Amount           money.Amount
	Token            string
	Duration         time.Duration
	RWANFTContract   string
	RWATokenID       string
	DiscountBps      int
	DiscountDeadline *time.Time
}

// Create opens a new escrow. Admin-only per spec.md §4.3; the caller
// (the out-of-scope API layer) is responsible for authorizing the actor
// before calling this.
func (p *Protocol) Create(ctx context.Context, params CreateParams) (store.Escrow, error) {
	if _, ok, err := p.store.GetEscrow(ctx, params.InvoiceID); err != nil {
		return store.Escrow{}, fmt.Errorf("escrow: create %s: %w", params.InvoiceID, err)
	} else if ok {
		return store.Escrow{}, torcerr.New(torcerr.ValidationError, "escrow.Create",
			fmt.Errorf("escrow already exists for invoice %s", params.InvoiceID))
	}

	min := p.MinimumAmount()
	if params.Amount.Cmp(min) < 0 {
		return store.Escrow{}, torcerr.New(torcerr.ValidationError, "escrow.Create",
			fmt.Errorf("amount %s below minimum_escrow_amount %s", params.Amount, min))
	}

	feeAmount := params.Amount.MulBps(p.cfg.FeeBasisPoints)
	if feeAmount.Sign() == 0 {
		return store.Escrow{}, torcerr.New(torcerr.ValidationError, "escrow.Create",
			fmt.Errorf("computed fee_amount is zero for amount %s at %d bps", params.Amount, p.cfg.FeeBasisPoints))
	}

	key := ledger.EncodeKey(params.InvoiceID)
	payload := map[string]string{
		"seller":   params.Seller,
		"buyer":    params.Buyer,
		"amount":   params.Amount.String(),
		"token":    params.Token,
		"duration": params.Duration.String(),
	}
	if params.RWANFTContract != "" {
		payload["rwa_nft_contract"] = params.RWANFTContract
		payload["rwa_token_id"] = params.RWATokenID
	}

	if _, err := p.ledger.Submit(ctx, ledger.OpCreate, key, payload); err != nil {
		return store.Escrow{}, torcerr.New(torcerr.TransientLedgerError, "escrow.Create", err)
	}

	now := time.Now().UTC()
	e := store.Escrow{
		InvoiceID:        params.InvoiceID,
		Seller:           params.Seller,
		Buyer:            params.Buyer,
		Amount:           params.Amount,
		Token:            params.Token,
		Status:           store.EscrowCreated,
		CreatedAt:        now,
		ExpiresAt:        now.Add(params.Duration),
		RWANFTContract:   params.RWANFTContract,
		RWATokenID:       params.RWATokenID,
		FeeAmount:        feeAmount,
		DiscountBps:      params.DiscountBps,
		DiscountDeadline: params.DiscountDeadline,
	}
	if err := p.store.UpsertEscrow(ctx, e); err != nil {
		return store.Escrow{}, fmt.Errorf("escrow: mirror create %s: %w", params.InvoiceID, err)
	}
	slog.InfoContext(ctx, "escrow created", "invoice_id", params.InvoiceID, "amount", params.Amount, "fee_amount", feeAmount)
	return e, nil
}

// Deposit funds the escrow. Buyer-only; applies the active discount if one
// is in effect (spec.md §4.3).
func (p *Protocol) Deposit(ctx context.Context, invoiceID uuid.UUID, caller string) (store.Escrow, error) {
	var result store.Escrow
	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		e, ok, err := p.store.LockEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("escrow: deposit %s: %w", invoiceID, err)
		}
		if !ok {
			return torcerr.New(torcerr.ValidationError, "escrow.Deposit", fmt.Errorf("no escrow for invoice %s", invoiceID))
		}
		if caller != e.Buyer {
			return torcerr.New(torcerr.ValidationError, "escrow.Deposit", fmt.Errorf("caller %s is not the recorded buyer", caller))
		}
		if e.Status != store.EscrowCreated {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.Deposit",
				fmt.Errorf("invoice %s status=%s, want created", invoiceID, e.Status))
		}
		now := time.Now().UTC()
		if now.After(e.ExpiresAt) {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.Deposit", fmt.Errorf("invoice %s expired", invoiceID))
		}

		payable := e.Amount
		active := e.DiscountBps > 0 && e.DiscountDeadline != nil && !now.After(*e.DiscountDeadline)
		if active {
			payable = e.Amount.Sub(e.Amount.MulBps(int64(e.DiscountBps)))
		}

		key := ledger.EncodeKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpDeposit, key, map[string]string{
			"buyer":   caller,
			"payable": payable.String(),
		}); err != nil {
			return torcerr.New(torcerr.TransientLedgerError, "escrow.Deposit", err)
		}

		e.Status = store.EscrowFunded
		e.Amount = payable
		if err := p.store.UpsertEscrow(ctx, e); err != nil {
			return fmt.Errorf("escrow: mirror deposit %s: %w", invoiceID, err)
		}
		result = e
		return nil
	})
	if err != nil {
		return store.Escrow{}, err
	}
	slog.InfoContext(ctx, "escrow funded", "invoice_id", invoiceID, "amount", result.Amount)
	return result, nil
}

// ConfirmRelease records one party's confirmation flag and executes the
// release when both are set (spec.md §4.3).
func (p *Protocol) ConfirmRelease(ctx context.Context, invoiceID uuid.UUID, caller string) (store.Escrow, error) {
	var result store.Escrow
	var released bool
	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		e, ok, err := p.store.LockEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("escrow: confirm release %s: %w", invoiceID, err)
		}
		if !ok {
			return torcerr.New(torcerr.ValidationError, "escrow.ConfirmRelease", fmt.Errorf("no escrow for invoice %s", invoiceID))
		}
		if e.Status != store.EscrowFunded {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.ConfirmRelease",
				fmt.Errorf("invoice %s status=%s, want funded", invoiceID, e.Status))
		}

		var party string
		switch caller {
		case e.Seller:
			e.SellerConfirmed = true
			party = "seller"
		case e.Buyer:
			e.BuyerConfirmed = true
			party = "buyer"
		default:
			return torcerr.New(torcerr.ValidationError, "escrow.ConfirmRelease", fmt.Errorf("caller %s is neither party", caller))
		}

		key := ledger.EncodeKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpConfirmRelease, key, map[string]string{"party": party}); err != nil {
			return torcerr.New(torcerr.TransientLedgerError, "escrow.ConfirmRelease", err)
		}

		if time.Now().UTC().After(e.ExpiresAt) && !(e.SellerConfirmed && e.BuyerConfirmed) {
			e.Status = store.EscrowExpired
		}
		if e.SellerConfirmed && e.BuyerConfirmed {
			e.Status = store.EscrowReleased
			released = true
		}

		if err := p.store.UpsertEscrow(ctx, e); err != nil {
			return fmt.Errorf("escrow: mirror confirm release %s: %w", invoiceID, err)
		}
		result = e
		return nil
	})
	if err != nil {
		return store.Escrow{}, err
	}
	if released {
		p.sink.Publish(ctx, publish.TopicEscrowReleased, map[string]any{
			"invoice_id": invoiceID.String(), "fee_amount": result.FeeAmount.String(), "amount": result.Amount.String(),
		})
	}
	return result, nil
}

// AddApproval accumulates a multi-sig approver, releasing automatically
// when the threshold is reached (spec.md §3: "release fires automatically
// when |approvers| >= required").
func (p *Protocol) AddApproval(ctx context.Context, invoiceID uuid.UUID, approver string) (store.MultiSigApproval, error) {
	e, ok, err := p.store.GetEscrow(ctx, invoiceID)
	if err != nil {
		return store.MultiSigApproval{}, fmt.Errorf("escrow: add approval %s: %w", invoiceID, err)
	}
	if !ok {
		return store.MultiSigApproval{}, torcerr.New(torcerr.ValidationError, "escrow.AddApproval", fmt.Errorf("no escrow for invoice %s", invoiceID))
	}
	if e.Status != store.EscrowFunded {
		return store.MultiSigApproval{}, torcerr.New(torcerr.StateMachineViolation, "escrow.AddApproval",
			fmt.Errorf("invoice %s status=%s, want funded", invoiceID, e.Status))
	}

	key := ledger.EncodeKey(invoiceID)
	if _, err := p.ledger.Submit(ctx, ledger.OpAddApproval, key, map[string]string{"approver": approver}); err != nil {
		return store.MultiSigApproval{}, torcerr.New(torcerr.TransientLedgerError, "escrow.AddApproval", err)
	}

	live, err := p.ledger.ReadMultiSigApprovals(ctx, key)
	if err != nil {
		return store.MultiSigApproval{}, torcerr.New(torcerr.TransientLedgerError, "escrow.AddApproval", err)
	}
	m := store.MultiSigApproval{InvoiceID: invoiceID, Approvers: live.Approvers, Required: live.Required}
	if err := p.store.UpsertMultiSig(ctx, m); err != nil {
		return store.MultiSigApproval{}, fmt.Errorf("escrow: mirror approval %s: %w", invoiceID, err)
	}
	p.sink.Publish(ctx, publish.TopicEscrowApprovalAdded, map[string]any{"invoice_id": invoiceID.String(), "approver": approver, "count": live.Count})

	if live.Required > 0 && live.Count >= live.Required {
		e.Status = store.EscrowReleased
		if err := p.store.UpsertEscrow(ctx, e); err != nil {
			return store.MultiSigApproval{}, fmt.Errorf("escrow: mirror threshold release %s: %w", invoiceID, err)
		}
		p.sink.Publish(ctx, publish.TopicEscrowReleased, map[string]any{"invoice_id": invoiceID.String(), "via": "multisig"})
	}
	return m, nil
}

// ReclaimExpiredFunds returns funds to the buyer once the escrow is past
// its expiry (spec.md §4.3).
func (p *Protocol) ReclaimExpiredFunds(ctx context.Context, invoiceID uuid.UUID, caller string) (store.Escrow, error) {
	var result store.Escrow
	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		e, ok, err := p.store.LockEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("escrow: reclaim %s: %w", invoiceID, err)
		}
		if !ok {
			return torcerr.New(torcerr.ValidationError, "escrow.ReclaimExpiredFunds", fmt.Errorf("no escrow for invoice %s", invoiceID))
		}
		if caller != e.Buyer {
			return torcerr.New(torcerr.ValidationError, "escrow.ReclaimExpiredFunds", fmt.Errorf("caller %s is not the recorded buyer", caller))
		}
		if e.Status != store.EscrowFunded && e.Status != store.EscrowExpired {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.ReclaimExpiredFunds",
				fmt.Errorf("invoice %s status=%s, want funded or expired", invoiceID, e.Status))
		}
		if !time.Now().UTC().After(e.ExpiresAt) {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.ReclaimExpiredFunds", fmt.Errorf("invoice %s has not expired", invoiceID))
		}

		key := ledger.EncodeKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpReclaimExpiredFunds, key, map[string]string{"buyer": caller}); err != nil {
			return torcerr.New(torcerr.TransientLedgerError, "escrow.ReclaimExpiredFunds", err)
		}

		e.Status = store.EscrowExpired
		if err := p.store.UpsertEscrow(ctx, e); err != nil {
			return fmt.Errorf("escrow: mirror reclaim %s: %w", invoiceID, err)
		}
		result = e
		return nil
	})
	return result, err
}

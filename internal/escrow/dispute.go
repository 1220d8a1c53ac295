package escrow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/publish"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/torcerr"
)

// quorum returns ceil(snapshot * quorum_pct / 100), minimum 1 (spec.md §3).
func quorum(snapshot, quorumPct int) int {
	if snapshot <= 0 {
		return 1
	}
	q := (snapshot*quorumPct + 99) / 100
	if q < 1 {
		return 1
	}
	return q
}

// RaiseDispute transitions a funded escrow to disputed and snapshots the
// live arbitrator count for quorum computation (spec.md §4.3).
func (p *Protocol) RaiseDispute(ctx context.Context, invoiceID uuid.UUID, caller string) (store.Escrow, error) {
	var result store.Escrow
	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		e, ok, err := p.store.LockEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("escrow: raise dispute %s: %w", invoiceID, err)
		}
		if !ok {
			return torcerr.New(torcerr.ValidationError, "escrow.RaiseDispute", fmt.Errorf("no escrow for invoice %s", invoiceID))
		}
		if caller != e.Seller && caller != e.Buyer {
			return torcerr.New(torcerr.ValidationError, "escrow.RaiseDispute", fmt.Errorf("caller %s is neither party", caller))
		}
		if e.Status != store.EscrowFunded {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.RaiseDispute",
				fmt.Errorf("invoice %s status=%s, want funded", invoiceID, e.Status))
		}
		liveCount := p.arbitrators.Count()
		if liveCount <= 0 {
			return torcerr.New(torcerr.ValidationError, "escrow.RaiseDispute", fmt.Errorf("no registered arbitrators"))
		}

		key := ledger.EncodeKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpRaiseDispute, key, map[string]string{"caller": caller}); err != nil {
			return torcerr.New(torcerr.TransientLedgerError, "escrow.RaiseDispute", err)
		}

		e.Status = store.EscrowDisputed
		e.DisputeRaised = true
		if err := p.store.UpsertEscrow(ctx, e); err != nil {
			return fmt.Errorf("escrow: mirror raise dispute %s: %w", invoiceID, err)
		}
		if err := p.store.UpsertDispute(ctx, store.DisputeVote{InvoiceID: invoiceID, SnapshotArbitratorCnt: liveCount}); err != nil {
			return fmt.Errorf("escrow: init dispute vote %s: %w", invoiceID, err)
		}
		result = e
		return nil
	})
	if err != nil {
		return store.Escrow{}, err
	}
	p.sink.Publish(ctx, publish.TopicEscrowDispute, map[string]any{"invoice_id": invoiceID.String(), "raised_by": caller})
	return result, nil
}

// VoteOnDispute records an arbitrator's vote. On every vote the snapshot is
// shrunk to min(snapshot, live_count) so departures tighten quorum; when
// the combined vote count reaches quorum, the dispute resolves (tie favors
// the buyer) and the escrow releases to the winner (spec.md §4.3).
func (p *Protocol) VoteOnDispute(ctx context.Context, invoiceID uuid.UUID, arbitrator string, voteForBuyer bool) (store.DisputeVote, error) {
	if !p.arbitrators.IsArbitrator(arbitrator) {
		return store.DisputeVote{}, torcerr.New(torcerr.ValidationError, "escrow.VoteOnDispute", fmt.Errorf("%s is not a registered arbitrator", arbitrator))
	}

	var result store.DisputeVote
	var sellerWins, resolved bool
	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		d, ok, err := p.store.GetDispute(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("escrow: vote %s: %w", invoiceID, err)
		}
		if !ok {
			return torcerr.New(torcerr.ValidationError, "escrow.VoteOnDispute", fmt.Errorf("no dispute for invoice %s", invoiceID))
		}
		if d.Resolved {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.VoteOnDispute", fmt.Errorf("dispute %s already resolved", invoiceID))
		}
		for _, v := range d.VotedArbitrators {
			if v == arbitrator {
				return torcerr.New(torcerr.ValidationError, "escrow.VoteOnDispute", fmt.Errorf("%s already voted", arbitrator))
			}
		}

		live := p.arbitrators.Count()
		if live < d.SnapshotArbitratorCnt {
			d.SnapshotArbitratorCnt = live
		}

		if voteForBuyer {
			d.VotesForBuyer++
		} else {
			d.VotesForSeller++
		}
		d.VotedArbitrators = append(d.VotedArbitrators, arbitrator)

		key := ledger.EncodeKey(invoiceID)
		payload := map[string]string{"arbitrator": arbitrator, "vote_for_buyer": fmt.Sprintf("%t", voteForBuyer)}

		needed := quorum(d.SnapshotArbitratorCnt, p.cfg.QuorumPercentage)
		if d.VotesForBuyer+d.VotesForSeller >= needed {
			d.Resolved = true
			resolved = true
			sellerWins = d.VotesForSeller > d.VotesForBuyer
			payload["resolved"] = "true"
		}

		if _, err := p.ledger.Submit(ctx, ledger.OpVoteOnDispute, key, payload); err != nil {
			return torcerr.New(torcerr.TransientLedgerError, "escrow.VoteOnDispute", err)
		}

		if err := p.store.UpsertDispute(ctx, d); err != nil {
			return fmt.Errorf("escrow: mirror vote %s: %w", invoiceID, err)
		}
		result = d
		if resolved {
			if err := p.resolveRelease(ctx, invoiceID, sellerWins); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return store.DisputeVote{}, err
	}
	if resolved {
		slog.InfoContext(ctx, "dispute resolved by vote", "invoice_id", invoiceID, "seller_wins", sellerWins)
	}
	return result, nil
}

// SafeEscape lets an admin force resolution when quorum has become
// provably unreachable (live arbitrator count below threshold) — spec.md
// §4.3, scenario S5.
func (p *Protocol) SafeEscape(ctx context.Context, invoiceID uuid.UUID, sellerWins bool) error {
	return p.store.WithinTx(ctx, func(ctx context.Context) error {
		d, ok, err := p.store.GetDispute(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("escrow: safe escape %s: %w", invoiceID, err)
		}
		if !ok {
			return torcerr.New(torcerr.ValidationError, "escrow.SafeEscape", fmt.Errorf("no dispute for invoice %s", invoiceID))
		}
		if d.Resolved {
			return torcerr.New(torcerr.StateMachineViolation, "escrow.SafeEscape", fmt.Errorf("dispute %s already resolved", invoiceID))
		}

		// The threshold comes from the stored snapshot, which earlier votes
		// may already have shrunk to the live count at that time, not from
		// the arbitrator count recorded when the dispute was raised.
		live := p.arbitrators.Count()
		needed := quorum(d.SnapshotArbitratorCnt, p.cfg.QuorumPercentage)
		if live >= needed {
			return torcerr.New(torcerr.ValidationError, "escrow.SafeEscape",
				fmt.Errorf("quorum still reachable: live=%d needed=%d", live, needed))
		}

		key := ledger.EncodeKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpSafeEscape, key, map[string]string{
			"seller_wins": fmt.Sprintf("%t", sellerWins), "resolved": "true",
		}); err != nil {
			return torcerr.New(torcerr.TransientLedgerError, "escrow.SafeEscape", err)
		}

		d.Resolved = true
		if err := p.store.UpsertDispute(ctx, d); err != nil {
			return fmt.Errorf("escrow: mirror safe escape %s: %w", invoiceID, err)
		}
		return p.resolveRelease(ctx, invoiceID, sellerWins)
	})
}

// resolveRelease applies the terminal mirror state and fee->winner->NFT
// payout ordering once a dispute resolves, whether by quorum vote or admin
// safe-escape (spec.md §4.3: "release payout ordering").
func (p *Protocol) resolveRelease(ctx context.Context, invoiceID uuid.UUID, sellerWins bool) error {
	e, ok, err := p.store.GetEscrow(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("escrow: resolve release %s: %w", invoiceID, err)
	}
	if !ok {
		return torcerr.New(torcerr.ValidationError, "escrow.resolveRelease", fmt.Errorf("no escrow for invoice %s", invoiceID))
	}

	e.Status = store.EscrowReleased
	if err := p.store.UpsertEscrow(ctx, e); err != nil {
		return fmt.Errorf("escrow: mirror resolve release %s: %w", invoiceID, err)
	}

	// Payout ordering: fee to treasury, then remainder to the winner, then
	// the NFT (if present) to the counterparty-determined recipient. The
	// ledger executes the transfers on release; this only logs the
	// expected split for audit, since fund movement is the ledger's job.
	winner := e.Seller
	nftRecipient := e.Buyer
	if !sellerWins {
		winner = e.Buyer
		nftRecipient = e.Seller
	}
	remainder := e.Amount.Sub(e.FeeAmount)
	slog.InfoContext(ctx, "dispute payout computed", "invoice_id", invoiceID, "winner", winner,
		"fee_amount", e.FeeAmount, "remainder", remainder, "nft_recipient", nftRecipient)

	p.sink.Publish(ctx, publish.TopicEscrowReleased, map[string]any{
		"invoice_id": invoiceID.String(), "via": "dispute", "seller_wins": sellerWins,
	})
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) UpsertDispute(ctx context.Context, d store.DisputeVote) error {
	voted, err := stringsToJSON(d.VotedArbitrators)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO dispute_votes
			(invoice_id, snapshot_arbitrator_cnt, votes_for_buyer, votes_for_seller, resolved, voted_arbitrators)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id) DO UPDATE SET
			snapshot_arbitrator_cnt = excluded.snapshot_arbitrator_cnt,
			votes_for_buyer = excluded.votes_for_buyer,
			votes_for_seller = excluded.votes_for_seller,
			resolved = excluded.resolved,
			voted_arbitrators = excluded.voted_arbitrators`

	_, err = s.conn(ctx).ExecContext(ctx, q,
		d.InvoiceID.String(), d.SnapshotArbitratorCnt, d.VotesForBuyer, d.VotesForSeller,
		boolToInt(d.Resolved), voted,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert dispute %s: %w", d.InvoiceID, err)
	}
	return nil
}

func (s *Store) GetDispute(ctx context.Context, invoiceID uuid.UUID) (store.DisputeVote, bool, error) {
	const q = `
		SELECT invoice_id, snapshot_arbitrator_cnt, votes_for_buyer, votes_for_seller, resolved, voted_arbitrators
		FROM dispute_votes WHERE invoice_id = ?`
	row := s.conn(ctx).QueryRowContext(ctx, q, invoiceID.String())

	var d store.DisputeVote
	var id, voted string
	var resolved int
	err := row.Scan(&id, &d.SnapshotArbitratorCnt, &d.VotesForBuyer, &d.VotesForSeller, &resolved, &voted)
	if err == sql.ErrNoRows {
		return store.DisputeVote{}, false, nil
	}
	if err != nil {
		return store.DisputeVote{}, false, fmt.Errorf("sqlite: scan dispute: %w", err)
	}
	if d.InvoiceID, err = uuid.Parse(id); err != nil {
		return store.DisputeVote{}, false, err
	}
	d.Resolved = resolved != 0
	if d.VotedArbitrators, err = jsonToStrings(voted); err != nil {
		return store.DisputeVote{}, false, err
	}
	return d, true, nil
}

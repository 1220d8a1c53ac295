package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) UpsertEscrow(ctx context.Context, e store.Escrow) error {
	const q = `
		INSERT INTO escrows
			(invoice_id, seller, buyer, amount, token, status, seller_confirmed, buyer_confirmed,
			 dispute_raised, created_at, expires_at, rwa_nft_contract, rwa_token_id, fee_amount,
			 discount_bps, discount_deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(invoice_id) DO UPDATE SET
			seller = excluded.seller, buyer = excluded.buyer, amount = excluded.amount,
			token = excluded.token, status = excluded.status,
			seller_confirmed = excluded.seller_confirmed, buyer_confirmed = excluded.buyer_confirmed,
			dispute_raised = excluded.dispute_raised, expires_at = excluded.expires_at,
			rwa_nft_contract = excluded.rwa_nft_contract, rwa_token_id = excluded.rwa_token_id,
			fee_amount = excluded.fee_amount, discount_bps = excluded.discount_bps,
			discount_deadline = excluded.discount_deadline`

	_, err := s.conn(ctx).ExecContext(ctx, q,
		e.InvoiceID.String(), e.Seller, e.Buyer, e.Amount.String(), e.Token, string(e.Status),
		boolToInt(e.SellerConfirmed), boolToInt(e.BuyerConfirmed), boolToInt(e.DisputeRaised),
		formatTime(e.CreatedAt), formatTime(e.ExpiresAt), e.RWANFTContract, e.RWATokenID,
		e.FeeAmount.String(), e.DiscountBps, formatTimePtr(e.DiscountDeadline),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert escrow %s: %w", e.InvoiceID, err)
	}
	return nil
}

func (s *Store) GetEscrow(ctx context.Context, invoiceID uuid.UUID) (store.Escrow, bool, error) {
	const q = `
		SELECT invoice_id, seller, buyer, amount, token, status, seller_confirmed, buyer_confirmed,
		       dispute_raised, created_at, expires_at, rwa_nft_contract, rwa_token_id, fee_amount,
		       discount_bps, discount_deadline
		FROM escrows WHERE invoice_id = ?`
	return scanEscrow(s.conn(ctx).QueryRowContext(ctx, q, invoiceID.String()))
}

// LockEscrowForUpdate reads the escrow row inside the caller's active
// transaction. With a single writer connection (see sqlite.go) every read
// inside WithinTx is already serialized against concurrent writers, which
// is the "equivalent" of SELECT ... FOR UPDATE spec.md §5 asks for.
func (s *Store) LockEscrowForUpdate(ctx context.Context, invoiceID uuid.UUID) (store.Escrow, bool, error) {
	return s.GetEscrow(ctx, invoiceID)
}

func scanEscrow(row *sql.Row) (store.Escrow, bool, error) {
	var e store.Escrow
	var id, amount, createdAt, expiresAt, feeAmount string
	var sellerConfirmed, buyerConfirmed, disputeRaised int
	var discountDeadline sql.NullString

	err := row.Scan(&id, &e.Seller, &e.Buyer, &amount, &e.Token, &e.Status,
		&sellerConfirmed, &buyerConfirmed, &disputeRaised, &createdAt, &expiresAt,
		&e.RWANFTContract, &e.RWATokenID, &feeAmount, &e.DiscountBps, &discountDeadline)
	if err == sql.ErrNoRows {
		return store.Escrow{}, false, nil
	}
	if err != nil {
		return store.Escrow{}, false, fmt.Errorf("sqlite: scan escrow: %w", err)
	}

	if e.InvoiceID, err = uuid.Parse(id); err != nil {
		return store.Escrow{}, false, err
	}
	e.SellerConfirmed = sellerConfirmed != 0
	e.BuyerConfirmed = buyerConfirmed != 0
	e.DisputeRaised = disputeRaised != 0
	if e.Amount, err = money.FromString(amount); err != nil {
		return store.Escrow{}, false, err
	}
	if e.FeeAmount, err = money.FromString(feeAmount); err != nil {
		return store.Escrow{}, false, err
	}
	if e.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return store.Escrow{}, false, err
	}
	if e.ExpiresAt, err = parseRFC3339(expiresAt); err != nil {
		return store.Escrow{}, false, err
	}
	if e.DiscountDeadline, err = parseRFC3339Ptr(discountDeadline); err != nil {
		return store.Escrow{}, false, err
	}
	return e, true, nil
}

func (s *Store) ListEscrowInvoiceIDs(ctx context.Context, offset, limit int) ([]uuid.UUID, error) {
	const q = `SELECT invoice_id FROM escrows ORDER BY created_at ASC LIMIT ? OFFSET ?`
	rows, err := s.conn(ctx).QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list escrow ids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan escrow id: %w", err)
		}
		u, err := uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) CountEscrows(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM escrows`
	var n int
	if err := s.conn(ctx).QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count escrows: %w", err)
	}
	return n, nil
}

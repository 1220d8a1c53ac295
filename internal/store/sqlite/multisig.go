package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) UpsertMultiSig(ctx context.Context, m store.MultiSigApproval) error {
	approvers, err := stringsToJSON(m.Approvers)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO multisig_approvals (invoice_id, approvers, required)
		VALUES (?, ?, ?)
		ON CONFLICT(invoice_id) DO UPDATE SET approvers = excluded.approvers, required = excluded.required`

	_, err = s.conn(ctx).ExecContext(ctx, q, m.InvoiceID.String(), approvers, m.Required)
	if err != nil {
		return fmt.Errorf("sqlite: upsert multisig %s: %w", m.InvoiceID, err)
	}
	return nil
}

func (s *Store) GetMultiSig(ctx context.Context, invoiceID uuid.UUID) (store.MultiSigApproval, bool, error) {
	const q = `SELECT invoice_id, approvers, required FROM multisig_approvals WHERE invoice_id = ?`
	row := s.conn(ctx).QueryRowContext(ctx, q, invoiceID.String())

	var m store.MultiSigApproval
	var id, approvers string
	err := row.Scan(&id, &approvers, &m.Required)
	if err == sql.ErrNoRows {
		return store.MultiSigApproval{}, false, nil
	}
	if err != nil {
		return store.MultiSigApproval{}, false, fmt.Errorf("sqlite: scan multisig: %w", err)
	}
	if m.InvoiceID, err = uuid.Parse(id); err != nil {
		return store.MultiSigApproval{}, false, err
	}
	if m.Approvers, err = jsonToStrings(approvers); err != nil {
		return store.MultiSigApproval{}, false, err
	}
	return m, true, nil
}

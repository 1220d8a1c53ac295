package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/money"
	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) InsertReconciliationSummary(ctx context.Context, sm store.ReconciliationSummary) error {
	const q = `
		INSERT INTO reconciliation_summaries
			(run_id, run_type, total_count, matched_count, discrepancy_count, missing_chain_count,
			 missing_db_count, total_discrepancy_amount, started_at, completed_at, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, q,
		sm.RunID.String(), string(sm.RunType), sm.TotalCount, sm.MatchedCount, sm.DiscrepancyCount,
		sm.MissingChainCount, sm.MissingDBCount, sm.TotalDiscrepancyAmount.String(),
		formatTime(sm.StartedAt), formatTimePtr(sm.CompletedAt), string(sm.Status), sm.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert reconciliation summary %s: %w", sm.RunID, err)
	}
	return nil
}

func (s *Store) UpdateReconciliationSummary(ctx context.Context, sm store.ReconciliationSummary) error {
	const q = `
		UPDATE reconciliation_summaries SET
			total_count = ?, matched_count = ?, discrepancy_count = ?, missing_chain_count = ?,
			missing_db_count = ?, total_discrepancy_amount = ?, completed_at = ?, status = ?, error_message = ?
		WHERE run_id = ?`

	res, err := s.conn(ctx).ExecContext(ctx, q,
		sm.TotalCount, sm.MatchedCount, sm.DiscrepancyCount, sm.MissingChainCount, sm.MissingDBCount,
		sm.TotalDiscrepancyAmount.String(), formatTimePtr(sm.CompletedAt), string(sm.Status), sm.ErrorMessage,
		sm.RunID.String(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: update reconciliation summary %s: %w", sm.RunID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanSummary(row *sql.Row) (store.ReconciliationSummary, error) {
	var sm store.ReconciliationSummary
	var id, startedAt, totalAmt string
	var completedAt sql.NullString

	err := row.Scan(&id, &sm.RunType, &sm.TotalCount, &sm.MatchedCount, &sm.DiscrepancyCount,
		&sm.MissingChainCount, &sm.MissingDBCount, &totalAmt, &startedAt, &completedAt, &sm.Status, &sm.ErrorMessage)
	if err == sql.ErrNoRows {
		return store.ReconciliationSummary{}, store.ErrNotFound
	}
	if err != nil {
		return store.ReconciliationSummary{}, fmt.Errorf("sqlite: scan summary: %w", err)
	}
	if sm.RunID, err = uuid.Parse(id); err != nil {
		return store.ReconciliationSummary{}, err
	}
	if sm.TotalDiscrepancyAmount, err = money.FromString(totalAmt); err != nil {
		return store.ReconciliationSummary{}, err
	}
	if sm.StartedAt, err = parseRFC3339(startedAt); err != nil {
		return store.ReconciliationSummary{}, err
	}
	if sm.CompletedAt, err = parseRFC3339Ptr(completedAt); err != nil {
		return store.ReconciliationSummary{}, err
	}
	return sm, nil
}

const summaryCols = `run_id, run_type, total_count, matched_count, discrepancy_count, missing_chain_count,
		       missing_db_count, total_discrepancy_amount, started_at, completed_at, status, error_message`

func (s *Store) GetLatestSummary(ctx context.Context) (store.ReconciliationSummary, error) {
	q := `SELECT ` + summaryCols + ` FROM reconciliation_summaries ORDER BY started_at DESC LIMIT 1`
	return scanSummary(s.conn(ctx).QueryRowContext(ctx, q))
}

func (s *Store) ListSummaries(ctx context.Context, limit, offset int) ([]store.ReconciliationSummary, error) {
	q := `SELECT ` + summaryCols + ` FROM reconciliation_summaries ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := s.conn(ctx).QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list summaries: %w", err)
	}
	defer rows.Close()

	var out []store.ReconciliationSummary
	for rows.Next() {
		var sm store.ReconciliationSummary
		var id, startedAt, totalAmt string
		var completedAt sql.NullString

		if err := rows.Scan(&id, &sm.RunType, &sm.TotalCount, &sm.MatchedCount, &sm.DiscrepancyCount,
			&sm.MissingChainCount, &sm.MissingDBCount, &totalAmt, &startedAt, &completedAt, &sm.Status, &sm.ErrorMessage); err != nil {
			return nil, fmt.Errorf("sqlite: scan summary row: %w", err)
		}
		if sm.RunID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if sm.TotalDiscrepancyAmount, err = money.FromString(totalAmt); err != nil {
			return nil, err
		}
		if sm.StartedAt, err = parseRFC3339(startedAt); err != nil {
			return nil, err
		}
		if sm.CompletedAt, err = parseRFC3339Ptr(completedAt); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Store) InsertReconciliationLog(ctx context.Context, l store.ReconciliationLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO reconciliation_logs
			(run_id, invoice_id, chain_status, db_status, chain_amount, db_amount, discrepancy_amount,
			 discrepancy_type, chain_counterparty, db_counterparty, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, q,
		l.RunID.String(), l.InvoiceID.String(), l.ChainStatus, l.DBStatus, l.ChainAmount, l.DBAmount,
		l.DiscrepancyAmount.String(), string(l.DiscrepancyType), l.ChainCounterparty, l.DBCounterparty,
		l.Notes, formatTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert reconciliation log %s/%s: %w", l.RunID, l.InvoiceID, err)
	}
	return nil
}

func (s *Store) ListDiscrepancies(ctx context.Context, f store.DiscrepancyFilter) ([]store.ReconciliationLog, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if f.Type != "" {
		const q = `
			SELECT run_id, invoice_id, chain_status, db_status, chain_amount, db_amount, discrepancy_amount,
			       discrepancy_type, chain_counterparty, db_counterparty, notes, created_at
			FROM reconciliation_logs WHERE discrepancy_type = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		rows, err = s.conn(ctx).QueryContext(ctx, q, string(f.Type), limit, f.Offset)
	} else {
		const q = `
			SELECT run_id, invoice_id, chain_status, db_status, chain_amount, db_amount, discrepancy_amount,
			       discrepancy_type, chain_counterparty, db_counterparty, notes, created_at
			FROM reconciliation_logs WHERE discrepancy_type != 'none' ORDER BY created_at DESC LIMIT ? OFFSET ?`
		rows, err = s.conn(ctx).QueryContext(ctx, q, limit, f.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: list discrepancies: %w", err)
	}
	defer rows.Close()

	var out []store.ReconciliationLog
	for rows.Next() {
		var l store.ReconciliationLog
		var runID, invoiceID, discrepancyAmt, createdAt string

		if err := rows.Scan(&runID, &invoiceID, &l.ChainStatus, &l.DBStatus, &l.ChainAmount, &l.DBAmount,
			&discrepancyAmt, &l.DiscrepancyType, &l.ChainCounterparty, &l.DBCounterparty, &l.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan discrepancy row: %w", err)
		}
		if l.RunID, err = uuid.Parse(runID); err != nil {
			return nil, err
		}
		if l.InvoiceID, err = uuid.Parse(invoiceID); err != nil {
			return nil, err
		}
		if l.DiscrepancyAmount, err = money.FromString(discrepancyAmt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseRFC3339(createdAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

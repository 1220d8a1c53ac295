package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) InsertDLQ(ctx context.Context, d store.DLQEntry) error {
	data, err := structToJSON(d.OperationData)
	if err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO dlq_entries
			(correlation_id, operation_type, operation_data, failure_reason, retry_count,
			 requires_compensation, compensation_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.conn(ctx).ExecContext(ctx, q,
		d.CorrelationID.String(), string(d.OperationType), data, d.FailureReason, d.RetryCount,
		boolToInt(d.RequiresCompensation), string(d.CompensationStatus), formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert dlq %s: %w", d.CorrelationID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) GetDLQ(ctx context.Context, correlationID uuid.UUID) (store.DLQEntry, error) {
	const q = `
		SELECT correlation_id, operation_type, operation_data, failure_reason, retry_count,
		       requires_compensation, compensation_status, created_at, resolved_at, resolved_by, resolution_notes
		FROM dlq_entries WHERE correlation_id = ?`
	return scanDLQ(s.conn(ctx).QueryRowContext(ctx, q, correlationID.String()))
}

func scanDLQ(row *sql.Row) (store.DLQEntry, error) {
	var d store.DLQEntry
	var id, opType, createdAt string
	var data, resolvedAt sql.NullString
	var requiresComp int

	err := row.Scan(&id, &opType, &data, &d.FailureReason, &d.RetryCount,
		&requiresComp, &d.CompensationStatus, &createdAt, &resolvedAt, &d.ResolvedBy, &d.ResolutionNotes)
	if err == sql.ErrNoRows {
		return store.DLQEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.DLQEntry{}, fmt.Errorf("sqlite: scan dlq: %w", err)
	}

	if d.CorrelationID, err = uuid.Parse(id); err != nil {
		return store.DLQEntry{}, err
	}
	d.OperationType = store.OperationType(opType)
	d.RequiresCompensation = requiresComp != 0
	if d.OperationData, err = jsonToStruct(data); err != nil {
		return store.DLQEntry{}, err
	}
	if d.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return store.DLQEntry{}, err
	}
	if d.ResolvedAt, err = parseRFC3339Ptr(resolvedAt); err != nil {
		return store.DLQEntry{}, err
	}
	return d, nil
}

func (s *Store) ListDLQ(ctx context.Context, limit, offset int) ([]store.DLQEntry, error) {
	const q = `
		SELECT correlation_id, operation_type, operation_data, failure_reason, retry_count,
		       requires_compensation, compensation_status, created_at, resolved_at, resolved_by, resolution_notes
		FROM dlq_entries ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.conn(ctx).QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var out []store.DLQEntry
	for rows.Next() {
		var d store.DLQEntry
		var id, opType, createdAt string
		var data, resolvedAt sql.NullString
		var requiresComp int

		if err := rows.Scan(&id, &opType, &data, &d.FailureReason, &d.RetryCount,
			&requiresComp, &d.CompensationStatus, &createdAt, &resolvedAt, &d.ResolvedBy, &d.ResolutionNotes); err != nil {
			return nil, fmt.Errorf("sqlite: scan dlq row: %w", err)
		}
		if d.CorrelationID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		d.OperationType = store.OperationType(opType)
		d.RequiresCompensation = requiresComp != 0
		if d.OperationData, err = jsonToStruct(data); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseRFC3339(createdAt); err != nil {
			return nil, err
		}
		if d.ResolvedAt, err = parseRFC3339Ptr(resolvedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ResolveDLQ(ctx context.Context, correlationID uuid.UUID, resolvedBy, notes string) error {
	const q = `
		UPDATE dlq_entries SET resolved_at = ?, resolved_by = ?, resolution_notes = ?
		WHERE correlation_id = ?`
	res, err := s.conn(ctx).ExecContext(ctx, q, formatTime(time.Now().UTC()), resolvedBy, notes, correlationID.String())
	if err != nil {
		return fmt.Errorf("sqlite: resolve dlq %s: %w", correlationID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountDLQ(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM dlq_entries WHERE resolved_at IS NULL`
	var n int
	if err := s.conn(ctx).QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count dlq: %w", err)
	}
	return n, nil
}

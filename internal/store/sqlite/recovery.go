package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
)

// UpsertRecovery replaces the row for e.CorrelationID if one exists, else
// inserts it — spec.md §4.2's "upsert (not insert) on correlation_id so
// repeated failures replace the row."
func (s *Store) UpsertRecovery(ctx context.Context, e store.RecoveryEntry) error {
	data, err := structToJSON(e.OperationData)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	const q = `
		INSERT INTO recovery_queue
			(correlation_id, operation_type, operation_data, retry_count, max_retries,
			 next_retry_at, last_error, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO UPDATE SET
			operation_type = excluded.operation_type,
			operation_data = excluded.operation_data,
			retry_count    = excluded.retry_count,
			max_retries    = excluded.max_retries,
			next_retry_at  = excluded.next_retry_at,
			last_error     = excluded.last_error,
			status         = excluded.status,
			updated_at     = excluded.updated_at`

	_, err = s.conn(ctx).ExecContext(ctx, q,
		e.CorrelationID.String(), string(e.OperationType), data, e.RetryCount, e.MaxRetries,
		formatTime(e.NextRetryAt), e.LastError, string(e.Status), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert recovery %s: %w", e.CorrelationID, err)
	}
	return nil
}

func (s *Store) DeleteRecovery(ctx context.Context, correlationID uuid.UUID) error {
	const q = `DELETE FROM recovery_queue WHERE correlation_id = ?`
	_, err := s.conn(ctx).ExecContext(ctx, q, correlationID.String())
	if err != nil {
		return fmt.Errorf("sqlite: delete recovery %s: %w", correlationID, err)
	}
	return nil
}

func (s *Store) GetRecovery(ctx context.Context, correlationID uuid.UUID) (store.RecoveryEntry, error) {
	const q = `
		SELECT correlation_id, operation_type, operation_data, retry_count, max_retries,
		       next_retry_at, last_error, status, updated_at
		FROM recovery_queue WHERE correlation_id = ?`

	return scanRecovery(s.conn(ctx).QueryRowContext(ctx, q, correlationID.String()))
}

func scanRecovery(row *sql.Row) (store.RecoveryEntry, error) {
	var e store.RecoveryEntry
	var id, opType, nextRetryAt, updatedAt string
	var data sql.NullString

	err := row.Scan(&id, &opType, &data, &e.RetryCount, &e.MaxRetries, &nextRetryAt, &e.LastError, &e.Status, &updatedAt)
	if err == sql.ErrNoRows {
		return store.RecoveryEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.RecoveryEntry{}, fmt.Errorf("sqlite: scan recovery: %w", err)
	}

	if e.CorrelationID, err = uuid.Parse(id); err != nil {
		return store.RecoveryEntry{}, err
	}
	e.OperationType = store.OperationType(opType)
	if e.OperationData, err = jsonToStruct(data); err != nil {
		return store.RecoveryEntry{}, err
	}
	if e.NextRetryAt, err = parseRFC3339(nextRetryAt); err != nil {
		return store.RecoveryEntry{}, err
	}
	if e.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
		return store.RecoveryEntry{}, err
	}
	return e, nil
}

// ClaimPendingRecovery selects up to limit pending entries whose
// next_retry_at has passed and marks them processing, atomically — the
// pessimistic-claim pattern spec.md §5 requires ("SELECT ... mark
// processing ... WHERE status = pending").
func (s *Store) ClaimPendingRecovery(ctx context.Context, limit int, now time.Time) ([]store.RecoveryEntry, error) {
	var claimed []store.RecoveryEntry

	err := s.WithinTx(ctx, func(ctx context.Context) error {
		const selectQ = `
			SELECT correlation_id FROM recovery_queue
			WHERE status = 'pending' AND next_retry_at <= ?
			ORDER BY next_retry_at ASC
			LIMIT ?`

		rows, err := s.conn(ctx).QueryContext(ctx, selectQ, formatTime(now), limit)
		if err != nil {
			return fmt.Errorf("sqlite: select claimable recovery entries: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("sqlite: scan claimable id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			const claimQ = `UPDATE recovery_queue SET status = 'processing', updated_at = ? WHERE correlation_id = ? AND status = 'pending'`
			res, err := s.conn(ctx).ExecContext(ctx, claimQ, formatTime(now), id)
			if err != nil {
				return fmt.Errorf("sqlite: claim recovery %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				continue // claimed by another worker between select and update
			}
			uid, err := uuid.Parse(id)
			if err != nil {
				return err
			}
			entry, err := s.GetRecovery(ctx, uid)
			if err != nil {
				return err
			}
			claimed = append(claimed, entry)
		}
		return nil
	})

	return claimed, err
}

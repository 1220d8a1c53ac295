package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) InsertCompensation(ctx context.Context, c store.CompensationAction) error {
	data, err := structToJSON(c.ActionData)
	if err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO compensation_actions (correlation_id, action_type, action_data, status, result, created_at, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.conn(ctx).ExecContext(ctx, q,
		c.CorrelationID.String(), c.ActionType, data, string(c.Status), c.Result,
		formatTime(c.CreatedAt), formatTimePtr(c.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert compensation %s/%s: %w", c.CorrelationID, c.ActionType, err)
	}
	return nil
}

func (s *Store) UpdateCompensationStatus(ctx context.Context, correlationID uuid.UUID, actionType string, status store.CompensationStatus, result string) error {
	var executedAt any
	if status == store.CompensationCompleted || status == store.CompensationFailed {
		executedAt = formatTime(time.Now().UTC())
	}

	const q = `
		UPDATE compensation_actions SET status = ?, result = ?, executed_at = COALESCE(executed_at, ?)
		WHERE correlation_id = ? AND action_type = ?`

	res, err := s.conn(ctx).ExecContext(ctx, q, string(status), result, executedAt, correlationID.String(), actionType)
	if err != nil {
		return fmt.Errorf("sqlite: update compensation %s/%s: %w", correlationID, actionType, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPendingCompensations(ctx context.Context) ([]store.CompensationAction, error) {
	const q = `
		SELECT correlation_id, action_type, action_data, status, result, created_at, executed_at
		FROM compensation_actions WHERE status = 'pending' ORDER BY created_at ASC`

	rows, err := s.conn(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list pending compensations: %w", err)
	}
	defer rows.Close()

	var out []store.CompensationAction
	for rows.Next() {
		var c store.CompensationAction
		var id, createdAt string
		var data, executedAt sql.NullString

		if err := rows.Scan(&id, &c.ActionType, &data, &c.Status, &c.Result, &createdAt, &executedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan compensation row: %w", err)
		}
		if c.CorrelationID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if c.ActionData, err = jsonToStruct(data); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseRFC3339(createdAt); err != nil {
			return nil, err
		}
		if c.ExecutedAt, err = parseRFC3339Ptr(executedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

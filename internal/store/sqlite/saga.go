package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) InsertSaga(ctx context.Context, sg store.Saga) error {
	stepsCompleted, err := stringsToJSON(sg.StepsCompleted)
	if err != nil {
		return err
	}
	stepsRemaining, err := stringsToJSON(sg.StepsRemaining)
	if err != nil {
		return err
	}
	contextData, err := structToJSON(sg.ContextData)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = now
	}
	if sg.UpdatedAt.IsZero() {
		sg.UpdatedAt = now
	}

	const q = `
		INSERT INTO sagas
			(correlation_id, operation_type, entity_type, entity_id, current_state,
			 steps_completed, steps_remaining, context_data, initiated_by,
			 idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.conn(ctx).ExecContext(ctx, q,
		sg.CorrelationID.String(), string(sg.OperationType), sg.EntityType, sg.EntityID, string(sg.CurrentState),
		stepsCompleted, stepsRemaining, contextData, sg.InitiatedBy,
		nullableString(sg.IdempotencyKey), formatTime(sg.CreatedAt), formatTime(sg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert saga %s: %w", sg.CorrelationID, err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetSaga(ctx context.Context, correlationID uuid.UUID) (store.Saga, error) {
	const q = `
		SELECT correlation_id, operation_type, entity_type, entity_id, current_state,
		       steps_completed, steps_remaining, context_data, initiated_by,
		       created_at, updated_at, completed_at
		FROM sagas WHERE correlation_id = ?`

	row := s.conn(ctx).QueryRowContext(ctx, q, correlationID.String())
	return scanSaga(row)
}

func scanSaga(row *sql.Row) (store.Saga, error) {
	var sg store.Saga
	var id, opType, createdAt, updatedAt string
	var stepsCompleted, stepsRemaining string
	var contextData, completedAt sql.NullString

	err := row.Scan(&id, &opType, &sg.EntityType, &sg.EntityID, &sg.CurrentState,
		&stepsCompleted, &stepsRemaining, &contextData, &sg.InitiatedBy,
		&createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return store.Saga{}, store.ErrNotFound
	}
	if err != nil {
		return store.Saga{}, fmt.Errorf("sqlite: scan saga: %w", err)
	}

	sg.CorrelationID, err = uuid.Parse(id)
	if err != nil {
		return store.Saga{}, err
	}
	sg.OperationType = store.OperationType(opType)

	if sg.StepsCompleted, err = jsonToStrings(stepsCompleted); err != nil {
		return store.Saga{}, err
	}
	if sg.StepsRemaining, err = jsonToStrings(stepsRemaining); err != nil {
		return store.Saga{}, err
	}
	if sg.ContextData, err = jsonToStruct(contextData); err != nil {
		return store.Saga{}, err
	}
	if sg.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return store.Saga{}, err
	}
	if sg.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
		return store.Saga{}, err
	}
	if sg.CompletedAt, err = parseRFC3339Ptr(completedAt); err != nil {
		return store.Saga{}, err
	}
	return sg, nil
}

func (s *Store) UpdateSagaState(ctx context.Context, correlationID uuid.UUID, newState store.SagaState, stepsCompleted, stepsRemaining []string) error {
	completed, err := stringsToJSON(stepsCompleted)
	if err != nil {
		return err
	}
	remaining, err := stringsToJSON(stepsRemaining)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var completedAt any
	if newState == store.SagaCompleted || newState == store.SagaFailed || newState == store.SagaDLQ || newState == store.SagaCompensated {
		completedAt = formatTime(now)
	}

	const q = `
		UPDATE sagas
		SET current_state = ?, steps_completed = ?, steps_remaining = ?, updated_at = ?,
		    completed_at = COALESCE(completed_at, ?)
		WHERE correlation_id = ?`

	res, err := s.conn(ctx).ExecContext(ctx, q, string(newState), completed, remaining, formatTime(now), completedAt, correlationID.String())
	if err != nil {
		return fmt.Errorf("sqlite: update saga %s: %w", correlationID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListStuckSagas(ctx context.Context, olderThan time.Time) ([]store.Saga, error) {
	const q = `
		SELECT correlation_id, operation_type, entity_type, entity_id, current_state,
		       steps_completed, steps_remaining, context_data, initiated_by,
		       created_at, updated_at, completed_at
		FROM sagas
		WHERE current_state IN ('processing', 'compensating') AND updated_at < ?`

	rows, err := s.conn(ctx).QueryContext(ctx, q, formatTime(olderThan))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list stuck sagas: %w", err)
	}
	defer rows.Close()

	var out []store.Saga
	for rows.Next() {
		var id, opType, createdAt, updatedAt string
		var stepsCompleted, stepsRemaining string
		var contextData, completedAt sql.NullString
		var sg store.Saga

		if err := rows.Scan(&id, &opType, &sg.EntityType, &sg.EntityID, &sg.CurrentState,
			&stepsCompleted, &stepsRemaining, &contextData, &sg.InitiatedBy,
			&createdAt, &updatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan stuck saga: %w", err)
		}

		sg.CorrelationID, err = uuid.Parse(id)
		if err != nil {
			return nil, err
		}
		sg.OperationType = store.OperationType(opType)
		if sg.StepsCompleted, err = jsonToStrings(stepsCompleted); err != nil {
			return nil, err
		}
		if sg.StepsRemaining, err = jsonToStrings(stepsRemaining); err != nil {
			return nil, err
		}
		if sg.ContextData, err = jsonToStruct(contextData); err != nil {
			return nil, err
		}
		if sg.CreatedAt, err = parseRFC3339(createdAt); err != nil {
			return nil, err
		}
		if sg.UpdatedAt, err = parseRFC3339(updatedAt); err != nil {
			return nil, err
		}
		if sg.CompletedAt, err = parseRFC3339Ptr(completedAt); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *Store) FindSagaByIdempotencyKey(ctx context.Context, key string) (store.Saga, error) {
	const q = `
		SELECT correlation_id, operation_type, entity_type, entity_id, current_state,
		       steps_completed, steps_remaining, context_data, initiated_by,
		       created_at, updated_at, completed_at
		FROM sagas WHERE idempotency_key = ?`

	row := s.conn(ctx).QueryRowContext(ctx, q, key)
	return scanSaga(row)
}

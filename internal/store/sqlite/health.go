package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jcmexdev/torc/internal/store"
)

func (s *Store) InsertHealthMetric(ctx context.Context, m store.HealthMetric) error {
	meta, err := structToJSON(m.Metadata)
	if err != nil {
		return err
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO health_metrics (metric_type, metric_name, metric_value, recorded_at, metadata)
		VALUES (?, ?, ?, ?, ?)`

	_, err = s.conn(ctx).ExecContext(ctx, q, string(m.MetricType), m.MetricName, m.MetricValue, formatTime(m.RecordedAt), meta)
	if err != nil {
		return fmt.Errorf("sqlite: insert health metric %s/%s: %w", m.MetricType, m.MetricName, err)
	}
	return nil
}

func (s *Store) ListHealthMetrics(ctx context.Context, mt store.MetricType, limit int) ([]store.HealthMetric, error) {
	if limit <= 0 {
		limit = 50
	}

	const q = `
		SELECT metric_type, metric_name, metric_value, recorded_at, metadata
		FROM health_metrics WHERE metric_type = ? ORDER BY recorded_at DESC LIMIT ?`

	rows, err := s.conn(ctx).QueryContext(ctx, q, string(mt), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list health metrics %s: %w", mt, err)
	}
	defer rows.Close()

	var out []store.HealthMetric
	for rows.Next() {
		var m store.HealthMetric
		var recordedAt string
		var meta sql.NullString

		if err := rows.Scan(&m.MetricType, &m.MetricName, &m.MetricValue, &recordedAt, &meta); err != nil {
			return nil, fmt.Errorf("sqlite: scan health metric row: %w", err)
		}
		if m.RecordedAt, err = parseRFC3339(recordedAt); err != nil {
			return nil, err
		}
		if m.Metadata, err = jsonToStruct(meta); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

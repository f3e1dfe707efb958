package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hive-corporation/guardian/internal/core/domain"
)

const alertsSchema = `
	CREATE TABLE IF NOT EXISTS alerts (
		identity     UUID PRIMARY KEY,
		severity     TEXT NOT NULL,
		category     TEXT NOT NULL,
		file_path    TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		occurred_at  TIMESTAMPTZ NOT NULL,
		archived_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS alerts_occurred_at_idx ON alerts (occurred_at DESC);
`

// PostgresArchive keeps every classified alert. Identities are stable, so
// re-archiving the same poll window is a no-op.
type PostgresArchive struct {
	db *pgxpool.Pool
}

func NewPostgresArchive(db *pgxpool.Pool) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// EnsureSchema creates the alerts table if it does not exist.
func (r *PostgresArchive) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, alertsSchema); err != nil {
		return fmt.Errorf("failed to create alerts schema: %w", err)
	}
	return nil
}

func (r *PostgresArchive) SaveBatch(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO alerts (identity, severity, category, file_path, event_type, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (identity) DO UPDATE SET severity = EXCLUDED.severity, category = EXCLUDED.category
		WHERE alerts.severity <> EXCLUDED.severity
	`

	for _, a := range alerts {
		batch.Queue(query,
			a.Identity,
			string(a.Severity),
			a.Category,
			a.FilePath,
			string(a.EventType),
			a.OccurredAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range alerts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
	}

	return nil
}

// FindSince returns archived alerts newer than since, newest first.
func (r *PostgresArchive) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Alert, error) {
	query := `
		SELECT identity::text, severity, category, file_path, event_type, occurred_at
		FROM alerts
		WHERE occurred_at >= $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts since %v: %w", since, err)
	}
	defer rows.Close()

	var alerts []domain.Alert

	for rows.Next() {
		var a domain.Alert
		var severity, eventType string
		err := rows.Scan(
			&a.Identity,
			&severity,
			&a.Category,
			&a.FilePath,
			&eventType,
			&a.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		a.EventType = domain.EventType(eventType)
		a.OccurredAt = a.OccurredAt.UTC()
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return alerts, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davicafu/catalogcdc/internal/shared/domain"
)

// OutboxRepoSQLite implementa domain.OutboxRepository para despliegues locales.
type OutboxRepoSQLite struct {
	db *sql.DB
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

// InitOutboxSQLite crea la tabla outbox si no existe.
func InitOutboxSQLite(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS outbox (
            id TEXT PRIMARY KEY,
            sequence INTEGER NOT NULL,
            aggregate_type TEXT NOT NULL,
            aggregate_id TEXT NOT NULL,
            event_type TEXT NOT NULL,
            topic TEXT NOT NULL,
            payload BLOB NOT NULL,
            headers TEXT NOT NULL,
            created_at TEXT NOT NULL,
            processed BOOLEAN NOT NULL DEFAULT 0
        )
    `)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (processed, sequence)`)
	return err
}

func (r *OutboxRepoSQLite) SaveOutbox(ctx context.Context, evt domain.OutboxEvent) error {
	headers, err := json.Marshal(evt.Headers)
	if err != nil {
		return fmt.Errorf("encode outbox headers: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO outbox (id, sequence, aggregate_type, aggregate_id, event_type, topic, payload, headers, created_at, processed)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		evt.ID.String(), evt.Sequence, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Topic,
		evt.Payload, string(headers), evt.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FetchPendingOutbox devuelve las filas pendientes en orden de inserción.
func (r *OutboxRepoSQLite) FetchPendingOutbox(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sequence, aggregate_type, aggregate_id, event_type, topic, payload, headers, created_at
         FROM outbox
         WHERE processed = 0
         ORDER BY sequence
         LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var (
			evt        domain.OutboxEvent
			id         string
			headersStr string
			createdAt  string
		)
		if err := rows.Scan(&id, &evt.Sequence, &evt.AggregateType, &evt.AggregateID, &evt.EventType,
			&evt.Topic, &evt.Payload, &headersStr, &createdAt); err != nil {
			return nil, err
		}

		if evt.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid UUID in outbox row: %w", err)
		}
		if err := json.Unmarshal([]byte(headersStr), &evt.Headers); err != nil {
			return nil, fmt.Errorf("invalid headers in outbox row %s: %w", id, err)
		}
		if evt.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at in outbox row %s: %w", id, err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (r *OutboxRepoSQLite) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed = 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("outbox event not found: %s", id)
	}
	return nil
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoSQLite)(nil)

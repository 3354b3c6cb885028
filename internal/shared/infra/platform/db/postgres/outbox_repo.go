package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
)

// OutboxRepoPostgres implementa sharedDomain.OutboxRepository sobre database/sql con el driver pgx.
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

// Open abre la conexión con el driver "pgx" registrado por pgx/v5/stdlib.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

func InitOutboxPostgres(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS outbox (
			id UUID PRIMARY KEY,
			sequence BIGINT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			topic TEXT NOT NULL,
			payload BYTEA NOT NULL,
			headers JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (processed, sequence);
	`)
	return err
}

func (r *OutboxRepoPostgres) SaveOutbox(ctx context.Context, evt sharedDomain.OutboxEvent) error {
	headers, err := json.Marshal(evt.Headers)
	if err != nil {
		return fmt.Errorf("encode outbox headers: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO outbox (id, sequence, aggregate_type, aggregate_id, event_type, topic, payload, headers, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		evt.ID, evt.Sequence, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Topic,
		evt.Payload, headers, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *OutboxRepoPostgres) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sequence, aggregate_type, aggregate_id, event_type, topic, payload, headers, created_at
		 FROM outbox WHERE processed=false ORDER BY sequence LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []sharedDomain.OutboxEvent
	for rows.Next() {
		var evt sharedDomain.OutboxEvent
		var headerBytes []byte

		if err := rows.Scan(&evt.ID, &evt.Sequence, &evt.AggregateType, &evt.AggregateID, &evt.EventType,
			&evt.Topic, &evt.Payload, &headerBytes, &evt.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headerBytes, &evt.Headers); err != nil {
			return nil, fmt.Errorf("invalid headers in outbox row %s: %w", evt.ID, err)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (r *OutboxRepoPostgres) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET processed=true WHERE id=$1`, id)
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
var _ sharedDomain.OutboxRepository = (*OutboxRepoPostgres)(nil)

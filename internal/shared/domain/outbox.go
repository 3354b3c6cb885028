package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent es un mensaje ya codificado pendiente de entregar al broker.
// Se guarda tal cual salió del publisher: el relayer no vuelve a construirlo,
// así que el eventId de las cabeceras es el mismo en cada reintento.
type OutboxEvent struct {
	ID            uuid.UUID         `json:"id"`
	Sequence      int64             `json:"sequence"`       // orden de inserción
	AggregateType string            `json:"aggregate_type"` // ej. "book"
	AggregateID   string            `json:"aggregate_id"`   // clave de partición
	EventType     string            `json:"event_type"`     // I, U, D
	Topic         string            `json:"topic"`
	Payload       []byte            `json:"payload"`
	Headers       map[string]string `json:"headers"`
	CreatedAt     time.Time         `json:"created_at"`
	Processed     bool              `json:"processed"`
}

// OutboxRepository es el contrato mínimo que necesitan el sink de outbox y el relayer.
type OutboxRepository interface {
	SaveOutbox(ctx context.Context, evt OutboxEvent) error
	FetchPendingOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error
}

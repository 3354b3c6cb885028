package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

// OutboxSink no habla con el broker: guarda el mensaje ya codificado en la
// tabla outbox y el relayer lo entrega después. Si el ctx lleva una
// transacción del repositorio, la fila se confirma junto con la mutación.
type OutboxSink struct {
	repo          sharedDomain.OutboxRepository
	aggregateType string

	mu      sync.Mutex
	lastSeq int64
}

func NewOutboxSink(repo sharedDomain.OutboxRepository, aggregateType string) *OutboxSink {
	return &OutboxSink{repo: repo, aggregateType: aggregateType}
}

func (s *OutboxSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	now := time.Now().UTC()
	evt := sharedDomain.OutboxEvent{
		ID:            uuid.New(),
		Sequence:      s.nextSequence(now),
		AggregateType: s.aggregateType,
		AggregateID:   msg.Key,
		EventType:     msg.Headers[sharedBus.HeaderEventType],
		Topic:         msg.Topic,
		Payload:       msg.Value,
		Headers:       sharedBus.CloneHeaders(msg.Headers),
		CreatedAt:     now,
	}
	if err := s.repo.SaveOutbox(ctx, evt); err != nil {
		return fmt.Errorf("save outbox event: %w", err)
	}
	return nil
}

// nextSequence es monótona dentro del proceso aunque el reloj repita valores.
func (s *OutboxSink) nextSequence(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := now.UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

func (s *OutboxSink) Close() error { return nil }

var _ sharedBus.Sink = (*OutboxSink)(nil)

package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
)

// MockOutboxRepository simula la tabla outbox con testify/mock.
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) SaveOutbox(ctx context.Context, evt sharedDomain.OutboxEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func (m *MockOutboxRepository) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]sharedDomain.OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// InMemoryOutbox es una outbox funcional para tests de extremo a extremo.
type InMemoryOutbox struct {
	mu     sync.Mutex
	events []sharedDomain.OutboxEvent
}

func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{}
}

func (o *InMemoryOutbox) SaveOutbox(ctx context.Context, evt sharedDomain.OutboxEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, evt)
	return nil
}

func (o *InMemoryOutbox) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var pending []sharedDomain.OutboxEvent
	for _, evt := range o.events {
		if !evt.Processed {
			pending = append(pending, evt)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Sequence < pending[j].Sequence })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (o *InMemoryOutbox) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.events {
		if o.events[i].ID == id {
			o.events[i].Processed = true
			return nil
		}
	}
	return fmt.Errorf("outbox event not found: %s", id)
}

func (o *InMemoryOutbox) All() []sharedDomain.OutboxEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sharedDomain.OutboxEvent(nil), o.events...)
}

var (
	_ sharedDomain.OutboxRepository = (*MockOutboxRepository)(nil)
	_ sharedDomain.OutboxRepository = (*InMemoryOutbox)(nil)
)

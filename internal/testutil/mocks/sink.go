package mocks

import (
	"context"
	"sync"
	"time"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

// MockSink graba cada intento de publicación. FailWhen permite inyectar
// fallos por mensaje y Delay simula la latencia del broker.
type MockSink struct {
	FailWhen func(msg sharedBus.Message) error
	Delay    time.Duration
	PingErr  error

	mu        sync.Mutex
	attempts  []sharedBus.Message
	delivered []sharedBus.Message
	closed    bool
}

func (m *MockSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, msg)

	if m.FailWhen != nil {
		if err := m.FailWhen(msg); err != nil {
			return err
		}
	}
	m.delivered = append(m.delivered, msg)
	return nil
}

// Attempts devuelve todo lo que llegó al sink, haya fallado o no.
func (m *MockSink) Attempts() []sharedBus.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sharedBus.Message(nil), m.attempts...)
}

// Delivered devuelve sólo los mensajes aceptados.
func (m *MockSink) Delivered() []sharedBus.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sharedBus.Message(nil), m.delivered...)
}

// DeliveredTo filtra los mensajes aceptados por topic.
func (m *MockSink) DeliveredTo(topic string) []sharedBus.Message {
	var out []sharedBus.Message
	for _, msg := range m.Delivered() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockSink) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = nil
	m.delivered = nil
}

var (
	_ sharedBus.Sink   = (*MockSink)(nil)
	_ sharedBus.Pinger = (*MockSink)(nil)
)

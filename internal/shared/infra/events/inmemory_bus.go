package events

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

var ErrBusClosed = errors.New("in-memory bus closed")

// InMemoryBus imita un broker particionado: cada topic tiene N particiones y
// la clave decide la partición. Sirve para desarrollo local y para tests.
type InMemoryBus struct {
	partitions int

	mu          sync.RWMutex
	logs        map[string][][]sharedBus.Message
	subscribers map[string][]chan sharedBus.Message
	closed      bool
}

func NewInMemoryBus(partitions int) *InMemoryBus {
	if partitions < 1 {
		partitions = 1
	}
	return &InMemoryBus{
		partitions:  partitions,
		logs:        make(map[string][][]sharedBus.Message),
		subscribers: make(map[string][]chan sharedBus.Message),
	}
}

func (b *InMemoryBus) Partition(key string) int {
	return int(xxhash.Sum64String(key) % uint64(b.partitions))
}

func (b *InMemoryBus) Publish(ctx context.Context, msg sharedBus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	log, ok := b.logs[msg.Topic]
	if !ok {
		log = make([][]sharedBus.Message, b.partitions)
	}
	p := b.Partition(msg.Key)
	msg.Headers = sharedBus.CloneHeaders(msg.Headers)
	log[p] = append(log[p], msg)
	b.logs[msg.Topic] = log

	// Entrega no bloqueante: un suscriptor lento pierde mensajes, el log no.
	for _, sub := range b.subscribers[msg.Topic] {
		select {
		case sub <- msg:
		default:
		}
	}
	return nil
}

// Subscribe recibe los mensajes publicados en el topic a partir de ahora.
func (b *InMemoryBus) Subscribe(topic string, bufferSize int) <-chan sharedBus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan sharedBus.Message, bufferSize)
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Messages devuelve una copia de todo lo publicado en el topic, partición a partición.
func (b *InMemoryBus) Messages(topic string) []sharedBus.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []sharedBus.Message
	for _, part := range b.logs[topic] {
		out = append(out, part...)
	}
	return out
}

// PartitionLog devuelve los mensajes de una partición en orden de llegada.
func (b *InMemoryBus) PartitionLog(topic string, partition int) []sharedBus.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.logs[topic]
	if partition < 0 || partition >= len(log) {
		return nil
	}
	return append([]sharedBus.Message(nil), log[partition]...)
}

func (b *InMemoryBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	return nil
}

var (
	_ sharedBus.Sink   = (*InMemoryBus)(nil)
	_ sharedBus.Pinger = (*InMemoryBus)(nil)
)

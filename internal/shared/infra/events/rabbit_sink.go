package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

const DefaultExchange = "catalog.events"

// RabbitSink publica en un exchange "topic" usando el topic como routing key,
// con publisher confirms para que Publish sólo vuelva con el ack del broker.
type RabbitSink struct {
	conn     *amqp.Connection
	exchange string
	log      *zap.Logger

	mu sync.Mutex // un amqp.Channel no se comparte entre goroutines
	ch *amqp.Channel
}

func NewRabbitSink(url, exchange string, log *zap.Logger) (*RabbitSink, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &RabbitSink{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (r *RabbitSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	headers := amqp.Table{"key": msg.Key}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	r.mu.Lock()
	confirm, err := r.ch.PublishWithDeferredConfirmWithContext(
		pubCtx,
		r.exchange,
		msg.Topic, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:   msg.Headers[sharedBus.HeaderContentType],
			DeliveryMode:  amqp.Persistent,
			MessageId:     msg.Headers[sharedBus.HeaderEventID],
			CorrelationId: msg.Headers[sharedBus.HeaderCorrelationID],
			Timestamp:     time.Now().UTC(),
			Headers:       headers,
			Body:          msg.Value,
		},
	)
	r.mu.Unlock()
	if err != nil {
		r.log.Error("Error publishing to RabbitMQ", zap.String("routing_key", msg.Topic), zap.Error(err))
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}

	acked, err := confirm.WaitContext(pubCtx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", msg.Topic, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked message on %s", msg.Topic)
	}
	return nil
}

func (r *RabbitSink) Ping(ctx context.Context) error {
	if r.conn == nil || r.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (r *RabbitSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

var (
	_ sharedBus.Sink   = (*RabbitSink)(nil)
	_ sharedBus.Pinger = (*RabbitSink)(nil)
)

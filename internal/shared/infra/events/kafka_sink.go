package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

type KafkaConfig struct {
	Brokers          []string
	RequiredAcks     kafka.RequiredAcks
	AutoCreateTopics bool
	BatchTimeout     time.Duration
}

func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
		BatchTimeout:     10 * time.Millisecond,
	}
}

// KafkaSink escribe de forma síncrona: Publish vuelve con el ack del broker.
type KafkaSink struct {
	writer  *kafka.Writer
	brokers []string
	log     *zap.Logger
}

func NewKafkaSink(cfg KafkaConfig, log *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker address")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{}, // misma clave, misma partición
		RequiredAcks:           cfg.RequiredAcks,
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  false,
		AllowAutoTopicCreation: cfg.AutoCreateTopics,
	}
	return &KafkaSink{writer: writer, brokers: cfg.Brokers, log: log}, nil
}

func (k *KafkaSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for key, val := range msg.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(val)})
	}

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		k.log.Error("Error publishing to Kafka",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err))
		return err
	}
	return nil
}

// Ping abre y cierra una conexión con el primer broker que responda.
func (k *KafkaSink) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

var (
	_ sharedBus.Sink   = (*KafkaSink)(nil)
	_ sharedBus.Pinger = (*KafkaSink)(nil)
)

package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

// NatsSink publica en JetStream. Cada topic es un subject con su propio stream.
type NatsSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	maxAge time.Duration
	log    *zap.Logger

	mu      sync.Mutex
	streams map[string]struct{}
}

func NewNatsSink(url string, maxAge time.Duration, log *zap.Logger) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}

	return &NatsSink{nc: nc, js: js, maxAge: maxAge, log: log, streams: make(map[string]struct{})}, nil
}

func (n *NatsSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	if err := n.ensureStream(ctx, msg.Topic); err != nil {
		return err
	}

	header := nats.Header{"key": []string{msg.Key}}
	for k, v := range msg.Headers {
		header.Set(k, v)
	}

	opts := []jetstream.PublishOpt{}
	if id := msg.Headers[sharedBus.HeaderEventID]; id != "" {
		// JetStream deduplica por Nats-Msg-Id dentro de su ventana.
		opts = append(opts, jetstream.WithMsgID(id))
	}

	if _, err := n.js.PublishMsg(ctx, &nats.Msg{Subject: msg.Topic, Data: msg.Value, Header: header}, opts...); err != nil {
		n.log.Error("Error publishing to NATS", zap.String("subject", msg.Topic), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.streams[topic]; ok {
		return nil
	}

	name := streamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    n.maxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}
	n.streams[topic] = struct{}{}
	return nil
}

func (n *NatsSink) Ping(ctx context.Context) error {
	return n.nc.FlushWithContext(ctx)
}

func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// Los nombres de stream no admiten ".".
func streamName(topic string) string {
	return strings.ReplaceAll(topic, ".", "_")
}

var (
	_ sharedBus.Sink   = (*NatsSink)(nil)
	_ sharedBus.Pinger = (*NatsSink)(nil)
)

package events

import (
	"context"
	"errors"
	"reflect"

	"go.uber.org/zap"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

// RoutingSink envía cada topic a su sink; los topics sin override van al sink por defecto.
type RoutingSink struct {
	fallback  sharedBus.Sink
	overrides map[string]sharedBus.Sink
}

func NewRoutingSink(fallback sharedBus.Sink, overrides map[string]sharedBus.Sink) *RoutingSink {
	if overrides == nil {
		overrides = map[string]sharedBus.Sink{}
	}
	return &RoutingSink{fallback: fallback, overrides: overrides}
}

func (r *RoutingSink) For(topic string) sharedBus.Sink {
	if s, ok := r.overrides[topic]; ok {
		return s
	}
	return r.fallback
}

func (r *RoutingSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	return r.For(msg.Topic).Publish(ctx, msg)
}

// Ping comprueba todos los sinks distintos que implementan Pinger.
func (r *RoutingSink) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range r.distinct() {
		if p, ok := s.(sharedBus.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *RoutingSink) Close() error {
	var errs []error
	for _, s := range r.distinct() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *RoutingSink) distinct() []sharedBus.Sink {
	seen := map[sharedBus.Sink]bool{}
	var out []sharedBus.Sink
	for _, s := range append([]sharedBus.Sink{r.fallback}, values(r.overrides)...) {
		if s == nil {
			continue
		}
		// SinkFunc y similares no son comparables: no se deduplican.
		if reflect.TypeOf(s).Comparable() {
			if seen[s] {
				continue
			}
			seen[s] = true
		}
		out = append(out, s)
	}
	return out
}

func values(m map[string]sharedBus.Sink) []sharedBus.Sink {
	out := make([]sharedBus.Sink, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// MirrorSink publica en el primario y copia al espejo; un fallo del espejo
// sólo se registra.
type MirrorSink struct {
	primary sharedBus.Sink
	mirror  sharedBus.Sink
	log     *zap.Logger
}

func NewMirrorSink(primary, mirror sharedBus.Sink, log *zap.Logger) *MirrorSink {
	return &MirrorSink{primary: primary, mirror: mirror, log: log}
}

func (m *MirrorSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	if err := m.primary.Publish(ctx, msg); err != nil {
		return err
	}
	if err := m.mirror.Publish(ctx, msg); err != nil {
		m.log.Warn("⚠️ Mirror sink failed",
			zap.String("topic", msg.Topic),
			zap.String("key", msg.Key),
			zap.Error(err))
	}
	return nil
}

func (m *MirrorSink) Ping(ctx context.Context) error {
	if p, ok := m.primary.(sharedBus.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close sólo cierra el espejo: el primario suele compartirse con otras rutas.
func (m *MirrorSink) Close() error {
	return m.mirror.Close()
}

var (
	_ sharedBus.Sink   = (*RoutingSink)(nil)
	_ sharedBus.Pinger = (*RoutingSink)(nil)
	_ sharedBus.Sink   = (*MirrorSink)(nil)
)

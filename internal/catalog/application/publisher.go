package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jizhuozhi/go-future"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/codec"
	"github.com/davicafu/catalogcdc/internal/shared/infra/telemetry"
)

var ErrPublisherClosed = errors.New("publisher closed")

// Ack confirma una publicación. Suppressed indica un fallo best-effort que
// se registró y se descartó; Err lleva ese fallo para quien quiera verlo.
type Ack struct {
	EventID    string
	Topic      string
	Key        string
	Lane       int
	Suppressed bool
	Err        error
}

type PublisherConfig struct {
	Lanes      int
	LaneBuffer int
	Timeout    time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{Lanes: 16, LaneBuffer: 256, Timeout: 10 * time.Second}
}

// Publisher es lo que necesitan el servicio y el publicador de lotes.
type Publisher interface {
	Publish(ctx context.Context, route domain.Route, partitionKey string, env *domain.EventEnvelope) (Ack, error)
	PublishAsync(ctx context.Context, route domain.Route, partitionKey string, env *domain.EventEnvelope) *future.Future[Ack]
}

type publishJob struct {
	ctx     context.Context
	route   domain.Route
	msg     sharedBus.Message
	eventID string
	lane    int
	promise *future.Promise[Ack]
}

// EventPublisher reparte los envíos en carriles por hash de la clave. Cada
// carril escribe en el sink de uno en uno, así que dos eventos de la misma
// clave llegan al broker en el orden en que se aceptaron.
type EventPublisher struct {
	sink    sharedBus.Sink
	codec   codec.Codec
	cfg     PublisherConfig
	metrics *telemetry.Metrics
	log     *zap.Logger

	mu     sync.RWMutex
	closed bool
	lanes  []chan *publishJob
	wg     sync.WaitGroup
}

func NewEventPublisher(sink sharedBus.Sink, c codec.Codec, cfg PublisherConfig, metrics *telemetry.Metrics, log *zap.Logger) *EventPublisher {
	def := DefaultPublisherConfig()
	if cfg.Lanes <= 0 {
		cfg.Lanes = def.Lanes
	}
	if cfg.LaneBuffer < 0 {
		cfg.LaneBuffer = def.LaneBuffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if c == nil {
		c = codec.JSON{}
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	p := &EventPublisher{
		sink:    sink,
		codec:   c,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		lanes:   make([]chan *publishJob, cfg.Lanes),
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan *publishJob, cfg.LaneBuffer)
		p.wg.Add(1)
		go p.runLane(p.lanes[i])
	}
	return p
}

// Lane devuelve el carril que le toca a una clave.
func (p *EventPublisher) Lane(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.lanes)))
}

// Publish espera al broker. Con ruta Mandatory un fallo vuelve como *PublishError.
func (p *EventPublisher) Publish(ctx context.Context, route domain.Route, partitionKey string, env *domain.EventEnvelope) (Ack, error) {
	return p.PublishAsync(ctx, route, partitionKey, env).Get()
}

// PublishAsync codifica el envelope y lo encola en su carril antes de
// volver: el orden de llamada define el orden en el broker para esa clave.
// El envelope ya no se lee después, así que modificarlo no cambia lo enviado.
func (p *EventPublisher) PublishAsync(ctx context.Context, route domain.Route, partitionKey string, env *domain.EventEnvelope) *future.Future[Ack] {
	promise := future.NewPromise[Ack]()

	job, err := p.prepare(ctx, route, partitionKey, env, promise)
	if err != nil {
		promise.Set(Ack{Topic: route.Topic, Key: partitionKey}, err)
		return promise.Future()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		promise.Set(Ack{EventID: job.eventID, Topic: route.Topic, Key: partitionKey},
			&domain.PublishError{Topic: route.Topic, Key: partitionKey, EventID: job.eventID, Err: ErrPublisherClosed})
		return promise.Future()
	}

	select {
	case p.lanes[job.lane] <- job:
	case <-ctx.Done():
		promise.Set(Ack{EventID: job.eventID, Topic: route.Topic, Key: partitionKey},
			&domain.PublishError{Topic: route.Topic, Key: partitionKey, EventID: job.eventID, Err: ctx.Err()})
	}
	return promise.Future()
}

func (p *EventPublisher) prepare(ctx context.Context, route domain.Route, partitionKey string, env *domain.EventEnvelope, promise *future.Promise[Ack]) (*publishJob, error) {
	if env == nil {
		return nil, &domain.InvalidEventError{Reason: "envelope is required"}
	}
	if partitionKey == "" {
		return nil, &domain.InvalidEventError{Reason: "partition key is required"}
	}
	if route.Topic == "" {
		return nil, &domain.InvalidEventError{Reason: "route has no topic"}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	value, err := p.codec.Marshal(env)
	if err != nil {
		return nil, &domain.InvalidEventError{Reason: fmt.Sprintf("encode envelope: %v", err)}
	}

	headers := map[string]string{
		sharedBus.HeaderEventID:       env.EventID,
		sharedBus.HeaderEventType:     string(env.EventType),
		sharedBus.HeaderSchemaVersion: env.SchemaVersion,
		sharedBus.HeaderContentType:   p.codec.ContentType(),
	}
	if env.CorrelationID != "" {
		headers[sharedBus.HeaderCorrelationID] = env.CorrelationID
	}

	return &publishJob{
		ctx:     ctx,
		route:   route,
		msg:     sharedBus.Message{Topic: route.Topic, Key: partitionKey, Value: value, Headers: headers},
		eventID: env.EventID,
		lane:    p.Lane(partitionKey),
		promise: promise,
	}, nil
}

func (p *EventPublisher) runLane(jobs <-chan *publishJob) {
	defer p.wg.Done()
	for job := range jobs {
		p.send(job)
	}
}

func (p *EventPublisher) send(job *publishJob) {
	// Un envío aceptado termina aunque el llamador se haya ido; sólo lo corta el timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), p.cfg.Timeout)
	defer cancel()

	ctx, span := telemetry.StartPublishSpan(ctx, job.route.Topic, job.msg.Key, job.eventID)
	start := time.Now()
	err := p.sink.Publish(ctx, job.msg)
	p.metrics.PublishLatency.WithLabelValues(job.route.Topic).Observe(time.Since(start).Seconds())
	telemetry.EndSpan(span, err)

	ack := Ack{EventID: job.eventID, Topic: job.route.Topic, Key: job.msg.Key, Lane: job.lane}
	criticality := job.route.Criticality.String()

	if err == nil {
		p.metrics.Published.WithLabelValues(job.route.Topic, criticality, "ok").Inc()
		job.promise.Set(ack, nil)
		return
	}

	pubErr := &domain.PublishError{Topic: job.route.Topic, Key: job.msg.Key, EventID: job.eventID, Err: err}
	if job.route.Criticality == domain.BestEffort {
		p.metrics.Published.WithLabelValues(job.route.Topic, criticality, "suppressed").Inc()
		p.log.Warn("⚠️ Publicación best-effort fallida, se descarta",
			zap.String("topic", job.route.Topic),
			zap.String("key", job.msg.Key),
			zap.String("event_id", job.eventID),
			zap.Error(err))
		ack.Suppressed = true
		ack.Err = pubErr
		job.promise.Set(ack, nil)
		return
	}

	p.metrics.Published.WithLabelValues(job.route.Topic, criticality, "failed").Inc()
	p.log.Error("❌ Error publicando evento",
		zap.String("topic", job.route.Topic),
		zap.String("key", job.msg.Key),
		zap.String("event_id", job.eventID),
		zap.Error(err))
	job.promise.Set(ack, pubErr)
}

// Close deja de aceptar envíos y espera a que los carriles se vacíen.
// No cierra el sink: pertenece a quien lo creó.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, lane := range p.lanes {
		close(lane)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

var _ Publisher = (*EventPublisher)(nil)

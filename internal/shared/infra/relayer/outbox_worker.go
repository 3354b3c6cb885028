package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	"github.com/davicafu/catalogcdc/internal/shared/infra/telemetry"
	"github.com/davicafu/catalogcdc/internal/shared/infra/utils"
)

type Config struct {
	Interval      time.Duration
	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
}

// Worker entrega al broker las filas pendientes de la outbox, en orden.
type Worker struct {
	repo    sharedDomain.OutboxRepository
	sink    sharedBus.Sink
	cfg     Config
	metrics *telemetry.Metrics
	log     *zap.Logger
}

func NewOutboxWorker(
	repo sharedDomain.OutboxRepository,
	sink sharedBus.Sink,
	cfg Config,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &Worker{repo: repo, sink: sink, cfg: cfg, metrics: metrics, log: log}
}

// Start inicia el bucle de polling del worker. Bloquea hasta que ctx se cancela.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 Outbox worker detenido.")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch entrega un lote y devuelve cuántas filas se marcaron.
// Se detiene en el primer fallo: saltarse una fila rompería el orden de su clave.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	events, err := w.repo.FetchPendingOutbox(ctx, w.cfg.BatchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return 0
	}
	if len(events) > 0 {
		w.log.Debug("📬 Eventos pendientes en outbox", zap.Int("count", len(events)))
	}

	relayed := 0
	for _, evt := range events {
		if !w.publishAndMark(ctx, evt) {
			break
		}
		relayed++
	}
	return relayed
}

func (w *Worker) publishAndMark(ctx context.Context, evt sharedDomain.OutboxEvent) bool {
	msg := sharedBus.Message{
		Topic:   evt.Topic,
		Key:     evt.AggregateID,
		Value:   evt.Payload,
		Headers: evt.Headers,
	}

	err := utils.Retry(ctx, w.cfg.RetryAttempts, w.cfg.RetryDelay, func() error {
		return w.sink.Publish(ctx, msg)
	})
	if err != nil {
		w.metrics.OutboxRelayed.WithLabelValues("failed").Inc()
		w.log.Warn("⚠️ No se pudo publicar evento",
			zap.String("outbox_id", evt.ID.String()),
			zap.String("event_id", evt.Headers[sharedBus.HeaderEventID]),
			zap.Error(err),
		)
		return false // queda pendiente para el siguiente ciclo
	}

	// Si falla el marcado, la fila se reenvía con el mismo eventId y el
	// consumidor la descarta como duplicado.
	if err := w.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
		w.metrics.OutboxRelayed.WithLabelValues("unmarked").Inc()
		w.log.Warn("⚠️ No se pudo marcar evento como procesado",
			zap.String("outbox_id", evt.ID.String()),
			zap.Error(err),
		)
		return false
	}

	w.metrics.OutboxRelayed.WithLabelValues("ok").Inc()
	w.log.Debug("✅ Evento publicado y marcado", zap.String("outbox_id", evt.ID.String()))
	return true
}

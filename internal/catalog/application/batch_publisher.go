package application

import (
	"context"
	"sort"

	"github.com/jizhuozhi/go-future"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/telemetry"
)

type BatchOptions struct {
	BatchID         string
	CorrelationID   string
	ContinueOnError bool
	TriggeredBy     string
	Operation       domain.BatchOperation
}

// BatchPublisher convierte un lote ya aplicado en eventos CDC por elemento
// más un resumen en el topic de analítica.
type BatchPublisher struct {
	builder   *EnvelopeBuilder
	router    *domain.TopicRouter
	publisher Publisher
	ids       *IdentityGenerator
	metrics   *telemetry.Metrics
	log       *zap.Logger
}

func NewBatchPublisher(builder *EnvelopeBuilder, router *domain.TopicRouter, publisher Publisher, metrics *telemetry.Metrics, log *zap.Logger) *BatchPublisher {
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	return &BatchPublisher{
		builder:   builder,
		router:    router,
		publisher: publisher,
		ids:       NewIdentityGenerator(),
		metrics:   metrics,
		log:       log,
	}
}

// PublishBatch publica un evento CDC por elemento y un resumen best-effort.
// Con ContinueOnError los fallos van al informe y el error es nil. Sin él,
// el primer fallo corta el lote: los elementos siguientes no se intentan y
// se devuelve *domain.BatchError junto con el informe parcial.
func (b *BatchPublisher) PublishBatch(ctx context.Context, items []domain.MutationResult, eventType domain.EventType, opts BatchOptions) (*domain.BatchReport, error) {
	if len(items) == 0 {
		return nil, &domain.BatchValidationError{Reason: "at least one item must be provided for batch operation"}
	}
	if !eventType.Valid() {
		return nil, &domain.InvalidEventError{Reason: "event type is unset or unknown"}
	}
	if opts.BatchID == "" {
		opts.BatchID = b.ids.BatchID()
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = b.ids.correlationFor(ctx, CorrelationPrefixBatch)
	}

	ctx, span := telemetry.StartBatchSpan(ctx, string(opts.Operation), opts.BatchID, len(items))
	report := NewBatchReport(opts, eventType, len(items))

	// El resumen sale en paralelo: no espera a los elementos ni los condiciona.
	summary := b.launchSummary(ctx, items, eventType, opts)

	var err error
	if opts.ContinueOnError {
		b.publishTolerant(ctx, items, eventType, opts, report)
	} else {
		err = b.publishFailFast(ctx, items, eventType, opts, report)
	}

	report.SummaryPublished = b.awaitSummary(summary, opts.BatchID)
	telemetry.EndSpan(span, err)

	b.log.Info("📦 Lote publicado",
		zap.String("batch_id", opts.BatchID),
		zap.String("operation", string(opts.Operation)),
		zap.Int("total", report.Total),
		zap.Int("published", len(report.Published)),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("summary_published", report.SummaryPublished))

	return report, err
}

// NewBatchReport crea un informe vacío para el lote.
func NewBatchReport(opts BatchOptions, eventType domain.EventType, total int) *domain.BatchReport {
	return &domain.BatchReport{
		BatchID:       opts.BatchID,
		CorrelationID: opts.CorrelationID,
		Operation:     opts.Operation,
		EventType:     eventType,
		Total:         total,
		Published:     []string{},
	}
}

// PublishItem publica el CDC de un elemento y espera la confirmación.
func (b *BatchPublisher) PublishItem(ctx context.Context, item domain.MutationResult, eventType domain.EventType, opts BatchOptions) error {
	env, route, err := b.itemEnvelope(item, eventType, opts)
	if err != nil {
		return err
	}
	if _, err := b.publisher.Publish(ctx, route, env.PartitionKey(), env); err != nil {
		return err
	}
	b.metrics.BatchItems.WithLabelValues(string(opts.Operation), "published").Inc()
	return nil
}

// PublishSummary publica el resumen y devuelve si llegó al broker. Nunca falla.
func (b *BatchPublisher) PublishSummary(ctx context.Context, items []domain.MutationResult, eventType domain.EventType, opts BatchOptions) bool {
	return b.awaitSummary(b.launchSummary(ctx, items, eventType, opts), opts.BatchID)
}

func (b *BatchPublisher) publishTolerant(ctx context.Context, items []domain.MutationResult, eventType domain.EventType, opts BatchOptions, report *domain.BatchReport) {
	futures := make([]*future.Future[Ack], len(items))
	for i, item := range items {
		env, route, err := b.itemEnvelope(item, eventType, opts)
		if err != nil {
			b.recordFailure(report, item, i, err)
			continue
		}
		futures[i] = b.publisher.PublishAsync(ctx, route, env.PartitionKey(), env)
	}

	for i, f := range futures {
		if f == nil {
			continue
		}
		if _, err := f.Get(); err != nil {
			b.recordFailure(report, items[i], i, err)
			continue
		}
		report.Published = append(report.Published, items[i].Entity.ID)
		b.metrics.BatchItems.WithLabelValues(string(opts.Operation), "published").Inc()
	}

	sort.SliceStable(report.Failed, func(x, y int) bool { return report.Failed[x].Index < report.Failed[y].Index })
}

func (b *BatchPublisher) publishFailFast(ctx context.Context, items []domain.MutationResult, eventType domain.EventType, opts BatchOptions, report *domain.BatchReport) error {
	for i, item := range items {
		if err := b.PublishItem(ctx, item, eventType, opts); err != nil {
			b.recordFailure(report, item, i, err)
			return &domain.BatchError{
				Index:        i + 1,
				FailedID:     itemID(item, i),
				PublishedIDs: append([]string(nil), report.Published...),
				Err:          err,
			}
		}
		report.Published = append(report.Published, item.Entity.ID)
	}
	return nil
}

func (b *BatchPublisher) itemEnvelope(item domain.MutationResult, eventType domain.EventType, opts BatchOptions) (*domain.EventEnvelope, domain.Route, error) {
	route, err := b.router.Route(eventType, domain.IntentCDC)
	if err != nil {
		return nil, domain.Route{}, err
	}

	metadata := map[string]any{
		"operation":       opts.Operation.MetadataName(),
		"batch_operation": true,
		"batch_id":        opts.BatchID,
	}
	if item.Operation == domain.BatchStatusChange && item.Entity != nil {
		metadata["new_status"] = string(item.Entity.Status)
		if item.Previous != nil {
			metadata["previous_status"] = string(item.Previous.Status)
		}
		if item.Reason != "" {
			metadata["reason"] = item.Reason
		}
	}

	env, err := b.builder.Build(item.Entity, eventType, item.Previous, opts.TriggeredBy, metadata, opts.CorrelationID)
	if err != nil {
		return nil, domain.Route{}, err
	}
	return env, route, nil
}

func (b *BatchPublisher) launchSummary(ctx context.Context, items []domain.MutationResult, eventType domain.EventType, opts BatchOptions) *future.Future[Ack] {
	bookIDs := make([]string, 0, len(items))
	categories := newOrderedSet()
	languages := newOrderedSet()
	for _, item := range items {
		if item.Entity == nil {
			continue
		}
		bookIDs = append(bookIDs, item.Entity.ID)
		categories.add(item.Entity.Categories...)
		if item.Entity.Language != "" {
			languages.add(item.Entity.Language)
		}
	}

	metadata := map[string]any{
		"operation":       "batch_summary",
		"batch_operation": opts.Operation.MetadataName(),
		"batch_size":      len(items),
		"book_ids":        bookIDs,
		"categories":      categories.values(),
		"languages":       languages.values(),
		"source_service":  b.builder.Info().Source,
	}

	env, err := b.builder.BuildSummary(opts.BatchID, eventType, metadata, opts.CorrelationID)
	if err != nil {
		b.log.Warn("⚠️ No se pudo construir el resumen del lote", zap.String("batch_id", opts.BatchID), zap.Error(err))
		return nil
	}
	route, err := b.router.Route(eventType, domain.IntentAnalytics)
	if err != nil {
		b.log.Warn("⚠️ Sin ruta para el resumen del lote", zap.String("batch_id", opts.BatchID), zap.Error(err))
		return nil
	}
	return b.publisher.PublishAsync(ctx, route, env.PartitionKey(), env)
}

// awaitSummary nunca falla el lote; sólo informa si el resumen llegó al broker.
func (b *BatchPublisher) awaitSummary(f *future.Future[Ack], batchID string) bool {
	if f == nil {
		return false
	}
	ack, err := f.Get()
	if err != nil {
		b.log.Warn("⚠️ Resumen del lote no publicado", zap.String("batch_id", batchID), zap.Error(err))
		return false
	}
	return !ack.Suppressed
}

func (b *BatchPublisher) recordFailure(report *domain.BatchReport, item domain.MutationResult, i int, err error) {
	report.Failed = append(report.Failed, domain.ItemFailure{
		ID:     itemID(item, i),
		Index:  i + 1,
		Reason: err.Error(),
	})
	b.metrics.BatchItems.WithLabelValues(string(report.Operation), "failed").Inc()
	b.log.Warn("⚠️ Elemento del lote fallido",
		zap.String("batch_id", report.BatchID),
		zap.Int("index", i+1),
		zap.String("id", itemID(item, i)),
		zap.Error(err))
}

func itemID(item domain.MutationResult, i int) string {
	if item.Entity != nil && item.Entity.ID != "" {
		return item.Entity.ID
	}
	return domain.CreateItems(nil).ItemID(i)
}

// orderedSet conserva el orden de primera aparición.
type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]struct{}{}, order: []string{}}
}

func (s *orderedSet) add(vals ...string) {
	for _, v := range vals {
		if _, ok := s.seen[v]; ok {
			continue
		}
		s.seen[v] = struct{}{}
		s.order = append(s.order, v)
	}
}

func (s *orderedSet) values() []string {
	return s.order
}

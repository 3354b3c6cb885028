package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/cache"
	"github.com/davicafu/catalogcdc/internal/shared/infra/telemetry"
)

type CatalogConfig struct {
	BookCacheTTL time.Duration
	ReplayTTL    time.Duration
}

func DefaultCatalogConfig() CatalogConfig {
	return CatalogConfig{BookCacheTTL: 5 * time.Minute, ReplayTTL: 24 * time.Hour}
}

func bookCacheKey(id string) string { return "book:" + id }

func batchReplayKey(requestID string) string { return "batch:" + requestID }

// CatalogService aplica las mutaciones del catálogo y publica sus eventos.
// La escritura y el evento CDC comparten transacción cuando el TxRunner la
// ofrece (modo outbox); el evento de analítica sale después y nunca falla la
// mutación.
type CatalogService struct {
	repo      domain.BookRepository
	tx        domain.TxRunner
	cache     cache.Cache
	guard     *cache.Guard
	builder   *EnvelopeBuilder
	router    *domain.TopicRouter
	publisher Publisher
	batch     *BatchPublisher
	ids       *IdentityGenerator
	cfg       CatalogConfig
	metrics   *telemetry.Metrics
	log       *zap.Logger
	now       func() time.Time
}

// NewCatalogService: tx y c pueden ser nil (sin transacción, sin caché).
func NewCatalogService(
	repo domain.BookRepository,
	tx domain.TxRunner,
	c cache.Cache,
	builder *EnvelopeBuilder,
	router *domain.TopicRouter,
	publisher Publisher,
	cfg CatalogConfig,
	metrics *telemetry.Metrics,
	log *zap.Logger,
) *CatalogService {
	if tx == nil {
		tx = domain.NoTx{}
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	def := DefaultCatalogConfig()
	if cfg.BookCacheTTL <= 0 {
		cfg.BookCacheTTL = def.BookCacheTTL
	}
	if cfg.ReplayTTL <= 0 {
		cfg.ReplayTTL = def.ReplayTTL
	}
	ids := NewIdentityGenerator()
	return &CatalogService{
		repo:      repo,
		tx:        tx,
		cache:     c,
		guard:     &cache.Guard{},
		builder:   builder,
		router:    router,
		publisher: publisher,
		batch:     NewBatchPublisher(builder, router, publisher, metrics, log),
		ids:       ids,
		cfg:       cfg,
		metrics:   metrics,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// secondaryEvent es el evento best-effort que acompaña a algunas mutaciones.
type secondaryEvent struct {
	intent   domain.Intent
	metadata map[string]any
}

type mutation struct {
	entity      *domain.Book
	previous    *domain.Book
	eventType   domain.EventType
	triggeredBy string
	metadata    map[string]any
	store       func(ctx context.Context) error
	secondary   *secondaryEvent
}

func (s *CatalogService) baseMetadata(operation, trigger string) map[string]any {
	return map[string]any{
		"operation":      operation,
		"trigger":        trigger,
		"source_service": s.builder.Info().Source,
	}
}

// apply escribe y publica el CDC dentro de la misma transacción. Si el CDC
// falla la transacción se deshace (modo outbox) o el error llega al llamador
// con la escritura ya hecha (modo directo). En ambos casos la caché del libro
// se invalida en cuanto la escritura se ha hecho.
func (s *CatalogService) apply(ctx context.Context, m mutation) error {
	correlationID := s.ids.correlationFor(ctx, CorrelationPrefixBook)

	var stored bool
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		if err := m.store(txCtx); err != nil {
			return err
		}
		stored = true
		env, err := s.builder.Build(m.entity, m.eventType, m.previous, m.triggeredBy, m.metadata, correlationID)
		if err != nil {
			return err
		}
		route, err := s.router.Route(m.eventType, domain.IntentCDC)
		if err != nil {
			return err
		}
		_, err = s.publisher.Publish(txCtx, route, env.PartitionKey(), env)
		return err
	})
	if stored {
		s.invalidate(ctx, m.entity.ID)
	}
	if err != nil {
		return err
	}

	if m.secondary != nil {
		s.publishSecondary(ctx, m, correlationID)
	}
	return nil
}

// publishSecondary no espera al broker: el fallo lo registra el publicador.
func (s *CatalogService) publishSecondary(ctx context.Context, m mutation, correlationID string) {
	metadata := copyMetadata(m.metadata)
	for k, v := range m.secondary.metadata {
		metadata[k] = v
	}
	env, err := s.builder.Build(m.entity, m.eventType, m.previous, m.triggeredBy, metadata, correlationID)
	if err != nil {
		s.log.Warn("⚠️ No se pudo construir el evento secundario", zap.String("book_id", m.entity.ID), zap.Error(err))
		return
	}
	route, err := s.router.Route(m.eventType, m.secondary.intent)
	if err != nil {
		s.log.Warn("⚠️ Sin ruta para el evento secundario", zap.String("book_id", m.entity.ID), zap.Error(err))
		return
	}
	s.publisher.PublishAsync(ctx, route, env.PartitionKey(), env)
}

func (s *CatalogService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.guard.Invalidate(ctx, s.cache, bookCacheKey(id)); err != nil {
		s.log.Warn("⚠️ No se pudo invalidar la caché", zap.String("book_id", id), zap.Error(err))
	}
}

func (s *CatalogService) checkISBN(ctx context.Context, isbn, excludeID string) error {
	if isbn == "" {
		return nil
	}
	exists, err := s.repo.ExistsByISBN(ctx, isbn, excludeID)
	if err != nil {
		return fmt.Errorf("check isbn: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateISBN, isbn)
	}
	return nil
}

// loadActive devuelve el libro salvo que no exista o esté borrado.
func (s *CatalogService) loadActive(ctx context.Context, id string) (*domain.Book, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == domain.BookDeleted {
		return nil, domain.ErrBookNotFound
	}
	return b, nil
}

// next devuelve una copia de prev con fn aplicada y la versión avanzada.
func (s *CatalogService) next(prev *domain.Book, fn func(b *domain.Book)) *domain.Book {
	b := prev.Clone()
	fn(b)
	b.Version = prev.Version + 1
	b.UpdatedAt = s.now()
	return b
}

// ---------- Casos de uso ----------

func (s *CatalogService) CreateBook(ctx context.Context, draft domain.BookDraft) (*domain.Book, error) {
	book, err := domain.NewBook(s.ids.BookID(), draft, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.checkISBN(ctx, book.ISBN, ""); err != nil {
		return nil, err
	}

	err = s.apply(ctx, mutation{
		entity:      book,
		eventType:   domain.EventInsert,
		triggeredBy: book.UploadedBy,
		metadata:    s.baseMetadata("create", "user_upload"),
		store:       func(ctx context.Context) error { return s.repo.Create(ctx, book) },
		secondary: &secondaryEvent{
			intent: domain.IntentDomain,
			metadata: map[string]any{
				"domain_event_name": "BOOK_PUBLISHED",
				"aggregate_type":    "Book",
				"aggregate_id":      book.ID,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("📚 Libro creado", zap.String("book_id", book.ID), zap.String("title", book.Title))
	return book, nil
}

func (s *CatalogService) UpdateBook(ctx context.Context, id string, patch domain.BookPatch, triggeredBy string) (*domain.Book, error) {
	prev, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if isbn, changed := patch.ISBNChange(prev.ISBN); changed {
		if err := s.checkISBN(ctx, isbn, id); err != nil {
			return nil, err
		}
	}
	book, err := patch.ApplyTo(prev, s.now())
	if err != nil {
		return nil, err
	}

	metadata := s.baseMetadata("update", "user_modification")
	metadata["has_previous_data"] = true

	err = s.apply(ctx, mutation{
		entity:      book,
		previous:    prev,
		eventType:   domain.EventUpdate,
		triggeredBy: triggeredBy,
		metadata:    metadata,
		store:       func(ctx context.Context) error { return s.repo.Update(ctx, book) },
		secondary: &secondaryEvent{
			intent:   domain.IntentAnalytics,
			metadata: map[string]any{"metric_name": "book_updated", "entity_type": "book"},
		},
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// DeleteBook es un borrado lógico: el libro queda DELETED y se emite un CDC(D).
func (s *CatalogService) DeleteBook(ctx context.Context, id, triggeredBy string) error {
	prev, err := s.loadActive(ctx, id)
	if err != nil {
		return err
	}
	book := s.next(prev, func(b *domain.Book) { b.MarkDeleted() })

	metadata := s.baseMetadata("delete", "user_deletion")
	metadata["deletion_type"] = "soft"

	err = s.apply(ctx, mutation{
		entity:      book,
		eventType:   domain.EventDelete,
		triggeredBy: triggeredBy,
		metadata:    metadata,
		store:       func(ctx context.Context) error { return s.repo.Update(ctx, book) },
	})
	if err != nil {
		return err
	}

	s.log.Info("🗑️ Libro borrado", zap.String("book_id", id))
	return nil
}

func (s *CatalogService) ChangeStatus(ctx context.Context, id string, status domain.BookStatus, reason, triggeredBy string) (*domain.Book, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidBook, status)
	}
	prev, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	book := s.next(prev, func(b *domain.Book) { b.ChangeStatus(status) })

	metadata := s.baseMetadata("status_change", "status_update")
	metadata["previous_status"] = string(prev.Status)
	metadata["new_status"] = string(status)
	if reason != "" {
		metadata["reason"] = reason
	}

	eventType := domain.EventUpdate
	if status == domain.BookDeleted {
		eventType = domain.EventDelete
	}

	err = s.apply(ctx, mutation{
		entity:      book,
		previous:    prev,
		eventType:   eventType,
		triggeredBy: triggeredBy,
		metadata:    metadata,
		store:       func(ctx context.Context) error { return s.repo.Update(ctx, book) },
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (s *CatalogService) IncrementDownloads(ctx context.Context, id, userID string) (*domain.Book, error) {
	prev, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	book := s.next(prev, func(b *domain.Book) { b.IncrementDownloadCount() })

	metadata := s.baseMetadata("download_increment", "user_download")
	metadata["previous_count"] = prev.DownloadCount
	metadata["new_count"] = book.DownloadCount

	err = s.apply(ctx, mutation{
		entity:      book,
		previous:    prev,
		eventType:   domain.EventUpdate,
		triggeredBy: userID,
		metadata:    metadata,
		store:       func(ctx context.Context) error { return s.repo.Update(ctx, book) },
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

func (s *CatalogService) UpdateRating(ctx context.Context, id string, rating float64, reviewCount int) (*domain.Book, error) {
	if rating < 0 || rating > 5 || reviewCount < 0 {
		return nil, fmt.Errorf("%w: rating must be between 0 and 5 and review count non-negative", domain.ErrInvalidBook)
	}
	prev, err := s.loadActive(ctx, id)
	if err != nil {
		return nil, err
	}
	book := s.next(prev, func(b *domain.Book) { b.UpdateRating(rating, reviewCount) })

	metadata := s.baseMetadata("rating_update", "review_aggregation")
	metadata["previous_rating"] = prev.AverageRating
	metadata["new_rating"] = rating
	metadata["review_count"] = reviewCount

	err = s.apply(ctx, mutation{
		entity:    book,
		previous:  prev,
		eventType: domain.EventUpdate,
		metadata:  metadata,
		store:     func(ctx context.Context) error { return s.repo.Update(ctx, book) },
	})
	if err != nil {
		return nil, err
	}
	return book, nil
}

// GetBook lee primero de la caché; las mutaciones la invalidan. La versión
// se toma antes de ir al almacén para no volver a cachear un libro que otra
// mutación ya ha cambiado.
func (s *CatalogService) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	key := bookCacheKey(id)
	if s.cache != nil {
		var b domain.Book
		if ok, err := s.cache.Get(ctx, key, &b); err == nil && ok {
			return &b, nil
		}
	}

	version := s.guard.Version(key)
	book, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cache.AsyncCacheSet(s.cache, s.guard, key, version, book.Clone(), s.cfg.BookCacheTTL, s.log)
	return book, nil
}

// ---------- Lotes ----------

// ProcessBatch valida, aplica y publica un lote. Un lote repetido con el
// mismo requestId devuelve el informe guardado sin volver a escribir ni publicar.
func (s *CatalogService) ProcessBatch(ctx context.Context, req domain.BatchRequest) (*domain.BatchReport, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if replayed, ok := s.replayed(ctx, req.RequestID); ok {
		return replayed, nil
	}

	opts := BatchOptions{
		BatchID:         s.ids.BatchID(),
		CorrelationID:   s.ids.correlationFor(ctx, CorrelationPrefixBatch),
		ContinueOnError: req.ContinueOnError,
		TriggeredBy:     req.UserID,
		Operation:       req.Operation(),
	}

	if !req.ContinueOnError {
		return s.processFailFast(ctx, req, opts)
	}

	report := s.processTolerant(ctx, req, opts)
	s.remember(ctx, req.RequestID, report)
	return report, nil
}

// applyItem escribe un elemento y publica su CDC en la misma transacción,
// como una mutación suelta. stored indica si la escritura llegó a hacerse.
func (s *CatalogService) applyItem(ctx context.Context, payload domain.BatchPayload, i int, opts BatchOptions) (domain.MutationResult, bool, error) {
	var (
		result domain.MutationResult
		stored bool
	)
	err := s.tx.WithinTx(ctx, func(txCtx context.Context) error {
		r, err := s.storeItem(txCtx, payload, i)
		result = r
		if err != nil {
			return err
		}
		stored = true
		return s.batch.PublishItem(txCtx, r, opts.Operation.EventType(), opts)
	})
	if stored {
		s.invalidate(ctx, result.Entity.ID)
	}
	return result, stored, err
}

// processTolerant aplica todos los elementos, cada uno en su transacción.
// Los fallos de escritura y de publicación acaban en el informe.
func (s *CatalogService) processTolerant(ctx context.Context, req domain.BatchRequest, opts BatchOptions) *domain.BatchReport {
	op := req.Operation()
	ctx, span := telemetry.StartBatchSpan(ctx, string(op), opts.BatchID, req.TotalItems())
	report := NewBatchReport(opts, op.EventType(), req.TotalItems())

	var handled []domain.MutationResult
	for i := 0; i < req.TotalItems(); i++ {
		result, stored, err := s.applyItem(ctx, req.Payload, i, opts)
		if stored {
			handled = append(handled, result)
		}
		if err != nil {
			s.recordItemFailure(report, req.Payload, i, result, stored, err)
			continue
		}
		report.Published = append(report.Published, result.Entity.ID)
	}

	if len(handled) > 0 {
		report.SummaryPublished = s.batch.PublishSummary(ctx, handled, op.EventType(), opts)
	}
	telemetry.EndSpan(span, nil)

	s.log.Info("📦 Lote procesado",
		zap.String("batch_id", opts.BatchID),
		zap.String("operation", string(op)),
		zap.Int("total", report.Total),
		zap.Int("published", len(report.Published)),
		zap.Int("failed", len(report.Failed)),
		zap.Bool("summary_published", report.SummaryPublished))
	return report
}

// processFailFast escribe y publica elemento a elemento. El primer fallo,
// de escritura o de publicación, corta el lote: lo que viene después ni se
// guarda ni se publica. El informe abortado también se guarda para que un
// reintento con el mismo requestId no vuelva a aplicar los elementos previos.
func (s *CatalogService) processFailFast(ctx context.Context, req domain.BatchRequest, opts BatchOptions) (*domain.BatchReport, error) {
	op := req.Operation()
	eventType := op.EventType()

	ctx, span := telemetry.StartBatchSpan(ctx, string(op), opts.BatchID, req.TotalItems())
	report := NewBatchReport(opts, eventType, req.TotalItems())

	var handled []domain.MutationResult
	var abort *domain.BatchError
	for i := 0; i < req.TotalItems(); i++ {
		result, stored, err := s.applyItem(ctx, req.Payload, i, opts)
		if stored {
			handled = append(handled, result)
		}
		if err != nil {
			failure := s.recordItemFailure(report, req.Payload, i, result, stored, err)
			abort = &domain.BatchError{
				Index:        failure.Index,
				FailedID:     failure.ID,
				PublishedIDs: append([]string(nil), report.Published...),
				Err:          err,
			}
			break
		}
		report.Published = append(report.Published, result.Entity.ID)
	}

	if len(handled) > 0 {
		report.SummaryPublished = s.batch.PublishSummary(ctx, handled, eventType, opts)
	}

	if abort != nil {
		report.Aborted = true
		telemetry.EndSpan(span, abort)
		s.log.Warn("⛔ Lote abortado",
			zap.String("batch_id", opts.BatchID),
			zap.Int("index", abort.Index),
			zap.String("id", abort.FailedID),
			zap.Strings("published", abort.PublishedIDs),
			zap.Error(abort.Err))
		s.remember(ctx, req.RequestID, report)
		return report, abort
	}
	telemetry.EndSpan(span, nil)
	s.remember(ctx, req.RequestID, report)
	return report, nil
}

func (s *CatalogService) recordItemFailure(report *domain.BatchReport, payload domain.BatchPayload, i int, result domain.MutationResult, stored bool, err error) domain.ItemFailure {
	failure := domain.ItemFailure{ID: payload.ItemID(i), Index: i + 1, Reason: err.Error()}
	status := "store_failed"
	if stored {
		failure.ID = result.Entity.ID
		status = "failed"
	}
	report.Failed = append(report.Failed, failure)
	s.metrics.BatchItems.WithLabelValues(string(report.Operation), status).Inc()
	s.log.Warn("⚠️ Elemento del lote fallido",
		zap.String("batch_id", report.BatchID),
		zap.Int("index", failure.Index),
		zap.String("id", failure.ID),
		zap.Error(err))
	return failure
}

func (s *CatalogService) storeItem(ctx context.Context, payload domain.BatchPayload, i int) (domain.MutationResult, error) {
	result := domain.MutationResult{Index: i, Operation: payload.Operation()}

	switch p := payload.(type) {
	case domain.CreateItems:
		book, err := domain.NewBook(s.ids.BookID(), p[i], s.now())
		if err != nil {
			return result, err
		}
		if err := s.checkISBN(ctx, book.ISBN, ""); err != nil {
			return result, err
		}
		if err := s.repo.Create(ctx, book); err != nil {
			return result, err
		}
		result.Entity = book

	case domain.UpdateItems:
		prev, err := s.loadActive(ctx, p[i].BookID)
		if err != nil {
			return result, err
		}
		if isbn, changed := p[i].Updates.ISBNChange(prev.ISBN); changed {
			if err := s.checkISBN(ctx, isbn, prev.ID); err != nil {
				return result, err
			}
		}
		book, err := p[i].Updates.ApplyTo(prev, s.now())
		if err != nil {
			return result, err
		}
		if err := s.repo.Update(ctx, book); err != nil {
			return result, err
		}
		result.Entity, result.Previous = book, prev

	case domain.DeleteIDs:
		prev, err := s.loadActive(ctx, p[i])
		if err != nil {
			return result, err
		}
		book := s.next(prev, func(b *domain.Book) { b.MarkDeleted() })
		if err := s.repo.Update(ctx, book); err != nil {
			return result, err
		}
		result.Entity = book

	case domain.StatusChanges:
		prev, err := s.loadActive(ctx, p[i].BookID)
		if err != nil {
			return result, err
		}
		book := s.next(prev, func(b *domain.Book) { b.ChangeStatus(p[i].NewStatus) })
		if err := s.repo.Update(ctx, book); err != nil {
			return result, err
		}
		result.Entity, result.Previous, result.Reason = book, prev, p[i].Reason

	default:
		return result, &domain.BatchValidationError{Reason: fmt.Sprintf("unsupported batch payload %T", payload)}
	}
	return result, nil
}

func (s *CatalogService) replayed(ctx context.Context, requestID string) (*domain.BatchReport, bool) {
	if requestID == "" || s.cache == nil {
		return nil, false
	}
	var report domain.BatchReport
	ok, err := s.cache.Get(ctx, batchReplayKey(requestID), &report)
	if err != nil || !ok {
		return nil, false
	}
	report.Replayed = true
	s.log.Info("🔁 Lote repetido, se devuelve el informe guardado", zap.String("request_id", requestID), zap.String("batch_id", report.BatchID))
	return &report, true
}

func (s *CatalogService) remember(ctx context.Context, requestID string, report *domain.BatchReport) {
	if requestID == "" || s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, batchReplayKey(requestID), report, s.cfg.ReplayTTL); err != nil {
		s.log.Warn("⚠️ No se pudo guardar el informe del lote", zap.String("request_id", requestID), zap.Error(err))
	}
}

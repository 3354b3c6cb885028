package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/catalog/infra/outbound/db/memory"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/cache"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	"github.com/davicafu/catalogcdc/internal/testutil/mocks"
)

type serviceFixture struct {
	svc   *CatalogService
	repo  *memory.BookRepo
	sink  *mocks.MockSink
	cache *cache.InMemoryCache
}

func newServiceFixture(t *testing.T, sink *mocks.MockSink) *serviceFixture {
	t.Helper()
	if sink == nil {
		sink = &mocks.MockSink{}
	}
	repo := memory.NewBookRepo()
	c := cache.NewInMemoryCache(time.Minute, 0)
	t.Cleanup(c.Stop)

	svc := NewCatalogService(repo, nil, c, newTestBuilder(), domain.NewTopicRouter(domain.BookEntity),
		newTestPublisher(t, sink), CatalogConfig{}, nil, zap.NewNop())
	return &serviceFixture{svc: svc, repo: repo, sink: sink, cache: c}
}

func (f *serviceFixture) cdc(t *testing.T) []domain.EventEnvelope {
	t.Helper()
	var out []domain.EventEnvelope
	for _, msg := range onlyTopic(f.sink.Delivered(), cdcTopic) {
		out = append(out, decodeEnvelope(t, msg))
	}
	return out
}

func (f *serviceFixture) seed(t *testing.T, n int) []*domain.Book {
	t.Helper()
	books := make([]*domain.Book, n)
	for i := range books {
		b, err := f.svc.CreateBook(context.Background(), sampleDraft(fmt.Sprintf("Semilla %d", i+1)))
		require.NoError(t, err)
		books[i] = b
	}
	return books
}

func TestCreateBook_PublishesCDCAndDomainEvent(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := WithCorrelationID(context.Background(), "req-1")

	book, err := f.svc.CreateBook(ctx, sampleDraft("Rayuela"))
	require.NoError(t, err)
	assert.Equal(t, domain.BookActive, book.Status)
	assert.EqualValues(t, 1, book.Version)

	stored, err := f.repo.GetByID(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rayuela", stored.Title)

	cdc := f.cdc(t)
	require.Len(t, cdc, 1)
	assert.Equal(t, domain.EventInsert, cdc[0].EventType)
	assert.Equal(t, book.ID, cdc[0].EntityID)
	assert.Equal(t, "req-1", cdc[0].CorrelationID)
	assert.Equal(t, "create", cdc[0].Metadata["operation"])
	assert.Equal(t, "user_upload", cdc[0].Metadata["trigger"])
	assert.Equal(t, "book-management-service", cdc[0].Metadata["source_service"])

	assert.Eventually(t, func() bool {
		return len(onlyTopic(f.sink.Delivered(), analyticsTopic)) == 1
	}, time.Second, 5*time.Millisecond)
	domainEvt := decodeEnvelope(t, onlyTopic(f.sink.Delivered(), analyticsTopic)[0])
	assert.Equal(t, "BOOK_PUBLISHED", domainEvt.Metadata["domain_event_name"])
	assert.Equal(t, "Book", domainEvt.Metadata["aggregate_type"])
	assert.Equal(t, book.ID, domainEvt.Metadata["aggregate_id"])
	assert.NotEqual(t, cdc[0].EventID, domainEvt.EventID)
}

func TestCreateBook_InvalidDraft(t *testing.T) {
	f := newServiceFixture(t, nil)
	draft := sampleDraft("")

	_, err := f.svc.CreateBook(context.Background(), draft)

	assert.ErrorIs(t, err, domain.ErrInvalidBook)
	assert.Zero(t, f.repo.Len())
	assert.Empty(t, f.sink.Attempts())
}

func TestCreateBook_DuplicateISBN(t *testing.T) {
	f := newServiceFixture(t, nil)
	draft := sampleDraft("Ficciones")
	draft.ISBN = "9780306406157"

	_, err := f.svc.CreateBook(context.Background(), draft)
	require.NoError(t, err)
	attempts := len(onlyTopic(f.sink.Attempts(), cdcTopic))

	_, err = f.svc.CreateBook(context.Background(), draft)
	assert.ErrorIs(t, err, domain.ErrDuplicateISBN)
	assert.Equal(t, 1, f.repo.Len())
	assert.Len(t, onlyTopic(f.sink.Attempts(), cdcTopic), attempts)
}

func TestCreateBook_AnalyticsFailureNeverFailsMutation(t *testing.T) {
	sink := &mocks.MockSink{FailWhen: func(msg sharedBus.Message) error {
		if msg.Topic == analyticsTopic {
			return errors.New("analytics cluster down")
		}
		return nil
	}}
	f := newServiceFixture(t, sink)

	book, err := f.svc.CreateBook(context.Background(), sampleDraft("Pedro Páramo"))
	require.NoError(t, err)
	_, err = f.svc.UpdateBook(context.Background(), book.ID, domain.BookPatch{Description: ptr("novela")}, "editor")
	require.NoError(t, err)

	assert.Len(t, f.cdc(t), 2)
	assert.Eventually(t, func() bool {
		return len(onlyTopic(sink.Attempts(), analyticsTopic)) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestCreateBook_CDCFailureSurfaces(t *testing.T) {
	sink := &mocks.MockSink{FailWhen: func(msg sharedBus.Message) error {
		if msg.Topic == cdcTopic {
			return errors.New("cdc cluster down")
		}
		return nil
	}}
	f := newServiceFixture(t, sink)

	_, err := f.svc.CreateBook(context.Background(), sampleDraft("Aura"))

	var pubErr *domain.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, cdcTopic, pubErr.Topic)
	assert.Empty(t, onlyTopic(sink.Attempts(), analyticsTopic), "no secondary event after a failed CDC publish")
}

func TestUpdateBook_CarriesPreviousData(t *testing.T) {
	f := newServiceFixture(t, nil)
	book := f.seed(t, 1)[0]

	updated, err := f.svc.UpdateBook(context.Background(), book.ID, domain.BookPatch{Title: ptr("Nuevo título")}, "editor")
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)

	cdc := f.cdc(t)
	require.Len(t, cdc, 2)
	env := cdc[1]
	assert.Equal(t, domain.EventUpdate, env.EventType)
	assert.Equal(t, "Nuevo título", env.EntityData.Title)
	assert.Equal(t, "Semilla 1", env.PreviousEntityData.Title)
	assert.Equal(t, "editor", env.TriggeredBy)
	assert.Equal(t, "update", env.Metadata["operation"])
	assert.Equal(t, "user_modification", env.Metadata["trigger"])
	assert.Equal(t, true, env.Metadata["has_previous_data"])

	assert.Eventually(t, func() bool {
		for _, msg := range onlyTopic(f.sink.Delivered(), analyticsTopic) {
			if decodeEnvelope(t, msg).Metadata["metric_name"] == "book_updated" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestUpdateBook_NotFoundAndDuplicateISBN(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.svc.UpdateBook(context.Background(), "missing", domain.BookPatch{}, "")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	draft := sampleDraft("Con ISBN")
	draft.ISBN = "0306406152"
	_, err = f.svc.CreateBook(context.Background(), draft)
	require.NoError(t, err)
	other := f.seed(t, 1)[0]

	_, err = f.svc.UpdateBook(context.Background(), other.ID, domain.BookPatch{ISBN: ptr("0306406152")}, "")
	assert.ErrorIs(t, err, domain.ErrDuplicateISBN)
}

func TestDeleteBook_SoftDelete(t *testing.T) {
	f := newServiceFixture(t, nil)
	book := f.seed(t, 1)[0]

	require.NoError(t, f.svc.DeleteBook(context.Background(), book.ID, "admin"))

	stored, err := f.repo.GetByID(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookDeleted, stored.Status)

	cdc := f.cdc(t)
	require.Len(t, cdc, 2)
	assert.Equal(t, domain.EventDelete, cdc[1].EventType)
	assert.Equal(t, "soft", cdc[1].Metadata["deletion_type"])
	assert.Equal(t, "user_deletion", cdc[1].Metadata["trigger"])

	assert.ErrorIs(t, f.svc.DeleteBook(context.Background(), book.ID, "admin"), domain.ErrBookNotFound)
}

func TestChangeStatus_Metadata(t *testing.T) {
	f := newServiceFixture(t, nil)
	book := f.seed(t, 1)[0]

	updated, err := f.svc.ChangeStatus(context.Background(), book.ID, domain.BookArchived, "retirado", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.BookArchived, updated.Status)

	env := f.cdc(t)[1]
	assert.Equal(t, domain.EventUpdate, env.EventType)
	assert.Equal(t, "status_change", env.Metadata["operation"])
	assert.Equal(t, "ACTIVE", env.Metadata["previous_status"])
	assert.Equal(t, "ARCHIVED", env.Metadata["new_status"])
	assert.Equal(t, "retirado", env.Metadata["reason"])

	_, err = f.svc.ChangeStatus(context.Background(), book.ID, "LOST", "", "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidBook)
}

func TestIncrementDownloadsAndRating(t *testing.T) {
	f := newServiceFixture(t, nil)
	book := f.seed(t, 1)[0]

	updated, err := f.svc.IncrementDownloads(context.Background(), book.ID, "reader-9")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.DownloadCount)

	env := f.cdc(t)[1]
	assert.Equal(t, "download_increment", env.Metadata["operation"])
	assert.EqualValues(t, 0, env.Metadata["previous_count"])
	assert.EqualValues(t, 1, env.Metadata["new_count"])
	assert.Equal(t, "reader-9", env.TriggeredBy)

	rated, err := f.svc.UpdateRating(context.Background(), book.ID, 4.5, 12)
	require.NoError(t, err)
	assert.Equal(t, 4.5, rated.AverageRating)
	assert.EqualValues(t, 3, rated.Version)

	env = f.cdc(t)[2]
	assert.Equal(t, "rating_update", env.Metadata["operation"])
	assert.EqualValues(t, 4.5, env.Metadata["new_rating"])
	assert.EqualValues(t, 12, env.Metadata["review_count"])

	_, err = f.svc.UpdateRating(context.Background(), book.ID, 6, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidBook)
}

func TestSameBookEventsKeepMutationOrder(t *testing.T) {
	f := newServiceFixture(t, nil)
	book := f.seed(t, 1)[0]

	for i := 0; i < 20; i++ {
		_, err := f.svc.IncrementDownloads(context.Background(), book.ID, "reader")
		require.NoError(t, err)
	}

	var versions []int64
	for _, env := range f.cdc(t) {
		versions = append(versions, env.EntityData.Version)
	}
	require.Len(t, versions, 21)
	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i])
	}
}

func TestGetBook_ReadThroughCacheIsInvalidated(t *testing.T) {
	f := newServiceFixture(t, nil)
	book := f.seed(t, 1)[0]

	got, err := f.svc.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.Title, got.Title)

	assert.Eventually(t, func() bool {
		var cached domain.Book
		ok, _ := f.cache.Get(context.Background(), bookCacheKey(book.ID), &cached)
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err = f.svc.UpdateBook(context.Background(), book.ID, domain.BookPatch{Title: ptr("Otro")}, "")
	require.NoError(t, err)

	got, err = f.svc.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Otro", got.Title)

	_, err = f.svc.GetBook(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

// ---------- Lotes ----------

func createBatch(n int) domain.BatchRequest {
	drafts := make(domain.CreateItems, n)
	for i := range drafts {
		drafts[i] = sampleDraft(fmt.Sprintf("Lote %d", i+1))
	}
	return domain.NewBatchRequest(drafts)
}

func TestProcessBatch_MaxBatchSizeBoundary(t *testing.T) {
	f := newServiceFixture(t, nil)

	over := createBatch(51)
	over.MaxBatchSize = 50
	_, err := f.svc.ProcessBatch(context.Background(), over)
	assert.ErrorIs(t, err, domain.ErrBatchValidation)
	assert.Empty(t, f.sink.Attempts())
	assert.Zero(t, f.repo.Len())

	ok := createBatch(50)
	ok.MaxBatchSize = 50
	report, err := f.svc.ProcessBatch(context.Background(), ok)
	require.NoError(t, err)
	assert.Len(t, report.Published, 50)
	assert.Len(t, f.cdc(t), 50)
}

func TestProcessBatch_EmptyBatchPublishesNothing(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.svc.ProcessBatch(context.Background(), domain.NewBatchRequest(domain.DeleteIDs{}))

	var verr *domain.BatchValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, f.sink.Attempts())
}

func TestProcessBatch_ContinueOnErrorWithStoreAndPublishFailures(t *testing.T) {
	failing := &failingKey{eventType: "D"}
	sink := &mocks.MockSink{FailWhen: failing.check}
	f := newServiceFixture(t, sink)
	books := f.seed(t, 4)
	failing.set(books[2].ID)

	req := domain.NewBatchRequest(domain.DeleteIDs{books[0].ID, "missing", books[1].ID, books[2].ID, books[3].ID})
	report, err := f.svc.ProcessBatch(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, []string{books[0].ID, books[1].ID, books[3].ID}, report.Published)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, domain.ItemFailure{ID: "missing", Index: 2, Reason: domain.ErrBookNotFound.Error()}, report.Failed[0])
	assert.Equal(t, books[2].ID, report.Failed[1].ID)
	assert.Equal(t, 4, report.Failed[1].Index)

	summaries := onlyTopic(sink.Delivered(), analyticsTopic)
	var found bool
	for _, msg := range summaries {
		env := decodeEnvelope(t, msg)
		if env.Metadata["operation"] == "batch_summary" {
			found = true
			assert.Len(t, env.Metadata["book_ids"], 4)
			assert.Equal(t, "delete", env.Metadata["batch_operation"])
		}
	}
	assert.True(t, found)
}

func TestProcessBatch_FailFastStoreFailure(t *testing.T) {
	f := newServiceFixture(t, nil)
	books := f.seed(t, 3)
	before := len(f.cdc(t))

	req := domain.NewBatchRequest(domain.StatusChanges{
		{BookID: books[0].ID, NewStatus: domain.BookInactive},
		{BookID: books[1].ID, NewStatus: domain.BookInactive},
		{BookID: "missing", NewStatus: domain.BookInactive},
		{BookID: books[2].ID, NewStatus: domain.BookInactive},
	})
	req.ContinueOnError = false

	report, err := f.svc.ProcessBatch(context.Background(), req)

	var batchErr *domain.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 3, batchErr.Index)
	assert.Equal(t, "missing", batchErr.FailedID)
	assert.Equal(t, []string{books[0].ID, books[1].ID}, batchErr.PublishedIDs)
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	require.NotNil(t, report)
	assert.Equal(t, 3, report.Failed[0].Index)
	assert.Len(t, f.cdc(t), before+2)

	untouched, err := f.repo.GetByID(context.Background(), books[2].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookActive, untouched.Status, "items after the failure are never applied")
}

func TestProcessBatch_FailFastPublishFailure(t *testing.T) {
	failing := &failingKey{eventType: "U"}
	sink := &mocks.MockSink{FailWhen: failing.check}
	f := newServiceFixture(t, sink)
	books := f.seed(t, 4)
	failing.set(books[1].ID)

	patch := domain.BookPatch{Description: ptr("revisado")}
	req := domain.NewBatchRequest(domain.UpdateItems{
		{BookID: books[0].ID, Updates: patch},
		{BookID: books[1].ID, Updates: patch},
		{BookID: books[2].ID, Updates: patch},
		{BookID: books[3].ID, Updates: patch},
	})
	req.ContinueOnError = false

	_, err := f.svc.ProcessBatch(context.Background(), req)

	var batchErr *domain.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 2, batchErr.Index)
	assert.Equal(t, books[1].ID, batchErr.FailedID)
	assert.Equal(t, []string{books[0].ID}, batchErr.PublishedIDs)
	assert.ErrorIs(t, err, domain.ErrPublish)

	var updates int
	for _, env := range f.cdc(t) {
		if env.EventType == domain.EventUpdate {
			updates++
		}
	}
	assert.Equal(t, 1, updates)

	for _, b := range books[2:] {
		stored, err := f.repo.GetByID(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Empty(t, stored.Description, "items after the failure are never applied")
	}
}

func TestProcessBatch_ReplayByRequestID(t *testing.T) {
	f := newServiceFixture(t, nil)

	req := createBatch(3)
	req.RequestID = "req-batch-1"
	req.UserID = "importer"

	first, err := f.svc.ProcessBatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	attempts := len(f.sink.Attempts())

	second, err := f.svc.ProcessBatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.Equal(t, first.Published, second.Published)
	assert.Equal(t, 3, f.repo.Len())
	assert.Len(t, f.sink.Attempts(), attempts)
}

func ptr[T any](v T) *T { return &v }

// failingKey rechaza en el CDC los eventos de un tipo para la clave fijada con set.
type failingKey struct {
	key       atomic.Value
	eventType string
}

func (k *failingKey) set(id string) { k.key.Store(id) }

func (k *failingKey) check(msg sharedBus.Message) error {
	id, _ := k.key.Load().(string)
	if id != "" && msg.Topic == cdcTopic && msg.Key == id && msg.Headers[sharedBus.HeaderEventType] == k.eventType {
		return errors.New("partition offline")
	}
	return nil
}

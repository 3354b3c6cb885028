package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/application"
	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/catalog/infra/outbound/db/memory"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/cache"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/codec"
	"github.com/davicafu/catalogcdc/internal/shared/infra/telemetry"
	"github.com/davicafu/catalogcdc/internal/testutil/mocks"
)

type apiFixture struct {
	router *gin.Engine
	sink   *mocks.MockSink
}

func newAPI(t *testing.T, sink *mocks.MockSink, deps ...application.Dependency) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if sink == nil {
		sink = &mocks.MockSink{}
	}

	c := cache.NewInMemoryCache(time.Minute, 0)
	t.Cleanup(c.Stop)
	publisher := application.NewEventPublisher(sink, codec.JSON{},
		application.PublisherConfig{Lanes: 2, LaneBuffer: 16, Timeout: time.Second}, nil, zap.NewNop())
	t.Cleanup(publisher.Close)

	svc := application.NewCatalogService(memory.NewBookRepo(), nil, c,
		application.NewEnvelopeBuilder(application.DefaultServiceInfo(), application.NewIdentityGenerator()),
		domain.NewTopicRouter(domain.BookEntity), publisher, application.CatalogConfig{}, nil, zap.NewNop())
	health := application.NewHealthService(time.Second, 200*time.Millisecond, zap.NewNop(), deps...)

	r := gin.New()
	r.Use(CorrelationID(), RequestLogger(zap.NewNop()))
	RegisterBookRoutes(r, NewBookHandler(svc))
	RegisterOpsRoutes(r, NewHealthHandler(health), telemetry.Handler(telemetry.NewRegistry()))
	return &apiFixture{router: r, sink: sink}
}

func (f *apiFixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func draftBody(title string) map[string]any {
	return map[string]any{
		"title":      title,
		"authors":    []map[string]any{{"name": "Autora"}},
		"language":   "es",
		"uploadedBy": "user-1",
		"categories": []string{"fiction"},
	}
}

type dataResponse[T any] struct {
	Data  T `json:"data"`
	Error struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlationId"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) dataResponse[T] {
	t.Helper()
	var out dataResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (f *apiFixture) create(t *testing.T, title string) domain.Book {
	t.Helper()
	w := f.do(http.MethodPost, "/books", draftBody(title), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[domain.Book](t, w).Data
}

func TestCreateBook_Created(t *testing.T) {
	f := newAPI(t, nil)

	w := f.do(http.MethodPost, "/books", draftBody("Ficciones"), map[string]string{"X-Correlation-Id": "corr-42"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "corr-42", w.Header().Get("X-Correlation-Id"))
	book := decode[domain.Book](t, w).Data
	assert.NotEmpty(t, book.ID)
	assert.Equal(t, domain.BookActive, book.Status)

	cdc := f.sink.DeliveredTo(domain.CDCTopic(domain.BookEntity))
	require.Len(t, cdc, 1)
	assert.Equal(t, book.ID, cdc[0].Key)
	assert.Equal(t, "corr-42", cdc[0].Headers[sharedBus.HeaderCorrelationID])
}

func TestCreateBook_BadRequest(t *testing.T) {
	f := newAPI(t, nil)

	w := f.do(http.MethodPost, "/books", map[string]any{"title": "sin autores"}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.sink.Attempts())
}

func TestCreateBook_CDCFailureIsBadGateway(t *testing.T) {
	sink := &mocks.MockSink{FailWhen: func(msg sharedBus.Message) error {
		if msg.Topic == domain.CDCTopic(domain.BookEntity) {
			return errors.New("broker down")
		}
		return nil
	}}
	f := newAPI(t, sink)

	w := f.do(http.MethodPost, "/books", draftBody("Ficciones"), nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode[any](t, w).Error.Message, "broker down")
}

func TestGetBook_NotFound(t *testing.T) {
	f := newAPI(t, nil)

	w := f.do(http.MethodGet, "/books/missing", nil, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateAndGetBook(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Antes")

	w := f.do(http.MethodPut, "/books/"+book.ID, map[string]any{"title": "Después"}, map[string]string{"X-User-Id": "editor"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode[domain.Book](t, w).Data.Version)

	w = f.do(http.MethodGet, "/books/"+book.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Después", decode[domain.Book](t, w).Data.Title)
}

func TestDeleteBook_NoContentThenNotFound(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Efímero")

	w := f.do(http.MethodDelete, "/books/"+book.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/books/"+book.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChangeStatus(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Estados")

	w := f.do(http.MethodPatch, "/books/"+book.ID+"/status", map[string]any{"status": "ARCHIVED", "reason": "fuera de catálogo"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.BookArchived, decode[domain.Book](t, w).Data.Status)

	w = f.do(http.MethodPatch, "/books/"+book.ID+"/status", map[string]any{"status": "LOST"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadsAndRating(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Popular")

	w := f.do(http.MethodPost, "/books/"+book.ID+"/downloads", nil, map[string]string{"X-User-Id": "reader"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, decode[domain.Book](t, w).Data.DownloadCount)

	w = f.do(http.MethodPut, "/books/"+book.ID+"/rating", map[string]any{"averageRating": 4.5, "reviewCount": 10}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 4.5, decode[domain.Book](t, w).Data.AverageRating)

	w = f.do(http.MethodPut, "/books/"+book.ID+"/rating", map[string]any{"averageRating": 7}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessBatch_PartialFailure(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Lote")

	w := f.do(http.MethodPost, "/books/batch", map[string]any{
		"operation":       "DELETE",
		"bookIdsToDelete": []string{book.ID, "missing"},
	}, map[string]string{"Idempotency-Key": "req-1"})

	require.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())
	report := decode[domain.BatchReport](t, w).Data
	assert.Equal(t, []string{book.ID}, report.Published)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "missing", report.Failed[0].ID)
	assert.Equal(t, 2, report.Failed[0].Index)

	// mismo Idempotency-Key: se devuelve el informe guardado
	w = f.do(http.MethodPost, "/books/batch", map[string]any{
		"operation":       "DELETE",
		"bookIdsToDelete": []string{book.ID, "missing"},
	}, map[string]string{"Idempotency-Key": "req-1"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.True(t, decode[domain.BatchReport](t, w).Data.Replayed)
}

func TestProcessBatch_FailFastReturnsReport(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Lote")

	w := f.do(http.MethodPost, "/books/batch", map[string]any{
		"operation":       "DELETE",
		"bookIdsToDelete": []string{book.ID, "missing"},
		"continueOnError": false,
	}, nil)

	require.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	resp := decode[domain.BatchReport](t, w)
	assert.Contains(t, resp.Error.Message, "batch aborted at item 2")
	assert.Equal(t, []string{book.ID}, resp.Data.Published)
}

func TestProcessBatch_Empty(t *testing.T) {
	f := newAPI(t, nil)

	w := f.do(http.MethodPost, "/books/batch", map[string]any{"operation": "DELETE", "bookIdsToDelete": []string{}}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.sink.Attempts())
}

func TestHealth(t *testing.T) {
	up := application.Dependency{Name: "store", Check: func(context.Context) error { return nil }}
	down := application.Dependency{Name: "broker", Check: func(context.Context) error { return errors.New("unreachable") }}

	w := newAPI(t, nil, up).do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = newAPI(t, nil, up, down).do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var report application.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, application.StatusDown, report.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	w := newAPI(t, nil).do(http.MethodGet, "/metrics", nil, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

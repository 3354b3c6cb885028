package telemetry

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RegisteredAndExposed(t *testing.T) {
	registry := NewRegistry()
	m := NewMetrics(registry)

	m.Published.WithLabelValues("content.catalog.book.cdc.v1", "mandatory", "ok").Inc()
	m.BatchItems.WithLabelValues("CREATE", "failed").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published.WithLabelValues("content.catalog.book.cdc.v1", "mandatory", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchItems.WithLabelValues("CREATE", "failed")))

	rec := httptest.NewRecorder()
	Handler(registry).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "catalogcdc_events_published_total"))
}

func TestMetrics_WithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	assert.NotPanics(t, func() { m.OutboxRelayed.WithLabelValues("ok").Inc() })
}

func TestEndSpan_NoopProvider(t *testing.T) {
	_, span := StartPublishSpan(context.Background(), "t", "k", "e")
	assert.NotPanics(t, func() { EndSpan(span, errors.New("boom")) })
	assert.NotPanics(t, func() { EndSpan(nil, nil) })
}

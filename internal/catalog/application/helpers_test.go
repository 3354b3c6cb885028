package application

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/codec"
)

var (
	cdcTopic       = domain.CDCTopic(domain.BookEntity)
	analyticsTopic = domain.AnalyticsTopic(domain.BookEntity)
)

func newTestPublisher(t *testing.T, sink sharedBus.Sink) *EventPublisher {
	t.Helper()
	p := NewEventPublisher(sink, codec.JSON{}, PublisherConfig{Lanes: 4, LaneBuffer: 64, Timeout: 2 * time.Second}, nil, zap.NewNop())
	t.Cleanup(p.Close)
	return p
}

func newTestBuilder() *EnvelopeBuilder {
	return NewEnvelopeBuilder(DefaultServiceInfo(), NewIdentityGenerator())
}

func sampleBook(id string) *domain.Book {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Book{
		ID:         id,
		Title:      "Libro " + id,
		Authors:    []domain.Author{{Name: "Autora"}},
		Categories: []string{"fiction"},
		Language:   "es",
		UploadedBy: "user-1",
		Status:     domain.BookActive,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
	}
}

func sampleDraft(title string) domain.BookDraft {
	return domain.BookDraft{
		Title:      title,
		Authors:    []domain.Author{{Name: "Autora"}},
		Categories: []string{"fiction"},
		Language:   "es",
		UploadedBy: "user-1",
	}
}

func bookIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("book-%03d", i+1)
	}
	return ids
}

func decodeEnvelope(t *testing.T, msg sharedBus.Message) domain.EventEnvelope {
	t.Helper()
	var env domain.EventEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	return env
}

func onlyTopic(msgs []sharedBus.Message, topic string) []sharedBus.Message {
	var out []sharedBus.Message
	for _, m := range msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

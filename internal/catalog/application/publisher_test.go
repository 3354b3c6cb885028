package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
	"github.com/davicafu/catalogcdc/internal/testutil/mocks"
)

var (
	cdcRoute       = domain.Route{Topic: cdcTopic, Criticality: domain.Mandatory}
	analyticsRoute = domain.Route{Topic: analyticsTopic, Criticality: domain.BestEffort}
)

func buildFor(t *testing.T, b *EnvelopeBuilder, id string, metadata map[string]any) *domain.EventEnvelope {
	t.Helper()
	env, err := b.Build(sampleBook(id), domain.EventUpdate, nil, "", metadata, "corr-1")
	require.NoError(t, err)
	return env
}

func TestEventPublisher_SameKeyKeepsSendOrder(t *testing.T) {
	sink := &mocks.MockSink{Delay: time.Millisecond}
	p := newTestPublisher(t, sink)
	b := newTestBuilder()

	keys := []string{"book-a", "book-b", "book-c"}
	const perKey = 30

	// El orden de aceptación por clave se fija bajo un mutex; la publicación
	// ocurre desde muchas goroutines a la vez.
	var mu sync.Mutex
	seq := map[string]int{}
	var futures []*future.Future[Ack]

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perKey; i++ {
				key := keys[(w+i)%len(keys)]
				mu.Lock()
				seq[key]++
				env := buildFor(t, b, key, map[string]any{"seq": seq[key]})
				f := p.PublishAsync(context.Background(), cdcRoute, key, env)
				futures = append(futures, f)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for _, f := range futures {
		_, err := f.Get()
		require.NoError(t, err)
	}

	last := map[string]float64{}
	for _, msg := range sink.Delivered() {
		env := decodeEnvelope(t, msg)
		got := env.Metadata["seq"].(float64)
		assert.Greater(t, got, last[msg.Key], "key %s out of order", msg.Key)
		last[msg.Key] = got
	}
	assert.Len(t, sink.Delivered(), 8*perKey)
}

func TestEventPublisher_SameKeySameLane(t *testing.T) {
	p := newTestPublisher(t, &mocks.MockSink{})
	assert.Equal(t, p.Lane("book-1"), p.Lane("book-1"))

	ack, err := p.Publish(context.Background(), cdcRoute, "book-1", buildFor(t, newTestBuilder(), "book-1", nil))
	require.NoError(t, err)
	assert.Equal(t, p.Lane("book-1"), ack.Lane)
	assert.Equal(t, cdcTopic, ack.Topic)
}

func TestEventPublisher_HeadersAndPayload(t *testing.T) {
	sink := &mocks.MockSink{}
	p := newTestPublisher(t, sink)
	env := buildFor(t, newTestBuilder(), "book-1", map[string]any{"operation": "update"})

	ack, err := p.Publish(context.Background(), cdcRoute, env.PartitionKey(), env)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, ack.EventID)

	delivered := sink.Delivered()
	require.Len(t, delivered, 1)
	msg := delivered[0]
	assert.Equal(t, "book-1", msg.Key)
	assert.Equal(t, env.EventID, msg.Headers[sharedBus.HeaderEventID])
	assert.Equal(t, "U", msg.Headers[sharedBus.HeaderEventType])
	assert.Equal(t, "v1", msg.Headers[sharedBus.HeaderSchemaVersion])
	assert.Equal(t, "corr-1", msg.Headers[sharedBus.HeaderCorrelationID])
	assert.Equal(t, "application/json", msg.Headers[sharedBus.HeaderContentType])

	got := decodeEnvelope(t, msg)
	assert.Equal(t, domain.EventUpdate, got.EventType)
	assert.Equal(t, "book-1", got.EntityData.ID)
	assert.Equal(t, "update", got.Metadata["operation"])
}

func TestEventPublisher_EnvelopeChangesAfterSendAreIgnored(t *testing.T) {
	sink := &mocks.MockSink{Delay: 20 * time.Millisecond}
	p := newTestPublisher(t, sink)
	env := buildFor(t, newTestBuilder(), "book-1", nil)

	f := p.PublishAsync(context.Background(), cdcRoute, env.PartitionKey(), env)
	env.EventType = domain.EventDelete
	_, err := f.Get()
	require.NoError(t, err)

	assert.Equal(t, domain.EventUpdate, decodeEnvelope(t, sink.Delivered()[0]).EventType)
}

func TestEventPublisher_MandatoryFailurePropagates(t *testing.T) {
	brokerDown := errors.New("broker down")
	sink := &mocks.MockSink{FailWhen: func(sharedBus.Message) error { return brokerDown }}
	p := newTestPublisher(t, sink)
	env := buildFor(t, newTestBuilder(), "book-1", nil)

	_, err := p.Publish(context.Background(), cdcRoute, env.PartitionKey(), env)

	var pubErr *domain.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, cdcTopic, pubErr.Topic)
	assert.Equal(t, env.EventID, pubErr.EventID)
	assert.ErrorIs(t, err, domain.ErrPublish)
	assert.ErrorIs(t, err, brokerDown)
}

func TestEventPublisher_BestEffortFailureIsSuppressed(t *testing.T) {
	sink := &mocks.MockSink{FailWhen: func(sharedBus.Message) error { return errors.New("analytics down") }}
	p := newTestPublisher(t, sink)
	env := buildFor(t, newTestBuilder(), "book-1", nil)

	ack, err := p.Publish(context.Background(), analyticsRoute, env.PartitionKey(), env)

	require.NoError(t, err)
	assert.True(t, ack.Suppressed)
	assert.ErrorIs(t, ack.Err, domain.ErrPublish)
	assert.Len(t, sink.Attempts(), 1)
}

func TestEventPublisher_InvalidEnvelopeNeverReachesSink(t *testing.T) {
	sink := &mocks.MockSink{}
	p := newTestPublisher(t, sink)
	valid := buildFor(t, newTestBuilder(), "book-1", nil)
	mismatched := buildFor(t, newTestBuilder(), "book-1", nil)
	mismatched.EntityID = "book-2"

	tests := []struct {
		name  string
		route domain.Route
		key   string
		env   *domain.EventEnvelope
	}{
		{"nil envelope", cdcRoute, "book-1", nil},
		{"empty key", cdcRoute, "", valid},
		{"no topic", domain.Route{}, "book-1", valid},
		{"entity mismatch", cdcRoute, "book-1", mismatched},
		{"best effort still rejects", analyticsRoute, "book-1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Publish(context.Background(), tt.route, tt.key, tt.env)
			assert.ErrorIs(t, err, domain.ErrInvalidEvent)
		})
	}
	assert.Empty(t, sink.Attempts())
}

func TestEventPublisher_AcceptedSendSurvivesCallerCancel(t *testing.T) {
	sink := &mocks.MockSink{Delay: 20 * time.Millisecond}
	p := newTestPublisher(t, sink)
	env := buildFor(t, newTestBuilder(), "book-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	f := p.PublishAsync(ctx, cdcRoute, env.PartitionKey(), env)
	cancel()

	_, err := f.Get()
	require.NoError(t, err)
	assert.Len(t, sink.Delivered(), 1)
}

func TestEventPublisher_Timeout(t *testing.T) {
	sink := &mocks.MockSink{Delay: time.Second}
	p := NewEventPublisher(sink, nil, PublisherConfig{Lanes: 1, Timeout: 30 * time.Millisecond}, nil, zap.NewNop())
	defer p.Close()
	env := buildFor(t, newTestBuilder(), "book-1", nil)

	_, err := p.Publish(context.Background(), cdcRoute, env.PartitionKey(), env)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrPublish)
}

func TestEventPublisher_CloseDrainsAndRejects(t *testing.T) {
	sink := &mocks.MockSink{Delay: 5 * time.Millisecond}
	p := NewEventPublisher(sink, nil, PublisherConfig{Lanes: 2, LaneBuffer: 16}, nil, zap.NewNop())
	b := newTestBuilder()

	var futures []*future.Future[Ack]
	for _, id := range bookIDs(10) {
		futures = append(futures, p.PublishAsync(context.Background(), cdcRoute, id, buildFor(t, b, id, nil)))
	}
	p.Close()
	p.Close()

	for _, f := range futures {
		_, err := f.Get()
		assert.NoError(t, err)
	}
	assert.Len(t, sink.Delivered(), 10)

	_, err := p.Publish(context.Background(), cdcRoute, "book-1", buildFor(t, b, "book-1", nil))
	assert.ErrorIs(t, err, ErrPublisherClosed)
}

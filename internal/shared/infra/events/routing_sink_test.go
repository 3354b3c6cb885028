package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

func TestRoutingSink_OverrideAndFallback(t *testing.T) {
	cdc := NewInMemoryBus(1)
	analytics := NewInMemoryBus(1)
	sink := NewRoutingSink(cdc, map[string]sharedBus.Sink{"analytics": analytics})
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, sharedBus.Message{Topic: "cdc", Key: "a"}))
	require.NoError(t, sink.Publish(ctx, sharedBus.Message{Topic: "analytics", Key: "a"}))

	assert.Len(t, cdc.Messages("cdc"), 1)
	assert.Empty(t, cdc.Messages("analytics"))
	assert.Len(t, analytics.Messages("analytics"), 1)

	require.NoError(t, sink.Ping(ctx))
	require.NoError(t, sink.Close())
	assert.Error(t, sink.Ping(ctx))
}

func TestMirrorSink_MirrorFailureIsSwallowed(t *testing.T) {
	primary := NewInMemoryBus(1)
	failing := sharedBus.SinkFunc(func(ctx context.Context, msg sharedBus.Message) error {
		return errors.New("clickhouse down")
	})
	sink := NewMirrorSink(primary, failing, zap.NewNop())

	require.NoError(t, sink.Publish(context.Background(), sharedBus.Message{Topic: "analytics", Key: "k"}))
	assert.Len(t, primary.Messages("analytics"), 1)
}

func TestMirrorSink_PrimaryFailurePropagates(t *testing.T) {
	mirrored := NewInMemoryBus(1)
	primary := sharedBus.SinkFunc(func(ctx context.Context, msg sharedBus.Message) error {
		return errors.New("broker down")
	})
	sink := NewMirrorSink(primary, mirrored, zap.NewNop())

	assert.EqualError(t, sink.Publish(context.Background(), sharedBus.Message{Topic: "analytics"}), "broker down")
	assert.Empty(t, mirrored.Messages("analytics"))
}

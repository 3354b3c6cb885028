package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type report struct {
	BatchID   string   `json:"batchId"`
	Published []string `json:"published"`
}

func TestInMemoryCache_SetGetDelete(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "req-1", report{BatchID: "batch-1", Published: []string{"a"}}, 0))

	var got report
	hit, err := c.Get(ctx, "req-1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "batch-1", got.BatchID)

	require.NoError(t, c.Delete(ctx, "req-1"))
	hit, err = c.Get(ctx, "req-1", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryCache_ExpiredIsMiss(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", report{BatchID: "x"}, time.Nanosecond))
	time.Sleep(2 * time.Millisecond)

	var got report
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestAsyncCacheSet(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)

	AsyncCacheSet(c, nil, "k", 0, report{BatchID: "async"}, 0, zap.NewNop())

	assert.Eventually(t, func() bool {
		var got report
		hit, _ := c.Get(context.Background(), "k", &got)
		return hit && got.BatchID == "async"
	}, time.Second, 5*time.Millisecond)
}

func TestGuard_StaleWriteIsDiscarded(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)
	defer c.Stop()
	ctx := context.Background()
	var g Guard

	// Lectura que empieza antes de una invalidación.
	version := g.Version("book:1")
	require.NoError(t, g.Invalidate(ctx, c, "book:1"))

	stored, err := g.SetIfCurrent(ctx, c, "book:1", version, report{BatchID: "stale"}, 0)
	require.NoError(t, err)
	assert.False(t, stored)

	var got report
	hit, err := c.Get(ctx, "book:1", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	// Sin invalidaciones intermedias la escritura entra.
	version = g.Version("book:1")
	stored, err = g.SetIfCurrent(ctx, c, "book:1", version, report{BatchID: "fresh"}, 0)
	require.NoError(t, err)
	assert.True(t, stored)
	hit, _ = c.Get(ctx, "book:1", &got)
	assert.True(t, hit)
	assert.Equal(t, "fresh", got.BatchID)
}

func TestAsyncCacheSet_GuardedSkipsInvalidatedKey(t *testing.T) {
	c := NewInMemoryCache(time.Minute, 0)
	defer c.Stop()
	ctx := context.Background()
	var g Guard

	version := g.Version("k")
	require.NoError(t, g.Invalidate(ctx, c, "k"))
	AsyncCacheSet(c, &g, "k", version, report{BatchID: "stale"}, 0, zap.NewNop())

	assert.Never(t, func() bool {
		var got report
		hit, _ := c.Get(ctx, "k", &got)
		return hit
	}, 100*time.Millisecond, 5*time.Millisecond)
}

package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/pruner"
	"github.com/hothotzd123/sensei/version"
)

func TestEvents(t *testing.T) {
	rng := NewRNG(4711)

	events := rng.Events(50, 10)

	require.Len(t, events, 50)
	assert.Equal(t, "1", events[0].Version)
	assert.Equal(t, "50", events[49].Version)
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Document.UID, int64(0))
		assert.Less(t, ev.Document.UID, int64(10))
	}

	again := NewRNG(4711).Events(50, 10)
	assert.Equal(t, events, again)
}

func TestSkewedEvents(t *testing.T) {
	rng := NewRNG(1)

	events := rng.SkewedEvents(2000, 100, 1.2)

	counts := make(map[int64]int)
	for _, ev := range events {
		counts[ev.Document.UID]++
	}
	assert.Greater(t, counts[0], counts[50])
}

func TestFakeEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	e := NewFakeEngine("fake", version.Numeric{})

	err := e.Consumer().Consume(ctx, []engine.Event{{Version: "1"}})
	assert.ErrorIs(t, err, engine.ErrNotRunning)

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 2, e.StartCalls())

	require.NoError(t, e.Consumer().Consume(ctx, []engine.Event{
		{Version: "9", Document: engine.Document{UID: 1}},
		{Version: "10", Document: engine.Document{UID: 2}},
	}))
	assert.Equal(t, "10", e.CurrentVersion())
	require.NoError(t, e.SyncToVersion(ctx, time.Second, "10"))

	readers, err := e.ReaderFactory().Readers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, readers[0].NumDocs())
	e.ReaderFactory().ReturnReaders(readers)

	require.NoError(t, e.Shutdown(ctx))
	assert.False(t, e.Running())
	assert.ErrorIs(t, e.SyncToVersion(ctx, time.Second, "10"), engine.ErrNotRunning)
}

func TestFakeEngineFailures(t *testing.T) {
	ctx := context.Background()
	e := NewFakeEngine("fake", nil)

	boom := errors.New("boom")
	e.FailStart(boom)
	assert.ErrorIs(t, e.Start(ctx), boom)
	assert.False(t, e.Running())

	e.FailStart(nil)
	require.NoError(t, e.Start(ctx))

	e.FailShutdown(boom)
	assert.ErrorIs(t, e.Shutdown(ctx), boom)
	assert.False(t, e.Running())
}

func TestFakeEnginePrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := NewFakeEngine("fake", version.Numeric{})
	require.NoError(t, e.Start(ctx))

	e.SetClock(func() time.Time { return now.Add(-72 * time.Hour) })
	require.NoError(t, e.Consumer().Consume(ctx, []engine.Event{{Version: "1", Document: engine.Document{UID: 1}}}))
	e.SetClock(func() time.Time { return now })
	require.NoError(t, e.Consumer().Consume(ctx, []engine.Event{{Version: "2", Document: engine.Document{UID: 2}}}))

	removed, err := e.Prune(ctx, &pruner.Retention{MaxAge: 24 * time.Hour, Now: func() time.Time { return now }})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, e.Stats().Docs)
}

func TestFakeFactory(t *testing.T) {
	f := NewFakeFactory(version.Numeric{})

	a, err := f.Engine(1, 0)
	require.NoError(t, err)
	b, err := f.Engine(1, 0)
	require.NoError(t, err)
	c, err := f.Engine(1, 1)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "node1/shard1", f.Location(1, 1))
	assert.Equal(t, 2, f.Created())

	shared := NewFakeFactory(nil).Shared()
	x, _ := shared.Engine(1, 0)
	y, _ := shared.Engine(1, 5)
	assert.Same(t, x, y)

	boom := errors.New("no disk")
	f.FailPartition(7, boom)
	_, err = f.Engine(1, 7)
	var perr *engine.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 7, perr.Partition)
	assert.ErrorIs(t, err, boom)
}

package rolling

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hothotzd123/sensei/blobstore"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/pruner"
	"github.com/hothotzd123/sensei/version"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)}
}

func upsert(v string, uid int64) engine.Event {
	return engine.Event{Version: v, Document: engine.Document{UID: uid, Fields: map[string]any{"v": v}}}
}

func del(v string, uid int64) engine.Event {
	return engine.Event{Version: v, Document: engine.Document{UID: uid}, Delete: true}
}

func get(t *testing.T, e *Engine, uid int64) (engine.Document, bool) {
	t.Helper()
	readers, err := e.Readers(context.Background())
	require.NoError(t, err)
	defer e.ReturnReaders(readers)
	doc, ok, err := readers[0].Get(uid)
	require.NoError(t, err)
	return doc, ok
}

func segments(t *testing.T, store blobstore.Store) []string {
	t.Helper()
	names, err := store.List(context.Background(), "bucket-")
	require.NoError(t, err)
	return names
}

func TestFrequency(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 15, 42, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), Minute.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), Hour.Truncate(ts))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Day.Truncate(ts))

	f, err := ParseFrequency("day")
	require.NoError(t, err)
	assert.Equal(t, Day, f)
	_, err = ParseFrequency("week")
	assert.Error(t, err)
}

func TestCompressionRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("sensei rolling bucket ", 100))
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			packed, err := compress(c, data)
			require.NoError(t, err)
			if c != CompressionNone {
				assert.Less(t, len(packed), len(data))
			}
			out, err := decompress(c, packed)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}

	_, err := ParseCompression("snappy")
	assert.Error(t, err)
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)
}

func TestEngine_ConsumeAndRoll(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(clock.Now), WithOrdering(version.Numeric{}))
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()

	require.NoError(t, e.Consume(ctx, []engine.Event{upsert("1", 1), upsert("2", 2)}))
	assert.Equal(t, "2", e.CurrentVersion())
	assert.Zero(t, e.Buckets())

	clock.Advance(time.Hour)
	require.NoError(t, e.Consume(ctx, []engine.Event{upsert("3", 1)}))
	assert.Equal(t, 1, e.Buckets())
	assert.Len(t, segments(t, store), 1)

	doc, ok := get(t, e, 1)
	require.True(t, ok)
	assert.Equal(t, "3", doc.Fields["v"], "newer bucket shadows older")
	assert.Equal(t, 2, e.Stats().Docs)
}

func TestEngine_DeleteShadowsSealed(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(clock.Now))
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()

	require.NoError(t, e.Consume(ctx, []engine.Event{upsert("a", 1), upsert("b", 2)}))
	require.NoError(t, e.Flush(ctx))

	require.NoError(t, e.Consume(ctx, []engine.Event{del("c", 1)}))
	_, ok := get(t, e, 1)
	assert.False(t, ok)
	assert.Equal(t, 1, e.Stats().Docs)

	// The tombstone survives sealing and restart.
	require.NoError(t, e.Shutdown(ctx))
	require.NoError(t, e.Start(ctx))
	_, ok = get(t, e, 1)
	assert.False(t, ok)
	_, ok = get(t, e, 2)
	assert.True(t, ok)
	assert.Equal(t, "c", e.CurrentVersion())
}

func TestEngine_RestartRestores(t *testing.T) {
	ctx := context.Background()
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(string(c), func(t *testing.T) {
			clock := newClock()
			store := blobstore.NewLocalStore(t.TempDir())

			e := New(store, WithClock(clock.Now), WithCompression(c), WithOrdering(version.Numeric{}))
			require.NoError(t, e.Start(ctx))
			require.NoError(t, e.Consume(ctx, []engine.Event{upsert("7", 70), upsert("8", 80)}))
			require.NoError(t, e.Shutdown(ctx))

			names := segments(t, store)
			require.Len(t, names, 1)
			assert.True(t, strings.HasSuffix(names[0], ".seg"+c.Ext()))

			restarted := New(store, WithClock(clock.Now), WithOrdering(version.Numeric{}))
			require.NoError(t, restarted.Start(ctx))
			defer func() { _ = restarted.Shutdown(ctx) }()

			assert.Equal(t, "8", restarted.CurrentVersion())
			doc, ok := get(t, restarted, 80)
			require.True(t, ok)
			assert.Equal(t, "8", doc.Fields["v"])
		})
	}
}

func TestEngine_TrimThreshold(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(clock.Now), WithTrimThreshold(2), WithFrequency(Hour))
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, e.Consume(ctx, []engine.Event{upsert("v", i)}))
		clock.Advance(time.Hour)
	}
	require.NoError(t, e.Flush(ctx))

	assert.Equal(t, 2, e.Buckets())
	assert.Len(t, segments(t, store), 2)

	_, ok := get(t, e, 1)
	assert.False(t, ok, "oldest period trimmed")
	_, ok = get(t, e, 4)
	assert.True(t, ok)

	manifests, err := store.List(ctx, "manifest-")
	require.NoError(t, err)
	assert.Len(t, manifests, 1, "superseded manifests are deleted")
}

func TestEngine_SealsEarlyUnderMemoryPressure(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 200})

	e := New(store, WithClock(clock.Now), WithResourceController(rc))
	require.NoError(t, e.Start(ctx))

	var events []engine.Event
	for i := int64(0); i < 10; i++ {
		events = append(events, upsert("x", i))
	}
	require.NoError(t, e.Consume(ctx, events))

	assert.Greater(t, e.Buckets(), 1, "buffer limit forces several segments in one period")
	assert.Equal(t, 10, e.Stats().Docs)

	require.NoError(t, e.Shutdown(ctx))
	assert.Zero(t, rc.MemoryUsage())
}

func TestEngine_Prune(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(clock.Now))
	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()

	require.NoError(t, e.Consume(ctx, []engine.Event{upsert("a", 1), upsert("b", 2)}))
	clock.Advance(3 * 24 * time.Hour)
	require.NoError(t, e.Consume(ctx, []engine.Event{upsert("c", 3)}))

	ret, err := pruner.NewRetention(1)
	require.NoError(t, err)
	ret.Now = clock.Now

	n, err := e.Prune(ctx, ret)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e.Stats().Docs)
	_, ok := get(t, e, 1)
	assert.False(t, ok)
}

func TestEngine_NotRunning(t *testing.T) {
	ctx := context.Background()
	e := New(blobstore.NewMemoryStore())

	assert.ErrorIs(t, e.Consume(ctx, []engine.Event{upsert("1", 1)}), engine.ErrNotRunning)
	_, err := e.Readers(ctx)
	assert.ErrorIs(t, err, engine.ErrNotRunning)
	assert.ErrorIs(t, e.Flush(ctx), engine.ErrNotRunning)
	assert.ErrorIs(t, e.SyncToVersion(ctx, time.Second, "1"), engine.ErrNotRunning)
	assert.NoError(t, e.Shutdown(ctx))
}

func TestEngine_CorruptManifest(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	require.NoError(t, store.Put(ctx, currentName, []byte("manifest-1.json")))
	require.NoError(t, store.Put(ctx, "manifest-1.json", []byte("{not json")))

	e := New(store)
	err := e.Start(ctx)
	require.Error(t, err)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "start", ee.Op)
}

func TestEngine_MarkerVersionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(newClock().Now), WithOrdering(version.Numeric{}))

	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Consume(ctx, []engine.Event{{Version: "17", Marker: true}}))
	assert.Equal(t, "17", e.CurrentVersion())
	require.NoError(t, e.Shutdown(ctx))

	assert.Empty(t, segments(t, store), "markers write no documents")

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()
	assert.Equal(t, "17", e.CurrentVersion())
	assert.Equal(t, 0, e.Stats().Docs)
}

func sealHours(t *testing.T, e *Engine, clock *fakeClock, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= n; i++ {
		if i > 1 {
			clock.Advance(time.Hour)
		}
		v := strconv.Itoa(i)
		require.NoError(t, e.Consume(ctx, []engine.Event{upsert(v, int64(i))}))
	}
	require.NoError(t, e.Flush(ctx))
}

func TestEngine_TrimExpiredPeriods(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(clock.Now), WithOrdering(version.Numeric{}), WithTrimThreshold(3))
	require.NoError(t, e.Start(ctx))

	sealHours(t, e, clock, 3) // periods 10:00, 11:00, 12:00
	require.Equal(t, 3, e.Buckets())

	n, err := e.Trim(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Hour) // 14:15, cutoff 11:00
	n, err = e.Trim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := get(t, e, 1)
	assert.False(t, ok)
	_, ok = get(t, e, 2)
	assert.True(t, ok)

	clock.Advance(6 * time.Hour)
	n, err = e.Trim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, e.Buckets())
	assert.Empty(t, segments(t, store))

	manifests, err := store.List(ctx, "manifest-")
	require.NoError(t, err)
	assert.Len(t, manifests, 1)

	require.NoError(t, e.Shutdown(ctx))
	_, err = e.Trim(ctx)
	assert.ErrorIs(t, err, engine.ErrNotRunning)

	require.NoError(t, e.Start(ctx))
	defer func() { _ = e.Shutdown(ctx) }()
	assert.Zero(t, e.Buckets())
	assert.Equal(t, "3", e.CurrentVersion())
}

func TestEngine_ScheduledTrim(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := blobstore.NewMemoryStore()
	e := New(store, WithClock(clock.Now), WithTrimThreshold(2), WithTrimInterval(time.Millisecond))
	require.NoError(t, e.Start(ctx))

	sealHours(t, e, clock, 2)
	clock.Advance(48 * time.Hour)

	require.Eventually(t, func() bool { return e.Buckets() == 0 }, 5*time.Second, time.Millisecond)
	require.NoError(t, e.Shutdown(ctx))

	// Restartable with the loop.
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Shutdown(ctx))
}

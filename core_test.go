package sensei_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hothotzd123/sensei"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/indexing"
	"github.com/hothotzd123/sensei/pruner"
	"github.com/hothotzd123/sensei/testutil"
	"github.com/hothotzd123/sensei/version"
)

func newCore(t *testing.T, f *testutil.FakeFactory, partitions []int, opts ...sensei.Option) *sensei.Core {
	t.Helper()
	m := indexing.NewStreamManager(indexing.NewMemoryProvider(f.VersionOrdering(), 0))
	c, err := sensei.New(1, partitions, f, m, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func fake(t *testing.T, c *sensei.Core, partition int) *testutil.FakeEngine {
	t.Helper()
	e, ok := c.IndexEngine(partition)
	require.True(t, ok)
	return e.(*testutil.FakeEngine)
}

func TestNewValidation(t *testing.T) {
	f := testutil.NewFakeFactory(nil)
	m := indexing.NewStreamManager(indexing.NewMemoryProvider(nil, 0))

	_, err := sensei.New(1, []int{0}, nil, m)
	assert.Error(t, err)
	_, err = sensei.New(1, []int{0}, f, nil)
	assert.Error(t, err)
	_, err = sensei.New(-1, []int{0}, f, m)
	assert.Error(t, err)
	_, err = sensei.New(1, []int{0, -2}, f, m)
	assert.Error(t, err)

	c, err := sensei.New(3, []int{2, 0, 2, 1}, f, m)
	require.NoError(t, err)
	assert.Equal(t, 3, c.NodeID())
	assert.Equal(t, []int{0, 1, 2}, c.Partitions())
	assert.Equal(t, sensei.StateStopped, c.State())
}

func TestSystemInfoMaxVersion(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(version.Numeric{})
	c := newCore(t, f, []int{0, 1})

	assert.Equal(t, "", c.SystemInfo().Version)

	require.NoError(t, c.Start(ctx))
	fake(t, c, 0).SetVersion("5")
	fake(t, c, 1).SetVersion("3")

	info := c.SystemInfo()
	assert.Equal(t, "5", info.Version)
	assert.Zero(t, info.LastModified)

	// "10" > "5" numerically but not lexicographically.
	fake(t, c, 1).SetVersion("10")
	assert.Equal(t, "10", c.SystemInfo().Version)
}

func TestSharedEngineStartedOnce(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil).Shared()
	c := newCore(t, f, []int{0, 1, 2, 3})

	require.NoError(t, c.Start(ctx))
	require.Len(t, c.Engines(), 1)

	e := fake(t, c, 0)
	assert.Same(t, e, fake(t, c, 3))
	assert.Equal(t, 1, e.StartCalls())

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 1, e.ShutdownCalls())
	assert.Empty(t, c.Engines())
}

func TestStartTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil)
	c := newCore(t, f, []int{0, 1})

	require.NoError(t, c.Start(ctx))
	engines := c.Engines()
	cycle := c.CycleID()

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, engines, c.Engines())
	assert.Equal(t, cycle, c.CycleID())
	assert.Equal(t, 1, fake(t, c, 0).StartCalls())
	assert.Equal(t, 1, fake(t, c, 1).StartCalls())
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	f := testutil.NewFakeFactory(nil)
	c := newCore(t, f, []int{0})

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, 0, f.Created())
}

func TestShutdownTwice(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil)
	c := newCore(t, f, []int{0, 1})

	require.NoError(t, c.Start(ctx))
	e := fake(t, c, 0)

	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 1, e.ShutdownCalls())
	assert.Equal(t, sensei.StateStopped, c.State())
	assert.Equal(t, "", c.CycleID())
}

func TestSyncWithVersionTimeout(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(version.Numeric{})
	c := newCore(t, f, []int{0})

	require.NoError(t, c.Start(ctx))
	fake(t, c, 0).SetVersion("3")

	began := time.Now()
	err := c.SyncWithVersion(ctx, 100*time.Millisecond, "10")
	elapsed := time.Since(began)

	var ste *sensei.SyncTimeoutError
	require.ErrorAs(t, err, &ste)
	assert.True(t, sensei.IsSyncTimeout(err))
	assert.Equal(t, []sensei.PartitionLag{{Partition: 0, Observed: "3"}}, ste.Lagging)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestSyncWithVersionSucceeds(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(version.Numeric{})
	c := newCore(t, f, []int{0, 1})
	require.NoError(t, c.Start(ctx))
	e0, e1 := fake(t, c, 0), fake(t, c, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		e0.SetVersion("12")
		e1.SetVersion("10")
	}()

	require.NoError(t, c.SyncWithVersion(ctx, 5*time.Second, "10"))
}

func TestSyncWithVersionNotStarted(t *testing.T) {
	c := newCore(t, testutil.NewFakeFactory(nil), []int{0})

	err := c.SyncWithVersion(context.Background(), time.Second, "1")
	assert.ErrorIs(t, err, sensei.ErrNotRunning)
}

func TestDefaultPrunerDiscardsNothing(t *testing.T) {
	c := newCore(t, testutil.NewFakeFactory(nil), []int{0})

	p := c.IndexPruner()
	require.NotNil(t, p)

	selected, err := p.Select(context.Background(), []pruner.Candidate{
		{DocID: 0, IndexedAt: time.Unix(0, 0)},
		{DocID: 1, IndexedAt: time.Unix(0, 0)},
	})
	require.NoError(t, err)
	assert.True(t, selected.IsEmpty())
}

func TestSetIndexPruner(t *testing.T) {
	c := newCore(t, testutil.NewFakeFactory(nil), []int{0})

	r := &pruner.Retention{MaxAge: time.Hour}
	c.SetIndexPruner(r)
	assert.Same(t, r, c.IndexPruner())

	c.SetIndexPruner(nil)
	assert.Equal(t, pruner.Noop{}, c.IndexPruner())
}

func TestIndexEngineNotFound(t *testing.T) {
	ctx := context.Background()
	c := newCore(t, testutil.NewFakeFactory(nil), []int{0, 1})

	_, ok := c.IndexEngine(0)
	assert.False(t, ok)

	require.NoError(t, c.Start(ctx))
	_, ok = c.IndexEngine(0)
	assert.True(t, ok)
	_, ok = c.IndexEngine(7)
	assert.False(t, ok)
}

func TestStartFailsFastOnProvisioning(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil)
	boom := errors.New("no such directory")
	f.FailPartition(1, boom)
	c := newCore(t, f, []int{0, 1, 2})

	err := c.Start(ctx)
	var se *sensei.StartupError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1, se.Partition)
	var pe *sensei.ProvisioningError
	assert.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, sensei.StateStarting, c.State())
	assert.Equal(t, 1, f.Created(), "partition 2 is never provisioned")

	// No rollback: partition 0 keeps running until Shutdown.
	e0, err := f.Fake(1, 0)
	require.NoError(t, err)
	assert.True(t, e0.Running())

	// A failed core cannot be restarted without Shutdown.
	assert.ErrorIs(t, c.Start(ctx), sensei.ErrIllegalState)

	require.NoError(t, c.Shutdown(ctx))
	assert.False(t, e0.Running())
	assert.Equal(t, sensei.StateStopped, c.State())

	f.FailPartition(1, nil)
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.Started())
}

func TestStartEngineFailureIsCleanedUp(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil)
	c := newCore(t, f, []int{0, 1})

	e1, err := f.Fake(1, 1)
	require.NoError(t, err)
	e1.FailStart(errors.New("corrupt"))

	var se *sensei.StartupError
	require.ErrorAs(t, c.Start(ctx), &se)
	assert.Equal(t, 1, se.Partition)

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, 1, e1.ShutdownCalls())
}

func TestShutdownAggregatesErrors(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil)
	c := newCore(t, f, []int{0, 1, 2})
	require.NoError(t, c.Start(ctx))

	e0, e1, e2 := fake(t, c, 0), fake(t, c, 1), fake(t, c, 2)
	errA := errors.New("flush failed")
	errB := errors.New("close failed")
	e0.FailShutdown(errA)
	e2.FailShutdown(errB)

	err := c.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	for _, e := range []*testutil.FakeEngine{e0, e1, e2} {
		assert.Equal(t, 1, e.ShutdownCalls())
		assert.False(t, e.Running())
	}
	assert.Equal(t, sensei.StateStopped, c.State())
	require.NoError(t, c.Shutdown(ctx))
}

func TestRestartAfterShutdown(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(version.Numeric{})
	c := newCore(t, f, []int{0})

	require.NoError(t, c.Start(ctx))
	first := c.CycleID()
	fake(t, c, 0).SetVersion("4")
	require.NoError(t, c.Shutdown(ctx))

	require.NoError(t, c.Start(ctx))
	assert.NotEqual(t, first, c.CycleID())
	assert.Equal(t, "4", c.SystemInfo().Version)
	assert.Equal(t, 2, fake(t, c, 0).StartCalls())
}

func TestSystemInfoFacets(t *testing.T) {
	f := testutil.NewFakeFactory(nil).WithDecoration(engine.NewDecoration([]string{"color"}, []string{"price_range"}))
	c := newCore(t, f, []int{0})

	info := c.SystemInfo()
	assert.Equal(t, []sensei.FacetInfo{
		{Name: "color"},
		{Name: "price_range", Runtime: true},
	}, info.FacetInfos)

	// Computed once: later decoration changes are not observed.
	f.WithDecoration(engine.Decoration{})
	assert.Len(t, c.SystemInfo().FacetInfos, 2)
}

func TestConcurrentReaders(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(version.Numeric{})
	c := newCore(t, f, []int{0, 1, 2, 3})
	require.NoError(t, c.Start(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.SystemInfo()
				_, _ = c.IndexEngine(j % 4)
				_ = c.ManagedEngines()
			}
		}()
	}
	wg.Wait()
}

func TestManagedEngines(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(nil).Shared()
	c := newCore(t, f, []int{2, 0})

	assert.Empty(t, c.ManagedEngines())
	require.NoError(t, c.Start(ctx))

	managed := c.ManagedEngines()
	require.Len(t, managed, 2)
	assert.Equal(t, "fake-1-0", managed[0].Name)
	assert.Equal(t, "fake-1-2", managed[1].Name)
	assert.Same(t, managed[0].Engine, managed[1].Engine)
}

func TestAccessors(t *testing.T) {
	f := testutil.NewFakeFactory(version.Numeric{})
	provider := indexing.NewMemoryProvider(nil, 0)
	m := indexing.NewStreamManager(provider)
	qbf := struct{ name string }{"default"}

	c, err := sensei.New(1, []int{0}, f, m, sensei.WithQueryBuilderFactory(qbf))
	require.NoError(t, err)

	assert.Same(t, provider, c.DataProvider())
	assert.Equal(t, qbf, c.QueryBuilderFactory())
	assert.Equal(t, version.Numeric{}, c.VersionOrdering())
}

func TestMetricsCollector(t *testing.T) {
	ctx := context.Background()
	mc := &sensei.BasicMetricsCollector{}
	f := testutil.NewFakeFactory(version.Numeric{})
	c := newCore(t, f, []int{0, 1}, sensei.WithMetricsCollector(mc))

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.SyncWithVersion(ctx, 0, ""))
	require.Error(t, c.SyncWithVersion(ctx, 0, "5"))
	require.NoError(t, c.Shutdown(ctx))

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.StartCount)
	assert.Equal(t, int64(2), stats.EnginesStarted)
	assert.Equal(t, int64(2), stats.SyncCount)
	assert.Equal(t, int64(1), stats.SyncTimeouts)
	assert.Equal(t, int64(1), stats.ShutdownCount)
}

// gatedManager parks SyncWithVersion until released.
type gatedManager struct {
	*indexing.StreamManager
	entered chan struct{}
	release chan struct{}
}

func (m *gatedManager) SyncWithVersion(ctx context.Context, timeout time.Duration, v string) error {
	close(m.entered)
	<-m.release
	return m.StreamManager.SyncWithVersion(ctx, timeout, v)
}

func TestSyncWithVersionRacingShutdown(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeFactory(version.Numeric{})
	m := &gatedManager{
		StreamManager: indexing.NewStreamManager(indexing.NewMemoryProvider(f.VersionOrdering(), 0)),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	c, err := sensei.New(1, []int{0, 1}, f, m)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- c.SyncWithVersion(ctx, time.Second, "99") }()

	<-m.entered
	require.NoError(t, c.Shutdown(ctx))
	close(m.release)

	err = <-done
	assert.ErrorIs(t, err, sensei.ErrNotRunning)
	assert.False(t, sensei.IsSyncTimeout(err))
}

type valueEngine struct {
	engine.Engine
	tags []string
}

type valueFactory struct {
	*testutil.FakeFactory
}

func (f valueFactory) Engine(nodeID, partition int) (engine.Engine, error) {
	e, err := f.FakeFactory.Engine(nodeID, partition)
	if err != nil {
		return nil, err
	}
	return valueEngine{Engine: e, tags: []string{"x"}}, nil
}

func TestStartRejectsValueEngines(t *testing.T) {
	ctx := context.Background()
	f := valueFactory{testutil.NewFakeFactory(nil)}
	m := indexing.NewStreamManager(indexing.NewMemoryProvider(nil, 0))
	c, err := sensei.New(1, []int{0, 1}, f, m)
	require.NoError(t, err)

	err = c.Start(ctx)
	var pe *sensei.ProvisioningError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.Partition)
	assert.ErrorIs(t, err, engine.ErrInvalidHandle)

	require.NoError(t, c.Shutdown(ctx))
	assert.Equal(t, sensei.StateStopped, c.State())
}

func TestEngineSet(t *testing.T) {
	f := testutil.NewFakeFactory(nil)
	e0, err := f.Engine(0, 0)
	require.NoError(t, err)
	e1, err := f.Engine(0, 1)
	require.NoError(t, err)

	s := sensei.NewEngineSet()
	for _, e := range []engine.Engine{e0, e1, e0} {
		_, err := s.Add(e)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []engine.Engine{e0, e1}, s.Engines())
	assert.True(t, s.Contains(e1))

	v := valueEngine{Engine: e0, tags: []string{"x"}}
	added, err := s.Add(v)
	assert.False(t, added)
	assert.ErrorIs(t, err, engine.ErrInvalidHandle)
	assert.False(t, s.Contains(v))

	_, err = s.Add(nil)
	assert.ErrorIs(t, err, engine.ErrInvalidHandle)
}

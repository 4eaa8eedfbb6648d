package testutil

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/pruner"
	"github.com/hothotzd123/sensei/version"
)

// FakeEngine is an in-memory engine that records lifecycle calls and lets
// tests inject failures.
type FakeEngine struct {
	name   string
	waiter *engine.VersionWaiter

	startCalls    atomic.Int64
	shutdownCalls atomic.Int64
	consumed      atomic.Int64

	mu          sync.Mutex
	running     bool
	startErr    error
	shutdownErr error
	consumeErr  error
	version     string
	docs        map[int64]engine.Document
	indexedAt   map[int64]time.Time
	clock       func() time.Time
}

var (
	_ engine.Engine        = (*FakeEngine)(nil)
	_ engine.Prunable      = (*FakeEngine)(nil)
	_ engine.StatsProvider = (*FakeEngine)(nil)
)

// NewFakeEngine creates a stopped fake engine.
func NewFakeEngine(name string, o version.Ordering) *FakeEngine {
	return &FakeEngine{
		name:      name,
		waiter:    engine.NewVersionWaiter(o),
		docs:      make(map[int64]engine.Document),
		indexedAt: make(map[int64]time.Time),
		clock:     time.Now,
	}
}

// FailStart makes subsequent Start calls return err. A nil err clears it.
func (e *FakeEngine) FailStart(err error) {
	e.mu.Lock()
	e.startErr = err
	e.mu.Unlock()
}

// FailShutdown makes subsequent Shutdown calls return err after stopping.
func (e *FakeEngine) FailShutdown(err error) {
	e.mu.Lock()
	e.shutdownErr = err
	e.mu.Unlock()
}

// FailConsume makes subsequent Consume calls return err.
func (e *FakeEngine) FailConsume(err error) {
	e.mu.Lock()
	e.consumeErr = err
	e.mu.Unlock()
}

// SetClock overrides the clock recorded as indexing time.
func (e *FakeEngine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.clock = now
	e.mu.Unlock()
}

// SetVersion sets the version as if data had been ingested.
func (e *FakeEngine) SetVersion(v string) {
	e.mu.Lock()
	e.version = v
	running := e.running
	e.mu.Unlock()
	if running {
		e.waiter.Advance(v)
	}
}

// StartCalls returns the number of Start calls.
func (e *FakeEngine) StartCalls() int { return int(e.startCalls.Load()) }

// ShutdownCalls returns the number of Shutdown calls.
func (e *FakeEngine) ShutdownCalls() int { return int(e.shutdownCalls.Load()) }

// Consumed returns the number of document events applied. Markers are not
// counted.
func (e *FakeEngine) Consumed() int { return int(e.consumed.Load()) }

// Running reports whether the engine is started.
func (e *FakeEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Name implements engine.Engine.
func (e *FakeEngine) Name() string { return e.name }

// Start implements engine.Engine.
func (e *FakeEngine) Start(ctx context.Context) error {
	e.startCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return &engine.EngineError{Op: "start", Engine: e.name, Err: e.startErr}
	}
	if e.running {
		return nil
	}
	e.running = true
	e.waiter.Open(e.version)
	return nil
}

// Shutdown implements engine.Engine.
func (e *FakeEngine) Shutdown(context.Context) error {
	e.shutdownCalls.Add(1)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.running = false
		e.waiter.Close()
	}
	if e.shutdownErr != nil {
		return &engine.EngineError{Op: "shutdown", Engine: e.name, Err: e.shutdownErr}
	}
	return nil
}

// CurrentVersion implements engine.Engine.
func (e *FakeEngine) CurrentVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// ReaderFactory implements engine.Engine.
func (e *FakeEngine) ReaderFactory() engine.ReaderFactory { return fakeReaders{e} }

// Consumer implements engine.Engine.
func (e *FakeEngine) Consumer() engine.Consumer { return fakeConsumer{e} }

// SyncToVersion implements engine.Engine.
func (e *FakeEngine) SyncToVersion(ctx context.Context, timeout time.Duration, v string) error {
	return e.waiter.Wait(ctx, e.name, timeout, v)
}

// Stats implements engine.StatsProvider.
func (e *FakeEngine) Stats() engine.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return engine.Stats{Docs: len(e.docs), Version: e.version}
}

// Prune implements engine.Prunable. Candidates are offered in uid order and
// DocIDs are their position.
func (e *FakeEngine) Prune(ctx context.Context, p pruner.Pruner) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return 0, &engine.EngineError{Op: "prune", Engine: e.name, Err: engine.ErrNotRunning}
	}

	uids := make([]int64, 0, len(e.docs))
	for uid := range e.docs {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	candidates := make([]pruner.Candidate, len(uids))
	for i, uid := range uids {
		candidates[i] = pruner.Candidate{DocID: uint32(i), UID: uid, Version: e.version, IndexedAt: e.indexedAt[uid]}
	}
	selected, err := p.Select(ctx, candidates)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, uid := range uids {
		if selected.Contains(uint32(i)) {
			delete(e.docs, uid)
			delete(e.indexedAt, uid)
			removed++
		}
	}
	return removed, nil
}

func (e *FakeEngine) consume(ctx context.Context, events []engine.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return &engine.EngineError{Op: "consume", Engine: e.name, Err: engine.ErrNotRunning}
	}
	if e.consumeErr != nil {
		err := e.consumeErr
		e.mu.Unlock()
		return err
	}
	now := e.clock()
	applied := 0
	for _, ev := range events {
		if e.waiter.Ordering().Compare(ev.Version, e.version) > 0 {
			e.version = ev.Version
		}
		if ev.Marker {
			continue
		}
		applied++
		if ev.Delete {
			delete(e.docs, ev.Document.UID)
			delete(e.indexedAt, ev.Document.UID)
		} else {
			e.docs[ev.Document.UID] = ev.Document
			e.indexedAt[ev.Document.UID] = now
		}
	}
	v := e.version
	e.mu.Unlock()

	e.consumed.Add(int64(applied))
	e.waiter.Advance(v)
	return nil
}

type fakeConsumer struct{ e *FakeEngine }

func (c fakeConsumer) Consume(ctx context.Context, events []engine.Event) error {
	return c.e.consume(ctx, events)
}

type fakeReaders struct{ e *FakeEngine }

func (f fakeReaders) Readers(context.Context) ([]engine.Reader, error) {
	f.e.mu.Lock()
	defer f.e.mu.Unlock()
	if !f.e.running {
		return nil, &engine.EngineError{Op: "readers", Engine: f.e.name, Err: engine.ErrNotRunning}
	}
	snapshot := make(map[int64]engine.Document, len(f.e.docs))
	for uid, d := range f.e.docs {
		snapshot[uid] = d
	}
	return []engine.Reader{fakeReader(snapshot)}, nil
}

func (fakeReaders) ReturnReaders(readers []engine.Reader) {
	for _, r := range readers {
		_ = r.Close()
	}
}

type fakeReader map[int64]engine.Document

func (r fakeReader) Get(uid int64) (engine.Document, bool, error) {
	d, ok := r[uid]
	return d, ok, nil
}

func (r fakeReader) NumDocs() int { return len(r) }

func (fakeReader) Close() error { return nil }

// FakeFactory hands out FakeEngines, one per location.
type FakeFactory struct {
	ordering   version.Ordering
	shared     bool
	decoration engine.Decoration

	mu      sync.Mutex
	engines map[string]*FakeEngine
	// failing maps partitions to provisioning errors.
	failing map[int]error
}

// NewFakeFactory creates a factory with one engine per partition.
func NewFakeFactory(o version.Ordering) *FakeFactory {
	if o == nil {
		o = version.Default
	}
	return &FakeFactory{
		ordering: o,
		engines:  make(map[string]*FakeEngine),
		failing:  make(map[int]error),
	}
}

// Shared makes all partitions of a node share one engine.
func (f *FakeFactory) Shared() *FakeFactory {
	f.shared = true
	return f
}

// WithDecoration sets the decoration returned by Decoration.
func (f *FakeFactory) WithDecoration(d engine.Decoration) *FakeFactory {
	f.decoration = d
	return f
}

// FailPartition makes Engine fail for partition.
func (f *FakeFactory) FailPartition(partition int, err error) {
	f.mu.Lock()
	f.failing[partition] = err
	f.mu.Unlock()
}

// Engine returns the fake engine for the location of (nodeID, partition).
func (f *FakeFactory) Engine(nodeID, partition int) (engine.Engine, error) {
	return f.Fake(nodeID, partition)
}

// Fake is Engine with the concrete type.
func (f *FakeFactory) Fake(nodeID, partition int) (*FakeEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failing[partition]; err != nil {
		return nil, &engine.ProvisioningError{NodeID: nodeID, Partition: partition, Location: f.location(nodeID, partition), Err: err}
	}
	loc := f.location(nodeID, partition)
	if e, ok := f.engines[loc]; ok {
		return e, nil
	}
	e := NewFakeEngine("fake", f.ordering)
	f.engines[loc] = e
	return e, nil
}

// Location returns a slash-separated location key.
func (f *FakeFactory) Location(nodeID, partition int) string {
	return f.location(nodeID, partition)
}

func (f *FakeFactory) location(nodeID, partition int) string {
	if f.shared {
		return fmt.Sprintf("node%d", nodeID)
	}
	return path.Join(fmt.Sprintf("node%d", nodeID), fmt.Sprintf("shard%d", partition))
}

// Decoration returns the configured decoration.
func (f *FakeFactory) Decoration() engine.Decoration { return f.decoration }

// VersionOrdering returns the factory ordering.
func (f *FakeFactory) VersionOrdering() version.Ordering { return f.ordering }

// Created returns the number of distinct engines created so far.
func (f *FakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

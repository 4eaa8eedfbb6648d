package indexing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/version"
)

// IngestStats are cumulative ingestion counters.
type IngestStats struct {
	Batches uint64
	Events  uint64
	// Dropped counts events routed to partitions this node does not own.
	Dropped uint64
	// Failed counts events whose engine rejected them after retries.
	Failed uint64
}

// binding is an immutable snapshot of the partition bindings.
type binding struct {
	partitions []int // sorted
	engines    map[int]engine.Engine
	router     Router
}

// StreamManager pulls batches from a DataProvider and fans them out to the
// bound engines, one goroutine per distinct engine.
type StreamManager struct {
	provider DataProvider
	opts     options
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	bound atomic.Pointer[binding]

	batches atomic.Uint64
	events  atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ Manager = (*StreamManager)(nil)

// NewStreamManager creates a manager reading from provider.
func NewStreamManager(provider DataProvider, opts ...Option) *StreamManager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &StreamManager{
		provider: provider,
		opts:     o,
		log:      log.With("component", "indexing"),
	}
}

// Initialize implements Manager.
func (m *StreamManager) Initialize(bindings map[int]engine.Engine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bound.Load() != nil {
		return fmt.Errorf("indexing manager already initialized: %w", engine.ErrIllegalState)
	}

	b := &binding{engines: make(map[int]engine.Engine, len(bindings))}
	maxPartition := 0
	for p, e := range bindings {
		if err := engine.CheckHandle(e); err != nil {
			return fmt.Errorf("bind partition %d: %w", p, err)
		}
		b.engines[p] = e
		b.partitions = append(b.partitions, p)
		maxPartition = max(maxPartition, p)
	}
	sort.Ints(b.partitions)

	b.router = m.opts.router
	if b.router == nil {
		b.router = ModRouter{MaxPartitionID: maxPartition}
	}
	m.bound.Store(b)
	return nil
}

// Start implements Manager. Ingestion runs until Shutdown or until the
// provider is exhausted.
func (m *StreamManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bound.Load()
	if b == nil {
		return fmt.Errorf("indexing manager not initialized: %w", engine.ErrIllegalState)
	}
	if m.running {
		return nil
	}
	// A loop abandoned by a Shutdown deadline may still be reading from the
	// provider.
	if m.done != nil {
		select {
		case <-m.done:
		case <-ctx.Done():
			return fmt.Errorf("previous ingestion loop still draining: %w", ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	offset := m.startingOffset(b)
	if r, ok := m.provider.(Resumable); ok {
		r.SetStartingOffset(offset)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(loopCtx, b, m.done)

	m.log.Info("ingestion started", "partitions", len(b.partitions), "offset", offset)
	return nil
}

// startingOffset returns the lowest current version across bound engines.
func (m *StreamManager) startingOffset(b *binding) string {
	engines := distinct(b)
	versions := make([]string, len(engines))
	for i, e := range engines {
		versions[i] = e.CurrentVersion()
	}
	return version.Min(m.opts.ordering, versions...)
}

// Shutdown implements Manager.
func (m *StreamManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		m.cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
			m.log.Warn("ingestion loop did not stop before shutdown deadline")
		}
		m.running = false
		m.cancel = nil
		m.log.Info("ingestion stopped", "events", m.events.Load(), "dropped", m.dropped.Load())
	}
	m.bound.Store(nil)
	return nil
}

// DataProvider implements Manager.
func (m *StreamManager) DataProvider() DataProvider {
	return m.provider
}

// Running reports whether the ingestion loop is active.
func (m *StreamManager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stats returns cumulative ingestion counters.
func (m *StreamManager) Stats() IngestStats {
	return IngestStats{
		Batches: m.batches.Load(),
		Events:  m.events.Load(),
		Dropped: m.dropped.Load(),
		Failed:  m.failed.Load(),
	}
}

func (m *StreamManager) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.retryInitial
	b.MaxElapsedTime = m.opts.retryMaxTotal
	return backoff.WithContext(b, ctx)
}

func (m *StreamManager) run(ctx context.Context, b *binding, done chan struct{}) {
	defer close(done)

	for {
		var batch []engine.Event
		err := backoff.RetryNotify(func() error {
			var err error
			batch, err = m.provider.Next(ctx)
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}, m.newBackOff(ctx), func(err error, wait time.Duration) {
			m.log.Warn("data provider failed, retrying", "error", err, "wait", wait)
		})
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, io.EOF):
			m.log.Info("data provider exhausted")
			return
		case err != nil:
			m.log.Error("data provider failed, stopping ingestion", "error", err)
			return
		}
		if len(batch) == 0 {
			continue
		}

		if err := m.opts.resources.AcquireIngest(ctx, len(batch)); err != nil {
			return
		}
		m.dispatch(ctx, b, batch)
	}
}

// dispatch groups the batch per engine, preserving event order, and consumes
// the groups in parallel. Every bound engine reaches the batch version: an
// engine whose events end below it, or that got no events at all, receives a
// trailing marker.
func (m *StreamManager) dispatch(ctx context.Context, b *binding, batch []engine.Event) {
	ord := m.opts.ordering
	batchVersion := batch[0].Version
	groups := make(map[engine.Engine][]engine.Event)
	for _, ev := range batch {
		if ord.Compare(ev.Version, batchVersion) > 0 {
			batchVersion = ev.Version
		}
		e, ok := b.engines[b.router.Route(ev)]
		if !ok {
			m.dropped.Add(1)
			continue
		}
		groups[e] = append(groups[e], ev)
	}

	var g errgroup.Group
	for _, e := range distinct(b) {
		events := groups[e]
		docs := len(events)
		if docs == 0 || ord.Compare(maxVersion(ord, events), batchVersion) < 0 {
			events = append(events, engine.Event{Version: batchVersion, Marker: true})
		}
		g.Go(func() error {
			err := backoff.Retry(func() error {
				err := e.Consumer().Consume(ctx, events)
				if errors.Is(err, engine.ErrNotRunning) || ctx.Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}, m.newBackOff(ctx))
			if err != nil {
				m.failed.Add(uint64(docs))
				if ctx.Err() == nil {
					m.log.Error("engine rejected batch", "engine", e.Name(), "events", docs, "error", err)
				}
				return nil
			}
			m.events.Add(uint64(docs))
			return nil
		})
	}
	_ = g.Wait()
	m.batches.Add(1)
}

func maxVersion(ord version.Ordering, events []engine.Event) string {
	v := events[0].Version
	for _, ev := range events[1:] {
		if ord.Compare(ev.Version, v) > 0 {
			v = ev.Version
		}
	}
	return v
}

// SyncWithVersion implements Manager.
func (m *StreamManager) SyncWithVersion(ctx context.Context, timeout time.Duration, v string) error {
	b := m.bound.Load()
	if b == nil {
		return &engine.EngineError{Op: "sync", Err: engine.ErrNotRunning}
	}
	if len(b.partitions) == 0 {
		return nil
	}

	engines := distinct(b)
	results := make([]error, len(engines))

	var g errgroup.Group
	for i, e := range engines {
		g.Go(func() error {
			results[i] = e.SyncToVersion(ctx, timeout, v)
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[engine.Engine]error, len(engines))
	for i, err := range results {
		if err != nil {
			failed[engines[i]] = err
		}
	}
	if len(failed) == 0 {
		return nil
	}

	timeoutErr := &engine.SyncTimeoutError{Version: v, Timeout: timeout}
	for _, p := range b.partitions {
		e := b.engines[p]
		err, ok := failed[e]
		if !ok {
			continue
		}
		if !engine.IsSyncTimeout(err) {
			return fmt.Errorf("sync partition %d: %w", p, err)
		}
		timeoutErr.Lagging = append(timeoutErr.Lagging, engine.PartitionLag{
			Partition: p,
			Observed:  e.CurrentVersion(),
		})
	}
	if len(timeoutErr.Lagging) == 1 {
		timeoutErr.Observed = timeoutErr.Lagging[0].Observed
	}
	return timeoutErr
}

// distinct returns the bound engines in partition order, each once.
func distinct(b *binding) []engine.Engine {
	seen := make(map[engine.Engine]struct{}, len(b.engines))
	out := make([]engine.Engine, 0, len(b.engines))
	for _, p := range b.partitions {
		e := b.engines[p]
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

package rolling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hothotzd123/sensei/blobstore"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/internal/resource"
	"github.com/hothotzd123/sensei/pruner"
)

// Engine is a time-bucketed index engine persisting sealed buckets to a
// blobstore.Store.
type Engine struct {
	store  blobstore.Store
	opts   options
	log    *slog.Logger
	waiter *engine.VersionWaiter

	mu       sync.RWMutex
	running  bool
	sealed   []*bucket // oldest first
	active   *bucket
	manifest manifest

	trimCancel context.CancelFunc
	trimDone   chan struct{}
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.Consumer      = (*Engine)(nil)
	_ engine.ReaderFactory = (*Engine)(nil)
	_ engine.Prunable      = (*Engine)(nil)
	_ engine.StatsProvider = (*Engine)(nil)
)

// New creates a stopped engine persisting to store.
func New(store blobstore.Store, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:  store,
		opts:   o,
		log:    log.With("engine", Name, "frequency", o.frequency.String()),
		waiter: engine.NewVersionWaiter(o.ordering),
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// Start restores sealed buckets from the committed manifest.
// Starting a started engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	m, sealed, err := e.restore(ctx)
	if err != nil {
		return &engine.EngineError{Op: "start", Engine: Name, Err: err}
	}

	e.manifest = m
	e.sealed = sealed
	e.active = nil
	e.running = true
	e.waiter.Open(m.Version)
	e.startTrimLoopLocked()

	e.log.Info("engine started", "version", m.Version, "buckets", len(sealed))
	return nil
}

func (e *Engine) restore(ctx context.Context) (manifest, []*bucket, error) {
	var m manifest

	current, err := blobstore.ReadAll(ctx, e.store, currentName)
	if blobstore.IsNotFound(err) {
		return m, nil, nil
	}
	if err != nil {
		return m, nil, fmt.Errorf("read %s: %w", currentName, err)
	}

	raw, err := blobstore.ReadAll(ctx, e.store, string(current))
	if err != nil {
		return m, nil, fmt.Errorf("read manifest %s: %w", current, err)
	}
	if err := e.opts.codec.Unmarshal(raw, &m); err != nil {
		return m, nil, fmt.Errorf("decode manifest %s: %w", current, err)
	}
	if m.Codec != "" && m.Codec != e.opts.codec.Name() {
		return m, nil, fmt.Errorf("manifest %s uses codec %q, engine uses %q", current, m.Codec, e.opts.codec.Name())
	}

	sealed := make([]*bucket, 0, len(m.Buckets))
	for _, meta := range m.Buckets {
		data, err := blobstore.ReadAll(ctx, e.store, meta.Name)
		if err != nil {
			return m, nil, fmt.Errorf("read segment %s: %w", meta.Name, err)
		}
		data, err = decompress(meta.Compression, data)
		if err != nil {
			return m, nil, fmt.Errorf("decompress segment %s: %w", meta.Name, err)
		}
		var seg segment
		if err := e.opts.codec.Unmarshal(data, &seg); err != nil {
			return m, nil, fmt.Errorf("decode segment %s: %w", meta.Name, err)
		}
		sealed = append(sealed, fromSegment(&seg, meta))
	}
	return m, sealed, nil
}

// Shutdown seals the active bucket and stops the engine. The engine stops
// even if sealing fails; unsealed data is then lost and the error returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopTrimLoop()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	err := e.sealLocked(ctx)
	if e.active != nil {
		e.opts.resources.ReleaseMemory(e.active.bytes)
		e.active = nil
	}
	e.waiter.Close()
	e.running = false
	e.sealed = nil

	if err != nil {
		e.log.Error("seal on shutdown failed", "error", err)
		return err
	}
	e.log.Info("engine stopped", "version", e.waiter.Current())
	return nil
}

// CurrentVersion implements engine.Engine.
func (e *Engine) CurrentVersion() string {
	return e.waiter.Current()
}

// ReaderFactory implements engine.Engine.
func (e *Engine) ReaderFactory() engine.ReaderFactory { return e }

// Consumer implements engine.Engine.
func (e *Engine) Consumer() engine.Consumer { return e }

// SyncToVersion implements engine.Engine.
func (e *Engine) SyncToVersion(ctx context.Context, timeout time.Duration, v string) error {
	return e.waiter.Wait(ctx, Name, timeout, v)
}

// Consume applies events to the active bucket, sealing it first when its
// period has ended.
func (e *Engine) Consume(ctx context.Context, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return &engine.EngineError{Op: "consume", Engine: Name, Err: engine.ErrNotRunning}
	}

	now := e.opts.clock()
	if err := e.rollLocked(ctx, now); err != nil {
		return err
	}

	ord := e.waiter.Ordering()
	maxVersion := e.waiter.Current()
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.apply(ctx, ev, now); err != nil {
			return err
		}
		if ord.Compare(ev.Version, maxVersion) > 0 {
			maxVersion = ev.Version
		}
		if ord.Compare(ev.Version, e.active.maxVersion) > 0 {
			e.active.maxVersion = ev.Version
		}
	}

	e.waiter.Advance(maxVersion)
	return nil
}

// apply writes one event to the active bucket. Called with mu held.
func (e *Engine) apply(ctx context.Context, ev engine.Event, now time.Time) error {
	if ev.Marker {
		return nil
	}
	if err := e.reserveLocked(ctx, ev, now); err != nil {
		return err
	}

	uid := ev.Document.UID
	if ev.Delete {
		delete(e.active.docs, uid)
		if _, ok := layers(e.sealedNewestFirst()).get(uid); ok {
			e.active.tombstones[uid] = struct{}{}
		}
		return nil
	}
	e.active.docs[uid] = &record{
		UID:       uid,
		Version:   ev.Version,
		IndexedAt: now.UnixNano(),
		Fields:    ev.Document.Fields,
	}
	delete(e.active.tombstones, uid)
	return nil
}

// rollLocked seals the active bucket if now falls in a later period, and
// makes sure an active bucket exists.
func (e *Engine) rollLocked(ctx context.Context, now time.Time) error {
	start := e.opts.frequency.Truncate(now)
	if e.active != nil && !e.active.start.Equal(start) {
		if err := e.sealLocked(ctx); err != nil {
			return err
		}
	}
	if e.active == nil {
		e.active = newBucket(start, e.nextSeqLocked(start))
	}
	return nil
}

// reserveLocked accounts the event against the buffer budget, sealing the
// active bucket early when the budget is exhausted.
func (e *Engine) reserveLocked(ctx context.Context, ev engine.Event, now time.Time) error {
	rc := e.opts.resources
	if rc == nil {
		return nil
	}
	size := estimateSize(ev)
	err := rc.AcquireMemory(size)
	if errors.Is(err, resource.ErrMemoryLimitExceeded) && !e.active.empty() {
		e.log.Debug("buffer limit reached, sealing early", "bucket", e.active.start, "docs", len(e.active.docs))
		if err := e.sealLocked(ctx); err != nil {
			return err
		}
		if err := e.rollLocked(ctx, now); err != nil {
			return err
		}
		err = rc.AcquireMemory(size)
	}
	if err != nil {
		// Accept the event untracked rather than stall ingestion.
		return nil
	}
	e.active.bytes += size
	return nil
}

func estimateSize(ev engine.Event) int64 {
	n := int64(64 + len(ev.Version))
	for k, v := range ev.Document.Fields {
		n += int64(len(k)) + 16
		if s, ok := v.(string); ok {
			n += int64(len(s))
		}
	}
	return n
}

func (e *Engine) nextSeqLocked(start time.Time) int {
	seq := 0
	for _, b := range e.sealed {
		if b.start.Equal(start) && b.seq >= seq {
			seq = b.seq + 1
		}
	}
	return seq
}

func (e *Engine) sealedNewestFirst() []*bucket {
	out := slices.Clone(e.sealed)
	slices.Reverse(out)
	return out
}

// Flush seals the active bucket immediately.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return &engine.EngineError{Op: "flush", Engine: Name, Err: engine.ErrNotRunning}
	}
	return e.sealLocked(ctx)
}

// sealLocked persists the active bucket, commits a manifest and trims old
// periods. On failure the active bucket is kept.
func (e *Engine) sealLocked(ctx context.Context) error {
	b := e.active
	if b == nil {
		return nil
	}
	if b.empty() {
		e.opts.resources.ReleaseMemory(b.bytes)
		e.active = nil
		return e.commitVersionLocked(ctx)
	}

	if err := e.opts.resources.AcquireBackground(ctx); err != nil {
		return err
	}
	defer e.opts.resources.ReleaseBackground()

	// Tombstones only matter while they shadow sealed data.
	older := layers(e.sealedNewestFirst())
	for uid := range b.tombstones {
		if _, ok := older.get(uid); !ok {
			delete(b.tombstones, uid)
		}
	}

	comp := e.opts.compression
	data, err := e.opts.codec.Marshal(toSegment(b))
	if err != nil {
		return &engine.EngineError{Op: "seal", Engine: Name, Err: err}
	}
	data, err = compress(comp, data)
	if err != nil {
		return &engine.EngineError{Op: "seal", Engine: Name, Err: err}
	}
	name := b.name(comp)
	if err := e.store.Put(ctx, name, data); err != nil {
		return &engine.EngineError{Op: "seal", Engine: Name, Err: fmt.Errorf("put %s: %w", name, err)}
	}
	b.meta = bucketMeta{
		Name:        name,
		Start:       b.start.Unix(),
		Seq:         b.seq,
		Docs:        len(b.docs),
		Tombstones:  len(b.tombstones),
		MaxVersion:  b.maxVersion,
		Compression: comp,
		Size:        int64(len(data)),
	}

	keep, drop := trim(append(slices.Clone(e.sealed), b), e.opts.trimThreshold)

	next := manifest{
		Seq:     e.manifest.Seq + 1,
		Version: e.waiter.Current(),
		Codec:   e.opts.codec.Name(),
	}
	for _, k := range keep {
		next.Buckets = append(next.Buckets, k.meta)
	}
	if err := e.publishLocked(ctx, next); err != nil {
		return &engine.EngineError{Op: "seal", Engine: Name, Err: err}
	}
	e.sealed = keep
	e.active = nil
	e.opts.resources.ReleaseMemory(b.bytes)
	b.bytes = 0

	for _, d := range drop {
		if err := e.store.Delete(ctx, d.meta.Name); err != nil {
			e.log.Warn("delete trimmed segment failed", "segment", d.meta.Name, "error", err)
		}
	}

	e.log.Info("bucket sealed",
		"segment", name,
		"docs", b.meta.Docs,
		"bytes", b.meta.Size,
		"trimmed", len(drop),
		"version", next.Version,
	)
	return nil
}

// Trim drops the sealed buckets whose period starts more than TrimThreshold
// periods before the current one and returns how many were dropped.
func (e *Engine) Trim(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return 0, &engine.EngineError{Op: "trim", Engine: Name, Err: engine.ErrNotRunning}
	}

	freq := e.opts.frequency
	cutoff := freq.Shift(freq.Truncate(e.opts.clock()), -e.opts.trimThreshold)
	cut := 0
	for cut < len(e.sealed) && e.sealed[cut].start.Before(cutoff) {
		cut++
	}
	if cut == 0 {
		return 0, nil
	}
	keep, drop := slices.Clone(e.sealed[cut:]), e.sealed[:cut]

	next := manifest{
		Seq:     e.manifest.Seq + 1,
		Version: e.manifest.Version,
		Codec:   e.opts.codec.Name(),
	}
	for _, k := range keep {
		next.Buckets = append(next.Buckets, k.meta)
	}
	if err := e.publishLocked(ctx, next); err != nil {
		return 0, &engine.EngineError{Op: "trim", Engine: Name, Err: err}
	}
	e.sealed = keep

	for _, d := range drop {
		if err := e.store.Delete(ctx, d.meta.Name); err != nil {
			e.log.Warn("delete trimmed segment failed", "segment", d.meta.Name, "error", err)
		}
	}
	e.log.Info("buckets trimmed", "trimmed", len(drop), "cutoff", cutoff)
	return len(drop), nil
}

// startTrimLoopLocked starts the scheduled trim. Called with mu held.
func (e *Engine) startTrimLoopLocked() {
	if e.opts.trimInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.trimCancel, e.trimDone = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.opts.trimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.Trim(ctx); err != nil && ctx.Err() == nil {
					e.log.Warn("scheduled trim failed", "error", err)
				}
			}
		}
	}()
}

// stopTrimLoop stops the scheduled trim and waits for it. mu must not be
// held, since a running Trim needs it.
func (e *Engine) stopTrimLoop() {
	e.mu.Lock()
	cancel, done := e.trimCancel, e.trimDone
	e.trimCancel, e.trimDone = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// commitVersionLocked records a version reached without new documents, so
// that it survives a restart.
func (e *Engine) commitVersionLocked(ctx context.Context) error {
	current := e.waiter.Current()
	if e.waiter.Ordering().Compare(current, e.manifest.Version) <= 0 {
		return nil
	}
	next := manifest{
		Seq:     e.manifest.Seq + 1,
		Version: current,
		Codec:   e.opts.codec.Name(),
		Buckets: e.manifest.Buckets,
	}
	if err := e.publishLocked(ctx, next); err != nil {
		return &engine.EngineError{Op: "commit", Engine: Name, Err: err}
	}
	return nil
}

// publishLocked commits m and removes the manifest it replaces.
func (e *Engine) publishLocked(ctx context.Context, m manifest) error {
	if err := e.commitLocked(ctx, m); err != nil {
		return err
	}
	prev := e.manifest
	e.manifest = m
	if prev.Seq > 0 {
		if err := e.store.Delete(ctx, manifestName(prev.Seq)); err != nil {
			e.log.Warn("delete old manifest failed", "manifest", manifestName(prev.Seq), "error", err)
		}
	}
	return nil
}

func (e *Engine) commitLocked(ctx context.Context, m manifest) error {
	data, err := e.opts.codec.Marshal(&m)
	if err != nil {
		return err
	}
	name := manifestName(m.Seq)
	if err := e.store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	if err := e.store.Put(ctx, currentName, []byte(name)); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}
	return nil
}

// Prune offers every visible document to p and shadows the selected ones
// with tombstones in the active bucket.
func (e *Engine) Prune(ctx context.Context, p pruner.Pruner) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return 0, &engine.EngineError{Op: "prune", Engine: Name, Err: engine.ErrNotRunning}
	}

	var (
		candidates []pruner.Candidate
		uids       []int64
	)
	e.viewLocked().each(func(rec *record) {
		candidates = append(candidates, pruner.Candidate{
			DocID:     uint32(len(uids)),
			UID:       rec.UID,
			Version:   rec.Version,
			IndexedAt: time.Unix(0, rec.IndexedAt),
		})
		uids = append(uids, rec.UID)
	})

	selected, err := p.Select(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("prune %s: select: %w", Name, err)
	}
	if selected == nil || selected.IsEmpty() {
		return 0, nil
	}

	if err := e.rollLocked(ctx, e.opts.clock()); err != nil {
		return 0, err
	}
	sealed := layers(e.sealedNewestFirst())

	n := 0
	it := selected.Iterator()
	for it.HasNext() {
		id := it.Next()
		if int(id) >= len(uids) {
			continue
		}
		uid := uids[id]
		delete(e.active.docs, uid)
		if _, ok := sealed.get(uid); ok {
			e.active.tombstones[uid] = struct{}{}
		}
		n++
	}

	e.log.Info("pruned documents", "pruner", p.Name(), "removed", n)
	return n, nil
}

// viewLocked returns the newest-first layers including the active bucket.
func (e *Engine) viewLocked() layers {
	ls := make(layers, 0, len(e.sealed)+1)
	if e.active != nil {
		ls = append(ls, e.active)
	}
	return append(ls, e.sealedNewestFirst()...)
}

// Stats implements engine.StatsProvider.
func (e *Engine) Stats() engine.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := engine.Stats{Version: e.waiter.Current()}
	if !e.running {
		return s
	}
	s.Docs = e.viewLocked().count()
	for _, b := range e.sealed {
		s.SizeBytes += b.meta.Size
	}
	return s
}

// Buckets returns the number of sealed segments.
func (e *Engine) Buckets() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sealed)
}

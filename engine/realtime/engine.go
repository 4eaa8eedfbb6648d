package realtime

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dgraph-io/badger/v4"

	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/pruner"
)

// Engine is a badger-backed index engine.
type Engine struct {
	dir    string
	opts   options
	log    *slog.Logger
	waiter *engine.VersionWaiter

	// ingestMu serializes writers (Consume, Prune).
	ingestMu sync.Mutex

	// mu guards the fields below; Shutdown holds it exclusively.
	mu      sync.RWMutex
	db      *badger.DB
	gc      *gcRunner
	nextDoc uint32
	readers map[*reader]struct{}

	liveMu sync.RWMutex
	live   *roaring.Bitmap
}

var (
	_ engine.Engine        = (*Engine)(nil)
	_ engine.Consumer      = (*Engine)(nil)
	_ engine.ReaderFactory = (*Engine)(nil)
	_ engine.Prunable      = (*Engine)(nil)
	_ engine.StatsProvider = (*Engine)(nil)
)

// New creates a stopped engine storing its data in dir.
func New(dir string, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		dir:    dir,
		opts:   o,
		log:    log.With("engine", Name, "dir", dir),
		waiter: engine.NewVersionWaiter(o.ordering),
	}
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return Name }

// Dir returns the data directory.
func (e *Engine) Dir() string { return e.dir }

// Start opens the store, restores the persisted version and rebuilds the
// live-document bitmap. Starting a started engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	db, err := openDB(e.dir, e.opts, e.opts.logger)
	if err != nil {
		return &engine.EngineError{Op: "start", Engine: Name, Err: err}
	}

	var (
		current string
		nextDoc uint32
	)
	live := roaring.New()
	err = db.View(func(txn *badger.Txn) error {
		if v, ok, err := getValue(txn, versionKey); err != nil {
			return err
		} else if ok {
			current = string(v)
		}
		if v, ok, err := getValue(txn, nextDocKey); err != nil {
			return err
		} else if ok && len(v) == 4 {
			nextDoc = binary.BigEndian.Uint32(v)
		}
		return e.scan(txn, func(rec *record) error {
			live.Add(rec.DocID)
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return &engine.EngineError{Op: "start", Engine: Name, Err: fmt.Errorf("restore: %w", err)}
	}

	e.db = db
	e.nextDoc = nextDoc
	e.readers = make(map[*reader]struct{})
	e.liveMu.Lock()
	e.live = live
	e.liveMu.Unlock()

	if e.opts.gcInterval > 0 && !e.opts.inMemory {
		e.gc = startGC(db, e.opts.gcInterval, e.opts.gcDiscardRatio, e.log)
	}
	e.waiter.Open(current)

	e.log.Info("engine started", "version", current, "docs", live.GetCardinality())
	return nil
}

// Shutdown stops the GC loop, closes outstanding readers and closes the store.
// Shutting down a stopped engine is a no-op.
func (e *Engine) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil
	}

	e.waiter.Close()
	if e.gc != nil {
		e.gc.stop()
		e.gc = nil
	}
	for r := range e.readers {
		r.release()
	}
	e.readers = nil

	err := e.db.Close()
	e.db = nil

	e.liveMu.Lock()
	e.live = nil
	e.liveMu.Unlock()

	if err != nil {
		return &engine.EngineError{Op: "shutdown", Engine: Name, Err: err}
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

// Consume applies events in transactions of at most the configured batch
// size. After each commit the live bitmap is updated and the version advances
// to the greatest version seen so far.
func (e *Engine) Consume(ctx context.Context, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.db == nil {
		return &engine.EngineError{Op: "consume", Engine: Name, Err: engine.ErrNotRunning}
	}

	ord := e.waiter.Ordering()
	maxVersion := e.waiter.Current()
	next := e.nextDoc

	for start := 0; start < len(events); start += e.opts.txnBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+e.opts.txnBatch, len(events))

		added, removed := roaring.New(), roaring.New()
		chunkNext := next
		chunkMax := maxVersion
		now := e.opts.clock().UnixNano()

		err := e.db.Update(func(txn *badger.Txn) error {
			for _, ev := range events[start:end] {
				if ord.Compare(ev.Version, chunkMax) > 0 {
					chunkMax = ev.Version
				}
				if ev.Marker {
					continue
				}
				key := docKey(ev.Document.UID)
				prev, found, err := e.getRecord(txn, key)
				if err != nil {
					return err
				}
				if ev.Delete {
					if found {
						if err := txn.Delete(key); err != nil {
							return err
						}
						added.Remove(prev.DocID)
						removed.Add(prev.DocID)
					}
				} else {
					id := chunkNext
					if found {
						id = prev.DocID
					} else {
						chunkNext++
					}
					data, err := e.opts.codec.Marshal(&record{
						DocID:     id,
						UID:       ev.Document.UID,
						Version:   ev.Version,
						IndexedAt: now,
						Fields:    ev.Document.Fields,
					})
					if err != nil {
						return fmt.Errorf("encode uid %d: %w", ev.Document.UID, err)
					}
					if err := txn.Set(key, data); err != nil {
						return err
					}
					removed.Remove(id)
					added.Add(id)
				}
			}
			if err := txn.Set(nextDocKey, uint32Bytes(chunkNext)); err != nil {
				return err
			}
			return txn.Set(versionKey, []byte(chunkMax))
		})
		if err != nil {
			return &engine.EngineError{Op: "consume", Engine: Name, Err: err}
		}

		next = chunkNext
		maxVersion = chunkMax
		e.nextDoc = next

		e.liveMu.Lock()
		e.live.Or(added)
		e.live.AndNot(removed)
		e.liveMu.Unlock()

		e.waiter.Advance(maxVersion)
	}

	e.log.Debug("batch consumed", "events", len(events), "version", maxVersion)
	return nil
}

// Prune offers every stored document to p and deletes the selected ones.
func (e *Engine) Prune(ctx context.Context, p pruner.Pruner) (int, error) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.db == nil {
		return 0, &engine.EngineError{Op: "prune", Engine: Name, Err: engine.ErrNotRunning}
	}

	var candidates []pruner.Candidate
	keys := make(map[uint32][]byte)
	err := e.db.View(func(txn *badger.Txn) error {
		return e.scan(txn, func(rec *record) error {
			candidates = append(candidates, pruner.Candidate{
				DocID:     rec.DocID,
				UID:       rec.UID,
				Version:   rec.Version,
				IndexedAt: time.Unix(0, rec.IndexedAt),
			})
			keys[rec.DocID] = docKey(rec.UID)
			return nil
		})
	})
	if err != nil {
		return 0, &engine.EngineError{Op: "prune", Engine: Name, Err: err}
	}

	selected, err := p.Select(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("prune %s: select: %w", Name, err)
	}
	if selected == nil || selected.IsEmpty() {
		return 0, nil
	}

	wb := e.db.NewWriteBatch()
	defer wb.Cancel()

	removed := roaring.New()
	it := selected.Iterator()
	for it.HasNext() {
		id := it.Next()
		key, ok := keys[id]
		if !ok {
			continue
		}
		if err := wb.Delete(key); err != nil {
			return 0, &engine.EngineError{Op: "prune", Engine: Name, Err: err}
		}
		removed.Add(id)
	}
	if err := wb.Flush(); err != nil {
		return 0, &engine.EngineError{Op: "prune", Engine: Name, Err: err}
	}

	e.liveMu.Lock()
	e.live.AndNot(removed)
	e.liveMu.Unlock()

	n := int(removed.GetCardinality())
	e.log.Info("pruned documents", "pruner", p.Name(), "removed", n)
	return n, nil
}

// Stats implements engine.StatsProvider.
func (e *Engine) Stats() engine.Stats {
	s := engine.Stats{Version: e.waiter.Current()}

	e.liveMu.RLock()
	if e.live != nil {
		s.Docs = int(e.live.GetCardinality())
	}
	e.liveMu.RUnlock()

	e.mu.RLock()
	if e.db != nil {
		lsm, vlog := e.db.Size()
		s.SizeBytes = lsm + vlog
	}
	e.mu.RUnlock()
	return s
}

// scan decodes every stored document.
func (e *Engine) scan(txn *badger.Txn, fn func(*record) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = docPrefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var rec record
		err := it.Item().Value(func(val []byte) error {
			return e.opts.codec.Unmarshal(val, &rec)
		})
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) getRecord(txn *badger.Txn, key []byte) (*record, bool, error) {
	v, ok, err := getValue(txn, key)
	if err != nil || !ok {
		return nil, false, err
	}
	var rec record
	if err := e.opts.codec.Unmarshal(v, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func getValue(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

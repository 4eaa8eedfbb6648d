package realtime

import (
	"context"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/hothotzd123/sensei/engine"
)

// reader is a snapshot view backed by a read-only badger transaction.
type reader struct {
	e       *Engine
	numDocs int

	mu  sync.Mutex
	txn *badger.Txn
}

var _ engine.Reader = (*reader)(nil)

// Readers returns a single snapshot reader.
func (e *Engine) Readers(ctx context.Context) ([]engine.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return nil, &engine.EngineError{Op: "readers", Engine: Name, Err: engine.ErrNotRunning}
	}

	e.liveMu.RLock()
	n := int(e.live.GetCardinality())
	e.liveMu.RUnlock()

	r := &reader{e: e, numDocs: n, txn: e.db.NewTransaction(false)}
	e.readers[r] = struct{}{}
	return []engine.Reader{r}, nil
}

// ReturnReaders closes readers obtained from Readers.
func (e *Engine) ReturnReaders(readers []engine.Reader) {
	for _, r := range readers {
		_ = r.Close()
	}
}

func (r *reader) Get(uid int64) (engine.Document, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.txn == nil {
		return engine.Document{}, false, &engine.EngineError{Op: "get", Engine: Name, Err: engine.ErrNotRunning}
	}
	rec, ok, err := r.e.getRecord(r.txn, docKey(uid))
	if err != nil || !ok {
		return engine.Document{}, false, err
	}
	return engine.Document{UID: rec.UID, Fields: rec.Fields}, true, nil
}

func (r *reader) NumDocs() int {
	return r.numDocs
}

func (r *reader) Close() error {
	r.e.mu.Lock()
	if r.e.readers != nil {
		delete(r.e.readers, r)
	}
	r.e.mu.Unlock()

	r.release()
	return nil
}

// release discards the transaction. Safe to call more than once.
func (r *reader) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.txn != nil {
		r.txn.Discard()
		r.txn = nil
	}
}

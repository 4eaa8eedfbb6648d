package rolling

import (
	"context"

	"github.com/hothotzd123/sensei/engine"
)

// reader is a snapshot over sealed buckets and a copy of the active bucket.
type reader struct {
	view    layers
	numDocs int
}

var _ engine.Reader = (*reader)(nil)

// Readers returns a single merged snapshot reader.
func (e *Engine) Readers(ctx context.Context) ([]engine.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.running {
		return nil, &engine.EngineError{Op: "readers", Engine: Name, Err: engine.ErrNotRunning}
	}

	view := make(layers, 0, len(e.sealed)+1)
	if e.active != nil {
		view = append(view, e.active.clone())
	}
	view = append(view, e.sealedNewestFirst()...)
	return []engine.Reader{&reader{view: view, numDocs: view.count()}}, nil
}

// ReturnReaders releases readers obtained from Readers.
func (e *Engine) ReturnReaders(readers []engine.Reader) {
	for _, r := range readers {
		_ = r.Close()
	}
}

func (r *reader) Get(uid int64) (engine.Document, bool, error) {
	rec, ok := r.view.get(uid)
	if !ok {
		return engine.Document{}, false, nil
	}
	return engine.Document{UID: rec.UID, Fields: rec.Fields}, true, nil
}

func (r *reader) NumDocs() int { return r.numDocs }

func (r *reader) Close() error { return nil }

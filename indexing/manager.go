package indexing

import (
	"context"
	"time"

	"github.com/hothotzd123/sensei/engine"
)

// Manager owns the ingestion pipeline of a node.
type Manager interface {
	// Initialize records the partition bindings. It fails with
	// engine.ErrIllegalState when called twice without an intervening Shutdown.
	Initialize(bindings map[int]engine.Engine) error

	// Start begins ingestion into the bound engines.
	Start(ctx context.Context) error

	// Shutdown stops ingestion and forgets the bindings. It is idempotent.
	Shutdown(ctx context.Context) error

	// DataProvider returns the upstream data source.
	DataProvider() DataProvider

	// SyncWithVersion waits until every bound partition reached version. On
	// timeout it fails with an *engine.SyncTimeoutError listing every lagging
	// partition. It fails with an *engine.EngineError wrapping
	// engine.ErrNotRunning when no bindings are loaded.
	SyncWithVersion(ctx context.Context, timeout time.Duration, version string) error
}

// DataProvider supplies batches of events.
type DataProvider interface {
	// Next blocks until a batch is available. It returns io.EOF once the
	// source is exhausted.
	Next(ctx context.Context) ([]engine.Event, error)
}

// Resumable is implemented by providers that can skip events already
// incorporated by the engines.
type Resumable interface {
	// SetStartingOffset skips events ordered at or before version.
	SetStartingOffset(version string)
}

// Router maps an event to its partition.
type Router interface {
	Route(ev engine.Event) int
}

// ModRouter routes by uid modulo MaxPartitionID+1.
type ModRouter struct {
	MaxPartitionID int
}

// Route implements Router.
func (r ModRouter) Route(ev engine.Event) int {
	n := int64(r.MaxPartitionID) + 1
	if n <= 0 {
		return 0
	}
	p := ev.Document.UID % n
	if p < 0 {
		p += n
	}
	return int(p)
}

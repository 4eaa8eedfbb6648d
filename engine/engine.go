package engine

import (
	"context"
	"time"
)

// Document is an indexable unit routed to a partition by its UID.
type Document struct {
	UID    int64          `json:"uid"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Event is a single change pulled from the upstream data source.
type Event struct {
	// Version is the version token the engine reaches once the event is applied.
	Version  string   `json:"version"`
	Document Document `json:"document"`
	// Delete removes Document.UID instead of upserting it.
	Delete bool `json:"delete,omitempty"`
	// Marker advances the version without touching any document.
	Marker bool `json:"marker,omitempty"`
}

// Consumer is the ingestion entry point of an engine.
type Consumer interface {
	// Consume applies events in order. The engine version advances to the
	// greatest event version once the batch is durable and visible to readers.
	Consume(ctx context.Context, events []Event) error
}

// Reader is a point-in-time view of an engine's documents.
type Reader interface {
	// Get returns the document stored under uid.
	Get(uid int64) (Document, bool, error)
	// NumDocs returns the number of live documents visible to this reader.
	NumDocs() int
	// Close releases the view.
	Close() error
}

// ReaderFactory hands out readers to the query layer.
type ReaderFactory interface {
	// Readers returns one or more readers covering the engine's data.
	Readers(ctx context.Context) ([]Reader, error)
	// ReturnReaders releases readers obtained from Readers.
	ReturnReaders(readers []Reader)
}

// Engine is the real-time indexing unit backing one or more partitions.
type Engine interface {
	// Name is a stable flavor name, used to build management names.
	Name() string

	// Start opens the engine and begins accepting ingestion and reads.
	Start(ctx context.Context) error

	// Shutdown stops ingestion and reads and releases resources.
	Shutdown(ctx context.Context) error

	// CurrentVersion returns the version of the data incorporated so far.
	CurrentVersion() string

	// ReaderFactory returns the read handle passed through to the query layer.
	ReaderFactory() ReaderFactory

	// Consumer returns the ingestion handle used by the indexing manager.
	Consumer() Consumer

	// SyncToVersion blocks until CurrentVersion is ordered at or after version,
	// or until timeout elapses (*SyncTimeoutError), or ctx is done.
	// It fails with an *EngineError wrapping ErrNotRunning if the engine is not running.
	SyncToVersion(ctx context.Context, timeout time.Duration, version string) error
}

// Stats is a point-in-time summary of an engine.
type Stats struct {
	Docs    int
	Version string
	// SizeBytes is the on-disk footprint, 0 if unknown.
	SizeBytes int64
}

// StatsProvider is implemented by engines that can report Stats.
type StatsProvider interface {
	Stats() Stats
}

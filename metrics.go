package sensei

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// The diagnostics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordStart is called after each Start that did work.
	RecordStart(engines int, duration time.Duration, err error)

	// RecordShutdown is called after each Shutdown that did work.
	RecordShutdown(engines int, duration time.Duration, err error)

	// RecordSync is called after each SyncWithVersion.
	RecordSync(duration time.Duration, err error)

	// RecordPrune is called after each prune pass. removed is the number of
	// documents discarded.
	RecordPrune(removed int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStart(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordShutdown(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordSync(time.Duration, error)          {}
func (NoopMetricsCollector) RecordPrune(int, time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests.
type BasicMetricsCollector struct {
	StartCount     atomic.Int64
	StartErrors    atomic.Int64
	EnginesStarted atomic.Int64
	ShutdownCount  atomic.Int64
	ShutdownErrors atomic.Int64
	SyncCount      atomic.Int64
	SyncTimeouts   atomic.Int64
	SyncErrors     atomic.Int64
	SyncTotalNanos atomic.Int64
	PruneCount     atomic.Int64
	PruneErrors    atomic.Int64
	PrunedDocs     atomic.Int64
}

// RecordStart implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStart(engines int, _ time.Duration, err error) {
	b.StartCount.Add(1)
	if err != nil {
		b.StartErrors.Add(1)
		return
	}
	b.EnginesStarted.Add(int64(engines))
}

// RecordShutdown implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShutdown(_ int, _ time.Duration, err error) {
	b.ShutdownCount.Add(1)
	if err != nil {
		b.ShutdownErrors.Add(1)
	}
}

// RecordSync implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSync(duration time.Duration, err error) {
	b.SyncCount.Add(1)
	b.SyncTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err == nil:
	case IsSyncTimeout(err):
		b.SyncTimeouts.Add(1)
	default:
		b.SyncErrors.Add(1)
	}
}

// RecordPrune implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrune(removed int, _ time.Duration, err error) {
	b.PruneCount.Add(1)
	b.PrunedDocs.Add(int64(removed))
	if err != nil {
		b.PruneErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StartCount:     b.StartCount.Load(),
		StartErrors:    b.StartErrors.Load(),
		EnginesStarted: b.EnginesStarted.Load(),
		ShutdownCount:  b.ShutdownCount.Load(),
		ShutdownErrors: b.ShutdownErrors.Load(),
		SyncCount:      b.SyncCount.Load(),
		SyncTimeouts:   b.SyncTimeouts.Load(),
		SyncErrors:     b.SyncErrors.Load(),
		SyncAvgNanos:   b.getAvgSyncNanos(),
		PruneCount:     b.PruneCount.Load(),
		PruneErrors:    b.PruneErrors.Load(),
		PrunedDocs:     b.PrunedDocs.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSyncNanos() int64 {
	count := b.SyncCount.Load()
	if count == 0 {
		return 0
	}
	return b.SyncTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StartCount     int64
	StartErrors    int64
	EnginesStarted int64
	ShutdownCount  int64
	ShutdownErrors int64
	SyncCount      int64
	SyncTimeouts   int64
	SyncErrors     int64
	SyncAvgNanos   int64
	PruneCount     int64
	PruneErrors    int64
	PrunedDocs     int64
}

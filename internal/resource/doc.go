// Package resource implements the Controller for node-wide limits.
//
// The Controller manages three resource types shared by all partitions of a
// node:
//
//   - Memory: bytes buffered in unsealed buckets (non-blocking, fail-fast)
//   - Concurrency: background jobs such as bucket sealing and pruning
//   - Ingest: events per second accepted from the data provider
//
// # Memory
//
// AcquireMemory is non-blocking and returns ErrMemoryLimitExceeded when the
// limit would be exceeded. The caller decides what to do, typically sealing a
// bucket early to release its buffer:
//
//	if err := rc.AcquireMemory(n); err != nil {
//	    // seal, ReleaseMemory, retry
//	}
//
// # Background Workers
//
//	if err := rc.AcquireBackground(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseBackground()
//
// # Ingest Rate
//
// AcquireIngest blocks until the token bucket admits n events. Requests larger
// than the burst are split.
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource

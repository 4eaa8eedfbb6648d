// Package engine defines the contract between a partition node and the index
// engines backing its partitions.
//
// An Engine is one real-time searchable unit. It owns an ingestion entry point
// (Consumer), reports the version of the data it has incorporated, hands out
// readers through a ReaderFactory and lets callers block until it has caught up
// with a given version (SyncToVersion).
//
// # Lifecycle
//
// Engines are created by a factory and driven by the partition core:
//
//	e, _ := f.Engine(nodeID, partition)
//	_ = e.Start(ctx)
//	_ = e.Consumer().Consume(ctx, events)
//	_ = e.SyncToVersion(ctx, time.Second, "42")
//	_ = e.Shutdown(ctx)
//
// Start and Shutdown are called at most once per cycle per distinct instance.
// Several partitions may share one engine instance; identity is the handle itself,
// so implementations must be pointer types.
//
// # Versions
//
// Versions are opaque strings ordered by a version.Ordering. VersionWaiter is the
// shared primitive implementations use to publish their current version and wake
// callers blocked in SyncToVersion.
package engine

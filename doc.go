// Package sensei manages the index partitions owned by one node.
//
// A Core asks a factory for the engine of every owned partition, starts each
// distinct engine once, and hands the bindings to an indexing manager that
// feeds them from the upstream data source. Queries and version syncs flow
// through the Core.
//
// # Quick Start
//
//	f, _ := factory.New(factory.KindRealtime, factory.WithDirectory("./data"))
//	m := indexing.NewStreamManager(provider)
//	core, _ := sensei.New(1, []int{0, 1, 2}, f, m)
//
//	if err := core.Start(ctx); err != nil {
//	    _ = core.Shutdown(ctx) // a failed start must be cleaned up
//	}
//	defer core.Shutdown(ctx)
//
// # Version Sync
//
// Every engine reports the version token of the data it incorporated. A
// caller that wrote version v upstream can wait until every partition caught
// up:
//
//	err := core.SyncWithVersion(ctx, 500*time.Millisecond, v)
//	if sensei.IsSyncTimeout(err) {
//	    // retry later
//	}
//
// # Shared Engines
//
// Partitions that resolve to the same storage location share one engine. It
// is started and shut down exactly once per lifecycle regardless of how many
// partitions reference it.
package sensei

// Package realtime implements a continuously compacting index engine on top of
// BadgerDB.
//
// Documents are stored under d/<uid> and the engine version under m/version,
// both updated in the same transaction, so the persisted version never runs
// ahead of the persisted documents. A roaring bitmap of live document ids is
// rebuilt from the store on Start. Value-log garbage collection runs in the
// background while the engine is started.
//
// An Engine can be started again after Shutdown; it reopens the same directory.
package realtime

// Package indexing bridges partition engines to the upstream data source.
//
// A Manager is initialized with the partition to engine bindings produced at
// startup, pulls batches from a DataProvider, routes every event to the engine
// of its partition and exposes a node-wide "sync to version" operation.
package indexing

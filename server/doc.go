// Package server assembles a Sensei node from its configuration and serves
// the admin HTTP API.
//
// Routes:
//
//	GET  /healthz             liveness and lifecycle state
//	GET  /systeminfo          facets and the node version
//	GET  /partitions          managed engines in partition order
//	GET  /partitions/:id      one partition
//	POST /sync?version=&timeout=
//	POST /prune               run the index pruner once
//	POST /events              publish events to the in-memory source
//	GET  /metrics             Prometheus exposition
package server

// Package diagnostics exports node metrics to Prometheus.
//
// Metrics implements sensei.MetricsCollector for lifecycle, sync and prune
// operations. EngineCollector reads per-partition engine state on every
// scrape. DiskCollector reports free space of the index volume on unix
// systems.
package diagnostics

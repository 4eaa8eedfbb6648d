package diagnostics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hothotzd123/sensei"
	"github.com/hothotzd123/sensei/engine"
	"github.com/hothotzd123/sensei/indexing"
	"github.com/hothotzd123/sensei/version"
)

// Node is the view of a node read on every scrape. *sensei.Core implements it.
type Node interface {
	NodeID() int
	Started() bool
	ManagedEngines() []sensei.ManagedEngine
}

// IngestSource reports ingestion counters. *indexing.StreamManager implements it.
type IngestSource interface {
	Stats() indexing.IngestStats
}

// EngineCollector exports per-partition engine state.
type EngineCollector struct {
	node   Node
	ingest IngestSource

	started     *prometheus.Desc
	docs        *prometheus.Desc
	size        *prometheus.Desc
	versionInfo *prometheus.Desc
	version     *prometheus.Desc
	events      *prometheus.Desc
}

var _ prometheus.Collector = (*EngineCollector)(nil)

// NewEngineCollector creates a collector for node. ingest may be nil.
func NewEngineCollector(node Node, ingest IngestSource) *EngineCollector {
	partitionLabels := []string{"node", "partition", "engine"}
	return &EngineCollector{
		node:   node,
		ingest: ingest,
		started: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "core", "started"),
			"1 if the node is started", []string{"node"}, nil),
		docs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "docs"),
			"Live documents per partition", partitionLabels, nil),
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "size_bytes"),
			"On-disk footprint per partition", partitionLabels, nil),
		versionInfo: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "version_info"),
			"Current version token per partition", append(partitionLabels, "version"), nil),
		version: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "engine", "version"),
			"Current version per partition, for numeric tokens", partitionLabels, nil),
		events: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ingest", "events_total"),
			"Events handled by the indexing manager", []string{"node", "outcome"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.started
	ch <- c.docs
	ch <- c.size
	ch <- c.versionInfo
	ch <- c.version
	ch <- c.events
}

// Collect implements prometheus.Collector.
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	node := strconv.Itoa(c.node.NodeID())

	started := 0.0
	if c.node.Started() {
		started = 1
	}
	ch <- prometheus.MustNewConstMetric(c.started, prometheus.GaugeValue, started, node)

	for _, m := range c.node.ManagedEngines() {
		partition := strconv.Itoa(m.Partition)
		name := m.Engine.Name()
		v := m.Engine.CurrentVersion()

		ch <- prometheus.MustNewConstMetric(c.versionInfo, prometheus.GaugeValue, 1, node, partition, name, v)
		if n, err := (version.Numeric{}).Parse(v); err == nil && v != "" {
			ch <- prometheus.MustNewConstMetric(c.version, prometheus.GaugeValue, float64(n), node, partition, name)
		}
		if sp, ok := m.Engine.(engine.StatsProvider); ok {
			st := sp.Stats()
			ch <- prometheus.MustNewConstMetric(c.docs, prometheus.GaugeValue, float64(st.Docs), node, partition, name)
			ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(st.SizeBytes), node, partition, name)
		}
	}

	if c.ingest != nil {
		st := c.ingest.Stats()
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.Events), node, "indexed")
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.Dropped), node, "dropped")
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(st.Failed), node, "failed")
	}
}

package diagnostics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// DiskCollector reports the free and total bytes of the volume holding the
// index directory.
type DiskCollector struct {
	path   string
	logger *slog.Logger
	free   *prometheus.Desc
	total  *prometheus.Desc
}

var _ prometheus.Collector = (*DiskCollector)(nil)

// NewDiskCollector creates a collector for the volume of path. Scrape errors
// are logged to logger when not nil.
func NewDiskCollector(path string, logger *slog.Logger) *DiskCollector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	labels := prometheus.Labels{"path": path}
	return &DiskCollector{
		path:   path,
		logger: logger,
		free: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "free_bytes"),
			"Free bytes on the index volume", nil, labels),
		total: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "capacity_bytes"),
			"Capacity of the index volume", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *DiskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.free
	ch <- c.total
}

// Collect implements prometheus.Collector.
func (c *DiskCollector) Collect(ch chan<- prometheus.Metric) {
	free, total, err := volumeUsage(c.path)
	if err != nil {
		c.logger.Debug("volume usage unavailable", "path", c.path, "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.free, prometheus.GaugeValue, float64(free))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(total))
}

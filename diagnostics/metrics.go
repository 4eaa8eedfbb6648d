package diagnostics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hothotzd123/sensei"
)

const namespace = "sensei"

// Metrics is a Prometheus sensei.MetricsCollector.
type Metrics struct {
	opLatency    *prometheus.HistogramVec
	syncs        *prometheus.CounterVec
	prunes       *prometheus.CounterVec
	prunedDocs   prometheus.Counter
	startEngines prometheus.Gauge
}

var _ sensei.MetricsCollector = (*Metrics)(nil)

// NewMetrics creates the collector and registers it with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of node lifecycle and sync operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_total",
			Help:      "Version syncs by result",
		}, []string{"result"}),
		prunes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_total",
			Help:      "Prune passes by status",
		}, []string{"status"}),
		prunedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_documents_total",
			Help:      "Documents discarded by the index pruner",
		}),
		startEngines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "started_engines",
			Help:      "Distinct engines started by the last successful start",
		}),
	}

	for _, c := range []prometheus.Collector{m.opLatency, m.syncs, m.prunes, m.prunedDocs, m.startEngines} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordStart implements sensei.MetricsCollector.
func (m *Metrics) RecordStart(engines int, d time.Duration, err error) {
	m.opLatency.WithLabelValues("start", status(err)).Observe(d.Seconds())
	if err == nil {
		m.startEngines.Set(float64(engines))
	}
}

// RecordShutdown implements sensei.MetricsCollector.
func (m *Metrics) RecordShutdown(_ int, d time.Duration, err error) {
	m.opLatency.WithLabelValues("shutdown", status(err)).Observe(d.Seconds())
	m.startEngines.Set(0)
}

// RecordSync implements sensei.MetricsCollector.
func (m *Metrics) RecordSync(d time.Duration, err error) {
	result := status(err)
	if sensei.IsSyncTimeout(err) {
		result = "timeout"
	}
	m.opLatency.WithLabelValues("sync", result).Observe(d.Seconds())
	m.syncs.WithLabelValues(result).Inc()
}

// RecordPrune implements sensei.MetricsCollector.
func (m *Metrics) RecordPrune(removed int, d time.Duration, err error) {
	m.opLatency.WithLabelValues("prune", status(err)).Observe(d.Seconds())
	m.prunes.WithLabelValues(status(err)).Inc()
	m.prunedDocs.Add(float64(removed))
}

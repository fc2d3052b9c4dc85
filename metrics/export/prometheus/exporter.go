package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	adminauth "github.com/oakmont/adminauth"
)

const namespace = "adminauth"

type metricsSource interface {
	MetricsSnapshot() adminauth.MetricsSnapshot
	AuditDropped() uint64
}

// Collector exposes the engine counters as Prometheus metrics. Values are
// read fresh from the snapshot on every scrape.
type Collector struct {
	source       metricsSource
	counterDescs map[adminauth.MetricID]*prometheus.Desc
	latencyDesc  *prometheus.Desc
	droppedDesc  *prometheus.Desc
}

// NewCollector creates a collector reading from the given engine.
// Register it with prometheus.MustRegister.
func NewCollector(engine *adminauth.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource creates a collector over any snapshot source.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:       source,
		counterDescs: make(map[adminauth.MetricID]*prometheus.Desc),
		latencyDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "login_latency_ms"),
			"Login round-trip latency in milliseconds.",
			nil, nil,
		),
		droppedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
			"Audit events dropped under dispatcher backpressure.",
			nil, nil,
		),
	}

	snapshot := source.MetricsSnapshot()
	for id := range snapshot.Counters {
		if id == adminauth.MetricLoginLatency {
			continue
		}
		c.counterDescs[id] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", id.Name()+"_total"),
			"Engine counter "+id.Name()+".",
			nil, nil,
		)
	}

	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.counterDescs {
		ch <- desc
	}
	ch <- c.latencyDesc
	ch <- c.droppedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.source.MetricsSnapshot()

	for id, desc := range c.counterDescs {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(snapshot.Counters[id]))
	}

	if buckets, ok := snapshot.Histograms[adminauth.MetricLoginLatency]; ok {
		ch <- constHistogram(c.latencyDesc, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

func constHistogram(desc *prometheus.Desc, raw []uint64) prometheus.Metric {
	bounds := adminauth.HistogramBounds()
	cumulative := make(map[float64]uint64, len(bounds))

	var count uint64
	for i, v := range raw {
		count += v
		if i < len(bounds) {
			cumulative[float64(bounds[i])] = count
		}
	}

	// Sum is not tracked in the core snapshot; approximate with the
	// bucket upper bounds so rates stay usable.
	var sum float64
	for i, v := range raw {
		if i < len(bounds) {
			sum += float64(bounds[i]) * float64(v)
		} else if len(bounds) > 0 {
			sum += float64(bounds[len(bounds)-1]) * float64(v)
		}
	}

	return prometheus.MustNewConstHistogram(desc, count, sum, cumulative)
}

package qcm

import (
	"github.com/prometheus/client_golang/prometheus"

	"quiver.io/incremental-query-runtime/pkg/engine"
)

// Metrics exposes the runtime health counters. Propagation depth is the one
// to watch: it grows only with deeply nested non-selecting query chains.
type Metrics struct {
	resultNodes      prometheus.Gauge
	pathTableSize    prometheus.Gauge
	valueTableSize   prometheus.Gauge
	propagationDepth prometheus.Histogram
	commits          prometheus.Counter
}

var _ engine.Collector = &Metrics{}

// NewMetrics builds the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resultNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queryruntime_result_nodes",
			Help: "Number of live query result nodes.",
		}),
		pathTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queryruntime_path_table_size",
			Help: "Number of interned path ids.",
		}),
		valueTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "queryruntime_value_table_size",
			Help: "Number of live value compression codes.",
		}),
		propagationDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "queryruntime_propagation_depth",
			Help:    "Peak recursion depth of match propagation cascades.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "queryruntime_commits_total",
			Help: "Number of committed update cycles.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.resultNodes, m.pathTableSize, m.valueTableSize, m.propagationDepth, m.commits)
	}
	return m
}

func (m *Metrics) ObservePropagationDepth(depth int) {
	m.propagationDepth.Observe(float64(depth))
}

func (m *Metrics) SetResultNodes(n int) {
	m.resultNodes.Set(float64(n))
}

func (m *Metrics) setTableSizes(paths, values int) {
	m.pathTableSize.Set(float64(paths))
	m.valueTableSize.Set(float64(values))
}

func (m *Metrics) commit() {
	m.commits.Inc()
}

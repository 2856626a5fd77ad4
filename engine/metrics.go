package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "canfuzz"

// Metrics are the prometheus collectors of one engine.
type Metrics struct {
	Execs          prometheus.Counter
	Outcomes       *prometheus.CounterVec
	CoverageErrors prometheus.Counter
	Corpus         prometheus.Gauge
	EdgesCovered   prometheus.Gauge
	Edges          prometheus.Gauge
	ExecDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer, target string) (*Metrics, error) {
	labels := prometheus.Labels{"target": target}
	m := &Metrics{
		Execs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "execs_total",
			Help:        "Inputs executed.",
			ConstLabels: labels,
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "outcomes_total",
			Help:        "Executions by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		CoverageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "coverage_errors_total",
			Help:        "Executions whose coverage map could not be read.",
			ConstLabels: labels,
		}),
		Corpus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "corpus_size",
			Help:        "Inputs in the queue.",
			ConstLabels: labels,
		}),
		EdgesCovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "edges_covered",
			Help:        "Edges hit at least once.",
			ConstLabels: labels,
		}),
		Edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "edges",
			Help:        "Size of the coverage map.",
			ConstLabels: labels,
		}),
		ExecDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "exec_duration_seconds",
			Help:        "Wall time of one execution including coverage retrieval.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Execs, m.Outcomes, m.CoverageErrors, m.Corpus, m.EdgesCovered, m.Edges, m.ExecDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

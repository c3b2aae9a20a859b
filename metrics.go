package birch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records resolution activity. It implements prometheus.Collector;
// register it with the registry of the application:
//
//	m := birch.NewMetrics("app")
//	prometheus.MustRegister(m)
//	c := birch.New(birch.WithMetrics(m))
type Metrics struct {
	resolutions   *prometheus.CounterVec
	constructions *prometheus.CounterVec
	duration      prometheus.Histogram
}

// NewMetrics creates the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "di",
				Name:      "resolutions_total",
				Help:      "Total number of top-level resolutions",
			},
			[]string{"outcome"},
		),
		constructions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "di",
				Name:      "constructions_total",
				Help:      "Total number of instances built by a constructor",
			},
			[]string{"lifetime"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "di",
				Name:      "resolve_duration_seconds",
				Help:      "Top-level resolution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 10),
			},
		),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.resolutions.Describe(ch)
	m.constructions.Describe(ch)
	m.duration.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.resolutions.Collect(ch)
	m.constructions.Collect(ch)
	m.duration.Collect(ch)
}

func (m *Metrics) resolution(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.resolutions.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) construction(lifetime string) {
	if m == nil {
		return
	}
	m.constructions.WithLabelValues(lifetime).Inc()
}

package dj

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for engine turns.
type Metrics struct {
	turns        *prometheus.CounterVec
	actions      *prometheus.CounterVec
	modelLatency prometheus.Histogram
}

// MustNewMetrics registers the engine collectors with reg. Collectors that are
// already registered are reused so several engines can share a registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	turns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartdj",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Chat turns handled, by outcome.",
		},
		[]string{"outcome"},
	)
	actions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "smartdj",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Dispatched actions, by kind and status.",
		},
		[]string{"kind", "status"},
	)
	modelLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "smartdj",
			Subsystem: "engine",
			Name:      "model_latency_seconds",
			Help:      "Latency of language-model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
	)

	collectors := []prometheus.Collector{turns, actions, modelLatency}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				panic(err)
			}
			switch collector {
			case turns:
				turns = already.ExistingCollector.(*prometheus.CounterVec)
			case actions:
				actions = already.ExistingCollector.(*prometheus.CounterVec)
			case modelLatency:
				modelLatency = already.ExistingCollector.(prometheus.Histogram)
			}
		}
	}

	return &Metrics{turns: turns, actions: actions, modelLatency: modelLatency}
}

func (m *Metrics) incTurn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) incAction(kind Kind, status string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(kind), status).Inc()
}

func (m *Metrics) observeModel(d time.Duration) {
	if m == nil {
		return
	}
	m.modelLatency.Observe(d.Seconds())
}

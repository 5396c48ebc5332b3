// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds every instrument. A nil *Recorder is a valid no-op.
type Recorder struct {
	cycleDuration   *prometheus.HistogramVec
	signalsTotal    *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	alertsTotal     *prometheus.CounterVec
	endpointLatency *prometheus.HistogramVec
	promotions      *prometheus.CounterVec
	updatesTotal    *prometheus.CounterVec
	autoPauses      *prometheus.CounterVec
}

// New registers the instruments on the default registry.
func New(namespace string) *Recorder {
	return NewWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

func NewWithRegisterer(namespace string, reg prometheus.Registerer) *Recorder {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		ns = "trader"
	}
	f := promauto.With(reg)
	return &Recorder{
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of scheduled operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "status"},
		),
		signalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "signals_total",
				Help:      "Signals resolved by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "circuit_breaker_state",
				Help:      "Breaker state per service (0 closed, 1 half_open, 2 open)",
			},
			[]string{"service"},
		),
		alertsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "safety_alerts_total",
				Help:      "Safety alerts appended by type and severity",
			},
			[]string{"type", "severity"},
		),
		endpointLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "execution_endpoint_seconds",
				Help:      "Round trip to the execution endpoint",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
			},
			[]string{"status"},
		),
		promotions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "model_transitions_total",
				Help:      "Model promotions and rollbacks per asset",
			},
			[]string{"asset", "event"},
		),
		updatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "model_updates_total",
				Help:      "Shadow model update attempts by result",
			},
			[]string{"asset", "result"},
		),
		autoPauses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "auto_pauses_total",
				Help:      "Auto-pause actions per asset",
			},
			[]string{"asset", "reason"},
		),
	}
}

func (r *Recorder) ObserveCycle(operation, status string, seconds float64) {
	if r == nil {
		return
	}
	r.cycleDuration.WithLabelValues(operation, status).Observe(seconds)
}

func (r *Recorder) RecordSignal(mode, outcome string) {
	if r == nil {
		return
	}
	r.signalsTotal.WithLabelValues(mode, outcome).Inc()
}

func (r *Recorder) SetBreakerState(service, state string) {
	if r == nil {
		return
	}
	v := 0.0
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	r.breakerState.WithLabelValues(service).Set(v)
}

func (r *Recorder) RecordAlert(alertType, severity string) {
	if r == nil {
		return
	}
	r.alertsTotal.WithLabelValues(alertType, severity).Inc()
}

func (r *Recorder) ObserveEndpoint(status string, seconds float64) {
	if r == nil {
		return
	}
	r.endpointLatency.WithLabelValues(status).Observe(seconds)
}

func (r *Recorder) RecordModelTransition(asset, event string) {
	if r == nil {
		return
	}
	r.promotions.WithLabelValues(asset, event).Inc()
}

func (r *Recorder) RecordModelUpdate(asset, result string) {
	if r == nil {
		return
	}
	r.updatesTotal.WithLabelValues(asset, result).Inc()
}

func (r *Recorder) RecordAutoPause(asset, reason string) {
	if r == nil {
		return
	}
	r.autoPauses.WithLabelValues(asset, reason).Inc()
}

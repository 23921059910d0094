// Package obsv holds the Prometheus metrics surface for the detection
// engine. Grounded on internal/escrow/metrics.go's promauto-registered
// Metrics struct with typed Record* helper methods.
package obsv

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine exposes.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	DetectorDuration   *prometheus.HistogramVec
	DetectorTimeouts   *prometheus.CounterVec
	EarlyExitTotal     *prometheus.CounterVec
	ActionTotal        *prometheus.CounterVec
	RiskBandTotal      *prometheus.CounterVec
	ReputationLookups  *prometheus.CounterVec
	ReputationStoreErr *prometheus.CounterVec
	LearningBusDropped prometheus.Counter
	DriftZScore        prometheus.Gauge
	PolicyReloadTotal  *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics against the default
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_requests_total",
				Help: "Total number of requests passed through the detection middleware",
			},
			[]string{"policy"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botdetect_request_duration_seconds",
				Help:    "End-to-end duration of the orchestrator run for one request",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"policy"},
		),
		DetectorDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botdetect_detector_duration_seconds",
				Help:    "Duration of an individual detector's Contribute call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"detector"},
		),
		DetectorTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_detector_timeouts_total",
				Help: "Total detector invocations that exceeded their allotted timeout",
			},
			[]string{"detector"},
		),
		EarlyExitTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_early_exit_total",
				Help: "Total orchestrator runs that exited a wave early",
			},
			[]string{"reason"}, // verified_good, verified_bad, probable_bot, budget_exhausted
		),
		ActionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_action_total",
				Help: "Total resolved actions by type",
			},
			[]string{"action"}, // allow, throttle, challenge, block
		),
		RiskBandTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_risk_band_total",
				Help: "Total requests by resolved risk band",
			},
			[]string{"band"},
		),
		ReputationLookups: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_reputation_lookups_total",
				Help: "Total pattern reputation store lookups by outcome",
			},
			[]string{"outcome"}, // hit, miss, error
		),
		ReputationStoreErr: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_reputation_store_errors_total",
				Help: "Total reputation backend errors by operation",
			},
			[]string{"op"}, // load, save, scan
		),
		LearningBusDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botdetect_learning_bus_dropped_total",
				Help: "Total learning events dropped due to a full subscriber queue",
			},
		),
		DriftZScore: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "botdetect_drift_z_score",
				Help: "Most recent drift monitor two-sample z-score",
			},
		),
		PolicyReloadTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botdetect_policy_reload_total",
				Help: "Total policy registry reload attempts by outcome",
			},
			[]string{"outcome"}, // ok, error
		),
	}
}

func (m *Metrics) ObserveRequest(policyName string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(policyName).Inc()
	m.RequestDuration.WithLabelValues(policyName).Observe(d.Seconds())
}

func (m *Metrics) ObserveDetector(name string, d time.Duration, timedOut bool) {
	m.DetectorDuration.WithLabelValues(name).Observe(d.Seconds())
	if timedOut {
		m.DetectorTimeouts.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) ObserveEarlyExit(reason string) {
	m.EarlyExitTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAction(action string) {
	m.ActionTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveRiskBand(band string) {
	m.RiskBandTotal.WithLabelValues(band).Inc()
}

func (m *Metrics) ObserveReputationLookup(outcome string) {
	m.ReputationLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReputationStoreError(op string) {
	m.ReputationStoreErr.WithLabelValues(op).Inc()
}

func (m *Metrics) ObservePolicyReload(err error) {
	if err != nil {
		m.PolicyReloadTotal.WithLabelValues("error").Inc()
		return
	}
	m.PolicyReloadTotal.WithLabelValues("ok").Inc()
}

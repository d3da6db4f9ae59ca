package playback

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects playback metrics for Prometheus.
//
// Metrics exposed (all namespaced with "playback_"):
//
//  1. steps_emitted_total (counter): Steps delivered to renderers.
//     Labels: final ("true"/"false").
//  2. transitions_total (counter): RunState transitions.
//     Labels: from, to.
//  3. commands_rejected_total (counter): Commands illegal in the current state.
//     Labels: command, state.
//  4. stale_events_dropped_total (counter): Timer firings, pull results and
//     step deliveries discarded because their run handle was superseded.
//     Labels: kind (timer, pull, delivery).
//  5. pull_latency_ms (histogram): Duration of one pull from the Step Source.
//     Labels: status (success, error, panic, timeout).
//  6. step_delay_ms (gauge): Current SpeedSetting.
//  7. runs_total (counter): Finished runs.
//     Labels: outcome (completed, failed, cancelled, reset).
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := playback.NewPrometheusMetrics(registry)
//	ctrl, _ := playback.New[int](playback.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// All methods are safe for concurrent use.
type PrometheusMetrics struct {
	steps       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	stale       *prometheus.CounterVec
	pullLatency *prometheus.HistogramVec
	stepDelay   prometheus.Gauge
	runs        *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all playback metrics with
// registry. A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.steps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "steps_emitted_total",
		Help:      "Steps delivered to renderers",
	}, []string{"final"})

	pm.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "transitions_total",
		Help:      "Run state transitions performed by the controller",
	}, []string{"from", "to"})

	pm.rejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "commands_rejected_total",
		Help:      "Commands rejected because they are illegal in the current run state",
	}, []string{"command", "state"})

	pm.stale = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "stale_events_dropped_total",
		Help:      "Events discarded because their run handle was superseded",
	}, []string{"kind"}) // kind: timer, pull, delivery

	pm.pullLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "playback",
		Name:      "pull_latency_ms",
		Help:      "Duration of a single pull from the step source in milliseconds",
		Buckets:   []float64{0.1, 1, 5, 10, 50, 100, 500, 1000, 5000},
	}, []string{"status"}) // status: success, error, panic, timeout

	pm.stepDelay = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "playback",
		Name:      "step_delay_ms",
		Help:      "Current delay between automatically advanced steps in milliseconds",
	})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "playback",
		Name:      "runs_total",
		Help:      "Finished runs by outcome",
	}, []string{"outcome"}) // outcome: completed, failed, cancelled, reset

	return pm
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStep counts one delivered step.
func (pm *PrometheusMetrics) RecordStep(final bool) {
	if !pm.isEnabled() {
		return
	}
	pm.steps.WithLabelValues(strconv.FormatBool(final)).Inc()
}

// RecordTransition counts a RunState change.
func (pm *PrometheusMetrics) RecordTransition(from, to RunState) {
	if !pm.isEnabled() {
		return
	}
	pm.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordRejected counts a command rejected in state.
func (pm *PrometheusMetrics) RecordRejected(cmd Command, state RunState) {
	if !pm.isEnabled() {
		return
	}
	pm.rejected.WithLabelValues(cmd.String(), state.String()).Inc()
}

// RecordStale counts a discarded timer firing, pull result or delivery.
func (pm *PrometheusMetrics) RecordStale(kind string) {
	if !pm.isEnabled() {
		return
	}
	pm.stale.WithLabelValues(kind).Inc()
}

// RecordPullLatency observes the duration of one pull.
func (pm *PrometheusMetrics) RecordPullLatency(latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.pullLatency.WithLabelValues(status).Observe(float64(latency) / float64(time.Millisecond))
}

// SetStepDelay records the current SpeedSetting.
func (pm *PrometheusMetrics) SetStepDelay(d time.Duration) {
	if !pm.isEnabled() {
		return
	}
	pm.stepDelay.Set(float64(d.Milliseconds()))
}

// RecordRunOutcome counts a finished run.
func (pm *PrometheusMetrics) RecordRunOutcome(outcome string) {
	if !pm.isEnabled() {
		return
	}
	pm.runs.WithLabelValues(outcome).Inc()
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// pullStatus maps a pull error to the pull_latency_ms status label.
func pullStatus(err error) string {
	if err == nil {
		return "success"
	}
	switch failureCode(err) {
	case CodeSourcePanic:
		return "panic"
	case CodePullTimeout:
		return "timeout"
	default:
		return "error"
	}
}

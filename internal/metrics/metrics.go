// Package metrics exposes Prometheus instruments for the archive daemon.
//
// Labels are limited to the drive device path, lifecycle state names and
// cycle outcomes, so cardinality stays bounded by the number of drives.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "discarchive"

// Metrics owns a private registry so tests and multiple daemons in one
// process never collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal      *prometheus.CounterVec
	committedBytes   prometheus.Counter
	copyDuration     prometheus.Histogram
	copyThroughput   prometheus.Histogram
	driveState       *prometheus.GaugeVec
	driveProgress    *prometheus.GaugeVec
	driveHasDisc     *prometheus.GaugeVec
	pollFailures     prometheus.Counter
	actuatorFailures *prometheus.CounterVec
	notifyFailures   prometheus.Counter
	apiThrottled     prometheus.Counter

	mu         sync.Mutex
	lastStates map[string]string
}

// New registers every instrument plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished insertion cycles, by outcome.",
		}, []string{"outcome"}),
		committedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_bytes_total",
			Help:      "Bytes written to committed images.",
		}),
		copyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "copy_duration_seconds",
			Help:      "Wall time of successful device copies.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 10),
		}),
		copyThroughput: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "copy_throughput_bytes_per_second",
			Help:      "Average read rate of successful device copies.",
			Buckets:   prometheus.ExponentialBuckets(256*1024, 2, 10),
		}),
		driveState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drive_state",
			Help:      "1 for the current lifecycle state of each drive.",
		}, []string{"drive", "state"}),
		driveProgress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drive_progress_ratio",
			Help:      "Completion of the copy in progress, 0 to 1.",
		}, []string{"drive"}),
		driveHasDisc: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drive_has_disc",
			Help:      "1 when the last presence poll saw media in the drive.",
		}, []string{"drive"}),
		pollFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_poll_failures_total",
			Help:      "Presence polls that could not run or parse.",
		}),
		actuatorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_failures_total",
			Help:      "Eject or close requests that did not succeed, by action.",
		}, []string{"action"}),
		notifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Push notifications that could not be delivered.",
		}),
		apiThrottled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_throttled_total",
			Help:      "HTTP API requests rejected by the per-client rate limit.",
		}),
		lastStates: make(map[string]string),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// CycleFinished counts a cycle outcome.
func (m *Metrics) CycleFinished(outcome string) {
	m.cyclesTotal.WithLabelValues(outcome).Inc()
}

// ImageCommitted records the size and copy time of a committed image.
func (m *Metrics) ImageCommitted(bytes int64, copyTime time.Duration) {
	m.committedBytes.Add(float64(bytes))
	if copyTime <= 0 {
		return
	}
	m.copyDuration.Observe(copyTime.Seconds())
	m.copyThroughput.Observe(float64(bytes) / copyTime.Seconds())
}

// SetDriveState moves the drive's one-hot state gauge to state.
func (m *Metrics) SetDriveState(drive, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.lastStates[drive]; ok {
		if prev == state {
			return
		}
		m.driveState.WithLabelValues(drive, prev).Set(0)
	}
	m.driveState.WithLabelValues(drive, state).Set(1)
	m.lastStates[drive] = state
}

// SetDriveProgress publishes a 0 to 1 completion ratio.
func (m *Metrics) SetDriveProgress(drive string, ratio float64) {
	m.driveProgress.WithLabelValues(drive).Set(ratio)
}

// SetHasDisc publishes the presence flag.
func (m *Metrics) SetHasDisc(drive string, present bool) {
	value := 0.0
	if present {
		value = 1
	}
	m.driveHasDisc.WithLabelValues(drive).Set(value)
}

// PollFailed counts a failed presence poll.
func (m *Metrics) PollFailed() { m.pollFailures.Inc() }

// ActuatorFailed counts an eject or close that did not succeed.
func (m *Metrics) ActuatorFailed(action string) {
	m.actuatorFailures.WithLabelValues(action).Inc()
}

// NotificationFailed counts an undelivered notification.
func (m *Metrics) NotificationFailed() { m.notifyFailures.Inc() }

// APIThrottled counts a request rejected with 429.
func (m *Metrics) APIThrottled() { m.apiThrottled.Inc() }

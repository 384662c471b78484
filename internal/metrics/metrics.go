// Package metrics holds the Prometheus collectors of the receiver. All methods
// are safe on a nil *Metrics, which disables collection.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remote_haptics"

// Metrics groups protocol, recording and output collectors.
type Metrics struct {
	registry *prometheus.Registry

	commands       *prometheus.CounterVec // by command
	invalid        *prometheus.CounterVec // by reason
	pacedAcks      prometheus.Counter
	activeSessions prometheus.Gauge
	sessions       *prometheus.CounterVec // by session type

	recordingsOpen   prometheus.Gauge
	recordingEntries prometheus.Counter
	archiveJobs      *prometheus.CounterVec // by status

	hapticsChannels prometheus.Gauge
	outputLevel     *prometheus.GaugeVec // by device, motor
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "commands_total",
			Help:      "Commands received from senders",
		}, []string{"command"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "invalid_requests_total",
			Help:      "Commands answered with INVALID_REQUEST",
		}, []string{"reason"}), // reason: unknown, malformed
		pacedAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "paced_acks_total",
			Help:      "Haptics acknowledgements delayed by rate pacing",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "active_sessions",
			Help:      "Currently connected senders",
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "session_types_total",
			Help:      "Session type announcements",
		}, []string{"type"}),

		recordingsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "open",
			Help:      "Recordings currently being written",
		}),
		recordingEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "appends_total",
			Help:      "Intensity vectors passed to the recording writer",
		}),
		archiveJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recording",
			Name:      "archive_jobs_total",
			Help:      "Recording archive jobs by outcome",
		}, []string{"status"}), // status: queued, uploaded, failed

		hapticsChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "haptics_channels",
			Help:      "Length of the last received intensity vector",
		}),
		outputLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "level",
			Help:      "Last level applied to an output motor",
		}, []string{"device", "motor"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.commands, m.invalid, m.pacedAcks, m.activeSessions, m.sessions,
		m.recordingsOpen, m.recordingEntries, m.archiveJobs,
		m.hapticsChannels, m.outputLevel,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) InvalidRequest(reason string) {
	if m == nil {
		return
	}
	m.invalid.WithLabelValues(reason).Inc()
}

func (m *Metrics) PacedAck() {
	if m == nil {
		return
	}
	m.pacedAcks.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) SessionType(t string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(t).Inc()
}

func (m *Metrics) RecordingOpened() {
	if m == nil {
		return
	}
	m.recordingsOpen.Inc()
}

func (m *Metrics) RecordingClosed() {
	if m == nil {
		return
	}
	m.recordingsOpen.Dec()
}

func (m *Metrics) RecordingAppend() {
	if m == nil {
		return
	}
	m.recordingEntries.Inc()
}

func (m *Metrics) ArchiveJob(status string) {
	if m == nil {
		return
	}
	m.archiveJobs.WithLabelValues(status).Inc()
}

// Haptics records the length of the last intensity vector; nil clears it.
func (m *Metrics) Haptics(values []float64) {
	if m == nil {
		return
	}
	m.hapticsChannels.Set(float64(len(values)))
}

func (m *Metrics) OutputLevel(device string, strong, weak float64) {
	if m == nil {
		return
	}
	m.outputLevel.WithLabelValues(device, "strong").Set(strong)
	m.outputLevel.WithLabelValues(device, "weak").Set(weak)
}

// Package metrics exposes the bridge's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the bridge updates.
type Metrics struct {
	framesTotal       *prometheus.CounterVec
	decodeErrorsTotal prometheus.Counter
	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	relayPostsTotal   *prometheus.CounterVec
	sitlKillsTotal    *prometheus.CounterVec
	snapshotSequence  prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. When reg also
// implements prometheus.Gatherer, Handler serves from it.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uavapi_link_frames_total",
				Help: "Frames received from the vehicle link, by message type.",
			},
			[]string{"type"},
		),
		decodeErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uavapi_link_decode_errors_total",
			Help: "Frames skipped because they could not be decoded.",
		}),
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uavapi_commands_total",
				Help: "Gateway commands by command and outcome status.",
			},
			[]string{"command", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "uavapi_command_duration_seconds",
				Help:    "Gateway command latency including waits.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
			},
			[]string{"command"},
		),
		relayPostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uavapi_relay_posts_total",
				Help: "Ground-station relay posts by result.",
			},
			[]string{"result"},
		),
		sitlKillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uavapi_sitl_teardown_processes_total",
				Help: "Simulator processes handled during teardown, by result.",
			},
			[]string{"result"},
		),
		snapshotSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "uavapi_telemetry_sequence",
			Help: "Sequence number of the latest telemetry snapshot.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uavapi_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "code"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.framesTotal,
		m.decodeErrorsTotal,
		m.commandsTotal,
		m.commandDuration,
		m.relayPostsTotal,
		m.sitlKillsTotal,
		m.snapshotSequence,
		m.httpRequestsTotal,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// FrameReceived counts one decoded frame of the given message type.
func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(msgType).Inc()
}

// DecodeError counts one undecodable frame.
func (m *Metrics) DecodeError() {
	if m == nil {
		return
	}
	m.decodeErrorsTotal.Inc()
}

// CommandCompleted records a gateway outcome.
func (m *Metrics) CommandCompleted(command, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command).Observe(latency.Seconds())
}

// RelayPost records a relay attempt; result is "ok" or "error".
func (m *Metrics) RelayPost(result string) {
	if m == nil {
		return
	}
	m.relayPostsTotal.WithLabelValues(result).Inc()
}

// TeardownProcess records one process handled by the supervisor; result is
// "killed", "skipped" or "failed".
func (m *Metrics) TeardownProcess(result string) {
	if m == nil {
		return
	}
	m.sitlKillsTotal.WithLabelValues(result).Inc()
}

// SnapshotSequence publishes the store sequence.
func (m *Metrics) SnapshotSequence(seq uint64) {
	if m == nil {
		return
	}
	m.snapshotSequence.Set(float64(seq))
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE streams keep working.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware counts requests by method and status code.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
	})
}

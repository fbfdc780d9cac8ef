// Package metrics exposes Prometheus metrics for the media server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the media server.
type Metrics struct {
	registry         *prometheus.Registry
	connectionsTotal prometheus.Counter
	activeClients    prometheus.Gauge
	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	clientMessages   *prometheus.CounterVec
	serverErrors     *prometheus.CounterVec
	bufferSeconds    *prometheus.HistogramVec
	telemetryDropped prometheus.Counter
}

// New creates and registers the media server metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	connectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tvstream_connections_total",
		Help: "Total number of accepted websocket connections",
	})
	activeClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tvstream_active_clients",
		Help: "Number of connected clients",
	})
	messagesSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvstream_server_messages_total",
		Help: "Server messages sent, by message type",
	}, []string{"type"})
	bytesSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvstream_media_bytes_total",
		Help: "Media payload bytes sent, by track",
	}, []string{"track"})
	clientMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvstream_client_messages_total",
		Help: "Client messages received, by message type",
	}, []string{"type"})
	serverErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tvstream_server_errors_total",
		Help: "server-error messages sent, by error type",
	}, []string{"error_type"})
	bufferSeconds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tvstream_client_buffer_seconds",
		Help:    "Client-reported buffer length, by track",
		Buckets: []float64{0, 0.5, 1, 2, 5, 10, 15, 30, 60},
	}, []string{"track"})
	telemetryDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tvstream_telemetry_dropped_total",
		Help: "Client events dropped because the telemetry queue was full",
	})

	registry.MustRegister(
		connectionsTotal,
		activeClients,
		messagesSent,
		bytesSent,
		clientMessages,
		serverErrors,
		bufferSeconds,
		telemetryDropped,
	)

	return &Metrics{
		registry:         registry,
		connectionsTotal: connectionsTotal,
		activeClients:    activeClients,
		messagesSent:     messagesSent,
		bytesSent:        bytesSent,
		clientMessages:   clientMessages,
		serverErrors:     serverErrors,
		bufferSeconds:    bufferSeconds,
		telemetryDropped: telemetryDropped,
	}
}

// IncConnections increments the accepted connections counter.
func (m *Metrics) IncConnections() {
	m.connectionsTotal.Inc()
}

// SetActiveClients sets the connected clients gauge.
func (m *Metrics) SetActiveClients(n int) {
	m.activeClients.Set(float64(n))
}

// IncMessagesSent counts a server message of the given type.
func (m *Metrics) IncMessagesSent(kind string) {
	m.messagesSent.WithLabelValues(kind).Inc()
}

// AddBytesSent counts media payload bytes for a track.
func (m *Metrics) AddBytesSent(track string, n int) {
	m.bytesSent.WithLabelValues(track).Add(float64(n))
}

// IncClientMessages counts a client message of the given type.
func (m *Metrics) IncClientMessages(kind string) {
	m.clientMessages.WithLabelValues(kind).Inc()
}

// IncServerErrors counts a server-error message of the given error type.
func (m *Metrics) IncServerErrors(errorType string) {
	m.serverErrors.WithLabelValues(errorType).Inc()
}

// ObserveBuffer records a client-reported buffer length.
func (m *Metrics) ObserveBuffer(track string, seconds float64) {
	m.bufferSeconds.WithLabelValues(track).Observe(seconds)
}

// IncTelemetryDropped counts a dropped telemetry event.
func (m *Metrics) IncTelemetryDropped() {
	m.telemetryDropped.Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

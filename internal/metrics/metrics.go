// Package metrics holds the Prometheus collectors exported by the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portal"

// Rejection reasons reported by the accept loop.
const (
	RejectRateLimited = "rate_limited"
	RejectPoolFull    = "pool_full"
	RejectShutdown    = "shutdown"
)

// Metrics groups the proxy collectors. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	activeConnections   prometheus.Gauge
	acceptedConnections prometheus.Counter
	rejectedConnections *prometheus.CounterVec
	packetsDecoded      *prometheus.CounterVec
	decodeErrors        *prometheus.CounterVec
	transfers           prometheus.Counter
	cookieRequests      *prometheus.CounterVec
	builtResolutions    *prometheus.CounterVec
	connectionDuration  prometheus.Histogram
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of client connections currently being served",
		}),

		acceptedConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accepted_connections_total",
			Help:      "Total number of accepted client connections",
		}),

		rejectedConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Total number of sockets closed by the accept loop",
		}, []string{"reason"}),

		packetsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_decoded_total",
			Help:      "Total number of serverbound packets decoded",
		}, []string{"state"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of fatal decode errors by kind",
		}, []string{"kind"}),

		transfers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total number of clients transferred to another address",
		}),

		cookieRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cookie_requests_total",
			Help:      "Total number of cookie requests sent to clients",
		}, []string{"state"}),

		builtResolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "built_packet_resolutions_total",
			Help:      "Prebuilt packet lookups by outcome",
		}, []string{"outcome"}),

		connectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of client connections in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 1800},
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.acceptedConnections.Inc()
	m.activeConnections.Inc()
}

// ConnectionClosed records the end of a connection that lived for seconds.
func (m *Metrics) ConnectionClosed(seconds float64) {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
	m.connectionDuration.Observe(seconds)
}

func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedConnections.WithLabelValues(reason).Inc()
}

func (m *Metrics) PacketDecoded(state string) {
	if m == nil {
		return
	}
	m.packetsDecoded.WithLabelValues(state).Inc()
}

func (m *Metrics) DecodeError(kind string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) Transfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

func (m *Metrics) CookieRequest(state string) {
	if m == nil {
		return
	}
	m.cookieRequests.WithLabelValues(state).Inc()
}

// BuiltResolution counts one prebuilt packet lookup. It matches the observer
// signature of protocol.ProtocolizedBuiltPacket.
func (m *Metrics) BuiltResolution(outcome string) {
	if m == nil {
		return
	}
	m.builtResolutions.WithLabelValues(outcome).Inc()
}

// Package metrics exposes the server's Prometheus counters: connection and
// request volume, bytes moved in each direction, and parser failures by
// kind. Every counter is optional — wiring a nil *Metrics into the
// connection handler or the server registry simply skips the Inc/Add call, so metrics
// collection never sits on the required request path.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters a running server updates. Construct one with
// New and register it with a prometheus.Registerer (or leave nil to disable
// metrics collection entirely).
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsClosed   prometheus.Counter
	ConnectionsActive   prometheus.Gauge

	RequestsHandled prometheus.Counter
	BytesRead       prometheus.Counter
	BytesWritten    prometheus.Counter

	ParserFailures *prometheus.CounterVec // labeled by error kind
}

// New constructs a Metrics bundle with the given namespace (e.g.
// "kourier") and registers every collector with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_accepted_total",
			Help: "Total TCP connections accepted.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_closed_total",
			Help: "Total TCP connections closed.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_active",
			Help: "Currently open TCP connections.",
		}),
		RequestsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_handled_total",
			Help: "Total HTTP requests routed to a handler.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "bytes_read_total",
			Help: "Total bytes read from client sockets.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "bytes_written_total",
			Help: "Total bytes written to client sockets.",
		}),
		ParserFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "parser_failures_total",
			Help: "Total requests rejected by the parser, labeled by error kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.ConnectionsAccepted, m.ConnectionsClosed, m.ConnectionsActive,
		m.RequestsHandled, m.BytesRead, m.BytesWritten, m.ParserFailures,
	)
	return m
}

// ObserveAccept records a newly accepted connection.
func (m *Metrics) ObserveAccept() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
	m.ConnectionsActive.Inc()
}

// ObserveClose records a connection tearing down.
func (m *Metrics) ObserveClose() {
	if m == nil {
		return
	}
	m.ConnectionsClosed.Inc()
	m.ConnectionsActive.Dec()
}

// ObserveRequest records one request reaching a route handler.
func (m *Metrics) ObserveRequest() {
	if m == nil {
		return
	}
	m.RequestsHandled.Inc()
}

// ObserveRead/ObserveWrite record socket-level byte counts.
func (m *Metrics) ObserveRead(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRead.Add(float64(n))
}

func (m *Metrics) ObserveWrite(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesWritten.Add(float64(n))
}

// ObserveParserFailure records one request rejected with the given error
// kind label (e.g. "MalformedRequest", "TooBigRequest", "RequestTimeout").
func (m *Metrics) ObserveParserFailure(kind string) {
	if m == nil {
		return
	}
	m.ParserFailures.WithLabelValues(kind).Inc()
}

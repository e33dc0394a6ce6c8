package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the server's counters. They are not registered with
// any registry here; the embedding application wires Collector() into
// its own.
type metrics struct {
	clientsConnected    prometheus.Counter
	clientsDisconnected prometheus.Counter
	messagesDispatched  prometheus.Counter
	dispatchMisses      prometheus.Counter
	broadcastSends      prometheus.Counter
}

func newMetrics() *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wirelink",
			Subsystem: "server",
			Name:      name,
			Help:      help,
		})
	}
	return &metrics{
		clientsConnected:    counter("clients_connected_total", "Clients accepted or synthesized."),
		clientsDisconnected: counter("clients_disconnected_total", "Clients destroyed."),
		messagesDispatched:  counter("messages_dispatched_total", "Frames handed to a dispatch path."),
		dispatchMisses:      counter("dispatch_misses_total", "Frames with no registered handler."),
		broadcastSends:      counter("broadcast_sends_total", "Per-client broadcast deliveries."),
	}
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.clientsConnected.Describe(ch)
	m.clientsDisconnected.Describe(ch)
	m.messagesDispatched.Describe(ch)
	m.dispatchMisses.Describe(ch)
	m.broadcastSends.Describe(ch)
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.clientsConnected.Collect(ch)
	m.clientsDisconnected.Collect(ch)
	m.messagesDispatched.Collect(ch)
	m.dispatchMisses.Collect(ch)
	m.broadcastSends.Collect(ch)
}

// Collector exposes the server's counters for registration with the
// application's prometheus registry.
func (s *Server) Collector() prometheus.Collector {
	return s.metrics
}

var _ prometheus.Collector = (*metrics)(nil)

package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-voicebridge/pkg/session"
)

// Metrics holds the Prometheus collectors for the bridge. It implements
// session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	SessionDuration    prometheus.Histogram
	TurnsTotal         prometheus.Counter
	CancellationsTotal *prometheus.CounterVec
	ToolCallsTotal     *prometheus.CounterVec
	UtterancesTotal    *prometheus.CounterVec

	// tools bounds the tool label; the model may name anything.
	tools map[string]struct{}
}

// unknownTool labels calls to names outside the registered tool set.
const unknownTool = "unknown"

// NewMetrics registers every collector on a private registry. tools lists
// the names allowed in the tool label.
func NewMetrics(namespace string, tools []string) *Metrics {
	if namespace == "" {
		namespace = "voicebridge"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		tools:    make(map[string]struct{}, len(tools)),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of open client connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total client connections accepted",
		}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Client session duration in seconds",
			Buckets:   []float64{5, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		TurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Assistant turns requested upstream",
		}),
		CancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_cancellations_total",
			Help:      "Assistant turns cancelled, by reason",
		}, []string{"reason"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Completed tool calls, by tool and status",
		}, []string{"tool", "status"}),
		UtterancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_total",
			Help:      "Segmented user utterances, by outcome",
		}, []string{"outcome"}),
	}

	for _, name := range tools {
		m.tools[name] = struct{}{}
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ConnectionsActive,
		m.ConnectionsTotal,
		m.SessionDuration,
		m.TurnsTotal,
		m.CancellationsTotal,
		m.ToolCallsTotal,
		m.UtterancesTotal,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records a new client connection.
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnectionClosed records a connection ending after d.
func (m *Metrics) ConnectionClosed(d time.Duration) {
	m.ConnectionsActive.Dec()
	m.SessionDuration.Observe(d.Seconds())
}

func (m *Metrics) TurnStarted() {
	m.TurnsTotal.Inc()
}

func (m *Metrics) TurnCancelled(reason string) {
	m.CancellationsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ToolCalled(name, status string) {
	if _, ok := m.tools[name]; !ok {
		name = unknownTool
	}
	m.ToolCallsTotal.WithLabelValues(name, status).Inc()
}

func (m *Metrics) UtteranceProcessed(outcome string) {
	m.UtterancesTotal.WithLabelValues(outcome).Inc()
}

var _ session.Observer = (*Metrics)(nil)

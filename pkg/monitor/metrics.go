package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments on a dedicated registry
type Metrics struct {
	Registry *prometheus.Registry

	PositionsTotal   *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	IncidentsTotal   *prometheus.CounterVec
	MessagesTotal    *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	SafetyScore      prometheus.Gauge
}

// NewMetrics creates and registers the engine instruments
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	positionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardline_positions_total",
			Help: "Total position samples processed",
		},
		[]string{"status"},
	)

	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardline_zone_transitions_total",
			Help: "Total zone boundary crossings",
		},
		[]string{"direction"},
	)

	incidentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardline_incidents_total",
			Help: "Total incident state transitions",
		},
		[]string{"state"},
	)

	messagesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guardline_messages_total",
			Help: "Total outbound messages by delivery state",
		},
		[]string{"delivery_state"},
	)

	queueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardline_offline_queue_depth",
			Help: "Messages waiting in the offline queue",
		},
	)

	safetyScore := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "guardline_safety_score",
			Help: "Latest composite safety score",
		},
	)

	registry.MustRegister(positionsTotal, transitionsTotal, incidentsTotal,
		messagesTotal, queueDepth, safetyScore)

	return &Metrics{
		Registry:         registry,
		PositionsTotal:   positionsTotal,
		TransitionsTotal: transitionsTotal,
		IncidentsTotal:   incidentsTotal,
		MessagesTotal:    messagesTotal,
		QueueDepth:       queueDepth,
		SafetyScore:      safetyScore,
	}
}

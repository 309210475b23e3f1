// Package prometheus is the Prometheus-backed implementation of
// metrics.BrokerMetrics, grounded on dittofs/pkg/metrics/prometheus's use of
// promauto.With(registry) to bind every collector to an explicit registry
// rather than the global default.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xrbroker/xrbrokerd/internal/metrics"
)

type brokerMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestsInFlight *prometheus.GaugeVec
	clientsConnected prometheus.Gauge
	slotRotations    prometheus.Counter
	handleOccupancy  *prometheus.GaugeVec
}

// New creates a Prometheus-backed BrokerMetrics registered against reg.
func New(reg *prometheus.Registry) metrics.BrokerMetrics {
	return &brokerMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xrbrokerd_requests_total",
				Help: "Total number of dispatched requests by operation and result code.",
			},
			[]string{"op", "result"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xrbrokerd_requests_in_flight",
				Help: "Number of requests currently being handled, by operation.",
			},
			[]string{"op"},
		),
		clientsConnected: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "xrbrokerd_clients_connected",
				Help: "Number of currently connected clients.",
			},
		),
		slotRotations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "xrbrokerd_slot_rotations_total",
				Help: "Total number of current_slot_index advances.",
			},
		),
		handleOccupancy: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "xrbrokerd_handle_table_occupancy",
				Help: "In-use handle-table slots by resource class.",
			},
			[]string{"resource"},
		),
	}
}

func (m *brokerMetrics) RequestStarted(op string) {
	m.requestsInFlight.WithLabelValues(op).Inc()
}

func (m *brokerMetrics) RequestFinished(op string, resultCode string) {
	m.requestsInFlight.WithLabelValues(op).Dec()
	m.requestsTotal.WithLabelValues(op, resultCode).Inc()
}

func (m *brokerMetrics) ClientConnected() {
	m.clientsConnected.Inc()
}

func (m *brokerMetrics) ClientDisconnected() {
	m.clientsConnected.Dec()
}

func (m *brokerMetrics) SlotRotated() {
	m.slotRotations.Inc()
}

func (m *brokerMetrics) HandleTableOccupancy(resource string, inUse, capacity int) {
	_ = capacity
	m.handleOccupancy.WithLabelValues(resource).Set(float64(inUse))
}

package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor exports the transitions of the coordinator as prometheus metrics. Every Monitor owns its registry, so
// several monitors (e.g. one per test) never collide.
type Monitor struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	activeRooms     prometheus.Gauge
	roomsCreated    prometheus.Counter
	queueLength     *prometheus.GaugeVec
	waitDuration    *prometheus.HistogramVec
	serviceInterval prometheus.Histogram
}

func NewMonitor() *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Monitor{
		registry: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "queue_operations_total",
				Help: "Total inbound events by outcome",
			},
			[]string{"operation", "status"},
		),
		activeRooms: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "queue_active_rooms",
				Help: "Current number of live rooms",
			},
		),
		roomsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "queue_rooms_created_total",
				Help: "Total rooms created",
			},
		),
		queueLength: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_length",
				Help: "Current queue length per room",
			},
			[]string{"room_id"},
		),
		waitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "queue_wait_duration_seconds",
				Help:    "Time participants spent in the queue, by how the wait ended",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"kind"},
		),
		serviceInterval: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "queue_service_interval_seconds",
				Help:    "Time between consecutive check-ins of a room",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics of this monitor in the prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Track queue operations
func (m *Monitor) Operation(operation, status string) {
	m.operations.WithLabelValues(operation, status).Inc()
}

func (m *Monitor) RoomOpened(string) {
	m.activeRooms.Inc()
	m.roomsCreated.Inc()
}

func (m *Monitor) RoomClosed(roomId string) {
	m.activeRooms.Dec()
	m.queueLength.DeleteLabelValues(roomId)
}

func (m *Monitor) QueueLength(roomId string, n int) {
	m.queueLength.WithLabelValues(roomId).Set(float64(n))
}

func (m *Monitor) Departure(kind string, wait time.Duration) {
	m.waitDuration.WithLabelValues(kind).Observe(wait.Seconds())
}

func (m *Monitor) ServiceGap(gap time.Duration) {
	m.serviceInterval.Observe(gap.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared across the service.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	HookDeliveries  *prometheus.CounterVec
	MetricEvents    *prometheus.CounterVec
	MetricLast      *prometheus.GaugeVec
	OptOutsApplied  *prometheus.CounterVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identitystore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		HookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identitystore_hook_deliveries_total",
			Help: "Webhook delivery attempts by event and outcome",
		}, []string{"event", "outcome"}),
		MetricEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identitystore_metric_events_total",
			Help: "Realtime metric increments by metric name",
		}, []string{"name"}),
		MetricLast: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "identitystore_metric_last",
			Help: "Last value of scheduled metrics by metric name",
		}, []string{"name"}),
		OptOutsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identitystore_optouts_applied_total",
			Help: "Opt-outs applied by kind",
		}, []string{"kind"}),
	}
}

// ObserveRequest records one HTTP request. Call with time.Now() taken at the
// start of the request.
func (m *Metrics) ObserveRequest(method, route, status string, start time.Time) {
	m.RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncHookDelivery(event, outcome string) {
	m.HookDeliveries.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) AddMetricEvent(name string, value float64) {
	m.MetricEvents.WithLabelValues(name).Add(value)
}

func (m *Metrics) SetMetricLast(name string, value float64) {
	m.MetricLast.WithLabelValues(name).Set(value)
}

func (m *Metrics) IncOptOutApplied(kind string) {
	m.OptOutsApplied.WithLabelValues(kind).Inc()
}

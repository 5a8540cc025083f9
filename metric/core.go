package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all gateway-level metrics (not endpoint-specific)
type Metrics struct {
	// Call metrics
	CallsTotal    *prometheus.CounterVec
	CallDuration  *prometheus.HistogramVec
	CallsInFlight *prometheus.GaugeVec

	// Registration metrics
	SpecsRegistered     *prometheus.CounterVec
	EndpointsRegistered *prometheus.GaugeVec

	// Adapter metrics
	ActiveConnections   *prometheus.GaugeVec
	ActiveSubscriptions *prometheus.GaugeVec

	// Auth metrics
	AuthFlows *prometheus.CounterVec

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "specgate",
				Subsystem: "calls",
				Name:      "total",
				Help:      "Total number of endpoint calls",
			},
			[]string{"family", "protocol", "operation", "status"},
		),

		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "specgate",
				Subsystem: "calls",
				Name:      "duration_seconds",
				Help:      "Endpoint call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"family", "protocol"},
		),

		CallsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "specgate",
				Subsystem: "calls",
				Name:      "in_flight",
				Help:      "Number of endpoint calls currently executing",
			},
			[]string{"protocol"},
		),

		SpecsRegistered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "specgate",
				Subsystem: "specs",
				Name:      "registered_total",
				Help:      "Total number of specification registrations",
			},
			[]string{"family", "status"},
		),

		EndpointsRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "specgate",
				Subsystem: "endpoints",
				Name:      "registered",
				Help:      "Number of endpoints currently registered",
			},
			[]string{"family"},
		),

		ActiveConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "specgate",
				Subsystem: "adapter",
				Name:      "connections",
				Help:      "Number of open broker connections per protocol",
			},
			[]string{"protocol"},
		),

		ActiveSubscriptions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "specgate",
				Subsystem: "adapter",
				Name:      "subscriptions",
				Help:      "Number of active subscriptions per protocol",
			},
			[]string{"protocol"},
		),

		AuthFlows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "specgate",
				Subsystem: "auth",
				Name:      "flows_total",
				Help:      "Total number of authorization flow events",
			},
			[]string{"scheme", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "specgate",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "kind"},
		),
	}
}

// RecordCall increments the call counter
func (c *Metrics) RecordCall(family, protocol, operation, status string) {
	c.CallsTotal.WithLabelValues(family, protocol, operation, status).Inc()
}

// RecordCallDuration records how long a call took
func (c *Metrics) RecordCallDuration(family, protocol string, duration time.Duration) {
	c.CallDuration.WithLabelValues(family, protocol).Observe(duration.Seconds())
}

// CallStarted increments the in-flight gauge for a protocol
func (c *Metrics) CallStarted(protocol string) {
	c.CallsInFlight.WithLabelValues(protocol).Inc()
}

// CallFinished decrements the in-flight gauge for a protocol
func (c *Metrics) CallFinished(protocol string) {
	c.CallsInFlight.WithLabelValues(protocol).Dec()
}

// RecordSpecRegistration increments the registration counter
func (c *Metrics) RecordSpecRegistration(family, status string) {
	c.SpecsRegistered.WithLabelValues(family, status).Inc()
}

// SetEndpointsRegistered updates the registered endpoint gauge
func (c *Metrics) SetEndpointsRegistered(family string, count int) {
	c.EndpointsRegistered.WithLabelValues(family).Set(float64(count))
}

// ConnectionOpened increments the connection gauge
func (c *Metrics) ConnectionOpened(protocol string) {
	c.ActiveConnections.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the connection gauge
func (c *Metrics) ConnectionClosed(protocol string) {
	c.ActiveConnections.WithLabelValues(protocol).Dec()
}

// SubscriptionAdded increments the subscription gauge
func (c *Metrics) SubscriptionAdded(protocol string) {
	c.ActiveSubscriptions.WithLabelValues(protocol).Inc()
}

// SubscriptionRemoved decrements the subscription gauge
func (c *Metrics) SubscriptionRemoved(protocol string) {
	c.ActiveSubscriptions.WithLabelValues(protocol).Dec()
}

// RecordAuthFlow increments the auth flow counter
func (c *Metrics) RecordAuthFlow(scheme, status string) {
	c.AuthFlows.WithLabelValues(scheme, status).Inc()
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, kind string) {
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

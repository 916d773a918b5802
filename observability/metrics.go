package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for PayBridge, backed by any go-utils
// MetricFactory. Pass metrics.NewMetricsCollector() for standalone usage.
type Metrics struct {
	EventsReceivedTotal gu.Counter
	EventsProcessed     gu.Counter
	DeliveriesTotal     gu.Counter
	DeliveryLatency     gu.Histogram
	DLQSize             gu.Gauge
	PendingDeliveries   gu.Gauge
}

// NewMetrics creates PayBridge metric instruments using the supplied factory.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		EventsReceivedTotal: factory.Counter("paybridge_events_received_total"),
		EventsProcessed:     factory.Counter("paybridge_events_processed_total"),
		DeliveriesTotal:     factory.Counter("paybridge_deliveries_total"),
		DeliveryLatency:     factory.Histogram("paybridge_delivery_latency_seconds"),
		DLQSize:             factory.Gauge("paybridge_dlq_size"),
		PendingDeliveries:   factory.Gauge("paybridge_pending_deliveries"),
	}
}

// RecordReceived records an inbound webhook with the given provider and outcome.
func (m *Metrics) RecordReceived(provider, outcome string) {
	m.EventsReceivedTotal.WithLabels(map[string]string{
		"provider": provider,
		"outcome":  outcome,
	}).Inc()
}

// RecordProcessed records an event processing outcome.
func (m *Metrics) RecordProcessed(status string) {
	m.EventsProcessed.WithLabels(map[string]string{"status": status}).Inc()
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabels(map[string]string{"status": status}).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// Package metrics exports Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	eventbus "github.com/hanpama/gqlink/internal/eventbus"
	events "github.com/hanpama/gqlink/internal/events"
)

// Metrics holds the collectors for link traffic.
type Metrics struct {
	TransportRequests *prometheus.CounterVec
	TransportDuration *prometheus.HistogramVec
	TransportResults  *prometheus.CounterVec
	LinkErrors        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TransportRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlink_transport_requests_total",
				Help: "Operations handled by a terminating link, by outcome",
			},
			[]string{"transport", "operation_type", "outcome"},
		),
		TransportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gqlink_transport_duration_seconds",
				Help:    "Time from sending an operation until the transport finished with it",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport", "operation_type"},
		),
		TransportResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlink_transport_results_total",
				Help: "Results delivered by terminating links",
			},
			[]string{"transport", "operation_type"},
		),
		LinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gqlink_link_errors_total",
				Help: "Errors intercepted by the error link, by kind",
			},
			[]string{"kind", "operation_type"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.TransportRequests, m.TransportDuration, m.TransportResults, m.LinkErrors} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("metrics: register: %w", err)
			}
		}
	}
	return m, nil
}

// Register subscribes m to link events on the global bus.
func (m *Metrics) Register() (unregister func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(_ context.Context, e events.TransportFinish) {
			m.TransportRequests.WithLabelValues(e.Transport, e.OperationType, outcome(e)).Inc()
			m.TransportDuration.WithLabelValues(e.Transport, e.OperationType).Observe(e.Duration.Seconds())
			if e.Results > 0 {
				m.TransportResults.WithLabelValues(e.Transport, e.OperationType).Add(float64(e.Results))
			}
		}),
		eventbus.Subscribe(func(_ context.Context, e events.GraphQLErrors) {
			m.LinkErrors.WithLabelValues("graphql", e.OperationType).Inc()
		}),
		eventbus.Subscribe(func(_ context.Context, e events.NetworkError) {
			m.LinkErrors.WithLabelValues("network", e.OperationType).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func outcome(e events.TransportFinish) string {
	switch {
	case e.Cancelled:
		return "cancelled"
	case e.Err != nil:
		return "error"
	default:
		return "ok"
	}
}

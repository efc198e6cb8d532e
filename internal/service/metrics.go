package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the payment collectors. A nil *Metrics records nothing.
type Metrics struct {
	initiations     *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		initiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_initiations_total",
				Help: "Payment initiation attempts by gateway and outcome.",
			},
			[]string{"gateway", "outcome"},
		),
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_callbacks_total",
				Help: "Inbound provider notifications by gateway and disposition.",
			},
			[]string{"gateway", "result"},
		),
		gatewayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_request_duration_seconds",
				Help:    "Duration of outbound provider calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"gateway"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.initiations, m.callbacks, m.gatewayDuration)
	}
	return m
}

func (m *Metrics) initiation(gateway, outcome string) {
	if m == nil {
		return
	}
	m.initiations.WithLabelValues(gateway, outcome).Inc()
}

func (m *Metrics) callback(gateway, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) observeGateway(gateway string, started time.Time) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(gateway).Observe(time.Since(started).Seconds())
}

package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrpay_state_transitions_total",
		Help: "QR payment state transitions, labeled by source and target state",
	}, []string{"from", "to"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrpay_outcomes_total",
		Help: "QR payments that reached a terminal state",
	}, []string{"state"})

	gatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrpay_gateway_requests_total",
		Help: "Calls to the payment gateway, labeled by endpoint and result",
	}, []string{"endpoint", "result"})

	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qrpay_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})
)

func observeGatewayCall(endpoint string, start time.Time, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	gatewayRequestsTotal.WithLabelValues(endpoint, result).Inc()
	gatewayLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func observeTransition(from, to State) {
	stateTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	if to.IsTerminal() {
		outcomesTotal.WithLabelValues(to.String()).Inc()
	}
}

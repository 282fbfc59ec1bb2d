package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the presentation shell. Extra handlers, such as client
// metrics, are mounted by path next to the payment routes.
func NewRouter(h *PaymentHandlers, extra map[string]http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	for path, handler := range extra {
		r.Handle(path, handler)
	}

	app := r.NewRoute().Subrouter()
	app.Use(SessionMiddleware)
	app.HandleFunc("/", h.PaymentPageHandler).Methods(http.MethodGet)
	app.HandleFunc("/payments/qr", h.GenerateQRCodeHandler).Methods(http.MethodPost)
	app.HandleFunc("/payments/cancel", h.CancelTransactionHandler).Methods(http.MethodPost)
	app.HandleFunc("/payments/status", h.PaymentStatusHandler).Methods(http.MethodGet)
	app.HandleFunc("/api/payments/current", h.CurrentPaymentHandler).Methods(http.MethodGet)
	app.HandleFunc("/payment-events", h.PaymentSSEHandler).Methods(http.MethodGet)

	return r
}

package handlers

import (
	"encoding/json"
	"net/http"

	"qrpay/templates"
	"qrpay/templates/checkout"
	"qrpay/utils"
)

// PaymentPageHandler serves the full payment page, resuming a payment that
// survived a reload.
func (h *PaymentHandlers) PaymentPageHandler(w http.ResponseWriter, r *http.Request) {
	view := h.currentView(r)
	view.WebsiteName = h.websiteName
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := checkout.Page(view, checkout.PaymentStatus(view)).Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// PaymentStatusHandler renders the fragment for the session's current state.
func (h *PaymentHandlers) PaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, h.currentView(r))
}

// CurrentPaymentHandler returns the session's payment snapshot as JSON.
func (h *PaymentHandlers) CurrentPaymentHandler(w http.ResponseWriter, r *http.Request) {
	ctrl, err := h.sessions.ResumePayment(r.Context(), SessionID(r))
	if err != nil {
		utils.Error("payment", "Error resuming payment", "session", SessionID(r), "error", err)
		respondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load payment"})
		return
	}
	if ctrl == nil {
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": ErrNoPayment.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, ctrl.Snapshot())
}

// HealthHandler reports liveness and a few gauges.
func (h *PaymentHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"activePayments":  h.sessions.GetActiveCount(),
		"openEventStream": h.broadcaster.ConnectionCount(),
	})
}

func (h *PaymentHandlers) currentView(r *http.Request) templates.PaymentView {
	ctrl, err := h.sessions.ResumePayment(r.Context(), SessionID(r))
	if err != nil {
		utils.Error("payment", "Error resuming payment", "session", SessionID(r), "error", err)
	}
	if ctrl == nil {
		return templates.PaymentView{State: templates.StateIdle}
	}
	return newPaymentView(ctrl.Snapshot(), h.websiteName)
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		utils.Error("http", "Error encoding response", "error", err)
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"qrpay/services"
	"qrpay/templates"
	"qrpay/templates/checkout"
	"qrpay/templates/pos"
	"qrpay/utils"
)

// HandlerOptions tunes the payment handlers.
type HandlerOptions struct {
	WebsiteName string
	// RequestWait bounds how long Generate QR waits for the gateway before
	// answering with the requesting fragment.
	RequestWait time.Duration
	// Keepalive is the comment interval on the browser event stream.
	Keepalive time.Duration
}

// PaymentHandlers serves the payment pages of the presentation shell.
type PaymentHandlers struct {
	sessions    *PaymentSessionManager
	broadcaster *SSEBroadcaster
	websiteName string
	requestWait time.Duration
	keepalive   time.Duration
}

func NewPaymentHandlers(sessions *PaymentSessionManager, broadcaster *SSEBroadcaster, opts HandlerOptions) *PaymentHandlers {
	if opts.RequestWait <= 0 {
		opts.RequestWait = 15 * time.Second
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = 15 * time.Second
	}
	return &PaymentHandlers{
		sessions:    sessions,
		broadcaster: broadcaster,
		websiteName: opts.WebsiteName,
		requestWait: opts.RequestWait,
		keepalive:   opts.Keepalive,
	}
}

func showToast(w http.ResponseWriter, message, kind string) {
	w.Header().Set("HX-Trigger", pos.ToJSON(map[string]interface{}{
		"showToast": map[string]string{"message": message, "type": kind},
	}))
}

// parseAmount accepts a positive amount with at most two decimals. On failure
// it returns the message to show the cashier.
func parseAmount(raw string) (decimal.Decimal, string) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "$")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, "Enter a valid amount."
	}
	if !amount.IsPositive() {
		return decimal.Zero, "Amount must be greater than zero."
	}
	if !amount.Equal(amount.Truncate(2)) {
		return decimal.Zero, "Amount cannot have more than two decimals."
	}
	return amount, ""
}

// GenerateQRCodeHandler starts a payment and renders the QR code, or the
// decline when the gateway refuses straight away.
func (h *PaymentHandlers) GenerateQRCodeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	sessionID := SessionID(r)

	amount, problem := parseAmount(r.FormValue("amount"))
	if problem != "" {
		utils.Info("payment", "QR generation rejected", "session", sessionID, "reason", problem)
		showToast(w, problem, "warning")
		h.render(w, r, templates.PaymentView{State: templates.StateIdle})
		return
	}
	mobile := strings.TrimSpace(r.FormValue("mobile"))

	ctrl, err := h.sessions.StartPayment(r.Context(), sessionID, amount, mobile)
	switch {
	case errors.Is(err, ErrPaymentInProgress):
		showToast(w, "A payment is already in progress.", "warning")
		h.renderTransaction(w, r, ctrl.Snapshot())
		return
	case err != nil:
		var reqErr *services.RequestError
		if errors.As(err, &reqErr) && reqErr.Code == services.CodeInvalid {
			showToast(w, reqErr.UserMessage(), "warning")
			h.render(w, r, templates.PaymentView{State: templates.StateIdle})
			return
		}
		utils.Error("payment", "Error starting payment", "session", sessionID, "error", err)
		http.Error(w, "Error starting payment", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestWait)
	defer cancel()
	txn, _ := ctrl.WaitFor(ctx, func(txn services.Transaction) bool {
		return txn.State != services.StateIdle && txn.State != services.StateRequesting
	})

	if txn.State == services.StateDisplaying {
		w.Header().Set("HX-Trigger", "showModal")
	}
	h.renderTransaction(w, r, txn)
}

// CancelTransactionHandler cancels the session's payment while it waits for
// the customer.
func (h *PaymentHandlers) CancelTransactionHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(r)

	ctrl, err := h.sessions.CancelPayment(r.Context(), sessionID)
	switch {
	case errors.Is(err, ErrNoPayment):
		showToast(w, "There is no payment to cancel.", "warning")
		h.render(w, r, templates.PaymentView{State: templates.StateIdle})
		return
	case errors.Is(err, services.ErrNotCancellable), errors.Is(err, services.ErrTransactionFinished):
		utils.Info("payment", "Cancel refused", "session", sessionID, "reason", err.Error())
		showToast(w, "This payment can no longer be cancelled.", "warning")
		h.renderTransaction(w, r, ctrl.Snapshot())
		return
	case err != nil:
		utils.Error("payment", "Error cancelling payment", "session", sessionID, "error", err)
		http.Error(w, "Error cancelling payment", http.StatusInternalServerError)
		return
	}

	utils.Info("payment", "Payment cancelled", "session", sessionID, "txn_id", ctrl.Snapshot().TransactionID)
	w.Header().Set("HX-Trigger", pos.ToJSON(map[string]interface{}{
		"closeModal": true,
		"showToast":  map[string]string{"message": "Payment cancelled", "type": "success"},
	}))
	h.renderTransaction(w, r, ctrl.Snapshot())
}

func (h *PaymentHandlers) renderTransaction(w http.ResponseWriter, r *http.Request, txn services.Transaction) {
	h.render(w, r, newPaymentView(txn, h.websiteName))
}

func (h *PaymentHandlers) render(w http.ResponseWriter, r *http.Request, view templates.PaymentView) {
	view.WebsiteName = h.websiteName
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := checkout.PaymentStatus(view).Render(r.Context(), w); err != nil {
		utils.Error("payment", "Error rendering payment fragment", "error", err)
	}
}

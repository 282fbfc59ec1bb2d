package checkout

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"qrpay/templates"
	"qrpay/templates/pos"
)

// Fragments are written on a single line so they can travel as one SSE data
// field.

func write(w io.Writer, format string, args ...interface{}) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func esc(s string) string {
	return templ.EscapeString(s)
}

// QRCodeDisplay is the modal body shown while the customer scans. It
// subscribes to the browser event feed and swaps in progress and outcome
// fragments as they arrive.
func QRCodeDisplay(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<div class="qr-payment" hx-ext="sse" sse-connect="/payment-events" sse-swap="modal-update" hx-target="this" hx-swap="outerHTML">`+
				`<h3>Scan to pay $%s</h3>`+
				`<img class="qr-code" src="data:image/png;base64,%s" alt="Payment QR code" width="256" height="256">`,
			esc(v.Amount), esc(v.QRImageBase64),
		); err != nil {
			return err
		}
		if err := write(w, `<div id="payment-progress" sse-swap="payment-update">`); err != nil {
			return err
		}
		if err := PaymentProgress(v).Render(ctx, w); err != nil {
			return err
		}
		return write(w,
			`</div><p><small>Reference: %s</small></p>`+
				`<button class="btn btn-secondary" hx-post="/payments/cancel" hx-target="closest .qr-payment" hx-swap="outerHTML">Cancel</button></div>`,
			esc(v.RetrievalReference),
		)
	})
}

// PaymentProgress is the countdown fragment pushed on every tick.
func PaymentProgress(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		message := v.Message
		if message == "" {
			message = "Waiting for the customer to scan"
		}
		if v.State == templates.StateQuerying {
			return write(w,
				`<div class="payment-progress qr-progress querying"><h4>Checking payment</h4><p>%s</p></div>`,
				esc(message),
			)
		}
		return write(w,
			`<div class="payment-progress qr-progress"><h4>QR Code Payment in Progress</h4><p>%s</p>`+
				`<p>Payment expires in <span id="countdown">%s</span></p>`+
				`<div class="progress-bar"><div class="progress-fill" style="width: %.1f%%;"></div></div></div>`,
			esc(message), pos.FormatCountdown(v.RemainingSeconds), v.ProgressWidth(),
		)
	})
}

// PaymentRequesting is shown between Generate QR and the gateway's answer.
func PaymentRequesting(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w,
			`<div class="qr-payment requesting" hx-get="/payments/status" hx-trigger="load delay:500ms" hx-swap="outerHTML"><p>%s</p></div>`,
			esc(v.Message),
		)
	})
}

func PaymentSuccess(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w,
			`<div class="payment-result success"><h3>Payment received</h3><p>$%s paid.</p><p>%s</p><p><small>Transaction %s</small></p></div>`,
			esc(v.Amount), esc(v.Message), esc(v.TransactionID),
		)
	})
}

func PaymentDeclined(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		code := ""
		if v.ResponseCode != "" {
			code = fmt.Sprintf(`<p><small>Code %s</small></p>`, esc(v.ResponseCode))
		}
		return write(w,
			`<div class="payment-result declined"><h3>Payment declined</h3><p>%s</p>%s`+
				`<button class="btn" hx-get="/payments/status" hx-target="closest .payment-result" hx-swap="outerHTML">Try again</button></div>`,
			esc(v.Message), code,
		)
	})
}

func PaymentCancelled(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w, `<div class="payment-result cancelled"><h3>Payment cancelled</h3><p>%s</p></div>`, esc(v.Message))
	})
}

// PaymentForm starts a new payment.
func PaymentForm(v templates.PaymentView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return write(w,
			`<form class="payment-form" hx-post="/payments/qr" hx-swap="outerHTML">`+
				`<label>Amount <input name="amount" inputmode="decimal" required value="%s"></label>`+
				`<label>Mobile (optional) <input name="mobile" inputmode="tel"></label>`+
				`<button class="btn btn-primary" type="submit">Generate QR</button></form>`,
			esc(v.Amount),
		)
	})
}

// PaymentStatus picks the fragment for the view's state.
func PaymentStatus(v templates.PaymentView) templ.Component {
	switch v.State {
	case templates.StateRequesting:
		return PaymentRequesting(v)
	case templates.StateDisplaying, templates.StateQuerying:
		return QRCodeDisplay(v)
	case templates.StateSucceeded:
		return PaymentSuccess(v)
	case templates.StateDeclined:
		return PaymentDeclined(v)
	case templates.StateCancelled:
		return PaymentCancelled(v)
	default:
		return PaymentForm(v)
	}
}

// Page wraps a fragment in the full document.
func Page(v templates.PaymentView, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := v.WebsiteName
		if title == "" {
			title = "QR Payment"
		}
		if err := write(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>%s</title>`+
				`<script src="https://unpkg.com/htmx.org@1.9.12"></script>`+
				`<script src="https://unpkg.com/htmx.org@1.9.12/dist/ext/sse.js"></script>`+
				`</head><body><main id="payment">`,
			esc(title),
		); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</main></body></html>`)
	})
}

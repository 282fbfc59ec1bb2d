package checkout

import (
	"context"
	"strings"
	"testing"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrpay/templates"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, c.Render(context.Background(), &b))
	return b.String()
}

func TestQRCodeDisplay(t *testing.T) {
	html := render(t, PaymentStatus(templates.PaymentView{
		State:              templates.StateDisplaying,
		Amount:             "3.00",
		QRImageBase64:      "aW1n",
		RetrievalReference: "REF-1",
		RemainingSeconds:   150,
		TotalSeconds:       300,
	}))

	assert.Contains(t, html, `src="data:image/png;base64,aW1n"`)
	assert.Contains(t, html, "Scan to pay $3.00")
	assert.Contains(t, html, `<span id="countdown">2:30</span>`)
	assert.Contains(t, html, "width: 50.0%")
	assert.Contains(t, html, `sse-connect="/payment-events"`)
	assert.NotContains(t, html, "\n")
}

func TestFragmentsEscapeText(t *testing.T) {
	html := render(t, PaymentDeclined(templates.PaymentView{Message: `<script>alert(1)</script>`, ResponseCode: "14"}))

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "Code 14")
}

func TestPaymentStatusPicksFragment(t *testing.T) {
	tests := []struct {
		state string
		want  string
	}{
		{templates.StateIdle, `hx-post="/payments/qr"`},
		{templates.StateRequesting, `class="qr-payment requesting"`},
		{templates.StateQuerying, "Checking payment"},
		{templates.StateSucceeded, "Payment received"},
		{templates.StateDeclined, "Payment declined"},
		{templates.StateCancelled, "Payment cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Contains(t, render(t, PaymentStatus(templates.PaymentView{State: tt.state})), tt.want)
		})
	}
}

func TestPageWrapsBody(t *testing.T) {
	html := render(t, Page(templates.PaymentView{WebsiteName: "Corner Shop"}, PaymentForm(templates.PaymentView{})))

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "<title>Corner Shop</title>")
	assert.Contains(t, html, "Generate QR")
}

package sandbox_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"qrpay/config"
	"qrpay/sandbox"
	"qrpay/services"
)

type harness struct {
	gateway *sandbox.Gateway
	server  *httptest.Server
	cfg     config.Gateway
}

func newHarness(t *testing.T, cfg sandbox.Config) *harness {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "sandbox-key"
		cfg.ProjectID = "sandbox-project"
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	}
	gw := sandbox.New(cfg, zaptest.NewLogger(t))
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)

	return &harness{
		gateway: gw,
		server:  server,
		cfg: config.Gateway{
			BaseURL:        server.URL,
			APIKey:         cfg.APIKey,
			ProjectID:      cfg.ProjectID,
			RequestTimeout: 2 * time.Second,
			ApprovedCode:   "00",
		},
	}
}

func (h *harness) controller(countdown int, tick time.Duration) *services.Controller {
	return services.NewController(
		services.ControllerConfig{CountdownSeconds: countdown, TickInterval: tick},
		services.NewGatewayClient(h.cfg),
		services.NewSubscriber(h.cfg, 2*time.Second),
		nil,
	)
}

func waitFor(t *testing.T, ctrl *services.Controller, pred func(services.Transaction) bool) services.Transaction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	txn, err := ctrl.WaitFor(ctx, pred)
	require.NoError(t, err, "last state %s", txn.State)
	return txn
}

func displaying(txn services.Transaction) bool {
	return txn.State == services.StateDisplaying
}

func TestScanConfirmsPayment(t *testing.T) {
	h := newHarness(t, sandbox.Config{})
	ctrl := h.controller(300, time.Second)

	require.NoError(t, ctrl.Start(context.Background(), decimal.RequireFromString("3.00"), ""))
	txn := waitFor(t, ctrl, displaying)
	require.NotEmpty(t, txn.RetrievalReference)

	png, err := base64.StdEncoding.DecodeString(txn.QRImageBase64)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	// a push channel that opens after the payment settled replays the scan
	require.NoError(t, h.gateway.Pay(txn.RetrievalReference))

	final := waitFor(t, ctrl, services.Transaction.IsTerminal)
	assert.Equal(t, services.StateSucceeded, final.State)
	assert.Equal(t, "00", final.ResponseCode)
	assert.Equal(t, services.TriggerNone, final.QueryTrigger)
}

func TestAmountOverLimitIsDeclined(t *testing.T) {
	h := newHarness(t, sandbox.Config{DeclineAbove: decimal.NewFromInt(1000)})
	ctrl := h.controller(300, time.Second)

	require.NoError(t, ctrl.Start(context.Background(), decimal.NewFromInt(5000), ""))
	final := waitFor(t, ctrl, services.Transaction.IsTerminal)

	assert.Equal(t, services.StateDeclined, final.State)
	assert.Equal(t, "14", final.ResponseCode)
	assert.Equal(t, 1, final.NetworkStatus)
	assert.Contains(t, final.Message, "1000.00")
	assert.Empty(t, h.gateway.References())
}

func TestChannelTimeoutFallsBackToQuery(t *testing.T) {
	h := newHarness(t, sandbox.Config{})
	ctrl := h.controller(300, time.Second)

	require.NoError(t, ctrl.Start(context.Background(), decimal.NewFromInt(3), ""))
	txn := waitFor(t, ctrl, displaying)

	// the control call can land before the push channel is open, so retry
	// until the controller leaves Displaying
	require.Eventually(t, func() bool {
		_ = h.gateway.Timeout(txn.RetrievalReference)
		return ctrl.Snapshot().State != services.StateDisplaying
	}, 3*time.Second, 20*time.Millisecond)

	final := waitFor(t, ctrl, services.Transaction.IsTerminal)
	assert.Equal(t, services.StateDeclined, final.State)
	assert.Equal(t, services.TriggerChannelTimeout, final.QueryTrigger)
}

func TestCountdownExpiryVoidsPayment(t *testing.T) {
	h := newHarness(t, sandbox.Config{})
	ctrl := h.controller(2, 10*time.Millisecond)

	require.NoError(t, ctrl.Start(context.Background(), decimal.NewFromInt(3), ""))
	final := waitFor(t, ctrl, services.Transaction.IsTerminal)

	assert.Equal(t, services.StateDeclined, final.State)
	assert.Equal(t, services.TriggerCountdown, final.QueryTrigger)
	assert.Error(t, h.gateway.Pay(final.RetrievalReference), "an expired code cannot be paid")
}

func TestCancelClosesPushChannel(t *testing.T) {
	h := newHarness(t, sandbox.Config{})
	ctrl := h.controller(300, time.Second)

	require.NoError(t, ctrl.Start(context.Background(), decimal.NewFromInt(3), ""))
	txn := waitFor(t, ctrl, displaying)

	require.NoError(t, ctrl.Cancel(context.Background()))
	assert.Equal(t, services.StateCancelled, ctrl.Snapshot().State)

	// a late payment is still accepted by the gateway but ignored locally
	require.NoError(t, h.gateway.Pay(txn.RetrievalReference))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, services.StateCancelled, ctrl.Snapshot().State)
}

func TestBadCredentialsAreTransportFailures(t *testing.T) {
	h := newHarness(t, sandbox.Config{})
	h.cfg.APIKey = "wrong"

	_, err := services.NewGatewayClient(h.cfg).RequestPayment(context.Background(), services.PaymentRequest{
		TransactionID: "txn-1",
		Amount:        decimal.NewFromInt(3),
	})

	var reqErr *services.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, services.CodeTransport, reqErr.Code)
}

func TestControlEndpoints(t *testing.T) {
	h := newHarness(t, sandbox.Config{})

	payload, err := services.NewGatewayClient(h.cfg).RequestPayment(context.Background(), services.PaymentRequest{
		TransactionID: "txn-1",
		Amount:        decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	resp, err := http.Post(h.server.URL+"/sandbox/"+payload.RetrievalReference+"/decline", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(h.server.URL+"/sandbox/"+payload.RetrievalReference+"/pay", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(h.server.URL+"/sandbox/unknown/pay", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	result, err := services.NewGatewayClient(h.cfg).QueryStatus(context.Background(), payload.RetrievalReference, false)
	require.NoError(t, err)
	assert.Equal(t, services.QueryDeclined, result)
}

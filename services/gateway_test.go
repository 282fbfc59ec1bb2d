package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrpay/config"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *GatewayClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGatewayClient(config.Gateway{
		BaseURL:        server.URL,
		APIKey:         "key-1",
		ProjectID:      "proj-1",
		RequestTimeout: 2 * time.Second,
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestRequestPaymentIssuesQRCode(t *testing.T) {
	var raw string
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, requestPath, r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("api-key"))
		assert.Equal(t, "proj-1", r.Header.Get("project-id"))
		body, _ := io.ReadAll(r.Body)
		raw = string(body)

		writeJSON(t, w, map[string]interface{}{
			"responseCode":       "00",
			"transactionStatus":  1,
			"qrCodeBase64":       "aW1n",
			"retrievalReference": "REF-1",
			"networkStatus":      0,
		})
	})

	payload, err := gateway.RequestPayment(context.Background(), PaymentRequest{
		TransactionID: "txn-1",
		Amount:        decimal.RequireFromString("3"),
		Mobile:        "91234567",
	})
	require.NoError(t, err)

	assert.Equal(t, &QRPayload{QRImageBase64: "aW1n", RetrievalReference: "REF-1", ResponseCode: "00"}, payload)
	assert.Contains(t, raw, `"amountInDollars":3.00`)
	assert.Contains(t, raw, `"transactionId":"txn-1"`)
	assert.Contains(t, raw, `"notifyMobile":"91234567"`)
}

func TestRequestPaymentDeclined(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{
			"responseCode":      "14",
			"transactionStatus": 0,
			"networkStatus":     1,
			"instruction":       "Card limit exceeded",
		})
	})

	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{TransactionID: "txn-1", Amount: decimal.NewFromInt(5000)})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "14", reqErr.Code)
	assert.Equal(t, 1, reqErr.NetworkStatus)
	assert.False(t, reqErr.Retryable)
	assert.Equal(t, "Card limit exceeded", reqErr.UserMessage())
}

func TestRequestPaymentApprovedWithoutQRCodeIsDeclined(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]interface{}{"responseCode": "00", "transactionStatus": 1})
	})

	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{TransactionID: "txn-1", Amount: decimal.NewFromInt(1)})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "00", reqErr.Code)
	assert.True(t, reqErr.Retryable)
	assert.Equal(t, config.GetPaymentMessage("decline", "default"), reqErr.UserMessage())
}

func TestRequestPaymentTransportErrors(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{TransactionID: "txn-1", Amount: decimal.NewFromInt(1)})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeTransport, reqErr.Code)
	assert.Error(t, reqErr.Err)
}

func TestRequestPaymentRejectsInvalidInput(t *testing.T) {
	called := false
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	var reqErr *RequestError
	_, err := gateway.RequestPayment(context.Background(), PaymentRequest{TransactionID: "txn-1", Amount: decimal.NewFromInt(-1)})
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeInvalid, reqErr.Code)

	_, err = gateway.RequestPayment(context.Background(), PaymentRequest{TransactionID: " ", Amount: decimal.NewFromInt(1)})
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeInvalid, reqErr.Code)
	assert.False(t, called)
}

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		name       string
		timedOut   bool
		response   map[string]interface{}
		wantFlag   float64
		wantResult QueryResult
	}{
		{"confirmed after countdown", true, map[string]interface{}{"responseCode": "00", "transactionStatus": 1}, 1, QueryConfirmed},
		{"declined after channel timeout", false, map[string]interface{}{"responseCode": "00", "transactionStatus": 0}, 0, QueryDeclined},
		{"non-approved code", false, map[string]interface{}{"responseCode": "51", "transactionStatus": 1}, 0, QueryDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]interface{}
			gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, queryPath, r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				writeJSON(t, w, tt.response)
			})

			result, err := gateway.QueryStatus(context.Background(), "REF-1", tt.timedOut)
			require.NoError(t, err)
			assert.Equal(t, tt.wantResult, result)
			assert.Equal(t, "REF-1", got["retrievalReference"])
			assert.Equal(t, tt.wantFlag, got["frontendTimeoutStatus"])
		})
	}
}

func TestQueryStatusTransportError(t *testing.T) {
	gateway := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := gateway.QueryStatus(context.Background(), "REF-1", true)

	var queryErr *QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, "REF-1", queryErr.RetrievalReference)
}

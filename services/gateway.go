package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"qrpay/config"
	"qrpay/utils"
)

// Gateway response constants
const (
	DefaultApprovedCode = "00"

	// TransactionStatusInProgress is reported by the request call when the QR
	// code is live, and by the query call when the payment went through.
	TransactionStatusInProgress = 1

	CodeTransport = "TRANSPORT"
	CodeInvalid   = "INVALID"

	requestPath = "/payments/request"
	queryPath   = "/payments/query"
	webhookPath = "/payments/webhook"
)

// PaymentRequest is the input to the initial QR request.
type PaymentRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Mobile        string
}

// QRPayload is what the gateway hands back for a live QR payment.
type QRPayload struct {
	QRImageBase64      string
	RetrievalReference string
	ResponseCode       string
	NetworkStatus      int
}

// RequestError is returned for every request that does not produce a QR code.
type RequestError struct {
	Code          string
	Instruction   string
	Message       string
	NetworkStatus int
	Retryable     bool
	Err           error
}

func (e *RequestError) Error() string {
	if e.Code == CodeTransport && e.Err != nil {
		return fmt.Sprintf("payment request failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("payment request declined (code %s): %s", e.Code, e.UserMessage())
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the customer: the gateway instruction when
// there is one, the generic message otherwise.
func (e *RequestError) UserMessage() string {
	if e.Instruction != "" {
		return e.Instruction
	}
	return e.Message
}

// QueryResult is the outcome of a status query.
type QueryResult string

const (
	QueryConfirmed QueryResult = "confirmed"
	QueryDeclined  QueryResult = "declined"
)

// QueryError is a transport failure of the status query.
type QueryError struct {
	RetrievalReference string
	Err                error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("status query for %s failed: %v", e.RetrievalReference, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type requestBody struct {
	TransactionID   string      `json:"transactionId"`
	AmountInDollars json.Number `json:"amountInDollars"`
	NotifyMobile    string      `json:"notifyMobile"`
}

type requestResponse struct {
	ResponseCode       string `json:"responseCode"`
	TransactionStatus  int    `json:"transactionStatus"`
	QRCodeBase64       string `json:"qrCodeBase64"`
	RetrievalReference string `json:"retrievalReference"`
	NetworkStatus      int    `json:"networkStatus"`
	Instruction        string `json:"instruction,omitempty"`
}

type queryBody struct {
	RetrievalReference    string `json:"retrievalReference"`
	FrontendTimeoutStatus int    `json:"frontendTimeoutStatus"`
}

type queryResponse struct {
	ResponseCode      string `json:"responseCode"`
	TransactionStatus int    `json:"transactionStatus"`
}

// GatewayClient talks to the payment gateway's request and query endpoints.
type GatewayClient struct {
	client       *resty.Client
	approvedCode string
}

// NewGatewayClient builds a client authenticated with the fixed gateway headers.
func NewGatewayClient(cfg config.Gateway) *GatewayClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	approved := cfg.ApprovedCode
	if approved == "" {
		approved = DefaultApprovedCode
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	if cfg.ProjectID != "" {
		client.SetHeader("project-id", cfg.ProjectID)
	}

	return &GatewayClient{client: client, approvedCode: approved}
}

// ApprovedCode is the response code that means success.
func (g *GatewayClient) ApprovedCode() string {
	return g.approvedCode
}

// RequestPayment asks the gateway for a one-time QR code.
func (g *GatewayClient) RequestPayment(ctx context.Context, req PaymentRequest) (*QRPayload, error) {
	if !req.Amount.IsPositive() {
		return nil, &RequestError{Code: CodeInvalid, Message: "amount must be positive"}
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, &RequestError{Code: CodeInvalid, Message: "transaction id cannot be empty"}
	}

	body := requestBody{
		TransactionID:   req.TransactionID,
		AmountInDollars: json.Number(req.Amount.StringFixed(2)),
		NotifyMobile:    req.Mobile,
	}

	var out requestResponse
	if err := g.post(ctx, requestPath, body, &out); err != nil {
		utils.Error("gateway", "Payment request failed", "txn_id", req.TransactionID, "error", err)
		return nil, &RequestError{
			Code:    CodeTransport,
			Message: config.GetPaymentMessage("decline", "transport"),
			Err:     err,
		}
	}

	if out.ResponseCode != g.approvedCode ||
		out.TransactionStatus != TransactionStatusInProgress ||
		out.QRCodeBase64 == "" {
		utils.Info("gateway", "Payment request declined",
			"txn_id", req.TransactionID,
			"response_code", out.ResponseCode,
			"network_status", out.NetworkStatus,
		)
		return nil, &RequestError{
			Code:          out.ResponseCode,
			Instruction:   out.Instruction,
			Message:       config.GetPaymentMessage("decline", "default"),
			NetworkStatus: out.NetworkStatus,
			Retryable:     out.NetworkStatus == 0,
		}
	}

	utils.Info("gateway", "QR code issued", "txn_id", req.TransactionID, "retrieval_ref", out.RetrievalReference)
	return &QRPayload{
		QRImageBase64:      out.QRCodeBase64,
		RetrievalReference: out.RetrievalReference,
		ResponseCode:       out.ResponseCode,
		NetworkStatus:      out.NetworkStatus,
	}, nil
}

// QueryStatus asks the gateway whether a payment went through. frontendTimedOut
// tells the gateway the client countdown already ran out.
func (g *GatewayClient) QueryStatus(ctx context.Context, retrievalReference string, frontendTimedOut bool) (QueryResult, error) {
	if retrievalReference == "" {
		return QueryDeclined, &QueryError{Err: errors.New("retrieval reference cannot be empty")}
	}

	body := queryBody{RetrievalReference: retrievalReference}
	if frontendTimedOut {
		body.FrontendTimeoutStatus = 1
	}

	var out queryResponse
	if err := g.post(ctx, queryPath, body, &out); err != nil {
		utils.Error("gateway", "Status query failed", "retrieval_ref", retrievalReference, "error", err)
		return QueryDeclined, &QueryError{RetrievalReference: retrievalReference, Err: err}
	}

	if out.ResponseCode == g.approvedCode && out.TransactionStatus == TransactionStatusInProgress {
		return QueryConfirmed, nil
	}
	utils.Info("gateway", "Status query reported no payment",
		"retrieval_ref", retrievalReference,
		"response_code", out.ResponseCode,
		"transaction_status", out.TransactionStatus,
	)
	return QueryDeclined, nil
}

// post sends body as JSON and decodes the reply into out. Non-2xx replies and
// undecodable bodies are errors.
func (g *GatewayClient) post(ctx context.Context, path string, body, out interface{}) error {
	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	observeGatewayCall(path, start, err == nil && resp != nil && !resp.IsError())
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("gateway returned %s", resp.Status())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("malformed gateway response: %w", err)
	}
	return nil
}

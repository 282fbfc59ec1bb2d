package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"qrpay/utils"
)

// Outcome is the record written once a payment reaches a terminal state.
type Outcome struct {
	TransactionID      string          `json:"transaction_id"`
	RetrievalReference string          `json:"retrieval_reference"`
	Amount             decimal.Decimal `json:"amount"`
	State              string          `json:"state"`
	ResponseCode       string          `json:"response_code,omitempty"`
	Message            string          `json:"message,omitempty"`
	QueryTrigger       string          `json:"query_trigger,omitempty"`
	Resumed            bool            `json:"resumed"`
	StartedAt          time.Time       `json:"started_at"`
	CompletedAt        time.Time       `json:"completed_at"`
}

// NewOutcome builds the record for a terminal transaction.
func NewOutcome(txn Transaction) Outcome {
	completed := txn.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	return Outcome{
		TransactionID:      txn.TransactionID,
		RetrievalReference: txn.RetrievalReference,
		Amount:             txn.Amount,
		State:              txn.State.String(),
		ResponseCode:       txn.ResponseCode,
		Message:            txn.Message,
		QueryTrigger:       string(txn.QueryTrigger),
		Resumed:            txn.Resumed,
		StartedAt:          txn.StartedAt,
		CompletedAt:        completed,
	}
}

// OutcomeRecorder stores or forwards terminal outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome Outcome) error
}

// OutcomeRecorders fans an outcome out to every recorder. A failing recorder
// is logged and does not stop the others.
type OutcomeRecorders []OutcomeRecorder

func (r OutcomeRecorders) RecordOutcome(ctx context.Context, outcome Outcome) error {
	for _, recorder := range r {
		if err := recorder.RecordOutcome(ctx, outcome); err != nil {
			utils.Error("outcomes", "Error recording payment outcome",
				"txn_id", outcome.TransactionID,
				"state", outcome.State,
				"error", err,
			)
		}
	}
	return nil
}

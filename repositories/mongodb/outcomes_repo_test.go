package mongodb

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"qrpay/services"
)

func TestTransformKeepsAmountExact(t *testing.T) {
	completed := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	outcome := services.Outcome{
		TransactionID:      "txn-1",
		RetrievalReference: "REF-1",
		Amount:             decimal.RequireFromString("19.9"),
		State:              "succeeded",
		ResponseCode:       "00",
		QueryTrigger:       "countdown",
		StartedAt:          completed.Add(-time.Minute),
		CompletedAt:        completed,
	}

	doc, err := Transform(outcome)
	require.NoError(t, err)
	assert.Equal(t, "19.90", doc.Amount.String())
	assert.Equal(t, "countdown", doc.QueryTrigger)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var decoded bson.M
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	assert.Equal(t, "txn-1", decoded["transaction_id"])
	assert.Equal(t, "succeeded", decoded["state"])
	assert.NotContains(t, decoded, "message")
}

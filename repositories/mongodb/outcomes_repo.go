package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"qrpay/services"
)

// OutcomeDocument is the stored shape of a payment outcome. The amount is
// kept as Decimal128 so no precision is lost.
type OutcomeDocument struct {
	TransactionID      string               `bson:"transaction_id"`
	RetrievalReference string               `bson:"retrieval_reference,omitempty"`
	Amount             primitive.Decimal128 `bson:"amount"`
	State              string               `bson:"state"`
	ResponseCode       string               `bson:"response_code,omitempty"`
	Message            string               `bson:"message,omitempty"`
	QueryTrigger       string               `bson:"query_trigger,omitempty"`
	Resumed            bool                 `bson:"resumed"`
	StartedAt          time.Time            `bson:"started_at"`
	CompletedAt        time.Time            `bson:"completed_at"`
}

// Transform converts an outcome into its stored document.
func Transform(outcome services.Outcome) (OutcomeDocument, error) {
	amount, err := primitive.ParseDecimal128(outcome.Amount.StringFixed(2))
	if err != nil {
		return OutcomeDocument{}, fmt.Errorf("amount %s: %w", outcome.Amount, err)
	}
	return OutcomeDocument{
		TransactionID:      outcome.TransactionID,
		RetrievalReference: outcome.RetrievalReference,
		Amount:             amount,
		State:              outcome.State,
		ResponseCode:       outcome.ResponseCode,
		Message:            outcome.Message,
		QueryTrigger:       outcome.QueryTrigger,
		Resumed:            outcome.Resumed,
		StartedAt:          outcome.StartedAt.UTC(),
		CompletedAt:        outcome.CompletedAt.UTC(),
	}, nil
}

type OutcomeRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewOutcomeRepository(client *mongo.Client, database, collection string) *OutcomeRepository {
	if database == "" {
		database = "qrpay"
	}
	if collection == "" {
		collection = "payment_outcomes"
	}
	return &OutcomeRepository{client: client, database: database, collection: collection}
}

// RecordOutcome inserts one outcome document.
func (r *OutcomeRepository) RecordOutcome(ctx context.Context, outcome services.Outcome) error {
	doc, err := Transform(outcome)
	if err != nil {
		return err
	}
	collection := r.client.Database(r.database).Collection(r.collection)
	if _, err := collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert outcome %s: %w", outcome.TransactionID, err)
	}
	return nil
}

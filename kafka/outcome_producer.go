package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"

	"qrpay/services"
)

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// OutcomeProducer publishes terminal payment outcomes, keyed by transaction
// id, for downstream reconciliation.
type OutcomeProducer struct {
	Client *kgo.Client
	Config *ProducerConfig
	Logger *zap.Logger
}

// NewOutcomeProducer creates the producer client. Brokers are dialed lazily,
// on the first produce.
func NewOutcomeProducer(conf *ProducerConfig, metrics *kprom.Metrics, logger *zap.Logger) (*OutcomeProducer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.DefaultProduceTopic(conf.Topic),
		kgo.ClientID("qrpay"),
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &OutcomeProducer{Client: client, Config: conf, Logger: logger}, nil
}

// NewRecord encodes an outcome as a kafka record.
func NewRecord(topic string, outcome services.Outcome) (*kgo.Record, error) {
	value, err := json.Marshal(outcome)
	if err != nil {
		return nil, fmt.Errorf("encode outcome %s: %w", outcome.TransactionID, err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(outcome.TransactionID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "state", Value: []byte(outcome.State)},
		},
	}, nil
}

// RecordOutcome publishes the outcome and waits for the broker ack.
func (p *OutcomeProducer) RecordOutcome(ctx context.Context, outcome services.Outcome) error {
	record, err := NewRecord(p.Config.Topic, outcome)
	if err != nil {
		return err
	}
	if err := p.Client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish outcome %s: %w", outcome.TransactionID, err)
	}
	p.Logger.Info("published payment outcome",
		zap.String("txn_id", outcome.TransactionID),
		zap.String("state", outcome.State),
		zap.String("topic", p.Config.Topic),
	)
	return nil
}

func (p *OutcomeProducer) Close() {
	p.Client.Close()
}

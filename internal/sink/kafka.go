// Package sink publishes per-FC cycle rows to Kafka for downstream
// dashboards.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/pipeline"
)

// messageWriter is the part of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes one message per row, keyed by FC id so a consumer
// sees each FC's rows in order.
type KafkaPublisher struct {
	writer  messageWriter
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, metrics *observability.Metrics, logger *slog.Logger) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, metrics: metrics, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, row pipeline.Row) error {
	msg, err := serializeRow(row)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish row for %s: %w", row.FCID, err)
	}
	p.metrics.RowsPublished.Inc()
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func serializeRow(row pipeline.Row) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(row.FCID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "cycle_id", Value: []byte(row.CycleID)},
			{Key: "outcome", Value: []byte(row.Outcome)},
			{Key: "evaluated_at", Value: []byte(row.EvaluatedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}

// Package kafka publishes the service's audit events as JSON to a topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rwsdm-rewriter/pkg/logger"
)

// TypeHeader names the header carrying Event.Type, so consumers can route
// without decoding the value.
const TypeHeader = "event-type"

// Event is one message. Key picks the partition; Value is JSON-encoded.
type Event struct {
	Key   string
	Type  string
	Value any
}

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	logger *slog.Logger
}

// NewProducer writes to cfg.Topic. Audit events are verbose query strings,
// so batches are snappy-compressed and a single broker ack is enough.
func NewProducer(cfg config.KafkaConfig) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		Compression:  kafka.Snappy,
		BatchSize:    100,
		BatchTimeout: 50 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}, cfg.Topic)
}

func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{
		writer: w,
		logger: logger.WithComponent("kafka-producer").With("topic", topic),
	}
}

func (p *Producer) Publish(ctx context.Context, event Event) error {
	return p.PublishBatch(ctx, []Event{event})
}

// PublishBatch encodes every event before writing any, so a bad value
// fails the whole batch without a partial write.
func (p *Producer) PublishBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := json.Marshal(e.Value)
		if err != nil {
			return fmt.Errorf("marshaling %s event %q: %w", e.Type, e.Key, err)
		}
		messages[i] = kafka.Message{Key: []byte(e.Key), Value: value}
		if e.Type != "" {
			messages[i].Headers = []kafka.Header{{Key: TypeHeader, Value: []byte(e.Type)}}
		}
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.Error("batch not published", "count", len(messages), "error", err)
		return fmt.Errorf("publishing %d events: %w", len(messages), err)
	}
	p.logger.Debug("batch published", "count", len(messages))
	return nil
}

// Close flushes buffered messages and releases broker connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}

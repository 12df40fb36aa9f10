// Package producer provides the Kafka producer shared by the engines.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sapcc/monasca-notification/internal/kafkautil"
)

// Producer wraps a Kafka writer that can publish to any pipeline topic.
// One engine publishes to the output, retry and periodic topics through
// the same writer, so the topic is chosen per batch rather than at
// construction time.
type Producer struct {
	writer *kafka.Writer
}

// New creates a producer for the given brokers. Writes are synchronous
// with leader acks for at-least-once semantics.
func New(brokers string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)
	slog.Info("Initializing Kafka producer", "brokers", brokerList)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Balancer:     &kafka.Hash{}, // key-based partitioning by alarm id
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{writer: writer}, nil
}

// Publish writes a batch of messages to the given topic. Each message is
// keyed so notifications for one alarm stay on one partition.
func (p *Producer) Publish(ctx context.Context, topic string, msgs []kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now()
	for i := range msgs {
		msgs[i].Topic = topic
		msgs[i].Time = now
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		slog.Error("Failed to write messages to Kafka",
			"topic", topic,
			"count", len(msgs),
			"error", err,
		)
		return fmt.Errorf("failed to write messages to Kafka: %w", err)
	}
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer")
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	return nil
}

// Package engine implements the three pipeline engines. Each engine is a
// single-threaded consume-transform-publish-commit loop; all pipeline
// state lives in the message log, so any engine can be restarted or
// scaled per partition without coordination.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/models"
)

// Consumer reads records with explicit per-record commits.
type Consumer interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	CommitMessage(ctx context.Context, msg kafka.Message) error
}

// Producer publishes records to any pipeline topic.
type Producer interface {
	Publish(ctx context.Context, topic string, msgs []kafka.Message) error
}

// Notifier dispatches a batch of notifications and classifies the
// outcome.
type Notifier interface {
	Send(ctx context.Context, notifications []*models.Notification) (sent, failed, invalid []*models.Notification)
}

// Engine carries the plumbing shared by the three engines.
type Engine struct {
	consumer Consumer
	producer Producer
	metrics  metrics.Recorder
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)
}

func newEngine(c Consumer, p Producer, recorder metrics.Recorder) Engine {
	return Engine{
		consumer: c,
		producer: p,
		metrics:  recorder,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// read fetches the next record. A nil error with done=true means the
// context was cancelled and the loop should exit cleanly.
func (e *Engine) read(ctx context.Context) (kafka.Message, bool, error) {
	msg, err := e.consumer.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return kafka.Message{}, true, nil
		}
		e.metrics.RecordConsumerError()
		return kafka.Message{}, false, err
	}
	return msg, false, nil
}

// publish serializes the notifications and writes them to the topic,
// keyed by alarm id so one alarm's notifications stay ordered on one
// partition. A write failure is fatal to the engine; the record is not
// committed and will be reprocessed.
func (e *Engine) publish(ctx context.Context, topic string, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(notifications))
	for _, n := range notifications {
		value, err := n.ToJSON()
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(n.AlarmID),
			Value: value,
		})
	}

	if err := e.producer.Publish(ctx, topic, msgs); err != nil {
		e.metrics.RecordProducerError(topic)
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (e *Engine) commit(ctx context.Context, msg kafka.Message) error {
	if err := e.consumer.CommitMessage(ctx, msg); err != nil {
		slog.Error("Failed to commit offset",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return err
	}
	return nil
}

// sleepContext blocks for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

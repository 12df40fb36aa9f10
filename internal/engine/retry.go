package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/models"
	"github.com/sapcc/monasca-notification/internal/processor"
)

// RetryEngine consumes the retry topic and re-attempts failed
// notifications. The retry bound travels in the record itself
// (retry_count), so the engine keeps no per-notification state.
type RetryEngine struct {
	Engine

	store       processor.MethodStore
	notifier    Notifier
	interval    time.Duration
	maxAttempts int
	outputTopic string
	retryTopic  string
}

// NewRetryEngine wires the retry engine from its parts.
func NewRetryEngine(
	cfg *config.Config,
	c Consumer,
	p Producer,
	store processor.MethodStore,
	notifier Notifier,
	recorder metrics.Recorder,
) *RetryEngine {
	return &RetryEngine{
		Engine:      newEngine(c, p, recorder),
		store:       store,
		notifier:    notifier,
		interval:    time.Duration(cfg.Retry.Interval) * time.Second,
		maxAttempts: cfg.Retry.MaxAttempts,
		outputTopic: cfg.Kafka.NotificationTopic,
		retryTopic:  cfg.Kafka.NotificationRetryTopic,
	}
}

// Run consumes the retry topic until the context is cancelled. The sleep
// before each attempt is the retry scheduler: the record waits out the
// remainder of the retry interval measured from its last attempt.
func (e *RetryEngine) Run(ctx context.Context) error {
	for {
		msg, done, err := e.read(ctx)
		if done {
			return nil
		}
		if err != nil {
			return err
		}

		n, err := models.NotificationFromJSON(msg.Value)
		if err != nil {
			slog.Error("Invalid notification on retry topic, skipping",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			if err := e.commit(ctx, msg); err != nil {
				return err
			}
			continue
		}

		n, err = processor.Reconstruct(ctx, e.store, n)
		if err != nil {
			return err
		}
		if n == nil {
			if err := e.commit(ctx, msg); err != nil {
				return err
			}
			continue
		}

		if lastAttempt, ok := n.SentAt(); ok {
			wait := e.interval - e.now().Sub(lastAttempt)
			if wait > 0 {
				e.sleep(ctx, wait)
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		sent, failed, _ := e.notifier.Send(ctx, []*models.Notification{n})
		if err := e.publish(ctx, e.outputTopic, sent); err != nil {
			return err
		}

		if len(failed) > 0 {
			n.RetryCount++
			n.Stamp(e.now())
			if n.RetryCount < e.maxAttempts {
				slog.Error("Retry failed, saving for later retry",
					"type", n.Type,
					"name", n.Name,
					"address", n.Address,
					"retry_count", n.RetryCount,
				)
				if err := e.publish(ctx, e.retryTopic, failed); err != nil {
					return err
				}
			} else {
				slog.Error("Retry failed, giving up on retry",
					"type", n.Type,
					"name", n.Name,
					"address", n.Address,
					"retries", e.maxAttempts,
				)
			}
		}

		if err := e.commit(ctx, msg); err != nil {
			return err
		}
	}
}

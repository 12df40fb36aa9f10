package engine

import (
	"context"
	"log/slog"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/models"
	"github.com/sapcc/monasca-notification/internal/processor"
)

// webhookType is the only notification type eligible for periodic
// re-firing.
const webhookType = "webhook"

// NotificationEngine consumes alarm transitions, fans them out into
// notifications, dispatches them once and routes the outcome: sent
// notifications to the output topic, failed ones to the retry topic,
// periodic-eligible ones additionally seeded onto their periodic topic.
type NotificationEngine struct {
	Engine

	transformer    *processor.AlarmTransformer
	notifier       Notifier
	outputTopic    string
	retryTopic     string
	periodicTopics map[string]string
}

// NewNotificationEngine wires the notification engine from its parts.
func NewNotificationEngine(
	cfg *config.Config,
	c Consumer,
	p Producer,
	transformer *processor.AlarmTransformer,
	notifier Notifier,
	recorder metrics.Recorder,
) *NotificationEngine {
	return &NotificationEngine{
		Engine:         newEngine(c, p, recorder),
		transformer:    transformer,
		notifier:       notifier,
		outputTopic:    cfg.Kafka.NotificationTopic,
		retryTopic:     cfg.Kafka.NotificationRetryTopic,
		periodicTopics: cfg.Kafka.Periodic,
	}
}

// Run consumes the alarm topic until the context is cancelled. A store or
// log error is fatal: the in-flight record stays uncommitted and is
// reprocessed on restart.
func (e *NotificationEngine) Run(ctx context.Context) error {
	for {
		msg, done, err := e.read(ctx)
		if done {
			return nil
		}
		if err != nil {
			return err
		}

		notifications, err := e.transformer.ToNotifications(ctx, msg)
		if err != nil {
			return err
		}

		if len(notifications) > 0 {
			if err := e.seedPeriodic(ctx, notifications); err != nil {
				return err
			}

			sent, failed, _ := e.notifier.Send(ctx, notifications)
			if err := e.publish(ctx, e.outputTopic, sent); err != nil {
				return err
			}
			if err := e.publish(ctx, e.retryTopic, failed); err != nil {
				return err
			}
		}

		if err := e.commit(ctx, msg); err != nil {
			return err
		}
		e.metrics.RecordAlarmFinished()
	}
}

// seedPeriodic publishes each periodic-eligible notification onto its
// period's topic to start the re-firing cycle. The timestamp is stamped
// first so the periodic engine has a reference point for its wait.
func (e *NotificationEngine) seedPeriodic(ctx context.Context, notifications []*models.Notification) error {
	for _, n := range notifications {
		topic, ok := e.periodicTopics[n.PeriodicTopic]
		if !ok || n.Type != webhookType {
			continue
		}
		n.Stamp(e.now())
		slog.Debug("Seeding periodic notification",
			"alarm_id", n.AlarmID,
			"period", n.Period,
			"topic", topic,
		)
		if err := e.publish(ctx, topic, []*models.Notification{n}); err != nil {
			return err
		}
	}
	return nil
}

// Package processor transforms inbound alarm transitions into
// notifications and reconstructs notifications consumed from the retry
// and periodic topics.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sapcc/monasca-notification/internal/database"
	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/models"
)

// ActionStore is the configuration-store surface the transformer needs.
type ActionStore interface {
	FetchNotificationActions(ctx context.Context, alarmDefinitionID, state string) ([]models.NotificationAction, error)
}

// AlarmTransformer turns one alarm record into zero or more
// notifications.
type AlarmTransformer struct {
	// ttl is the maximum alarm age in seconds; nil disables the check.
	ttl     *int
	store   ActionStore
	metrics metrics.Recorder
	now     func() time.Time
}

// NewAlarmTransformer creates a transformer with the given alarm TTL.
func NewAlarmTransformer(ttl *int, store ActionStore, recorder metrics.Recorder) *AlarmTransformer {
	return &AlarmTransformer{
		ttl:     ttl,
		store:   store,
		metrics: recorder,
		now:     time.Now,
	}
}

// ToNotifications parses and validates one alarm record and fans it out
// into notifications, one per subscribed action, in store order. A
// malformed or dropped record yields an empty result with no error so the
// caller still commits it; only a configuration-store failure (after one
// transparent retry) is returned as an error.
func (t *AlarmTransformer) ToNotifications(ctx context.Context, msg kafka.Message) ([]*models.Notification, error) {
	alarm, err := models.ParseAlarm(msg.Value)
	if err != nil {
		t.metrics.RecordParseFailure()
		slog.Error("Invalid alarm format, skipping",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil, nil
	}

	slog.Debug("Read alarm from alarm topic",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"alarm_id", alarm.AlarmID,
	)

	if !t.alarmIsValid(alarm) {
		t.metrics.RecordNoNotification()
		return nil, nil
	}

	actions, err := t.fetchActions(ctx, alarm)
	if err != nil {
		return nil, err
	}
	if len(actions) == 0 {
		t.metrics.RecordNoNotification()
		slog.Debug("No notifications found for this alarm",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"alarm_id", alarm.AlarmID,
		)
		return nil, nil
	}

	description := t.renderDescription(alarm)

	notifications := make([]*models.Notification, 0, len(actions))
	for _, action := range actions {
		n := models.NewNotification(action, alarm)
		n.AlarmDescription = description
		notifications = append(notifications, n)
	}
	t.metrics.RecordCreated(len(notifications))
	return notifications, nil
}

// alarmIsValid checks that actions are enabled and the alarm is within
// the TTL.
func (t *AlarmTransformer) alarmIsValid(alarm *models.Alarm) bool {
	if !alarm.ActionsEnabled {
		slog.Debug("Actions are disabled for this alarm", "alarm_id", alarm.AlarmID)
		return false
	}

	if t.ttl != nil {
		age := t.now().Sub(alarm.Time())
		if age > time.Duration(*t.ttl)*time.Second {
			slog.Warn("Received alarm older than the ttl, skipping",
				"alarm_id", alarm.AlarmID,
				"alarm_time", alarm.Time(),
			)
			return false
		}
	}
	return true
}

// fetchActions queries the store, retrying exactly once on a store
// failure with a fresh connection.
func (t *AlarmTransformer) fetchActions(ctx context.Context, alarm *models.Alarm) ([]models.NotificationAction, error) {
	actions, err := t.store.FetchNotificationActions(ctx, alarm.AlarmDefinitionID, alarm.NewState)
	var storeErr *database.Error
	if errors.As(err, &storeErr) {
		slog.Debug("Database error, attempting reconnect")
		actions, err = t.store.FetchNotificationActions(ctx, alarm.AlarmDefinitionID, alarm.NewState)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification actions: %w", err)
	}
	return actions, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/database"
	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/models"
	"github.com/sapcc/monasca-notification/internal/processor"
)

// okState terminates a periodic cycle; cleared alarms are not repeated.
const okState = "OK"

// PeriodicStore is the configuration-store surface the periodic engine
// needs.
type PeriodicStore interface {
	processor.MethodStore
	GetAlarmCurrentState(ctx context.Context, alarmID string) (string, bool, error)
}

// PeriodicEngine re-fires notifications for alarms that stay in a non-OK
// state. One instance serves one configured period; the cycle lives
// entirely in the period's topic, with each consumed record re-published
// to keep it alive.
type PeriodicEngine struct {
	Engine

	store    PeriodicStore
	notifier Notifier
	topic    string
}

// NewPeriodicEngine wires a periodic engine for the named period.
func NewPeriodicEngine(
	cfg *config.Config,
	period string,
	c Consumer,
	p Producer,
	store PeriodicStore,
	notifier Notifier,
	recorder metrics.Recorder,
) (*PeriodicEngine, error) {
	if _, err := cfg.PeriodSeconds(period); err != nil {
		return nil, err
	}
	topic := cfg.Kafka.Periodic[period]
	return &PeriodicEngine{
		Engine:   newEngine(c, p, recorder),
		store:    store,
		notifier: notifier,
		topic:    topic,
	}, nil
}

// Run consumes the period's topic until the context is cancelled.
func (e *PeriodicEngine) Run(ctx context.Context) error {
	for {
		msg, done, err := e.read(ctx)
		if done {
			return nil
		}
		if err != nil {
			return err
		}

		if err := e.handle(ctx, msg.Value); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := e.commit(ctx, msg); err != nil {
			return err
		}
	}
}

// handle processes one periodic record: drop it when the cycle should
// end, otherwise fire or wait and re-publish to keep the cycle alive.
func (e *PeriodicEngine) handle(ctx context.Context, value []byte) error {
	n, err := models.NotificationFromJSON(value)
	if err != nil {
		slog.Error("Invalid notification on periodic topic, skipping", "error", err)
		return nil
	}

	n, err = processor.Reconstruct(ctx, e.store, n)
	if err != nil {
		return err
	}
	if n == nil {
		return nil
	}

	lastFired, ok := n.SentAt()
	if !ok {
		slog.Debug("Notification timestamp empty, dropping",
			"type", n.Type,
			"name", n.Name,
			"period", n.Period,
		)
		return nil
	}

	keep, err := e.keepSending(ctx, n)
	if err != nil {
		return err
	}
	if !keep {
		return nil
	}

	wait := time.Duration(n.Period)*time.Second - e.now().Sub(lastFired)
	slog.Debug("Periodic wait duration", "wait", wait, "alarm_id", n.AlarmID)
	if wait < 0 {
		slog.Debug("Periodic firing",
			"type", n.Type,
			"name", n.Name,
			"period", n.Period,
			"alarm_id", n.AlarmID,
		)
		n.Stamp(e.now())
		e.notifier.Send(ctx, []*models.Notification{n})
	} else {
		// Not due yet; the 1s pause keeps the cycle from spinning.
		e.sleep(ctx, time.Second)
	}

	return e.publish(ctx, e.topic, []*models.Notification{n})
}

// keepSending reports whether the periodic cycle should continue: it
// stops once the alarm is deleted, has changed state, or is OK. A store
// failure is retried exactly once before being propagated.
func (e *PeriodicEngine) keepSending(ctx context.Context, n *models.Notification) (bool, error) {
	state, exists, err := e.store.GetAlarmCurrentState(ctx, n.AlarmID)
	var storeErr *database.Error
	if errors.As(err, &storeErr) {
		slog.Debug("Database error, attempting reconnect")
		state, exists, err = e.store.GetAlarmCurrentState(ctx, n.AlarmID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch current alarm state: %w", err)
	}

	switch {
	case !exists:
		return false, nil
	case state != n.State:
		return false, nil
	case state == okState:
		return false, nil
	}
	return true, nil
}

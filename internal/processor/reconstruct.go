package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sapcc/monasca-notification/internal/database"
	"github.com/sapcc/monasca-notification/internal/models"
)

// MethodStore is the configuration-store surface needed to reconstruct a
// notification from a retry or periodic record.
type MethodStore interface {
	GetNotificationMethod(ctx context.Context, id string) (*models.NotificationAction, error)
}

// Reconstruct refreshes a consumed notification against the current
// configuration store so that later edits to the notification method take
// effect mid-flight. It returns nil without error when the method has been
// deleted; the caller commits and drops the record. A store failure is
// retried exactly once before being propagated.
func Reconstruct(ctx context.Context, store MethodStore, n *models.Notification) (*models.Notification, error) {
	action, err := store.GetNotificationMethod(ctx, n.ID)
	var storeErr *database.Error
	if errors.As(err, &storeErr) {
		slog.Debug("Database error, attempting reconnect")
		action, err = store.GetNotificationMethod(ctx, n.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification method %s: %w", n.ID, err)
	}
	if action == nil {
		slog.Debug("Notification method no longer exists, dropping", "id", n.ID)
		return nil, nil
	}

	n.Type = action.Type
	n.Name = action.Name
	n.Address = action.Address
	n.Period = action.Period
	n.PeriodicTopic = strconv.Itoa(action.Period)
	return n, nil
}

// Package dispatch multiplexes notifications across the per-channel
// dispatchers and classifies the outcome of every send.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/metrics"
	"github.com/sapcc/monasca-notification/internal/models"
)

// ErrNotConfigured is returned by Configure when the configuration has no
// section for the dispatcher's type. The dispatcher stays inactive.
var ErrNotConfigured = errors.New("notification type has no configuration section")

// Dispatcher performs the outbound I/O for one notification type.
type Dispatcher interface {
	// Kind is the stable lower-case type identifier.
	Kind() string

	// Configure prepares the dispatcher from its channel section. It is
	// called once at startup; an error removes the dispatcher from the
	// active set.
	Configure(cfg *config.Config) error

	// Send delivers one notification. A non-nil error classifies the
	// notification as failed.
	Send(ctx context.Context, n *models.Notification) error
}

// Factory constructs an unconfigured dispatcher.
type Factory func() Dispatcher

// extensions holds dispatcher factories registered at build time beyond
// the built-in set. They are activated by name through
// notification_types.plugins; no code is loaded at runtime.
var extensions = map[string]Factory{}

// RegisterExtension makes an additional dispatcher kind available for
// activation via the plugins list. Call it from an init function in the
// extension's package.
func RegisterExtension(kind string, factory Factory) {
	extensions[kind] = factory
}

// builtins enumerates the dispatcher types compiled into every build.
// Each channel package registers itself from an init function, the same
// way database/sql drivers do.
var builtins = map[string]Factory{}

// RegisterBuiltin registers one of the standard dispatcher types.
func RegisterBuiltin(kind string, factory Factory) {
	builtins[kind] = factory
}

// Registry owns the active dispatcher set for one engine process.
type Registry struct {
	active  map[string]Dispatcher
	metrics metrics.Recorder
	now     func() time.Time
}

// NewRegistry configures every built-in dispatcher plus the plugin kinds
// named in the configuration. A dispatcher whose section is missing or
// whose configuration fails is logged and left out of the active set; the
// registry is usable as long as at least one dispatcher is active.
func NewRegistry(cfg *config.Config, recorder metrics.Recorder) *Registry {
	registry := &Registry{
		active:  make(map[string]Dispatcher),
		metrics: recorder,
		now:     time.Now,
	}

	factories := make(map[string]Factory, len(builtins))
	for kind, factory := range builtins {
		factories[kind] = factory
	}
	for _, kind := range cfg.NotificationTypes.Plugins {
		factory, ok := extensions[kind]
		if !ok {
			slog.Error("Unknown notification plugin, skipping", "type", kind)
			continue
		}
		factories[kind] = factory
	}

	for kind, factory := range factories {
		dispatcher := factory()
		err := dispatcher.Configure(cfg)
		switch {
		case errors.Is(err, ErrNotConfigured):
			slog.Warn("No config data for notification type", "type", kind)
		case err != nil:
			slog.Error("Failed to configure notification type", "type", kind, "error", err)
		default:
			registry.active[kind] = dispatcher
			slog.Info("Notification type ready", "type", kind)
		}
	}
	return registry
}

// ActiveKinds returns the configured dispatcher types in sorted order.
func (r *Registry) ActiveKinds() []string {
	kinds := make([]string, 0, len(r.active))
	for kind := range r.active {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// MethodTypeStore is the store surface needed to register method types.
type MethodTypeStore interface {
	FetchNotificationMethodTypes(ctx context.Context) ([]string, error)
	InsertNotificationMethodTypes(ctx context.Context, types []string) error
}

// RegisterMethodTypes persists any active dispatcher types the store does
// not know yet.
func (r *Registry) RegisterMethodTypes(ctx context.Context, store MethodTypeStore) error {
	persisted, err := store.FetchNotificationMethodTypes(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch notification method types: %w", err)
	}

	known := make(map[string]bool, len(persisted))
	for _, name := range persisted {
		known[name] = true
	}

	var missing []string
	for _, kind := range r.ActiveKinds() {
		if !known[kind] {
			missing = append(missing, kind)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	slog.Info("Adding new notification method types to the store", "types", missing)
	if err := store.InsertNotificationMethodTypes(ctx, missing); err != nil {
		return fmt.Errorf("failed to insert notification method types: %w", err)
	}
	return nil
}

// Send dispatches each notification through its type's dispatcher and
// classifies the results. The notification timestamp is stamped before
// each attempt. A dispatcher failure never affects the other
// notifications in the batch.
func (r *Registry) Send(ctx context.Context, notifications []*models.Notification) (sent, failed, invalid []*models.Notification) {
	for _, n := range notifications {
		dispatcher, ok := r.active[n.Type]
		if !ok {
			slog.Warn("Attempting to send unconfigured notification type", "type", n.Type)
			r.metrics.RecordInvalidType()
			invalid = append(invalid, n)
			continue
		}

		n.Stamp(r.now())

		start := r.now()
		err := r.sendOne(ctx, dispatcher, n)
		r.metrics.RecordSendLatency(n.Type, r.now().Sub(start))

		if err != nil {
			slog.Error("Failed to send notification",
				"type", n.Type,
				"name", n.Name,
				"alarm_id", n.AlarmID,
				"error", err,
			)
			r.metrics.RecordSendError(n.Type)
			failed = append(failed, n)
			continue
		}

		r.metrics.RecordSent(n.Type)
		sent = append(sent, n)
	}
	return sent, failed, invalid
}

// sendOne isolates one dispatch attempt. Dispatchers may be third-party
// plugin code, so a panic is contained as a failed send.
func (r *Registry) sendOne(ctx context.Context, dispatcher Dispatcher, n *models.Notification) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("dispatcher panic: %v", recovered)
		}
	}()
	return dispatcher.Send(ctx, n)
}

// Package pagerduty delivers notifications as event triggers to the
// paging provider. The notification address carries the service key.
package pagerduty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/dispatch"
	"github.com/sapcc/monasca-notification/internal/models"
)

func init() {
	dispatch.RegisterBuiltin("pagerduty", func() dispatch.Dispatcher { return New() })
}

// defaultEventsURL is the provider's generic event-trigger endpoint.
const defaultEventsURL = "https://events.pagerduty.com/generic/2010-04-15/create_event.json"

// Dispatcher implements paging notification sending.
type Dispatcher struct {
	httpClient *http.Client
	url        string
}

// New creates an unconfigured paging dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Kind returns the notification type this dispatcher handles.
func (d *Dispatcher) Kind() string {
	return "pagerduty"
}

// Configure sets up the HTTP client from the pagerduty section.
func (d *Dispatcher) Configure(cfg *config.Config) error {
	section := cfg.NotificationTypes.Pagerduty
	if section == nil {
		return dispatch.ErrNotConfigured
	}

	timeout := section.Timeout
	if timeout == 0 {
		timeout = config.DefaultDispatchTimeout
	}
	d.httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}

	d.url = section.URL
	if d.url == "" {
		d.url = defaultEventsURL
	}
	return nil
}

// event is the provider's event-trigger payload.
type event struct {
	ServiceKey  string       `json:"service_key"`
	EventType   string       `json:"event_type"`
	Description string       `json:"description"`
	Client      string       `json:"client"`
	ClientURL   string       `json:"client_url"`
	Details     eventDetails `json:"details"`
}

type eventDetails struct {
	AlarmID   string `json:"alarm_id"`
	AlarmName string `json:"alarm_name"`
	Current   string `json:"current"`
	Message   string `json:"message"`
}

// Send triggers a paging event for the notification. Success is any 2xx
// status.
func (d *Dispatcher) Send(ctx context.Context, n *models.Notification) error {
	body := event{
		ServiceKey:  n.Address,
		EventType:   "trigger",
		Description: n.Message,
		Client:      "Monasca",
		Details: eventDetails{
			AlarmID:   n.AlarmID,
			AlarmName: n.AlarmName,
			Current:   n.State,
			Message:   n.Message,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post on URL %s: %w", d.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received HTTP code %d when trying to post on URL %s", resp.StatusCode, d.url)
	}

	slog.Debug("Paging notification successfully posted", "alarm_id", n.AlarmID)
	return nil
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

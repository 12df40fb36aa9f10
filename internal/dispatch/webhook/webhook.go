// Package webhook delivers notifications as HTTP POSTs of a JSON alarm
// summary to the notification's address.
package webhook

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
	dispatch.RegisterBuiltin("webhook", func() dispatch.Dispatcher { return New() })
}

// Dispatcher implements webhook notification sending via HTTP POST.
type Dispatcher struct {
	httpClient *http.Client
}

// New creates an unconfigured webhook dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Kind returns the notification type this dispatcher handles.
func (d *Dispatcher) Kind() string {
	return "webhook"
}

// Configure sets up the HTTP client from the webhook section.
func (d *Dispatcher) Configure(cfg *config.Config) error {
	section := cfg.NotificationTypes.Webhook
	if section == nil {
		return dispatch.ErrNotConfigured
	}

	timeout := section.Timeout
	if timeout == 0 {
		timeout = config.DefaultDispatchTimeout
	}
	d.httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	return nil
}

// payload is the JSON body posted to the webhook address.
type payload struct {
	AlarmID           string          `json:"alarm_id"`
	AlarmDefinitionID string          `json:"alarm_definition_id"`
	AlarmName         string          `json:"alarm_name"`
	AlarmDescription  string          `json:"alarm_description"`
	AlarmTimestamp    float64         `json:"alarm_timestamp"`
	State             string          `json:"state"`
	OldState          string          `json:"old_state"`
	Message           string          `json:"message"`
	TenantID          string          `json:"tenant_id"`
	Metrics           []models.Metric `json:"metrics"`
}

// Send posts the notification to its address. Success is any 2xx status.
func (d *Dispatcher) Send(ctx context.Context, n *models.Notification) error {
	body := payload{
		AlarmID:        n.AlarmID,
		AlarmName:      n.AlarmName,
		AlarmTimestamp: n.AlarmTimestamp,
		State:          n.State,
		OldState:       n.OldState,
		Message:        n.Message,
		TenantID:       n.TenantID,
		Metrics:        n.Metrics(),
	}
	if n.RawAlarm != nil {
		body.AlarmDefinitionID = n.RawAlarm.AlarmDefinitionID
		body.AlarmDescription = n.RawAlarm.AlarmDescription
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.Address, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post on URL %s: %w", n.Address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received HTTP code %d when trying to post on URL %s", resp.StatusCode, n.Address)
	}

	slog.Debug("Webhook notification successfully posted", "url", n.Address, "alarm_id", n.AlarmID)
	return nil
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

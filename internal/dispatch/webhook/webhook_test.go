package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/dispatch"
	"github.com/sapcc/monasca-notification/internal/models"
)

func webhookNotification(address string) *models.Notification {
	return &models.Notification{
		ID:               "m-1",
		Type:             "webhook",
		Name:             "ops hook",
		Address:          address,
		AlarmID:          "alarm-001",
		AlarmName:        "cpu high",
		AlarmDescription: "rendered description",
		AlarmTimestamp:   1722000000,
		Message:          "Thresholds were exceeded",
		State:            "ALARM",
		OldState:         "OK",
		TenantID:         "tenant-1",
		RawAlarm: &models.Alarm{
			AlarmDefinitionID: "def-001",
			AlarmDescription:  "raw {{template}} description",
			Metrics: []models.Metric{
				{Name: "cpu.idle_perc", Dimensions: map[string]string{"hostname": "host-1"}},
			},
		},
	}
}

func configuredDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := &config.Config{}
	cfg.NotificationTypes.Webhook = &config.WebhookConfig{Timeout: 1}

	d := New()
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return d
}

func TestConfigure_MissingSection(t *testing.T) {
	d := New()
	err := d.Configure(&config.Config{})
	if !errors.Is(err, dispatch.ErrNotConfigured) {
		t.Errorf("Configure() error = %v, want ErrNotConfigured", err)
	}
}

func TestSend(t *testing.T) {
	var received []byte
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := configuredDispatcher(t)
	if err := d.Send(context.Background(), webhookNotification(server.URL)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}

	var body map[string]any
	if err := json.Unmarshal(received, &body); err != nil {
		t.Fatalf("failed to decode posted body: %v", err)
	}
	if body["alarm_id"] != "alarm-001" {
		t.Errorf("alarm_id = %v", body["alarm_id"])
	}
	if body["alarm_definition_id"] != "def-001" {
		t.Errorf("alarm_definition_id = %v", body["alarm_definition_id"])
	}
	// The posted description is the raw alarm description, not the
	// rendered one.
	if body["alarm_description"] != "raw {{template}} description" {
		t.Errorf("alarm_description = %v", body["alarm_description"])
	}
	if body["state"] != "ALARM" || body["old_state"] != "OK" {
		t.Errorf("states = %v/%v", body["state"], body["old_state"])
	}
	metrics, ok := body["metrics"].([]any)
	if !ok || len(metrics) != 1 {
		t.Errorf("metrics = %v, want one entry", body["metrics"])
	}
}

func TestSend_HTTPStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "200 OK", status: http.StatusOK},
		{name: "204 no content", status: http.StatusNoContent},
		{name: "404 not found", status: http.StatusNotFound, wantErr: true},
		{name: "500 server error", status: http.StatusInternalServerError, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			d := configuredDispatcher(t)
			err := d.Send(context.Background(), webhookNotification(server.URL))
			if (err != nil) != tt.wantErr {
				t.Errorf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	address := server.URL
	server.Close()

	d := configuredDispatcher(t)
	if err := d.Send(context.Background(), webhookNotification(address)); err == nil {
		t.Error("Send() expected error for unreachable address")
	}
}

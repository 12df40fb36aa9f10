package slack

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

func chatNotification(address string) *models.Notification {
	return &models.Notification{
		ID:               "m-1",
		Type:             "slack",
		Name:             "ops room",
		Address:          address,
		AlarmID:          "alarm-001",
		AlarmName:        "cpu high",
		AlarmDescription: "see [runbook](http://example.com/rb)",
		Message:          "Thresholds were exceeded",
		State:            "ALARM",
	}
}

func configuredDispatcher(t *testing.T, section *config.SlackConfig) *Dispatcher {
	t.Helper()
	cfg := &config.Config{}
	cfg.NotificationTypes.Slack = section

	d := New()
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return d
}

func TestConfigure_MissingSection(t *testing.T) {
	d := New()
	if err := d.Configure(&config.Config{}); !errors.Is(err, dispatch.ErrNotConfigured) {
		t.Errorf("Configure() error = %v, want ErrNotConfigured", err)
	}
}

func TestConfigure_BadCACerts(t *testing.T) {
	cfg := &config.Config{}
	cfg.NotificationTypes.Slack = &config.SlackConfig{CACerts: "/nonexistent/ca.pem"}

	d := New()
	if err := d.Configure(cfg); err == nil {
		t.Error("Configure() expected error for unreadable ca_certs")
	}
}

func TestSend_DefaultMessage(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := configuredDispatcher(t, &config.SlackConfig{Timeout: 1})
	if err := d.Send(context.Background(), chatNotification(server.URL)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(received, &body); err != nil {
		t.Fatalf("failed to decode posted body: %v", err)
	}
	want := "ALARM - see [runbook](http://example.com/rb): Thresholds were exceeded"
	if body["text"] != want {
		t.Errorf("text = %q, want %q", body["text"], want)
	}
}

func TestSend_ChannelHoistedIntoBody(t *testing.T) {
	var received []byte
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := configuredDispatcher(t, &config.SlackConfig{Timeout: 1})
	address := server.URL + "?token=tok&channel=#alerts"
	if err := d.Send(context.Background(), chatNotification(address)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(received, &body); err != nil {
		t.Fatalf("failed to decode posted body: %v", err)
	}
	if body["channel"] != "#alerts" {
		t.Errorf("channel = %q, want #alerts", body["channel"])
	}
	if query != "token=tok" {
		t.Errorf("remaining query = %q, want token only", query)
	}
}

func TestSend_TemplatedMessage(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	section := &config.SlackConfig{
		Timeout: 1,
		Template: &config.TemplateConfig{
			Text:     `{"text": "{{.alarm_name}} is {{.state}}", "username": "monasca"}`,
			MimeType: "application/json",
		},
	}
	d := configuredDispatcher(t, section)
	if err := d.Send(context.Background(), chatNotification(server.URL)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(received, &body); err != nil {
		t.Fatalf("failed to decode posted body: %v", err)
	}
	if body["text"] != "cpu high is ALARM" {
		t.Errorf("text = %q", body["text"])
	}
	if body["username"] != "monasca" {
		t.Errorf("username = %q, the JSON template should become the message object", body["username"])
	}
}

func TestSend_LinksRewrittenForTemplates(t *testing.T) {
	var received []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	section := &config.SlackConfig{
		Timeout:  1,
		Template: &config.TemplateConfig{Text: "{{.alarm_description}}"},
	}
	d := configuredDispatcher(t, section)
	if err := d.Send(context.Background(), chatNotification(server.URL)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(received, &body); err != nil {
		t.Fatalf("failed to decode posted body: %v", err)
	}
	if body["text"] != "see <http://example.com/rb|runbook>" {
		t.Errorf("text = %q, want chat-style link", body["text"])
	}
}

func TestSend_ResponseOKField(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "ok true", body: `{"ok": true}`},
		{name: "ok false", body: `{"ok": false, "error": "channel_not_found"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			d := configuredDispatcher(t, &config.SlackConfig{Timeout: 1})
			err := d.Send(context.Background(), chatNotification(server.URL))
			if (err != nil) != tt.wantErr {
				t.Errorf("Send() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSend_NonJSONResponseIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer server.Close()

	d := configuredDispatcher(t, &config.SlackConfig{Timeout: 1})
	if err := d.Send(context.Background(), chatNotification(server.URL)); err != nil {
		t.Errorf("Send() error = %v, a 2xx non-JSON response is a success", err)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := configuredDispatcher(t, &config.SlackConfig{Timeout: 1})
	if err := d.Send(context.Background(), chatNotification(server.URL)); err == nil {
		t.Error("Send() expected error for 403 response")
	}
}

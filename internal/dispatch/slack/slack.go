// Package slack delivers notifications to a chat room. The notification
// address is the post URL and carries channel and token as query
// parameters:
//
//	https://slack.com/api/chat.postMessage?token=token&channel=#channel
package slack

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/dispatch"
	"github.com/sapcc/monasca-notification/internal/dispatch/notiftmpl"
	"github.com/sapcc/monasca-notification/internal/models"
)

func init() {
	dispatch.RegisterBuiltin("slack", func() dispatch.Dispatcher { return New() })
}

// Dispatcher implements chat-room notification sending.
type Dispatcher struct {
	httpClient *http.Client
	template   *notiftmpl.Template
}

// New creates an unconfigured chat dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Kind returns the notification type this dispatcher handles.
func (d *Dispatcher) Kind() string {
	return "slack"
}

// Configure builds the HTTP client from the slack section. TLS
// verification is on unless insecure is set; a ca_certs path overrides
// the system pool. An unreadable ca_certs file or template fails the
// dispatcher's registration.
func (d *Dispatcher) Configure(cfg *config.Config) error {
	section := cfg.NotificationTypes.Slack
	if section == nil {
		return dispatch.ErrNotConfigured
	}

	timeout := section.Timeout
	if timeout == 0 {
		timeout = config.DefaultDispatchTimeout
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: section.Insecure}
	if section.CACerts != "" {
		pem, err := os.ReadFile(section.CACerts)
		if err != nil {
			return fmt.Errorf("failed to read ca_certs: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return fmt.Errorf("no certificates found in %s", section.CACerts)
		}
		tlsConfig.RootCAs = pool
		tlsConfig.InsecureSkipVerify = false
	}

	transport := &http.Transport{TLSClientConfig: tlsConfig}
	if section.Proxy != "" {
		proxyURL, err := url.Parse(section.Proxy)
		if err != nil {
			return fmt.Errorf("failed to parse proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	d.httpClient = &http.Client{
		Timeout:   time.Duration(timeout) * time.Second,
		Transport: transport,
	}

	if section.Template != nil {
		tpl, err := notiftmpl.Load(section.Template)
		if err != nil {
			return err
		}
		d.template = tpl
	}
	return nil
}

// buildMessage renders the chat message body. With a JSON template the
// rendered text becomes the message object; otherwise the text is wrapped
// as {"text": ...}. Markdown links are rewritten to the channel's
// <url|label> form.
func (d *Dispatcher) buildMessage(n *models.Notification) map[string]any {
	if d.template != nil {
		vars := n.TemplateVars()
		vars["alarm_description"] = notiftmpl.SlackLinks(n.AlarmDescription)

		text, err := d.template.Render(vars)
		if err != nil {
			slog.Error("Failed to render chat template", "error", err)
		} else if d.template.MimeType() == notiftmpl.MimeJSON {
			var message map[string]any
			if err := json.Unmarshal([]byte(text), &message); err != nil {
				slog.Error("Invalid JSON chat template rendering", "error", err)
			} else {
				return message
			}
		} else {
			return map[string]any{"text": text}
		}
	}

	return map[string]any{
		"text": fmt.Sprintf("%s - %s: %s", n.State, n.AlarmDescription, n.Message),
	}
}

// Send posts the message to the notification address. Success is a 2xx
// status whose JSON body, when the response declares JSON, carries a
// truthy ok field.
func (d *Dispatcher) Send(ctx context.Context, n *models.Notification) error {
	message := d.buildMessage(n)

	// A chat room address may start with "#", which is a reserved URL
	// character.
	address := strings.ReplaceAll(n.Address, "#", "%23")
	parsed, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("failed to parse address: %w", err)
	}

	query := parsed.Query()
	if channel := query.Get("channel"); channel != "" {
		message["channel"] = strings.ReplaceAll(channel, "%23", "#")
		query.Del("channel")
	}
	parsed.RawQuery = query.Encode()

	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsed.String(), bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post on URL %s: %w", parsed.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received HTTP code %d when trying to post on URL %s", resp.StatusCode, parsed.String())
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		var response struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
		if !response.OK {
			return fmt.Errorf("chat service rejected the message: %s", response.Error)
		}
	}

	slog.Debug("Chat notification successfully posted", "alarm_id", n.AlarmID)
	return nil
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

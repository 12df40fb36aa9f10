// Package email delivers notifications over SMTP. The dispatcher owns a
// persistent SMTP connection and re-establishes it when the server
// disconnects.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	texttemplate "text/template"

	"github.com/sapcc/monasca-notification/internal/config"
	"github.com/sapcc/monasca-notification/internal/dispatch"
	"github.com/sapcc/monasca-notification/internal/dispatch/notiftmpl"
	"github.com/sapcc/monasca-notification/internal/models"
)

func init() {
	dispatch.RegisterBuiltin("email", func() dispatch.Dispatcher { return New() })
}

// Dispatcher implements email notification sending via SMTP.
type Dispatcher struct {
	server   string
	port     int
	user     string
	password string
	fromAddr string
	timeout  time.Duration

	template        *notiftmpl.Template
	subjectTemplate *texttemplate.Template

	client *smtp.Client
}

// New creates an unconfigured email dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Kind returns the notification type this dispatcher handles.
func (d *Dispatcher) Kind() string {
	return "email"
}

// Configure loads the email section and connects to the SMTP server. A
// template error fails the dispatcher's registration; a connect failure
// does not, because Send reconnects on demand.
func (d *Dispatcher) Configure(cfg *config.Config) error {
	section := cfg.NotificationTypes.Email
	if section == nil {
		return dispatch.ErrNotConfigured
	}

	d.server = section.Server
	d.port = section.Port
	d.user = section.User
	d.password = section.Password
	d.fromAddr = section.FromAddr

	timeout := section.Timeout
	if timeout == 0 {
		timeout = config.DefaultDispatchTimeout
	}
	d.timeout = time.Duration(timeout) * time.Second

	if section.Template != nil {
		tpl, err := notiftmpl.Load(section.Template)
		if err != nil {
			return err
		}
		d.template = tpl

		subjectText := section.Template.Subject
		if subjectText != "" {
			subject, err := notiftmpl.Compile(subjectText)
			if err != nil {
				return fmt.Errorf("failed to parse subject template: %w", err)
			}
			d.subjectTemplate = subject
		}
	}

	if err := d.connect(); err != nil {
		slog.Error("Unable to connect to email server", "server", d.server, "error", err)
	}
	return nil
}

// connect establishes the SMTP session, upgrading to TLS when the server
// supports STARTTLS and authenticating when credentials are configured.
func (d *Dispatcher) connect() error {
	addr := fmt.Sprintf("%s:%d", d.server, d.port)
	slog.Info("Connecting to email server", "server", addr)

	conn, err := net.DialTimeout("tcp", addr, d.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, d.server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: d.server}); err != nil {
			client.Close()
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if d.user != "" {
		auth := smtp.PlainAuth("", d.user, d.password, d.server)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	d.client = client
	return nil
}

// Send delivers the notification by email. If the server disconnected
// since the last send, the session is re-established and the message
// retried exactly once.
func (d *Dispatcher) Send(ctx context.Context, n *models.Notification) error {
	msg, err := d.buildMessage(n)
	if err != nil {
		return err
	}

	if d.client == nil {
		if err := d.connect(); err != nil {
			return err
		}
	}

	err = d.sendMail(n.Address, msg)
	if err == nil {
		return nil
	}
	if !isDisconnect(err) {
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Warn("SMTP server disconnected, reconnecting and retrying message", "server", d.server)
	d.close()
	if err := d.connect(); err != nil {
		return err
	}
	if err := d.sendMail(n.Address, msg); err != nil {
		return fmt.Errorf("failed to send email after reconnect: %w", err)
	}
	return nil
}

func (d *Dispatcher) sendMail(to string, msg []byte) error {
	if err := d.client.Mail(d.fromAddr); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := d.client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", to, err)
	}
	writer, err := d.client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return nil
}

func (d *Dispatcher) close() {
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
}

// isDisconnect reports whether an SMTP error indicates a dropped session
// rather than a rejected message.
func isDisconnect(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"EOF",
		"broken pipe",
		"connection reset",
		"use of closed network connection",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

package email

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sapcc/monasca-notification/internal/dispatch/notiftmpl"
	"github.com/sapcc/monasca-notification/internal/models"
)

// Built-in bodies used when no template is configured. Which one applies
// depends on how many distinct hostname dimensions the alarm's metrics
// carry and whether a target_host dimension is present.
const (
	bodySingleHostWithTarget = `On host "%s" for target "%s" %s

Alarm "%s" transitioned to the %s state at %s UTC
alarm_id: %s
Lifecycle state: %s
Link: %s

With dimensions:
%s`

	bodySingleHost = `On host "%s" %s

Alarm "%s" transitioned to the %s state at %s UTC
alarm_id: %s
Lifecycle state: %s
Link: %s

With dimensions:
%s`

	bodyNoHost = `On multiple hosts %s

Alarm "%s" transitioned to the %s state at %s UTC
Alarm_id: %s
Lifecycle state: %s
Link: %s

With dimensions
%s`
)

// defaultSubjectPhrases is used by the default subject when a body
// template is configured but no subject template is.
var defaultSubjectPhrases = map[string]string{
	"ALARM":        "Alarm triggered",
	"OK":           "Alarm cleared",
	"UNDETERMINED": "Missing alarm data",
}

// buildMessage assembles the RFC 822 message for one notification.
func (d *Dispatcher) buildMessage(n *models.Notification) ([]byte, error) {
	if d.template != nil {
		return d.buildTemplatedMessage(n)
	}
	return d.buildDefaultMessage(n), nil
}

func (d *Dispatcher) buildTemplatedMessage(n *models.Notification) ([]byte, error) {
	vars := n.TemplateVars()
	vars["alarm_description"] = d.formatDescription(n.AlarmDescription)

	body, err := d.template.Render(vars)
	if err != nil {
		return nil, err
	}

	subject := defaultSubject(n)
	if d.subjectTemplate != nil {
		rendered, err := notiftmpl.Render(d.subjectTemplate, vars)
		if err != nil {
			return nil, fmt.Errorf("failed to render subject: %w", err)
		}
		subject = rendered
	}

	contentType := "text/plain"
	if d.template.MimeType() == notiftmpl.MimeHTML {
		contentType = "text/html"
	}
	return assembleMessage(d.fromAddr, n.Address, subject, contentType, body), nil
}

// formatDescription adapts the markdown description to the template's
// mime type: links become "text (url)" in plain mail and the whole
// description becomes HTML in HTML mail.
func (d *Dispatcher) formatDescription(description string) string {
	if d.template.MimeType() == notiftmpl.MimeHTML {
		return notiftmpl.ToHTML(description)
	}
	return notiftmpl.PlainLinks(description)
}

func defaultSubject(n *models.Notification) string {
	phrase, ok := defaultSubjectPhrases[n.State]
	if !ok {
		phrase = n.State
	}
	return fmt.Sprintf("%s for %s", phrase, n.AlarmName)
}

func (d *Dispatcher) buildDefaultMessage(n *models.Notification) []byte {
	hostnames, targetHosts := hostDimensions(n)

	timestamp := time.Unix(int64(n.AlarmTimestamp), 0).UTC().Format(time.ANSIC)
	dimensions := formatDimensions(n)
	message := strings.ToLower(n.Message)

	var body, subject string
	switch {
	case len(hostnames) == 1 && len(targetHosts) > 0:
		body = fmt.Sprintf(bodySingleHostWithTarget,
			hostnames[0], targetHosts[0], message, n.AlarmName, n.State,
			timestamp, n.AlarmID, n.LifecycleState, n.Link, dimensions)
		subject = fmt.Sprintf("%s %s %q for Host: %s Target: %s",
			n.State, n.Severity, n.AlarmName, hostnames[0], targetHosts[0])
	case len(hostnames) == 1:
		body = fmt.Sprintf(bodySingleHost,
			hostnames[0], message, n.AlarmName, n.State,
			timestamp, n.AlarmID, n.LifecycleState, n.Link, dimensions)
		subject = fmt.Sprintf("%s %s %q for Host: %s",
			n.State, n.Severity, n.AlarmName, hostnames[0])
	default:
		body = fmt.Sprintf(bodyNoHost,
			message, n.AlarmName, n.State,
			timestamp, n.AlarmID, n.LifecycleState, n.Link, dimensions)
		subject = fmt.Sprintf("%s %s %q", n.State, n.Severity, n.AlarmName)
	}

	return assembleMessage(d.fromAddr, n.Address, subject, "text/plain", body)
}

// hostDimensions collects the distinct hostname and target_host
// dimension values across the alarm's metrics, in first-seen order.
func hostDimensions(n *models.Notification) (hostnames, targetHosts []string) {
	seenHost := make(map[string]bool)
	seenTarget := make(map[string]bool)
	for _, metric := range n.Metrics() {
		if host, ok := metric.Dimensions["hostname"]; ok && !seenHost[host] {
			seenHost[host] = true
			hostnames = append(hostnames, host)
		}
		if target, ok := metric.Dimensions["target_host"]; ok && !seenTarget[target] {
			seenTarget[target] = true
			targetHosts = append(targetHosts, target)
		}
	}
	return hostnames, targetHosts
}

// formatDimensions renders each metric's dimension set as an indented
// block, keys sorted for stable output.
func formatDimensions(n *models.Notification) string {
	var sets []string
	for _, metric := range n.Metrics() {
		keys := make([]string, 0, len(metric.Dimensions))
		for key := range metric.Dimensions {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, key := range keys {
			pairs = append(pairs, fmt.Sprintf("    %s: %s", key, metric.Dimensions[key]))
		}
		sets = append(sets, "  {\n"+strings.Join(pairs, ",\n")+"\n  }")
	}
	return "[\n" + strings.Join(sets, ",\n") + " \n]"
}

// assembleMessage builds a complete email message in RFC 822 format.
func assembleMessage(from, to, subject, contentType, body string) []byte {
	var msg bytes.Buffer
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}

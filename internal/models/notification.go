package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// NotificationAction is one configured notification method subscribed to an
// alarm definition and target state, as stored in the configuration store.
type NotificationAction struct {
	ID      string
	Type    string
	Name    string
	Address string
	Period  int // seconds; 0 means non-periodic
}

// Notification is one pending delivery to an external channel. It is
// created by the alarm transformer, mutated only by the engines
// (RetryCount, NotificationTimestamp) and travels between engines as JSON
// on the message log.
type Notification struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	Name             string `json:"name"`
	Address          string `json:"address"`
	RetryCount       int    `json:"retry_count"`
	RawAlarm         *Alarm `json:"raw_alarm"`
	AlarmID          string `json:"alarm_id"`
	AlarmName        string `json:"alarm_name"`
	AlarmDescription string `json:"alarm_description"`
	// AlarmTimestamp is the alarm transition time in seconds since epoch.
	AlarmTimestamp float64 `json:"alarm_timestamp"`
	Message        string  `json:"message"`
	// NotificationTimestamp is set once the notification has been offered
	// to a dispatcher at least once, in seconds since epoch.
	NotificationTimestamp *float64 `json:"notification_timestamp"`
	OldState              string   `json:"old_state"`
	State                 string   `json:"state"`
	Severity              string   `json:"severity"`
	Link                  string   `json:"link"`
	LifecycleState        string   `json:"lifecycle_state"`
	TenantID              string   `json:"tenant_id"`
	Period                int      `json:"period"`
	PeriodicTopic         string   `json:"periodic_topic"`
}

// NewNotification builds a Notification from one configured action and the
// alarm that triggered it.
func NewNotification(action NotificationAction, alarm *Alarm) *Notification {
	return &Notification{
		ID:               action.ID,
		Type:             action.Type,
		Name:             action.Name,
		Address:          action.Address,
		Period:           action.Period,
		PeriodicTopic:    strconv.Itoa(action.Period),
		RawAlarm:         alarm,
		AlarmID:          alarm.AlarmID,
		AlarmName:        alarm.AlarmName,
		AlarmDescription: alarm.AlarmDescription,
		AlarmTimestamp:   float64(alarm.Timestamp) / 1000,
		Message:          alarm.StateChangeReason,
		State:            alarm.NewState,
		OldState:         alarm.OldState,
		Severity:         alarm.Severity,
		Link:             alarm.Link,
		LifecycleState:   alarm.LifecycleState,
		TenantID:         alarm.TenantID,
	}
}

// NotificationFromJSON decodes a notification record from any of the
// pipeline topics.
func NotificationFromJSON(value []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(value, &n); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	return &n, nil
}

// ToJSON serializes the notification for publishing.
func (n *Notification) ToJSON() ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return data, nil
}

// Stamp records t as the moment the notification was offered to a
// dispatcher.
func (n *Notification) Stamp(t time.Time) {
	ts := float64(t.UnixNano()) / float64(time.Second)
	n.NotificationTimestamp = &ts
}

// SentAt returns the last dispatch-attempt time and whether one exists.
func (n *Notification) SentAt() (time.Time, bool) {
	if n.NotificationTimestamp == nil {
		return time.Time{}, false
	}
	sec, frac := int64(*n.NotificationTimestamp), *n.NotificationTimestamp
	return time.Unix(sec, int64((frac-float64(sec))*float64(time.Second))).UTC(), true
}

// Metrics returns the metrics of the alarm that triggered the
// notification.
func (n *Notification) Metrics() []Metric {
	if n.RawAlarm == nil {
		return nil
	}
	return n.RawAlarm.Metrics
}

// TemplateVars exposes the notification's fields for channel templates.
func (n *Notification) TemplateVars() map[string]any {
	return map[string]any{
		"id":                n.ID,
		"type":              n.Type,
		"name":              n.Name,
		"address":           n.Address,
		"retry_count":       n.RetryCount,
		"alarm_id":          n.AlarmID,
		"alarm_name":        n.AlarmName,
		"alarm_description": n.AlarmDescription,
		"alarm_timestamp":   n.AlarmTimestamp,
		"message":           n.Message,
		"state":             n.State,
		"old_state":         n.OldState,
		"severity":          n.Severity,
		"link":              n.Link,
		"lifecycle_state":   n.LifecycleState,
		"tenant_id":         n.TenantID,
		"period":            n.Period,
	}
}

// Equal compares every notification field, including the raw alarm.
func (n *Notification) Equal(other *Notification) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.ID != other.ID ||
		n.Type != other.Type ||
		n.Name != other.Name ||
		n.Address != other.Address ||
		n.RetryCount != other.RetryCount ||
		n.AlarmID != other.AlarmID ||
		n.AlarmName != other.AlarmName ||
		n.AlarmDescription != other.AlarmDescription ||
		n.AlarmTimestamp != other.AlarmTimestamp ||
		n.Message != other.Message ||
		n.OldState != other.OldState ||
		n.State != other.State ||
		n.Severity != other.Severity ||
		n.Link != other.Link ||
		n.LifecycleState != other.LifecycleState ||
		n.TenantID != other.TenantID ||
		n.Period != other.Period ||
		n.PeriodicTopic != other.PeriodicTopic {
		return false
	}
	if (n.NotificationTimestamp == nil) != (other.NotificationTimestamp == nil) {
		return false
	}
	if n.NotificationTimestamp != nil && *n.NotificationTimestamp != *other.NotificationTimestamp {
		return false
	}
	return n.RawAlarm.Equal(other.RawAlarm)
}

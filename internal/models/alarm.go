// Package models defines the alarm and notification entities carried
// through the pipeline.
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Metric identifies one measurement attached to an alarm transition.
type Metric struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions"`
}

// MetricDefinition names the metric a sub-alarm expression evaluates.
type MetricDefinition struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

// SubAlarmExpression carries the metric definition of one sub-expression.
type SubAlarmExpression struct {
	MetricDefinition MetricDefinition `json:"metricDefinition"`
}

// SubAlarm is one sub-expression of an alarm with its most recent values.
type SubAlarm struct {
	Expression    SubAlarmExpression `json:"subAlarmExpression"`
	CurrentValues []float64          `json:"currentValues"`
}

// Alarm is the inbound alarm state-transition payload.
type Alarm struct {
	AlarmID           string     `json:"alarmId"`
	AlarmDefinitionID string     `json:"alarmDefinitionId"`
	AlarmName         string     `json:"alarmName"`
	AlarmDescription  string     `json:"alarmDescription"`
	NewState          string     `json:"newState"`
	OldState          string     `json:"oldState"`
	StateChangeReason string     `json:"stateChangeReason"`
	Severity          string     `json:"severity"`
	Link              string     `json:"link"`
	LifecycleState    string     `json:"lifecycleState"`
	TenantID          string     `json:"tenantId"`
	Timestamp         int64      `json:"timestamp"` // milliseconds since epoch
	ActionsEnabled    bool       `json:"actionsEnabled"`
	Metrics           []Metric   `json:"metrics"`
	SubAlarms         []SubAlarm `json:"subAlarms,omitempty"`
}

// alarmRequiredKeys are the keys an alarm-transitioned event must carry.
// subAlarms may be absent.
var alarmRequiredKeys = []string{
	"actionsEnabled",
	"alarmId",
	"alarmDefinitionId",
	"alarmName",
	"alarmDescription",
	"newState",
	"oldState",
	"stateChangeReason",
	"severity",
	"link",
	"lifecycleState",
	"tenantId",
	"timestamp",
	"metrics",
}

// alarmEnvelope is the wire wrapper around an alarm transition.
type alarmEnvelope struct {
	AlarmTransitioned json.RawMessage `json:"alarm-transitioned"`
}

// ParseAlarm decodes an alarm-transitioned record value and validates that
// all required keys are present. Any error returned is a format error; the
// record should be dropped and committed.
func ParseAlarm(value []byte) (*Alarm, error) {
	var envelope alarmEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode alarm record: %w", err)
	}
	if len(envelope.AlarmTransitioned) == 0 {
		return nil, fmt.Errorf("alarm record missing alarm-transitioned key")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(envelope.AlarmTransitioned, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode alarm object: %w", err)
	}
	for _, key := range alarmRequiredKeys {
		if _, ok := fields[key]; !ok {
			return nil, fmt.Errorf("alarm data missing field %s", key)
		}
	}

	var alarm Alarm
	if err := json.Unmarshal(envelope.AlarmTransitioned, &alarm); err != nil {
		return nil, fmt.Errorf("failed to decode alarm fields: %w", err)
	}
	return &alarm, nil
}

// Time returns the alarm transition time.
func (a *Alarm) Time() time.Time {
	return time.UnixMilli(a.Timestamp).UTC()
}

// MergedDimensions merges the dimensions of all metrics into one mapping.
// A key appearing with multiple distinct values maps to the values joined
// with ", " in sorted order.
func (a *Alarm) MergedDimensions() map[string]string {
	values := make(map[string]map[string]bool)
	for _, metric := range a.Metrics {
		for key, value := range metric.Dimensions {
			if values[key] == nil {
				values[key] = make(map[string]bool)
			}
			values[key][value] = true
		}
	}

	merged := make(map[string]string, len(values))
	for key, set := range values {
		list := make([]string, 0, len(set))
		for value := range set {
			list = append(list, value)
		}
		sort.Strings(list)
		merged[key] = strings.Join(list, ", ")
	}
	return merged
}

// MetricValues maps each sub-alarm's metric name to its current values:
// the scalar when there is exactly one value, the full sequence when there
// are several, nil when there are none.
func (a *Alarm) MetricValues() map[string]any {
	result := make(map[string]any, len(a.SubAlarms))
	for _, sub := range a.SubAlarms {
		name := sub.Expression.MetricDefinition.Name
		switch len(sub.CurrentValues) {
		case 0:
			result[name] = nil
		case 1:
			result[name] = sub.CurrentValues[0]
		default:
			result[name] = sub.CurrentValues
		}
	}
	return result
}

// Equal reports whether two alarms carry identical data.
func (a *Alarm) Equal(other *Alarm) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.AlarmID != other.AlarmID ||
		a.AlarmDefinitionID != other.AlarmDefinitionID ||
		a.AlarmName != other.AlarmName ||
		a.AlarmDescription != other.AlarmDescription ||
		a.NewState != other.NewState ||
		a.OldState != other.OldState ||
		a.StateChangeReason != other.StateChangeReason ||
		a.Severity != other.Severity ||
		a.Link != other.Link ||
		a.LifecycleState != other.LifecycleState ||
		a.TenantID != other.TenantID ||
		a.Timestamp != other.Timestamp ||
		a.ActionsEnabled != other.ActionsEnabled {
		return false
	}
	if len(a.Metrics) != len(other.Metrics) || len(a.SubAlarms) != len(other.SubAlarms) {
		return false
	}
	for i := range a.Metrics {
		if !a.Metrics[i].equal(&other.Metrics[i]) {
			return false
		}
	}
	for i := range a.SubAlarms {
		if !a.SubAlarms[i].equal(&other.SubAlarms[i]) {
			return false
		}
	}
	return true
}

func (m *Metric) equal(other *Metric) bool {
	if m.Name != other.Name || len(m.Dimensions) != len(other.Dimensions) {
		return false
	}
	for key, value := range m.Dimensions {
		if other.Dimensions[key] != value {
			return false
		}
	}
	return true
}

func (s *SubAlarm) equal(other *SubAlarm) bool {
	if s.Expression.MetricDefinition.Name != other.Expression.MetricDefinition.Name {
		return false
	}
	if len(s.CurrentValues) != len(other.CurrentValues) {
		return false
	}
	for i := range s.CurrentValues {
		if s.CurrentValues[i] != other.CurrentValues[i] {
			return false
		}
	}
	return true
}

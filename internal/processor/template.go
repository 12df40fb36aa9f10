package processor

import (
	"log/slog"
	"time"

	"github.com/sapcc/monasca-notification/internal/dispatch/notiftmpl"
	"github.com/sapcc/monasca-notification/internal/models"
)

// renderDescription treats the alarm description as a text template over
// the alarm's merged dimensions and metric values plus a few underscore
// variables. Rendering is total: a template syntax error keeps the raw
// description, any other rendering error is logged and the raw
// description is kept.
func (t *AlarmTransformer) renderDescription(alarm *models.Alarm) string {
	tpl, err := notiftmpl.Compile(alarm.AlarmDescription)
	if err != nil {
		return alarm.AlarmDescription
	}

	now := t.now()
	vars := make(map[string]any)
	for key, value := range alarm.MergedDimensions() {
		vars[key] = value
	}
	for name, value := range alarm.MetricValues() {
		vars[name] = value
	}
	vars["_age"] = int(now.Sub(alarm.Time()) / time.Second)
	vars["_timestamp"] = alarm.Time().UTC().Format(time.RFC3339)
	vars["_state"] = alarm.NewState
	vars["_old_state"] = alarm.OldState

	rendered, err := notiftmpl.Render(tpl, vars)
	if err != nil {
		slog.Error("Failed to render alarm description",
			"alarm_id", alarm.AlarmID,
			"error", err,
		)
		return alarm.AlarmDescription
	}
	return rendered
}

// Package template expands {{placeholder}} strings used in handler file
// paths, notification/webhook messages, and shell command text.
package template

import (
	"fmt"
	"regexp"
	"time"

	"cronpilot/internal/models"
)

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// Expand substitutes every recognized placeholder in tmpl. Unknown
// placeholders are left as literal text. task and execution may be nil.
func Expand(tmpl string, task *models.Task, execution *models.Execution) string {
	now := time.Now()
	return placeholderRE.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRE.FindStringSubmatch(match)[1]
		if v, ok := lookup(name, now, task, execution); ok {
			return v
		}
		return match
	})
}

func lookup(name string, now time.Time, task *models.Task, execution *models.Execution) (string, bool) {
	switch name {
	case "date":
		return now.Format("2006-01-02"), true
	case "year":
		return fmt.Sprintf("%04d", now.Year()), true
	case "month":
		return fmt.Sprintf("%02d", now.Month()), true
	case "day":
		return fmt.Sprintf("%02d", now.Day()), true
	case "hour":
		return fmt.Sprintf("%02d", now.Hour()), true
	case "minute":
		return fmt.Sprintf("%02d", now.Minute()), true
	case "second":
		return fmt.Sprintf("%02d", now.Second()), true
	case "timestamp":
		return fmt.Sprintf("%d", now.Unix()), true
	case "week_number":
		_, week := now.ISOWeek()
		return fmt.Sprintf("%d", week), true
	case "datetime":
		return now.Format("2006-01-02_15-04-05"), true
	case "date_hour":
		return now.Format("2006-01-02_15"), true
	case "task_id":
		if task != nil {
			return task.ID.String(), true
		}
		return "unknown", true
	case "task_name":
		if task != nil {
			return task.Name, true
		}
		return "unknown", true
	case "task_type":
		if task != nil {
			return string(task.Kind), true
		}
		return "unknown", true
	case "execution_id":
		if execution != nil {
			return execution.ID.String(), true
		}
		return "unknown", true
	case "status":
		if execution != nil {
			return string(execution.Status), true
		}
		return "unknown", true
	case "trigger_type":
		if execution != nil {
			return execution.TriggerType, true
		}
		return "unknown", true
	default:
		return "", false
	}
}

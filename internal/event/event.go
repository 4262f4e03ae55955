package event

import (
	"fmt"
	"strings"
	"time"
)

// TickerSource selects how the schedule position is derived.
type TickerSource string

const (
	// TickerManual means the position is explicit server-side state
	// advanced only by controller commands.
	TickerManual TickerSource = "manual"
	// TickerSchedule means the position is recomputed on every read from
	// wall-clock time against the items' start timestamps.
	TickerSchedule TickerSource = "schedule"
)

// Template holds the display settings of an event.
type Template struct {
	Title          string
	TickerSource   TickerSource
	ScheduleLeeway time.Duration
	ScheduleHeader string
	ScheduleLength int
}

func defaultTemplate() Template {
	return Template{
		Title:          "{event.name}",
		TickerSource:   TickerManual,
		ScheduleLeeway: 10 * time.Minute,
		ScheduleHeader: "{next_word} in the schedule:",
		ScheduleLength: 3,
	}
}

// Event is one loaded event configuration. Immutable after loading;
// replaced wholesale on config refresh.
type Event struct {
	Path            string
	Name            string
	Starts          time.Time
	Farewell        string
	ControlPassword string
	Template        Template
	Schedule        Schedule
}

// Title expands the template title format against the event.
func (e *Event) Title() string {
	return strings.ReplaceAll(e.Template.Title, "{event.name}", e.Name)
}

// ScheduleHeader expands the header format with the given next-word.
func (e *Event) ScheduleHeader(nextWord string) string {
	return strings.ReplaceAll(e.Template.ScheduleHeader, "{next_word}", nextWord)
}

func eventFromTable(path string, table map[string]any) (*Event, error) {
	ev := &Event{
		Path:     path,
		Farewell: "See you next time!",
		Template: defaultTemplate(),
	}

	name, ok := table["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("event %s: name is required", path)
	}
	ev.Name = name

	if v, ok := table["starts"]; ok {
		starts, err := parseTime(v)
		if err != nil {
			return nil, fmt.Errorf("event %s: invalid starts: %w", path, err)
		}
		ev.Starts = starts
	}
	if v, ok := table["control_password"].(string); ok {
		ev.ControlPassword = v
	}
	if farewell, ok := table["farewell"].(map[string]any); ok {
		if msg, ok := farewell["message"].(string); ok {
			ev.Farewell = msg
		}
	}

	if tmpl, ok := table["template"].(map[string]any); ok {
		if v, ok := tmpl["title"].(string); ok {
			ev.Template.Title = v
		}
		if v, ok := tmpl["ticker_source"].(string); ok {
			switch TickerSource(v) {
			case TickerManual, TickerSchedule:
				ev.Template.TickerSource = TickerSource(v)
			default:
				return nil, fmt.Errorf("event %s: unknown ticker_source %q", path, v)
			}
		}
		if v, ok := toInt(tmpl["schedule_ticker_leeway"]); ok {
			ev.Template.ScheduleLeeway = time.Duration(v) * time.Minute
		}
		if v, ok := tmpl["schedule_header"].(string); ok {
			ev.Template.ScheduleHeader = v
		}
		if v, ok := toInt(tmpl["schedule_length"]); ok {
			ev.Template.ScheduleLength = v
		}
	}

	if v, ok := table["schedule"]; ok {
		list, ok := toMapSlice(v)
		if !ok {
			return nil, fmt.Errorf("event %s: schedule must be a list of tables", path)
		}
		schedule, err := ParseSchedule(list)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", path, err)
		}
		ev.Schedule = schedule
	}

	return ev, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

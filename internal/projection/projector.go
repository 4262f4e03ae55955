// Package projection maps event state to the role-specific display
// payloads carried by every broadcast and init message.
package projection

import (
	"github.com/gbdlin/event-overlays/internal/state"
)

// For computes the payload for one role from a state snapshot. command is
// echoed back so clients can tell what triggered the update; views is the
// assigned-views map of the rig, consumed only by control/debug.
//
// The control/debug payload is an aggregate composed from the individual
// projections; it is built by recursion here and nowhere else.
func For(v *state.View, role Role, command any, views map[string]AssignedView) map[string]any {
	payload := envelope(v, role, command)

	switch role {
	case RoleSceneTitle:
		payload["template"] = "next"
		payload["context"] = titleContext(v)
	case RoleSceneBRB:
		payload["template"] = "message"
		payload["context"] = brbContext(v)
	case RoleSceneSchedule:
		template, context := scheduleScreenContent(v)
		payload["template"] = template
		payload["context"] = context
	case RoleScenePresentation:
		payload["template"] = "presentation"
		payload["context"] = presentationContext(v)
	case RoleSchedule:
		payload["schedule"] = annotatedSchedule(v)
		payload["extra_columns"] = v.Event.Schedule.ExtraColumns()
	case RoleTimer:
		// Envelope only.
	case RoleControl, RoleDebug:
		payload["scene-brb"] = For(v, RoleSceneBRB, command, nil)
		payload["scene-title"] = For(v, RoleSceneTitle, command, nil)
		payload["scene-schedule"] = For(v, RoleSceneSchedule, command, nil)
		payload["scene-presentation"] = For(v, RoleScenePresentation, command, nil)
		payload["speaker-timer"] = For(v, RoleTimer, command, nil)
		payload["message"] = v.Message
		payload["assigned_views"] = assignedViews(views)
	}

	return payload
}

// envelope is the shared part of every role payload.
func envelope(v *state.View, role Role, command any) map[string]any {
	return map[string]any{
		"current_state":  v.Current(),
		"next_state":     optionalPhase(v.Next()),
		"previous_state": optionalPhase(v.Previous()),
		"timer":          v.Timer,
		"for":            role,
		"command":        command,
		"event": map[string]any{
			"name":   v.Event.Name,
			"title":  v.Event.Title(),
			"starts": v.Event.Starts,
		},
	}
}

func optionalPhase(p state.Phase, ok bool) any {
	if !ok {
		return nil
	}
	return p
}

// globalContext is shared by every scene context.
func globalContext(v *state.View) map[string]any {
	var current any
	if item, ok := v.CurrentItem(); ok {
		current = item
	}
	return map[string]any{
		"message":       v.Message,
		"current_entry": current,
		"schedule":      v.Remaining(),
	}
}

func titleContext(v *state.View) map[string]any {
	context := globalContext(v)
	context["entry"] = context["current_entry"]
	return context
}

func brbContext(v *state.View) map[string]any {
	context := globalContext(v)
	context["info"] = "Back in a moment..."
	return context
}

// scheduleScreenContent picks one of three mutually exclusive branches:
// before the first segment, mid-event with items remaining, or exhausted.
func scheduleScreenContent(v *state.View) (string, map[string]any) {
	context := globalContext(v)
	switch {
	case v.ScreenTicker() == 0:
		context["info"] = "Starting soon..."
	case len(v.Remaining()) > 0:
		context["info"] = "Be right back..."
	default:
		context["info"] = v.Event.Farewell
		return "message", context
	}
	context["header"] = scheduleHeader(v)
	return "schedule", context
}

func presentationContext(v *state.View) map[string]any {
	context := globalContext(v)
	context["entry"] = context["current_entry"]
	return context
}

func scheduleHeader(v *state.View) string {
	nextWord := "Next"
	if v.Ticker == 0 {
		nextWord = "Today"
	}
	return v.Event.ScheduleHeader(nextWord)
}

// annotatedSchedule returns the entire schedule with a derived status per
// item: current, next, future or past.
func annotatedSchedule(v *state.View) []map[string]any {
	cut := v.ScreenTicker()
	current := v.Current()
	out := make([]map[string]any, 0, len(v.Event.Schedule))
	for _, item := range v.Event.Schedule {
		dump := item.Dump()
		dump["state"] = itemStatus(item.Index(), current, cut, len(v.Event.Schedule))
		out = append(out, dump)
	}
	return out
}

func itemStatus(index int, current state.Phase, cut, total int) string {
	switch {
	case current.Mid && index == current.Position:
		return "current"
	case index == cut && cut < total:
		return "next"
	case index > cut:
		return "future"
	default:
		return "past"
	}
}

// assignedViews normalizes a nil map to an empty object on the wire.
func assignedViews(views map[string]AssignedView) map[string]AssignedView {
	if views == nil {
		return map[string]AssignedView{}
	}
	return views
}

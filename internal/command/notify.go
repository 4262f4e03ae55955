package command

import (
	"encoding/json"
	"log/slog"

	"github.com/gbdlin/event-overlays/internal/hub"
	"github.com/gbdlin/event-overlays/internal/projection"
	"github.com/gbdlin/event-overlays/internal/state"
)

// notifier turns a state snapshot into per-role broadcast messages. The
// command processor and the background sweep share it so both paths emit
// identical wire payloads.
type notifier struct {
	hub *hub.Hub
}

// notify projects the snapshot for every role in the notify set, in the
// fixed emission order, and hands each payload to the hub. Every message
// is targeted at exactly one role; the debug shadow is added by the hub.
//
// rig scopes the assigned-views map in the control payload; the sweep has
// no originating rig and passes "".
func (n *notifier) notify(path, rig string, v *state.View, roles projection.RoleSet, command any) {
	var views map[string]projection.AssignedView
	if rig != "" {
		views = n.hub.Views(rig)
	}

	for _, role := range projection.NotifyOrder {
		if !roles.Has(role) {
			continue
		}
		payload := projection.For(v, role, command, views)
		payload["status"] = "update"
		payload["target_roles"] = []projection.Role{role, projection.RoleDebug}

		data, err := json.Marshal(payload)
		if err != nil {
			slog.Error("Failed to marshal broadcast payload", "event_path", path, "role", role, "error", err)
			continue
		}
		n.hub.Broadcast(path, data, projection.NewRoleSet(role))
	}
}

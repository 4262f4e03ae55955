package projection

import "sort"

// Role is the fixed category of a connection. It determines which
// broadcasts the connection receives and whether it may issue mutating
// commands; it is bound at connect time and never changes.
type Role string

const (
	RoleSceneTitle        Role = "scene-title"
	RoleSceneBRB          Role = "scene-brb"
	RoleSceneSchedule     Role = "scene-schedule"
	RoleScenePresentation Role = "scene-presentation"
	RoleTimer             Role = "timer"
	RoleControl           Role = "control"
	RoleSchedule          Role = "schedule"
	// RoleDebug is a full-visibility shadow subscriber: it receives every
	// broadcast any other role receives.
	RoleDebug Role = "debug"
)

// NotifyOrder is the fixed order in which role broadcasts are emitted for
// a single command, so clients observe a deterministic sequence.
var NotifyOrder = []Role{
	RoleSceneBRB,
	RoleSceneTitle,
	RoleSceneSchedule,
	RoleScenePresentation,
	RoleTimer,
	RoleControl,
	RoleSchedule,
}

var validRoles = map[Role]struct{}{
	RoleSceneTitle: {}, RoleSceneBRB: {}, RoleSceneSchedule: {},
	RoleScenePresentation: {}, RoleTimer: {}, RoleControl: {},
	RoleSchedule: {}, RoleDebug: {},
}

// Valid reports whether r is part of the closed role enumeration.
func (r Role) Valid() bool {
	_, ok := validRoles[r]
	return ok
}

// RoleSet is an unordered set of roles.
type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Add(roles ...Role) {
	for _, r := range roles {
		s[r] = struct{}{}
	}
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Intersect returns the subset of s also present in roles.
func (s RoleSet) Intersect(roles ...Role) RoleSet {
	out := make(RoleSet)
	for _, r := range roles {
		if s.Has(r) {
			out[r] = struct{}{}
		}
	}
	return out
}

// List returns the members sorted, for a stable wire representation.
func (s RoleSet) List() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AssignedView describes a connection that claimed a named view slot,
// together with its derived stream credentials. Exposed only to the
// control and debug roles.
type AssignedView struct {
	Role      Role   `json:"role"`
	StreamID  string `json:"stream_id"`
	StreamKey string `json:"stream_key"`
}

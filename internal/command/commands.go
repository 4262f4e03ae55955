// Package command implements the controller protocol: parsing inbound
// actions, applying them to event state and fanning the results out.
package command

import (
	"encoding/json"
	"fmt"
)

// Command is one parsed controller action. Parsing and validation happen
// at the boundary; handlers only ever see a well-formed variant.
type Command interface {
	Action() string
}

type Sync struct{ ClientTime int64 }

type Tick struct{}

type Untick struct{}

type SetStreamMessage struct{ Message string }

type TimerSet struct{ Time int64 }

type TimerStart struct{}

type TimerStop struct{}

type TimerReset struct{}

type TimerSetMessage struct{ Message string }

type TimerFlash struct{}

type ConfigRefresh struct{}

type ConfigForceReload struct{}

func (Sync) Action() string              { return "ntc.sync" }
func (Tick) Action() string              { return "tick" }
func (Untick) Action() string            { return "untick" }
func (SetStreamMessage) Action() string  { return "stream.set-message" }
func (TimerSet) Action() string          { return "timer.set" }
func (TimerStart) Action() string        { return "timer.start" }
func (TimerStop) Action() string         { return "timer.stop" }
func (TimerReset) Action() string        { return "timer.reset" }
func (TimerSetMessage) Action() string   { return "timer.set-message" }
func (TimerFlash) Action() string        { return "timer.flash" }
func (ConfigRefresh) Action() string     { return "config.refresh" }
func (ConfigForceReload) Action() string { return "config.force-reload" }

// UnknownActionError marks a syntactically valid packet naming an action
// outside the protocol.
type UnknownActionError struct {
	ActionName string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("Unknown action %q", e.ActionName)
}

// MalformedPacketError marks a packet that could not be decoded or is
// missing a required parameter. The raw bytes are echoed back in-band.
type MalformedPacketError struct {
	Raw json.RawMessage
}

func (e *MalformedPacketError) Error() string { return "Invalid packet" }

// packet is the superset of all action shapes. Required parameters are
// pointers so a missing field is distinguishable from a zero value.
type packet struct {
	Action     string  `json:"action"`
	ClientTime *int64  `json:"client_time"`
	Message    *string `json:"message"`
	Time       *int64  `json:"time"`
}

// Parse decodes one inbound packet into its command variant.
func Parse(raw []byte) (Command, error) {
	var p packet
	if err := json.Unmarshal(raw, &p); err != nil || p.Action == "" {
		return nil, &MalformedPacketError{Raw: raw}
	}

	switch p.Action {
	case "ntc.sync":
		if p.ClientTime == nil {
			return nil, &MalformedPacketError{Raw: raw}
		}
		return Sync{ClientTime: *p.ClientTime}, nil
	case "tick":
		return Tick{}, nil
	case "untick":
		return Untick{}, nil
	case "stream.set-message":
		if p.Message == nil {
			return nil, &MalformedPacketError{Raw: raw}
		}
		return SetStreamMessage{Message: *p.Message}, nil
	case "timer.set":
		if p.Time == nil {
			return nil, &MalformedPacketError{Raw: raw}
		}
		return TimerSet{Time: *p.Time}, nil
	case "timer.start":
		return TimerStart{}, nil
	case "timer.stop":
		return TimerStop{}, nil
	case "timer.reset":
		return TimerReset{}, nil
	case "timer.set-message":
		if p.Message == nil {
			return nil, &MalformedPacketError{Raw: raw}
		}
		return TimerSetMessage{Message: *p.Message}, nil
	case "timer.flash":
		return TimerFlash{}, nil
	case "config.refresh":
		return ConfigRefresh{}, nil
	case "config.force-reload":
		return ConfigForceReload{}, nil
	default:
		return nil, &UnknownActionError{ActionName: p.Action}
	}
}

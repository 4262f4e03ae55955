package command

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/gbdlin/event-overlays/internal/hub"
	"github.com/gbdlin/event-overlays/internal/metrics"
	"github.com/gbdlin/event-overlays/internal/projection"
	"github.com/gbdlin/event-overlays/internal/state"
)

// Processor drives one event instance's command protocol. Each inbound
// packet is handled as a single atomic step: mutate, snapshot, enqueue
// broadcasts, all under the instance lock, so clients observe updates in
// the order commands were accepted.
type Processor struct {
	registry *state.Registry
	hub      *hub.Hub
	sweeper  *Sweeper
	notifier *notifier
	clock    clockwork.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewProcessor(registry *state.Registry, h *hub.Hub, sweeper *Sweeper, clock clockwork.Clock) *Processor {
	return &Processor{
		registry: registry,
		hub:      h,
		sweeper:  sweeper,
		notifier: &notifier{hub: h},
		clock:    clock,
		locks:    make(map[string]*sync.Mutex),
	}
}

// HandleMessage processes one inbound packet from a registered connection.
// Time sync is answered for any role; everything else is controller-only
// and silently dropped otherwise.
func (p *Processor) HandleMessage(path, rig string, conn *websocket.Conn, role projection.Role, raw []byte) {
	cmd, parseErr := Parse(raw)

	if syncCmd, ok := cmd.(Sync); ok {
		p.replySync(path, conn, syncCmd)
		return
	}
	if role != projection.RoleControl {
		return
	}
	if parseErr != nil {
		p.replyParseError(path, conn, parseErr)
		return
	}

	start := p.clock.Now()
	lock := p.pathLock(path)
	lock.Lock()

	st, err := p.registry.Get(path)
	if err != nil {
		lock.Unlock()
		slog.Error("Event instance unavailable", "event_path", path, "error", err)
		p.reply(path, conn, map[string]any{"status": "error", "error": "Event unavailable"})
		return
	}

	if _, ok := cmd.(TimerFlash); ok {
		// One-shot signal, no state change, no ack; bypasses projection.
		data, _ := json.Marshal(map[string]any{"status": "timer.flash"})
		p.hub.Broadcast(path, data, projection.NewRoleSet(projection.RoleTimer, projection.RoleControl))
		lock.Unlock()
		metrics.CommandsTotal.WithLabelValues(cmd.Action(), "success").Inc()
		return
	}

	notify, err := p.dispatch(path, st, cmd)
	if err != nil {
		lock.Unlock()
		p.replyCommandError(path, conn, err)
		metrics.CommandsTotal.WithLabelValues(cmd.Action(), "error").Inc()
		return
	}

	p.reply(path, conn, map[string]any{"status": "success"})
	p.notifier.notify(path, rig, st.View(), notify, json.RawMessage(raw))
	lock.Unlock()

	metrics.CommandsTotal.WithLabelValues(cmd.Action(), "success").Inc()
	metrics.CommandDuration.Observe(p.clock.Since(start).Seconds())
	slog.Debug("Command processed", "event_path", path, "action", cmd.Action())

	// Commands may shift wall clock expectations for schedule-derived
	// instances sharing the process; refresh them right away instead of
	// waiting for the next interval.
	p.sweeper.RunOnce(path)
}

// NotifyViewsChanged re-broadcasts the control projection after a view
// assignment appears or disappears, so controllers track stream slots
// without polling. reason is echoed as the command.
func (p *Processor) NotifyViewsChanged(path, rig, reason string) {
	st, ok := p.registry.Peek(path)
	if !ok {
		return
	}
	lock := p.pathLock(path)
	lock.Lock()
	defer lock.Unlock()
	p.notifier.notify(path, rig, st.View(), projection.NewRoleSet(projection.RoleControl), reason)
}

// dispatch applies the command and returns the roles to notify.
func (p *Processor) dispatch(path string, st *state.State, cmd Command) (projection.RoleSet, error) {
	switch c := cmd.(type) {
	case Tick:
		phase, err := st.Increment()
		if err != nil {
			return nil, err
		}
		return tickRoles(phase, true), nil

	case Untick:
		phase, err := st.Decrement()
		if err != nil {
			return nil, err
		}
		return tickRoles(phase, false), nil

	case SetStreamMessage:
		st.SetMessage(c.Message)
		return projection.NewRoleSet(
			projection.RoleSceneBRB,
			projection.RoleSceneSchedule,
			projection.RoleScenePresentation,
		), nil

	case TimerSet:
		_ = st.UpdateTimer(func(t *state.Timer) error {
			t.Target = c.Time
			return nil
		})
		return projection.NewRoleSet(projection.RoleTimer), nil

	case TimerStart:
		if err := st.UpdateTimer(func(t *state.Timer) error { return t.Start(st.Now()) }); err != nil {
			return nil, err
		}
		return projection.NewRoleSet(projection.RoleTimer), nil

	case TimerStop:
		if err := st.UpdateTimer(func(t *state.Timer) error { return t.Stop(st.Now()) }); err != nil {
			return nil, err
		}
		return projection.NewRoleSet(projection.RoleTimer), nil

	case TimerReset:
		_ = st.UpdateTimer(func(t *state.Timer) error {
			t.Reset(st.Now())
			return nil
		})
		return projection.NewRoleSet(projection.RoleTimer), nil

	case TimerSetMessage:
		_ = st.UpdateTimer(func(t *state.Timer) error {
			t.Message = c.Message
			return nil
		})
		return projection.NewRoleSet(projection.RoleTimer), nil

	case ConfigRefresh:
		if err := p.registry.Reload(path); err != nil {
			return nil, err
		}
		return allRoles(), nil

	case ConfigForceReload:
		return allRoles(), nil
	}

	return nil, &UnknownActionError{ActionName: cmd.Action()}
}

// tickRoles selects the screens affected by a ticker move. Landing on a
// mid phase means a segment just started (or, reversed, a gap ended), so
// the schedule screen refreshes; landing on a gap refreshes the title and
// presentation screens. untick reverses the pairing.
func tickRoles(phase state.Phase, forward bool) projection.RoleSet {
	roles := projection.NewRoleSet(projection.RoleSchedule, projection.RoleControl)
	scheduleScreen := phase.Mid == forward
	if scheduleScreen {
		roles.Add(projection.RoleSceneSchedule)
	} else {
		roles.Add(projection.RoleSceneTitle, projection.RoleScenePresentation)
	}
	return roles
}

func allRoles() projection.RoleSet {
	return projection.NewRoleSet(projection.NotifyOrder...)
}

func (p *Processor) pathLock(path string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[path] = lock
	}
	return lock
}

func (p *Processor) replySync(path string, conn *websocket.Conn, cmd Sync) {
	now := p.clock.Now().UnixMilli()
	p.reply(path, conn, map[string]any{
		"status":      "ntc.sync",
		"server_time": now,
		"offset":      now - cmd.ClientTime,
	})
}

func (p *Processor) replyParseError(path string, conn *websocket.Conn, err error) {
	var malformed *MalformedPacketError
	if errors.As(err, &malformed) {
		// Echo the raw packet back; fall back to a string when the bytes
		// were not valid JSON to begin with.
		var packet any = string(malformed.Raw)
		if json.Valid(malformed.Raw) {
			packet = malformed.Raw
		}
		p.reply(path, conn, map[string]any{
			"status": "error",
			"error":  malformed.Error(),
			"packet": packet,
		})
		metrics.CommandsTotal.WithLabelValues("invalid", "error").Inc()
		return
	}
	p.reply(path, conn, map[string]any{"status": "error", "error": err.Error()})
	metrics.CommandsTotal.WithLabelValues("unknown", "error").Inc()
}

// replyCommandError picks the wire shape by error class: state machine
// errors carry a detail string, everything else a plain error string.
func (p *Processor) replyCommandError(path string, conn *websocket.Conn, err error) {
	var stateErr *state.Error
	if errors.As(err, &stateErr) {
		p.reply(path, conn, map[string]any{"status": "error", "detail": stateErr.Detail})
		return
	}
	p.reply(path, conn, map[string]any{"status": "error", "error": err.Error()})
}

func (p *Processor) reply(path string, conn *websocket.Conn, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal reply", "event_path", path, "error", err)
		return
	}
	p.hub.Send(path, conn, data)
}

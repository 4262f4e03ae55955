package command

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdlin/event-overlays/internal/event"
	"github.com/gbdlin/event-overlays/internal/hub"
	"github.com/gbdlin/event-overlays/internal/projection"
	"github.com/gbdlin/event-overlays/internal/state"
)

const manualThreeTalks = `
[event]
name = "Conf"

[[event.schedule]]
type = "talk"
title = "One"

[[event.schedule]]
type = "talk"
title = "Two"

[[event.schedule]]
type = "talk"
title = "Three"
`

const scheduleDerived = `
[event]
name = "Derived"

[event.template]
ticker_source = "schedule"

[[event.schedule]]
type = "talk"
title = "One"
start = 2020-01-01T09:00:00Z
`

// testEnv wires a registry, hub and processor around one event instance
// plus an httptest websocket endpoint for attaching role clients.
type testEnv struct {
	t         *testing.T
	root      string
	path      string
	registry  *state.Registry
	hub       *hub.Hub
	sweeper   *Sweeper
	processor *Processor
	server    *httptest.Server
	// serverConns yields the server side of each dialed connection, in
	// dial order, so tests can feed HandleMessage directly.
	serverConns chan *ws.Conn
}

func newTestEnv(t *testing.T, eventToml string) *testEnv {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf.toml"), []byte(eventToml), 0o644))

	clock := clockwork.NewRealClock()
	registry := state.NewRegistry(event.NewLoader(root), clock)
	h := hub.New(clock, 50)
	t.Cleanup(h.Stop)

	sweeper := NewSweeper(registry, h, clock, time.Minute)
	processor := NewProcessor(registry, h, sweeper, clock)

	env := &testEnv{
		t:           t,
		root:        root,
		path:        "conf",
		registry:    registry,
		hub:         h,
		sweeper:     sweeper,
		processor:   processor,
		serverConns: make(chan *ws.Conn, 16),
	}

	_, err := registry.Get(env.path)
	require.NoError(t, err)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	env.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		role := projection.Role(r.URL.Query().Get("role"))
		view := r.URL.Query().Get("view")
		require.NoError(t, env.hub.Register(env.path, "rig1", conn, role, view, projection.AssignedView{Role: role}))
		env.serverConns <- conn
	}))
	t.Cleanup(env.server.Close)

	return env
}

// dial connects a client bound to role; returns the client conn and the
// matching server conn.
func (env *testEnv) dial(role projection.Role) (*ws.Conn, *ws.Conn) {
	env.t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "?role=" + string(role)
	client, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { client.Close() })

	select {
	case server := <-env.serverConns:
		return client, server
	case <-time.After(2 * time.Second):
		env.t.Fatal("timed out waiting for server connection")
		return nil, nil
	}
}

func (env *testEnv) handle(conn *ws.Conn, role projection.Role, raw string) {
	env.processor.HandleMessage(env.path, "rig1", conn, role, []byte(raw))
}

func readJSON(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg, &payload))
	return payload
}

// assertSilent verifies no message arrives within a short window. Only
// call at the end of a connection's use: the read timeout is terminal.
func assertSilent(t *testing.T, conn *ws.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no message")
}

func TestProcessor_TickMidNotifiesScheduleScreen(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	sceneSchedule, _ := env.dial(projection.RoleSceneSchedule)
	sceneTitle, _ := env.dial(projection.RoleSceneTitle)
	table, _ := env.dial(projection.RoleSchedule)

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`)

	ack := readJSON(t, control)
	assert.Equal(t, "success", ack["status"])

	update := readJSON(t, control)
	assert.Equal(t, "update", update["status"])
	assert.ElementsMatch(t, []any{"control", "debug"}, update["target_roles"])
	current := update["current_state"].(map[string]any)
	assert.Equal(t, float64(0), current["position"])
	assert.Equal(t, true, current["mid"])

	assert.Equal(t, "update", readJSON(t, sceneSchedule)["status"])
	assert.Equal(t, "update", readJSON(t, table)["status"])
	assertSilent(t, sceneTitle)
}

func TestProcessor_TickGapNotifiesTitleAndPresentation(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	sceneTitle, _ := env.dial(projection.RoleSceneTitle)
	presentation, _ := env.dial(projection.RoleScenePresentation)
	sceneSchedule, _ := env.dial(projection.RoleSceneSchedule)

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`) // -> 1, mid
	readJSON(t, control)                                               // ack
	readJSON(t, control)                                               // update
	readJSON(t, sceneSchedule)                                         // mid update

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`) // -> 2, gap
	readJSON(t, control)
	readJSON(t, control)

	assert.Equal(t, "update", readJSON(t, sceneTitle)["status"])
	assert.Equal(t, "update", readJSON(t, presentation)["status"])
	assertSilent(t, sceneSchedule)
}

func TestProcessor_DebugShadowReceivesEverything(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	_, controlSrv := env.dial(projection.RoleControl)
	debug, _ := env.dial(projection.RoleDebug)

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`)

	// One update per notified role: scene-schedule, control, schedule.
	seen := map[any]bool{}
	for i := 0; i < 3; i++ {
		update := readJSON(t, debug)
		assert.Equal(t, "update", update["status"])
		seen[update["for"]] = true
	}
	assert.True(t, seen["scene-schedule"])
	assert.True(t, seen["control"])
	assert.True(t, seen["schedule"])
}

func TestProcessor_TickOverflow(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)

	st, ok := env.registry.Peek(env.path)
	require.True(t, ok)
	st.MoveTo(state.Phase{Position: 2, Mid: true})

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`)

	reply := readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "Cannot tick. Already at the end of event.", reply["detail"])
	assert.Equal(t, 5, st.View().Ticker)
}

func TestProcessor_UntickAtStart(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)

	env.handle(controlSrv, projection.RoleControl, `{"action":"untick"}`)

	reply := readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "Cannot untick. Already at the start of event.", reply["detail"])
}

func TestProcessor_TickRejectedInScheduleMode(t *testing.T) {
	env := newTestEnv(t, scheduleDerived)
	control, controlSrv := env.dial(projection.RoleControl)

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`)

	reply := readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "Cannot modify state, not manually controlled.", reply["detail"])
}

func TestProcessor_NonControlCommandsDroppedSilently(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	title, titleSrv := env.dial(projection.RoleSceneTitle)

	env.handle(titleSrv, projection.RoleSceneTitle, `{"action":"tick"}`)

	st, ok := env.registry.Peek(env.path)
	require.True(t, ok)
	assert.Equal(t, 0, st.View().Ticker, "non-control commands must not mutate state")
	assertSilent(t, title)
}

func TestProcessor_NtcSyncAnyRole(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	timer, timerSrv := env.dial(projection.RoleTimer)

	before := time.Now().UnixMilli()
	env.handle(timerSrv, projection.RoleTimer, `{"action":"ntc.sync","client_time":1000}`)

	reply := readJSON(t, timer)
	assert.Equal(t, "ntc.sync", reply["status"])
	serverTime := int64(reply["server_time"].(float64))
	assert.GreaterOrEqual(t, serverTime, before)
	assert.EqualValues(t, serverTime-1000, reply["offset"])
}

func TestProcessor_UnknownAction(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)

	env.handle(controlSrv, projection.RoleControl, `{"action":"dance"}`)

	reply := readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, `Unknown action "dance"`, reply["error"])
}

func TestProcessor_MalformedPacketEchoed(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)

	env.handle(controlSrv, projection.RoleControl, `not json at all`)

	reply := readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "Invalid packet", reply["error"])
	assert.Equal(t, "not json at all", reply["packet"])
}

func TestProcessor_StreamSetMessage(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	brb, _ := env.dial(projection.RoleSceneBRB)

	env.handle(controlSrv, projection.RoleControl, `{"action":"stream.set-message","message":"Fire drill"}`)

	assert.Equal(t, "success", readJSON(t, control)["status"])

	update := readJSON(t, brb)
	assert.Equal(t, "update", update["status"])
	context := update["context"].(map[string]any)
	assert.Equal(t, "Fire drill", context["message"])

	// The message screens are notified; the controller only gets the ack.
	assertSilent(t, control)
}

func TestProcessor_TimerFlow(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	timer, _ := env.dial(projection.RoleTimer)

	env.handle(controlSrv, projection.RoleControl, `{"action":"timer.set","time":60000}`)
	assert.Equal(t, "success", readJSON(t, control)["status"])

	update := readJSON(t, timer)
	snapshot := update["timer"].(map[string]any)
	assert.EqualValues(t, 60000, snapshot["target"])

	env.handle(controlSrv, projection.RoleControl, `{"action":"timer.start"}`)
	assert.Equal(t, "success", readJSON(t, control)["status"])
	update = readJSON(t, timer)
	assert.NotNil(t, update["timer"].(map[string]any)["started_at"])

	env.handle(controlSrv, projection.RoleControl, `{"action":"timer.start"}`)
	reply := readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "Timer already started", reply["error"])

	env.handle(controlSrv, projection.RoleControl, `{"action":"timer.stop"}`)
	assert.Equal(t, "success", readJSON(t, control)["status"])
	readJSON(t, timer)

	env.handle(controlSrv, projection.RoleControl, `{"action":"timer.stop"}`)
	reply = readJSON(t, control)
	assert.Equal(t, "error", reply["status"])
	assert.Equal(t, "Timer already stopped", reply["error"])
}

func TestProcessor_TimerFlash(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	timer, _ := env.dial(projection.RoleTimer)
	brb, _ := env.dial(projection.RoleSceneBRB)

	env.handle(controlSrv, projection.RoleControl, `{"action":"timer.flash"}`)

	// No ack; the flash signal itself reaches timer and control.
	assert.Equal(t, "timer.flash", readJSON(t, timer)["status"])
	assert.Equal(t, "timer.flash", readJSON(t, control)["status"])
	assertSilent(t, brb)
}

func TestProcessor_ConfigRefresh(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	table, _ := env.dial(projection.RoleSchedule)

	require.NoError(t, os.WriteFile(filepath.Join(env.root, "conf.toml"), []byte(`
[event]
name = "Conf Renamed"

[[event.schedule]]
type = "talk"
title = "Only"
`), 0o644))

	env.handle(controlSrv, projection.RoleControl, `{"action":"config.refresh"}`)
	assert.Equal(t, "success", readJSON(t, control)["status"])

	update := readJSON(t, table)
	assert.Equal(t, "update", update["status"])
	ev := update["event"].(map[string]any)
	assert.Equal(t, "Conf Renamed", ev["name"])
	assert.Len(t, update["schedule"], 1)
}

func TestProcessor_ConfigForceReloadNotifiesAll(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)
	brb, _ := env.dial(projection.RoleSceneBRB)
	timer, _ := env.dial(projection.RoleTimer)

	env.handle(controlSrv, projection.RoleControl, `{"action":"config.force-reload"}`)

	assert.Equal(t, "success", readJSON(t, control)["status"])
	assert.Equal(t, "update", readJSON(t, control)["status"])
	assert.Equal(t, "update", readJSON(t, brb)["status"])
	assert.Equal(t, "update", readJSON(t, timer)["status"])
}

func TestProcessor_CommandEchoInBroadcast(t *testing.T) {
	env := newTestEnv(t, manualThreeTalks)
	control, controlSrv := env.dial(projection.RoleControl)

	env.handle(controlSrv, projection.RoleControl, `{"action":"tick"}`)
	readJSON(t, control) // ack

	update := readJSON(t, control)
	echoed := update["command"].(map[string]any)
	assert.Equal(t, "tick", echoed["action"])
}

package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gbdlin/event-overlays/internal/projection"
)

// testHub sets up a Hub with a test HTTP server that upgrades and
// registers connections using query parameters.
func testHub(t *testing.T, maxClients int) (*Hub, func(path string, role projection.Role, view string) *ws.Conn) {
	t.Helper()

	h := New(clockwork.NewRealClock(), maxClients)
	t.Cleanup(h.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	registered := make(chan error, 16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		q := r.URL.Query()
		role := projection.Role(q.Get("role"))
		view := q.Get("view")
		assigned := projection.AssignedView{Role: role, StreamID: "id-" + view, StreamKey: "key-" + view}
		err = h.Register(q.Get("path"), "rig1", conn, role, view, assigned)
		registered <- err

		go func() {
			defer h.Unregister(q.Get("path"), conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func(path string, role projection.Role, view string) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") +
			"?path=" + path + "&role=" + string(role) + "&view=" + view
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })

		select {
		case err := <-registered:
			if err != nil {
				t.Fatalf("register failed: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for registration")
		}
		return conn
	}

	return h, dial
}

func readMessage(t *testing.T, conn *ws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg, &payload))
	return payload
}

func expectSilent(t *testing.T, conn *ws.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no message")
}

func TestHub_BroadcastFiltersByRole(t *testing.T) {
	h, dial := testHub(t, 50)

	timer := dial("conf", projection.RoleTimer, "")
	brb := dial("conf", projection.RoleSceneBRB, "")

	h.Broadcast("conf", []byte(`{"n":1}`), projection.NewRoleSet(projection.RoleTimer))

	assert.EqualValues(t, 1, readMessage(t, timer)["n"])
	expectSilent(t, brb)
}

func TestHub_DebugIsShadowSubscriber(t *testing.T) {
	h, dial := testHub(t, 50)

	debug := dial("conf", projection.RoleDebug, "")
	dial("conf", projection.RoleTimer, "")

	h.Broadcast("conf", []byte(`{"n":1}`), projection.NewRoleSet(projection.RoleTimer))
	h.Broadcast("conf", []byte(`{"n":2}`), projection.NewRoleSet(projection.RoleSceneBRB))

	assert.EqualValues(t, 1, readMessage(t, debug)["n"])
	assert.EqualValues(t, 2, readMessage(t, debug)["n"], "debug receives broadcasts for absent roles too")
}

func TestHub_BroadcastIsScopedToPath(t *testing.T) {
	h, dial := testHub(t, 50)

	confTimer := dial("conf", projection.RoleTimer, "")
	otherTimer := dial("other", projection.RoleTimer, "")

	h.Broadcast("conf", []byte(`{"n":1}`), projection.NewRoleSet(projection.RoleTimer))

	assert.EqualValues(t, 1, readMessage(t, confTimer)["n"])
	expectSilent(t, otherTimer)
}

// newConnPair upgrades one websocket connection and returns both ends.
func newConnPair(t *testing.T) (server, client *ws.Conn) {
	t.Helper()

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverConns := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server connection")
	}
	return server, client
}

func TestHub_SendIsUnicast(t *testing.T) {
	h := New(clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)

	firstSrv, firstClient := newConnPair(t)
	secondSrv, secondClient := newConnPair(t)
	require.NoError(t, h.Register("conf", "rig1", firstSrv, projection.RoleTimer, "", projection.AssignedView{}))
	require.NoError(t, h.Register("conf", "rig1", secondSrv, projection.RoleTimer, "", projection.AssignedView{}))

	h.Send("conf", firstSrv, []byte(`{"n":1}`))

	assert.EqualValues(t, 1, readMessage(t, firstClient)["n"])
	expectSilent(t, secondClient)
}

func TestHub_ViewAssignments(t *testing.T) {
	h, dial := testHub(t, 50)

	conn := dial("conf", projection.RoleSceneTitle, "left")
	dial("conf", projection.RoleSceneBRB, "")

	views := h.Views("rig1")
	require.Len(t, views, 1)
	assert.Equal(t, projection.AssignedView{
		Role:      projection.RoleSceneTitle,
		StreamID:  "id-left",
		StreamKey: "key-left",
	}, views["left"])

	conn.Close()
	require.Eventually(t, func() bool {
		return len(h.Views("rig1")) == 0
	}, 2*time.Second, 10*time.Millisecond, "view assignment must be released on disconnect")
}

func TestHub_UnregisterReportsViewRemoval(t *testing.T) {
	h := New(clockwork.NewRealClock(), 50)
	t.Cleanup(h.Stop)

	viewSrv, _ := newConnPair(t)
	plainSrv, _ := newConnPair(t)
	require.NoError(t, h.Register("conf", "rig1", viewSrv, projection.RoleSceneTitle, "left", projection.AssignedView{Role: projection.RoleSceneTitle}))
	require.NoError(t, h.Register("conf", "rig1", plainSrv, projection.RoleSceneBRB, "", projection.AssignedView{}))

	assert.False(t, h.Unregister("conf", plainSrv), "no view slot to release")
	assert.True(t, h.Unregister("conf", viewSrv), "view slot must be reported as released")
	assert.Empty(t, h.Views("rig1"))
}

func TestHub_ClientCountAndActivePaths(t *testing.T) {
	h, dial := testHub(t, 50)

	assert.Equal(t, 0, h.ClientCount("conf"))
	assert.Empty(t, h.ActivePaths())

	conn := dial("conf", projection.RoleTimer, "")
	dial("other", projection.RoleControl, "")

	assert.Equal(t, 1, h.ClientCount("conf"))
	assert.ElementsMatch(t, []string{"conf", "other"}, h.ActivePaths())

	conn.Close()
	require.Eventually(t, func() bool {
		return h.ClientCount("conf") == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"other"}, h.ActivePaths())
}

func TestHub_MaxClientsPerEvent(t *testing.T) {
	h := New(clockwork.NewRealClock(), 2)
	t.Cleanup(h.Stop)

	for i := 0; i < 2; i++ {
		srv, _ := newConnPair(t)
		require.NoError(t, h.Register("conf", "rig1", srv, projection.RoleTimer, "", projection.AssignedView{}))
	}

	srv, _ := newConnPair(t)
	err := h.Register("conf", "rig1", srv, projection.RoleTimer, "", projection.AssignedView{})
	assert.Error(t, err, "registration beyond the cap must be refused")
	assert.Equal(t, 2, h.ClientCount("conf"))
}

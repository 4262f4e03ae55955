// Package hub tracks live websocket connections per event instance and
// delivers role-filtered broadcasts to them.
package hub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/gbdlin/event-overlays/internal/metrics"
	"github.com/gbdlin/event-overlays/internal/projection"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// client is one registered connection with its fixed role binding. The id
// correlates log lines across the connection's lifetime.
type client struct {
	id     uuid.UUID
	writer *clientWriter
	role   projection.Role
	rig    string
	view   string
}

type eventClients map[*websocket.Conn]*client

type viewAssignment struct {
	conn     *websocket.Conn
	assigned projection.AssignedView
}

// --- Command types ---

type hubCmd interface{ hubCmd() }

type cmdRegister struct {
	path     string
	rig      string
	conn     *websocket.Conn
	role     projection.Role
	view     string
	assigned projection.AssignedView
	errCh    chan error
}

func (cmdRegister) hubCmd() {}

type cmdUnregister struct {
	path    string
	conn    *websocket.Conn
	replyCh chan bool
}

func (cmdUnregister) hubCmd() {}

type cmdBroadcast struct {
	path  string
	data  []byte
	roles projection.RoleSet
}

func (cmdBroadcast) hubCmd() {}

type cmdSend struct {
	path string
	conn *websocket.Conn
	data []byte
}

func (cmdSend) hubCmd() {}

type cmdClientCount struct {
	path    string
	replyCh chan int
}

func (cmdClientCount) hubCmd() {}

type cmdActivePaths struct {
	replyCh chan []string
}

func (cmdActivePaths) hubCmd() {}

type cmdViews struct {
	rig     string
	replyCh chan map[string]projection.AssignedView
}

func (cmdViews) hubCmd() {}

type cmdStop struct{}

func (cmdStop) hubCmd() {}

// Hub is the connection registry and broadcaster. It is a single-goroutine
// actor: all registry state is owned by run(), and every operation is a
// command on cmdCh, so broadcasts for one event instance are observed in
// the order they were submitted.
type Hub struct {
	cmdCh         chan hubCmd
	clock         clockwork.Clock
	clients       map[string]eventClients
	views         map[string]map[string]viewAssignment
	maxClientsPer int
	done          chan struct{}
}

func New(clock clockwork.Clock, maxClientsPerEvent int) *Hub {
	h := &Hub{
		cmdCh:         make(chan hubCmd, 256),
		clock:         clock,
		clients:       make(map[string]eventClients),
		views:         make(map[string]map[string]viewAssignment),
		maxClientsPer: maxClientsPerEvent,
		done:          make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case cmdRegister:
			h.handleRegister(c)
		case cmdUnregister:
			c.replyCh <- h.handleUnregister(c.path, c.conn)
		case cmdBroadcast:
			h.handleBroadcast(c)
		case cmdSend:
			h.handleSend(c)
		case cmdClientCount:
			c.replyCh <- len(h.clients[c.path])
		case cmdActivePaths:
			c.replyCh <- h.activePaths()
		case cmdViews:
			c.replyCh <- h.viewsFor(c.rig)
		case cmdStop:
			h.handleStop()
			return
		}
	}
}

func (h *Hub) handleRegister(c cmdRegister) {
	clients, exists := h.clients[c.path]
	if !exists {
		clients = make(eventClients)
		h.clients[c.path] = clients
		metrics.HubActiveEvents.Set(float64(len(h.clients)))
	}

	if len(clients) >= h.maxClientsPer {
		slog.Warn("Rejecting client: max clients reached", "event_path", c.path, "max_clients", h.maxClientsPer)
		c.conn.Close()
		c.errCh <- fmt.Errorf("max clients per event (%d) reached", h.maxClientsPer)
		return
	}

	id := uuid.New()
	clients[c.conn] = &client{
		id:     id,
		writer: newClientWriter(c.conn, h.clock),
		role:   c.role,
		rig:    c.rig,
		view:   c.view,
	}
	if c.view != "" {
		views, ok := h.views[c.rig]
		if !ok {
			views = make(map[string]viewAssignment)
			h.views[c.rig] = views
		}
		views[c.view] = viewAssignment{conn: c.conn, assigned: c.assigned}
	}

	metrics.HubConnectedClients.WithLabelValues(string(c.role)).Inc()
	slog.Debug("Client registered", "conn_id", id, "event_path", c.path, "role", c.role, "total_clients", len(clients))
	c.errCh <- nil
}

// handleUnregister removes a connection and reports whether a view
// assignment was released with it.
func (h *Hub) handleUnregister(path string, conn *websocket.Conn) bool {
	clients, exists := h.clients[path]
	if !exists {
		return false
	}
	cl, exists := clients[conn]
	if !exists {
		return false
	}

	cl.writer.stop()
	delete(clients, conn)
	metrics.HubConnectedClients.WithLabelValues(string(cl.role)).Dec()

	viewRemoved := false
	if cl.view != "" {
		if views, ok := h.views[cl.rig]; ok {
			if assignment, ok := views[cl.view]; ok && assignment.conn == conn {
				delete(views, cl.view)
				viewRemoved = true
			}
			if len(views) == 0 {
				delete(h.views, cl.rig)
			}
		}
	}

	if len(clients) == 0 {
		delete(h.clients, path)
		metrics.HubActiveEvents.Set(float64(len(h.clients)))
		slog.Info("Last client disconnected", "event_path", path)
	} else {
		slog.Debug("Client unregistered", "conn_id", cl.id, "event_path", path, "remaining_clients", len(clients))
	}
	return viewRemoved
}

// handleBroadcast delivers the payload to every connection whose role is
// in the target set. debug is a shadow subscriber and always included.
func (h *Hub) handleBroadcast(c cmdBroadcast) {
	clients, exists := h.clients[c.path]
	if !exists {
		return
	}

	var slow []*websocket.Conn
	for conn, cl := range clients {
		if !c.roles.Has(cl.role) && cl.role != projection.RoleDebug {
			continue
		}
		select {
		case cl.writer.sendChannel <- c.data:
			metrics.HubBroadcastsTotal.WithLabelValues(string(cl.role)).Inc()
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client", "event_path", c.path)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(c.path, conn)
	}
}

// handleSend queues a unicast reply through the connection's writer.
func (h *Hub) handleSend(c cmdSend) {
	clients, exists := h.clients[c.path]
	if !exists {
		return
	}
	cl, exists := clients[c.conn]
	if !exists {
		return
	}
	select {
	case cl.writer.sendChannel <- c.data:
	default:
		slog.Warn("Disconnecting slow client on reply", "event_path", c.path)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleUnregister(c.path, c.conn)
	}
}

func (h *Hub) activePaths() []string {
	paths := make([]string, 0, len(h.clients))
	for path := range h.clients {
		paths = append(paths, path)
	}
	return paths
}

func (h *Hub) viewsFor(rig string) map[string]projection.AssignedView {
	views := h.views[rig]
	out := make(map[string]projection.AssignedView, len(views))
	for name, assignment := range views {
		out[name] = assignment.assigned
	}
	return out
}

func (h *Hub) handleStop() {
	for path, clients := range h.clients {
		for _, cl := range clients {
			cl.writer.stopGraceful("Server shutting down")
			metrics.HubConnectedClients.WithLabelValues(string(cl.role)).Dec()
		}
		delete(h.clients, path)
	}
	h.views = make(map[string]map[string]viewAssignment)
	metrics.HubActiveEvents.Set(0)
}

// --- Public API ---

// Register adds a connection bound to a role. view may name a view slot,
// in which case assigned carries its derived stream credentials.
func (h *Hub) Register(path, rig string, conn *websocket.Conn, role projection.Role, view string, assigned projection.AssignedView) error {
	errCh := make(chan error, 1)
	h.cmdCh <- cmdRegister{path: path, rig: rig, conn: conn, role: role, view: view, assigned: assigned, errCh: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection. Returns true when a view assignment
// was released, so the caller can notify control/debug.
func (h *Hub) Unregister(path string, conn *websocket.Conn) bool {
	replyCh := make(chan bool, 1)
	h.cmdCh <- cmdUnregister{path: path, conn: conn, replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case removed := <-replyCh:
		return removed
	case <-timer.Chan():
		slog.Warn("Unregister timed out", "timeout", commandTimeout)
		return false
	}
}

// Broadcast delivers data to every live connection of the event instance
// whose role is in roles (debug always included).
func (h *Hub) Broadcast(path string, data []byte, roles projection.RoleSet) {
	h.cmdCh <- cmdBroadcast{path: path, data: data, roles: roles}
}

// Send queues a unicast message to one registered connection.
func (h *Hub) Send(path string, conn *websocket.Conn, data []byte) {
	h.cmdCh <- cmdSend{path: path, conn: conn, data: data}
}

// ClientCount returns the number of connections for an event instance.
func (h *Hub) ClientCount(path string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- cmdClientCount{path: path, replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// ActivePaths lists event paths with at least one live connection.
func (h *Hub) ActivePaths() []string {
	replyCh := make(chan []string, 1)
	h.cmdCh <- cmdActivePaths{replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case paths := <-replyCh:
		return paths
	case <-timer.Chan():
		slog.Warn("ActivePaths timed out", "timeout", commandTimeout)
		return nil
	}
}

// Views returns a copy of the rig's assigned-views map.
func (h *Hub) Views(rig string) map[string]projection.AssignedView {
	replyCh := make(chan map[string]projection.AssignedView, 1)
	h.cmdCh <- cmdViews{rig: rig, replyCh: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case views := <-replyCh:
		return views
	case <-timer.Chan():
		slog.Warn("Views timed out", "timeout", commandTimeout)
		return nil
	}
}

// Stop shuts the hub down, closing all client connections. Blocks until
// the actor goroutine exits or the timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- cmdStop{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

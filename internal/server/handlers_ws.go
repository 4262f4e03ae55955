package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/gbdlin/event-overlays/internal/crypto"
	"github.com/gbdlin/event-overlays/internal/event"
	"github.com/gbdlin/event-overlays/internal/metrics"
	"github.com/gbdlin/event-overlays/internal/projection"
	"github.com/gbdlin/event-overlays/internal/state"
)

// Close codes for post-upgrade rejections. The upgrade is completed first
// so browser clients can read the code instead of a bare HTTP error.
const (
	closeNotFound     = 4404
	closeUnauthorized = 4401
	closeUnknownRole  = 4400
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for OBS browser sources
	},
}

func (s *Server) handleControlWebSocket(c echo.Context) error {
	return s.serveWebSocket(c, projection.RoleControl)
}

func (s *Server) handleViewWebSocket(c echo.Context) error {
	return s.serveWebSocket(c, projection.Role(c.Param("role")))
}

func (s *Server) serveWebSocket(c echo.Context, role projection.Role) error {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		metrics.ConnectionsRejectedTotal.WithLabelValues(string(reason)).Inc()
		return c.String(429, "Too many connections")
	}
	defer s.limits.Release(ip)

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("Failed to upgrade websocket", "error", err)
		return nil
	}

	rigSlug := c.Param("rig")
	rig, err := s.rigs.Load(rigSlug)
	if err != nil {
		if !errors.Is(err, event.ErrNotFound) {
			slog.Error("Failed to load rig", "rig", rigSlug, "error", err)
		}
		metrics.ConnectionsRejectedTotal.WithLabelValues("rig_not_found").Inc()
		closeWebSocket(conn, closeNotFound, "Not found")
		return nil
	}

	if !role.Valid() {
		metrics.ConnectionsRejectedTotal.WithLabelValues("unknown_role").Inc()
		closeWebSocket(conn, closeUnknownRole, "Unknown role")
		return nil
	}

	if role == projection.RoleControl {
		password := c.QueryParam("control_password")
		if !crypto.VerifyControlPassword(password, rig.ControlPassword) {
			slog.Warn("Control authorization failed", "rig", rigSlug)
			metrics.ConnectionsRejectedTotal.WithLabelValues("unauthorized").Inc()
			closeWebSocket(conn, closeUnauthorized, "Unauthorized")
			return nil
		}
	}

	st, err := s.registry.Get(rig.EventPath)
	if err != nil {
		if !errors.Is(err, event.ErrNotFound) {
			slog.Error("Failed to load event", "event_path", rig.EventPath, "error", err)
		}
		metrics.ConnectionsRejectedTotal.WithLabelValues("event_not_found").Inc()
		closeWebSocket(conn, closeNotFound, "Not found")
		return nil
	}

	// Controller deep link into a known-valid position.
	if phase := c.QueryParam("state"); phase != "" && role == projection.RoleControl {
		if p, err := state.ParsePhase(phase); err == nil {
			st.MoveTo(p)
		}
	}

	view := c.QueryParam("view")
	var assigned projection.AssignedView
	if view != "" {
		assigned = projection.AssignedView{
			Role:      role,
			StreamID:  crypto.StreamID(s.config.SecretKey, rigSlug, view),
			StreamKey: crypto.StreamKey(s.config.SecretKey, rigSlug, view, rig.ControlPassword),
		}
	}

	if err := s.hub.Register(rig.EventPath, rigSlug, conn, role, view, assigned); err != nil {
		metrics.ConnectionsRejectedTotal.WithLabelValues("event_full").Inc()
		// Connection already closed by the hub.
		return nil
	}

	s.sendInit(rig, st, conn, role, view, assigned)
	if view != "" {
		s.processor.NotifyViewsChanged(rig.EventPath, rigSlug, "views.assigned")
	}

	slog.Info("Client connected", "rig", rigSlug, "role", role, "event_path", rig.EventPath)

	// Read pump (blocks until disconnect)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.processor.HandleMessage(rig.EventPath, rigSlug, conn, role, raw)
	}

	viewRemoved := s.hub.Unregister(rig.EventPath, conn)
	if viewRemoved {
		s.processor.NotifyViewsChanged(rig.EventPath, rigSlug, "views.unassigned")
	}
	slog.Info("Client disconnected", "rig", rigSlug, "role", role)

	return nil
}

// sendInit delivers the first projection so the client can render without
// waiting for a broadcast.
func (s *Server) sendInit(rig *event.Rig, st *state.State, conn *websocket.Conn, role projection.Role, view string, assigned projection.AssignedView) {
	payload := projection.For(st.View(), role, "init", s.hub.Views(rig.Slug))
	payload["status"] = "init"
	payload["rig"] = rig.Slug
	payload["role"] = role
	if view != "" && role == projection.RoleTimer {
		payload["stream"] = map[string]string{
			"id":  assigned.StreamID,
			"pwd": assigned.StreamKey,
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal init payload", "rig", rig.Slug, "role", role, "error", err)
		return
	}
	s.hub.Send(rig.EventPath, conn, data)
}

func closeWebSocket(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}

package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Websocket endpoints. Authorization happens after the upgrade so
	// failures can be reported as protocol close codes.
	s.echo.GET("/rigs/:rig/control/ws", s.handleControlWebSocket)
	s.echo.GET("/rigs/:rig/views/:role/ws", s.handleViewWebSocket)
}

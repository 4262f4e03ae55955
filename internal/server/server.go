package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/gbdlin/event-overlays/internal/command"
	"github.com/gbdlin/event-overlays/internal/config"
	"github.com/gbdlin/event-overlays/internal/event"
	"github.com/gbdlin/event-overlays/internal/hub"
	"github.com/gbdlin/event-overlays/internal/state"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	rigs      *event.RigLoader
	registry  *state.Registry
	hub       *hub.Hub
	processor *command.Processor
	limits    *ConnectionLimits
	startTime time.Time
}

func NewServer(cfg *config.Config, rigs *event.RigLoader, registry *state.Registry, h *hub.Hub, processor *command.Processor) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	srv := &Server{
		echo:      e,
		config:    cfg,
		rigs:      rigs,
		registry:  registry,
		hub:       h,
		processor: processor,
		limits:    NewConnectionLimits(cfg.MaxConnsPerIP, cfg.ConnectRatePerSec, cfg.ConnectBurst),
		startTime: time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gbdlin/event-overlays/internal/command"
	"github.com/gbdlin/event-overlays/internal/config"
	"github.com/gbdlin/event-overlays/internal/event"
	"github.com/gbdlin/event-overlays/internal/hub"
	"github.com/gbdlin/event-overlays/internal/logging"
	"github.com/gbdlin/event-overlays/internal/server"
	"github.com/gbdlin/event-overlays/internal/state"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func runGracefulShutdown(srv *server.Server, h *hub.Hub, cancelSweep context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		cancelSweep()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		h.Stop()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	eventLoader := event.NewLoader(cfg.EventsDir)
	rigLoader := event.NewRigLoader(cfg.RigsDir)
	registry := state.NewRegistry(eventLoader, clock)

	h := hub.New(clock, cfg.MaxClientsPerRig)

	sweeper := command.NewSweeper(registry, h, clock, cfg.SweepInterval)
	processor := command.NewProcessor(registry, h, sweeper, clock)

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	srv := server.NewServer(cfg, rigLoader, registry, h, processor)

	done := runGracefulShutdown(srv, h, cancelSweep)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}

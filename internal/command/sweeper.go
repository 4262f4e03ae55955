package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gbdlin/event-overlays/internal/event"
	"github.com/gbdlin/event-overlays/internal/hub"
	"github.com/gbdlin/event-overlays/internal/metrics"
	"github.com/gbdlin/event-overlays/internal/projection"
	"github.com/gbdlin/event-overlays/internal/state"
)

// sweepRoles are the schedule-sensitive roles refreshed by the auto-tick
// pass. The timer and control payloads carry no schedule-derived content.
var sweepRoles = projection.NewRoleSet(
	projection.RoleSceneTitle,
	projection.RoleSceneSchedule,
	projection.RoleScenePresentation,
	projection.RoleSchedule,
)

// Sweeper keeps schedule-derived instances live without a controller: on
// a fixed interval it recomputes the ticker of every active instance and
// re-broadcasts to the schedule-sensitive roles.
type Sweeper struct {
	registry *state.Registry
	hub      *hub.Hub
	notifier *notifier
	clock    clockwork.Clock
	interval time.Duration
}

func NewSweeper(registry *state.Registry, h *hub.Hub, clock clockwork.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		hub:      h,
		notifier: &notifier{hub: h},
		clock:    clock,
		interval: interval,
	}
}

// Run executes sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	slog.Info("Starting schedule sweep", "interval", s.interval)
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Schedule sweep stopped")
			return
		case <-ticker.Chan():
			s.RunOnce("")
		}
	}
}

// RunOnce performs one sweep over the active instances. excludePath skips
// the instance a command broadcast already covered.
func (s *Sweeper) RunOnce(excludePath string) {
	start := s.clock.Now()

	for _, path := range s.hub.ActivePaths() {
		if path == excludePath {
			continue
		}
		st, ok := s.registry.Peek(path)
		if !ok {
			continue
		}
		v := st.View()
		if v.Event.Template.TickerSource != event.TickerSchedule {
			continue
		}
		s.notifier.notify(path, "", v, sweepRoles, "event.tick")
	}

	metrics.SweepRunsTotal.Inc()
	metrics.SweepDuration.Observe(s.clock.Since(start).Seconds())
}

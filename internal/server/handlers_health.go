package server

import (
	"os"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReadiness verifies the configuration roots are reachable; without
// them every rig lookup and event load would fail.
func (s *Server) handleReadiness(c echo.Context) error {
	checks := []struct {
		name string
		dir  string
	}{
		{"events_dir", s.config.EventsDir},
		{"rigs_dir", s.config.RigsDir},
	}

	for _, check := range checks {
		if info, err := os.Stat(check.dir); err != nil || !info.IsDir() {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": check.name,
			})
		}
	}

	return c.JSON(200, map[string]string{"status": "ready"})
}

package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves /healthz. Required checks failing turn the response
// into a 503; optional ones are only reported.
type HealthHandler struct {
	Required map[string]Check
	Optional map[string]Check
}

// Health reports "ok" per dependency, or the error text of a failed probe.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := map[string]string{}
	for name, check := range h.Required {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	for name, check := range h.Optional {
		if err := check(ctx); err != nil {
			deps[name] = "degraded: " + err.Error()
			continue
		}
		deps[name] = "ok"
	}
	return c.JSON(status, echo.Map{"success": status == http.StatusOK, "dependencies": deps})
}

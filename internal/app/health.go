package app

import (
	"context"
	"net/http"
	"time"

	"window-limiter/internal/circuitbreaker"
	"window-limiter/internal/common/logging"
)

type healthResponse struct {
	Status  string                 `json:"status"`
	Redis   string                 `json:"redis"`
	Breaker *circuitbreaker.Stats  `json:"breaker,omitempty"`
	Limits  map[string]interface{} `json:"limits,omitempty"`
}

// handleHealth reports Redis reachability and the store breaker state
func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Redis: "disabled"}
	status := http.StatusOK

	if app.RedisClient != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := app.RedisClient.Health(ctx); err != nil {
			app.Logger.WithContext(r.Context()).Warn("Health check failed", logging.Err(err))
			resp.Status = "degraded"
			resp.Redis = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Redis = "ok"
		}
	}

	if app.Breaker != nil {
		stats := app.Breaker.Stats()
		resp.Breaker = &stats
	}

	resp.Limits = map[string]interface{}{
		"enabled": app.Guard != nil && app.Guard.Enabled(),
		"routes":  len(app.Routes),
	}

	writeJSON(w, status, resp)
}

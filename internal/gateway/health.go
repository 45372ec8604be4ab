package gateway

import (
	"net/http"
	"time"

	"github.com/flemzord/fanyi/internal/provider"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string           `json:"status"` // "ok" or "degraded"
	Backend *provider.Status `json:"backend,omitempty"`
}

// handleHealth returns 200 while the backend is available and 503 once the
// tracker reports it in cooldown or dead.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		code := http.StatusOK

		if g.health != nil {
			st := g.health.Status()
			resp.Backend = &st
			g.metrics.ObserveHealth(g.health.State())
			if !st.Available {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, resp)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime  time.Duration    `json:"uptime_seconds"`
	Model   string           `json:"model,omitempty"`
	Active  *ActiveSession   `json:"active,omitempty"`
	History any              `json:"history,omitempty"`
	Backend *provider.Status `json:"backend,omitempty"`
}

// ActiveSession describes the controller's current session.
type ActiveSession struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleStatus reports uptime, the current session and history stats.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime: time.Since(g.startedAt).Truncate(time.Second),
		}
		if g.controller != nil {
			if p := g.controller.Provider(); p != nil {
				resp.Model = p.ModelName()
			}
			if s := g.controller.Active(); s != nil {
				resp.Active = &ActiveSession{ID: s.ID(), Status: s.Status().String()}
			}
			if h := g.controller.History(); h != nil {
				stats := h.Stats()
				g.metrics.ObserveHistory(stats)
				resp.History = stats
			}
		}
		if g.health != nil {
			st := g.health.Status()
			resp.Backend = &st
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

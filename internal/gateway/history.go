package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/security"
)

// ImportResponse is the JSON response for POST /api/history/import.
type ImportResponse struct {
	Imported int          `json:"imported"`
	Dropped  int          `json:"dropped"`
	Stats    memory.Stats `json:"stats"`
	Warning  string       `json:"warning,omitempty"`
}

// EnabledRequest is the body of PUT /api/history/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// history returns the History Store or writes 503.
func (g *Gateway) history(w http.ResponseWriter) *memory.History {
	if g.controller == nil || g.controller.History() == nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return nil
	}
	return g.controller.History()
}

func (g *Gateway) handleHistoryStats() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := g.history(w)
		if h == nil {
			return
		}
		stats := h.Stats()
		g.metrics.ObserveHistory(stats)
		writeJSON(w, http.StatusOK, stats)
	}
}

// handleHistoryExport returns the history as a downloadable JSON document.
func (g *Gateway) handleHistoryExport() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		h := g.history(w)
		if h == nil {
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="fanyi-history.json"`)
		writeJSON(w, http.StatusOK, h.Export())
	}
}

// handleHistoryImport replaces the history with an export document. An
// eviction failure after import keeps the imported entries and is reported
// as a warning.
func (g *Gateway) handleHistoryImport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := g.history(w)
		if h == nil {
			return
		}
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "import document too large")
			return
		}
		if err := (security.DocumentLimits{MaxBytes: int(g.config.MaxBodyBytes)}).Check(data); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := h.Import(r.Context(), data)
		resp := ImportResponse{Imported: res.Imported, Dropped: res.Dropped}
		switch {
		case errors.Is(err, memory.ErrInvalidExport):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, memory.ErrPersist):
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		case err != nil:
			resp.Warning = err.Error()
		}

		g.audit.Log(security.AuditEvent{
			Type: security.EventHistoryImport,
			Metadata: map[string]string{
				"imported": strconv.Itoa(res.Imported),
				"dropped":  strconv.Itoa(res.Dropped),
			},
		})
		resp.Stats = h.Stats()
		g.metrics.ObserveHistory(resp.Stats)
		writeJSON(w, http.StatusOK, resp)
	}
}

func (g *Gateway) handleHistoryClear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := g.history(w)
		if h == nil {
			return
		}
		if err := h.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.audit.Log(security.AuditEvent{Type: security.EventHistoryClear})
		stats := h.Stats()
		g.metrics.ObserveHistory(stats)
		writeJSON(w, http.StatusOK, stats)
	}
}

// handleHistoryEnabled toggles conversation memory.
func (g *Gateway) handleHistoryEnabled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := g.history(w)
		if h == nil {
			return
		}
		var req EnabledRequest
		if err := g.decodeJSON(w, r, &req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
			return
		}
		if err := h.SetEnabled(r.Context(), *req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		g.audit.Log(security.AuditEvent{
			Type:   security.EventHistoryToggle,
			Detail: strconv.FormatBool(*req.Enabled),
		})
		writeJSON(w, http.StatusOK, h.Stats())
	}
}

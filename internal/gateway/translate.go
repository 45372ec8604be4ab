package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	ctxengine "github.com/flemzord/fanyi/internal/context"
	"github.com/flemzord/fanyi/internal/security"
	"github.com/flemzord/fanyi/internal/session"
)

// TranslateRequest is the body of POST /api/translate and of the
// WebSocket "translate" message.
type TranslateRequest struct {
	Text string `json:"text"`
}

// AbortRequest is the body of POST /api/abort. An empty SessionID aborts
// whatever session is active.
type AbortRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// AbortResponse reports whether a running session was cancelled.
type AbortResponse struct {
	Aborted bool `json:"aborted"`
}

var errUnavailable = errors.New("translation engine unavailable")

// admit applies the translation and token rate limits to a request.
func (g *Gateway) admit(text string) (int, error) {
	if g.controller == nil {
		return http.StatusServiceUnavailable, errUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return http.StatusBadRequest, errors.New("text is required")
	}
	if err := g.limiter.Allow(security.KindTranslate); err != nil {
		g.audit.Log(security.AuditEvent{Type: security.EventRateLimit, Detail: security.KindTranslate})
		return http.StatusTooManyRequests, err
	}
	tokens := ctxengine.WeightedEstimator{}.Estimate(text)
	if err := g.limiter.AllowN(security.KindToken, tokens); err != nil {
		g.audit.Log(security.AuditEvent{Type: security.EventRateLimit, Detail: security.KindToken})
		return http.StatusTooManyRequests, err
	}
	return 0, nil
}

// handleTranslate streams one translation session as server-sent events.
// Closing the connection aborts the session.
func (g *Gateway) handleTranslate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TranslateRequest
		if err := g.decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if code, err := g.admit(req.Text); err != nil {
			var le *security.LimitError
			if errors.As(err, &le) {
				w.Header().Set("Retry-After", strconv.Itoa(int(le.RetryAfter.Seconds()+0.999)))
			}
			writeError(w, code, err.Error())
			return
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		_ = rc.Flush()

		queue := newEventQueue(defaultQueueSize)
		s, _ := g.controller.Start(r.Context(), req.Text, queue)
		g.audit.Log(security.AuditEvent{
			Type:      security.EventTranslate,
			SessionID: s.ID(),
			Metadata: map[string]string{
				"transport":   "sse",
				"input_runes": strconv.Itoa(len([]rune(req.Text))),
			},
		})

		// Validation failures arrive on the queue as an error event, so
		// the stream is drained either way.
		err := queue.drain(r.Context(), s.Done(), func(ev session.Event) error {
			if err := writeSSE(w, ev); err != nil {
				return err
			}
			return rc.Flush()
		})
		if err != nil {
			g.logger.Debug("event stream ended early", "session_id", s.ID(), "error", err)
		}
		if n := queue.Dropped(); n > 0 {
			g.logger.Debug("slow client missed deltas", "session_id", s.ID(), "dropped", n)
		}
	}
}

// writeSSE renders ev as one event-stream frame.
func writeSSE(w http.ResponseWriter, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// handleAbort cancels the active session.
func (g *Gateway) handleAbort() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.controller == nil {
			writeError(w, http.StatusServiceUnavailable, errUnavailable.Error())
			return
		}
		var req AbortRequest
		if r.ContentLength != 0 {
			if err := g.decodeJSON(w, r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		var aborted bool
		if req.SessionID != "" {
			aborted = g.controller.AbortSession(req.SessionID, req.Reason)
		} else {
			aborted = g.controller.Abort(req.Reason)
		}
		if aborted {
			g.audit.Log(security.AuditEvent{
				Type:      security.EventAbort,
				SessionID: req.SessionID,
				Detail:    req.Reason,
			})
		}
		writeJSON(w, http.StatusOK, AbortResponse{Aborted: aborted})
	}
}

package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/flemzord/fanyi/internal/security"
)

// wsRoute is the only route that takes a query-string token.
const wsRoute = "/ws/translate"

// authenticator checks API requests against the configured credentials.
// Failed attempts are rate limited with the auth bucket and every outcome
// is audited.
type authenticator struct {
	cfg     AuthConfig
	audit   *security.AuditLogger
	limiter *security.RateLimiter
}

// method returns which credential r presented successfully, or "".
func (a *authenticator) method(r *http.Request) string {
	if a.cfg.BearerToken != "" {
		if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && secureEqual(tok, a.cfg.BearerToken) {
			return "bearer"
		}
		if a.cfg.QueryToken && r.URL.Path == wsRoute {
			if tok := r.URL.Query().Get("access_token"); tok != "" && secureEqual(tok, a.cfg.BearerToken) {
				return "query"
			}
		}
	}
	if a.cfg.BasicUser != "" && a.cfg.BasicPass != "" {
		if user, pass, ok := r.BasicAuth(); ok && secureEqual(user, a.cfg.BasicUser) && secureEqual(pass, a.cfg.BasicPass) {
			return "basic"
		}
	}
	return ""
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m := a.method(r); m != "" {
			a.record(security.EventAuthSuccess, r, m)
			next.ServeHTTP(w, r)
			return
		}
		if a.limiter != nil {
			if err := a.limiter.Allow(security.KindAuth); err != nil {
				a.record(security.EventRateLimit, r, security.KindAuth)
				writeError(w, http.StatusTooManyRequests, "too many failed attempts")
				return
			}
		}
		a.record(security.EventAuthFailure, r, "invalid or missing credentials")
		w.Header().Set("WWW-Authenticate", `Bearer realm="fanyi"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func (a *authenticator) record(t security.EventType, r *http.Request, detail string) {
	if a.audit == nil {
		return
	}
	a.audit.Log(security.AuditEvent{
		Type:   t,
		Detail: detail,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

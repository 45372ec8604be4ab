package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flemzord/fanyi/internal/security"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestAuthenticator(t *testing.T) {
	t.Parallel()

	full := AuthConfig{BearerToken: "tok-123", BasicUser: "admin", BasicPass: "pass", QueryToken: true}
	tests := []struct {
		name    string
		cfg     AuthConfig
		path    string
		prepare func(*http.Request)
		want    int
	}{
		{"bearer", full, "/api/translate", func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok-123") }, http.StatusOK},
		{"wrong bearer", full, "/api/translate", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"basic", full, "/api/history", func(r *http.Request) { r.SetBasicAuth("admin", "pass") }, http.StatusOK},
		{"wrong basic", full, "/api/history", func(r *http.Request) { r.SetBasicAuth("admin", "x") }, http.StatusUnauthorized},
		{"missing", full, "/status", func(*http.Request) {}, http.StatusUnauthorized},
		{"query token on ws", full, "/ws/translate?access_token=tok-123", func(*http.Request) {}, http.StatusOK},
		{"query token elsewhere", full, "/api/translate?access_token=tok-123", func(*http.Request) {}, http.StatusUnauthorized},
		{"query token disabled", AuthConfig{BearerToken: "tok-123"}, "/ws/translate?access_token=tok-123", func(*http.Request) {}, http.StatusUnauthorized},
		{"basic half configured", AuthConfig{BasicUser: "admin"}, "/status", func(r *http.Request) { r.SetBasicAuth("admin", "") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &authenticator{cfg: tt.cfg}
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			tt.prepare(req)
			rr := httptest.NewRecorder()
			a.middleware(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
			if rr.Code == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 should carry WWW-Authenticate")
			}
		})
	}
}

func TestAuthConfig_IsConfigured(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cfg  AuthConfig
		want bool
	}{
		{AuthConfig{}, false},
		{AuthConfig{BearerToken: "tok"}, true},
		{AuthConfig{BasicUser: "u", BasicPass: "p"}, true},
		{AuthConfig{BasicUser: "u"}, false},
		{AuthConfig{BasicPass: "p"}, false},
		{AuthConfig{QueryToken: true}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.IsConfigured(); got != tt.want {
			t.Errorf("%+v.IsConfigured() = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestAuthenticator_LimitsFailedAttempts(t *testing.T) {
	t.Parallel()

	rec, audit := newAuditRecorder()
	a := &authenticator{
		cfg:     AuthConfig{BearerToken: "tok"},
		audit:   audit,
		limiter: security.NewRateLimiter(security.RateLimitConfig{AuthPerMin: 2}),
	}
	h := a.middleware(okHandler())

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/translate", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	got := []int{send("bad"), send("bad"), send("bad"), send("tok")}
	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d: status = %d, want %d", i, got[i], want[i])
		}
	}

	events := rec.Events()
	if len(events) != 4 {
		t.Fatalf("audit events = %d, want 4", len(events))
	}
	wantTypes := []security.EventType{security.EventAuthFailure, security.EventAuthFailure, security.EventRateLimit, security.EventAuthSuccess}
	for i, ev := range events {
		if ev.Type != wantTypes[i] {
			t.Errorf("event %d = %q, want %q", i, ev.Type, wantTypes[i])
		}
	}
	if events[0].Metadata["path"] != "/api/translate" {
		t.Errorf("path = %q", events[0].Metadata["path"])
	}
}

package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public, no auth required.
	r.Get("/health", g.handleHealth())
	r.Handle("/metrics", g.metrics.Handler())

	// API, behind auth when configured.
	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			auth := &authenticator{cfg: g.config.Auth, audit: g.audit, limiter: g.limiter}
			r.Use(auth.middleware)
		}
		r.Use(g.countRequests)

		r.Get("/status", g.handleStatus())
		r.Get("/ws/translate", g.handleWebSocket)
		r.Route("/api", func(r chi.Router) {
			r.Post("/translate", g.handleTranslate())
			r.Post("/abort", g.handleAbort())
			r.Route("/history", func(r chi.Router) {
				r.Get("/", g.handleHistoryStats())
				r.Delete("/", g.handleHistoryClear())
				r.Get("/export", g.handleHistoryExport())
				r.Post("/import", g.handleHistoryImport())
				r.Put("/enabled", g.handleHistoryEnabled())
			})
		})
	})

	return r
}

// countRequests records each response by route pattern and status class.
func (g *Gateway) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		g.metrics.observeRequest(route, status)
	})
}

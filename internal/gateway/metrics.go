package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/fanyi/internal/memory"
	"github.com/flemzord/fanyi/internal/provider"
	"github.com/flemzord/fanyi/internal/session"
)

const namespace = "fanyi"

// Metrics holds the Prometheus collectors exported on /metrics. It owns a
// private registry so tests can create several instances.
type Metrics struct {
	registry *prometheus.Registry

	sessions        *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec
	contentRunes    prometheus.Counter
	historyErrors   prometheus.Counter
	evictions       *prometheus.CounterVec
	evictedTurns    *prometheus.CounterVec
	historyTokens   prometheus.Gauge
	historyEntries  prometheus.Gauge
	backendHealth   prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Translation sessions by terminal status.",
		}, []string{"status"}),
		sessionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of translation sessions.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"status"}),
		contentRunes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translated_runes_total",
			Help:      "Characters of translated content delivered.",
		}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_append_errors_total",
			Help:      "Completed sessions whose history append failed.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evictions_total",
			Help:      "Eviction strategy runs by strategy and result.",
		}, []string{"strategy", "result"}),
		evictedTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_evicted_turns_total",
			Help:      "Turns removed or summarized by eviction.",
		}, []string{"strategy"}),
		historyTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_tokens",
			Help:      "Estimated token cost of the stored history.",
		}),
		historyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Number of stored conversation turns.",
		}),
		backendHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_health_state",
			Help:      "Backend health: 0 healthy, 1 cooldown, 2 dead.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code class.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.sessions,
		m.sessionDuration,
		m.contentRunes,
		m.historyErrors,
		m.evictions,
		m.evictedTurns,
		m.historyTokens,
		m.historyEntries,
		m.backendHealth,
		m.httpRequests,
	)
	return m
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveSession records a finished session. It matches session.Config.OnFinish.
func (m *Metrics) ObserveSession(out session.Outcome) {
	status := out.Status.String()
	m.sessions.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(out.Duration.Seconds())
	m.contentRunes.Add(float64(len([]rune(out.Content))))
	if out.HistoryErr != nil {
		m.historyErrors.Inc()
	}
}

// ObserveEviction records an eviction run. It matches memory.Options.OnEvict.
func (m *Metrics) ObserveEviction(ev memory.EvictionEvent) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	m.evictions.WithLabelValues(ev.Strategy, result).Inc()
	if ev.Evicted > 0 {
		m.evictedTurns.WithLabelValues(ev.Strategy).Add(float64(ev.Evicted))
	}
}

// ObserveHistory sets the history gauges.
func (m *Metrics) ObserveHistory(s memory.Stats) {
	m.historyTokens.Set(float64(s.TotalTokens))
	m.historyEntries.Set(float64(s.TotalEntries))
}

// ObserveHealth sets the backend health gauge.
func (m *Metrics) ObserveHealth(state provider.HealthState) {
	m.backendHealth.Set(float64(state))
}

// observeRequest counts one API response.
func (m *Metrics) observeRequest(route string, code int) {
	m.httpRequests.WithLabelValues(route, codeClass(code)).Inc()
}

func codeClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

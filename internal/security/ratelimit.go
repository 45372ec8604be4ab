package security

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is wrapped by every *LimitError.
var ErrRateLimited = errors.New("rate limit exceeded")

// Bucket kinds used by the gateway.
const (
	KindAuth      = "auth"      // failed authentication attempts
	KindTranslate = "translate" // translation requests
	KindToken     = "token"     // estimated input tokens
)

// LimitError reports which bucket refused a request and when it will have
// room again.
type LimitError struct {
	Kind       string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry in %s", ErrRateLimited, e.Kind, e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrRateLimited.
func (e *LimitError) Unwrap() error { return ErrRateLimited }

// RateLimitConfig is the rate_limit section of the gateway configuration.
// Zero selects the default; TokensPerHour 0 disables the token bucket.
type RateLimitConfig struct {
	AuthPerMin         int `yaml:"auth_per_min"`
	TranslationsPerMin int `yaml:"translations_per_min"`
	TokensPerHour      int `yaml:"tokens_per_hour"`
}

// RateLimiter enforces sliding-window limits per bucket kind. An event may
// weigh more than one unit, so a single translation can spend many tokens.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*window
	now     func() time.Time
}

type stamp struct {
	at     time.Time
	weight int
}

type window struct {
	span   time.Duration
	limit  int
	used   int
	stamps []stamp
}

// NewRateLimiter creates a limiter for cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.AuthPerMin <= 0 {
		cfg.AuthPerMin = 20
	}
	if cfg.TranslationsPerMin <= 0 {
		cfg.TranslationsPerMin = 30
	}

	rl := &RateLimiter{
		now: time.Now,
		buckets: map[string]*window{
			KindAuth:      {span: time.Minute, limit: cfg.AuthPerMin},
			KindTranslate: {span: time.Minute, limit: cfg.TranslationsPerMin},
		},
	}
	if cfg.TokensPerHour > 0 {
		rl.buckets[KindToken] = &window{span: time.Hour, limit: cfg.TokensPerHour}
	}
	return rl
}

// Allow records one event of kind.
func (rl *RateLimiter) Allow(kind string) error {
	return rl.AllowN(kind, 1)
}

// AllowN records an event weighing n units, or returns a *LimitError and
// records nothing. Kinds without a bucket are unlimited. An event heavier
// than the whole limit is always refused.
func (rl *RateLimiter) AllowN(kind string, n int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.buckets[kind]
	if !ok || n <= 0 {
		return nil
	}
	now := rl.now()
	w.expire(now)

	if w.used+n > w.limit {
		return &LimitError{Kind: kind, RetryAfter: w.retryAfter(now, n)}
	}
	w.stamps = append(w.stamps, stamp{at: now, weight: n})
	w.used += n
	return nil
}

// Remaining returns the units still available in kind's window, or -1
// for an unlimited kind.
func (rl *RateLimiter) Remaining(kind string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.buckets[kind]
	if !ok {
		return -1
	}
	w.expire(rl.now())
	return w.limit - w.used
}

func (w *window) expire(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].at.After(cutoff) {
		w.used -= w.stamps[i].weight
		i++
	}
	w.stamps = w.stamps[i:]
}

// retryAfter is the wait until enough old events expire to fit n more.
func (w *window) retryAfter(now time.Time, n int) time.Duration {
	if n > w.limit {
		return w.span
	}
	need := w.used + n - w.limit
	for _, s := range w.stamps {
		need -= s.weight
		if need <= 0 {
			return s.at.Add(w.span).Sub(now)
		}
	}
	return w.span
}

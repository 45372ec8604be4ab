package provider

import (
	"errors"
	"sync"
	"time"
)

// HealthState is the availability state of the translation backend.
type HealthState int

// Health states, ordered from best to worst.
const (
	StateHealthy  HealthState = iota
	StateCooldown             // recent transport failure, backing off
	StateDead                 // MaxFailures consecutive failures
)

// String returns a human-readable label for the health state.
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateCooldown:
		return "cooldown"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// HealthConfig controls health tracking behavior.
type HealthConfig struct {
	// InitialBackoff is the cooldown after the first failure. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff. Default: 60s.
	MaxBackoff time.Duration

	// MaxFailures is the number of consecutive failures before the backend
	// is reported dead. Default: 5.
	MaxFailures int

	// OnStateChange is called outside the lock on every transition.
	OnStateChange func(from, to HealthState)
}

func (c *HealthConfig) defaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
}

// Status is a point-in-time view of a HealthTracker.
type Status struct {
	State     string    `json:"state"`
	Available bool      `json:"available"`
	Failures  int       `json:"failures"`
	RetryAt   time.Time `json:"retry_at,omitzero"`

	// LastError and LastFailure describe the most recent failure and are
	// kept after recovery.
	LastError   string    `json:"last_error,omitempty"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// HealthTracker follows backend availability from the outcomes of real
// sessions and periodic probes. Transport failures move it to cooldown with
// exponential backoff; MaxFailures consecutive failures mark it dead until a
// success is recorded. Cancellations must not be recorded as failures.
type HealthTracker struct {
	cfg HealthConfig

	mu              sync.Mutex
	state           HealthState
	failures        int
	currentBackoff  time.Duration
	cooldownExpires time.Time
	lastErr         error
	lastFailure     time.Time

	now func() time.Time
}

// NewHealthTracker creates a healthy tracker.
func NewHealthTracker(cfg HealthConfig) *HealthTracker {
	cfg.defaults()
	return &HealthTracker{
		cfg:   cfg,
		state: StateHealthy,
		now:   time.Now,
	}
}

// IsAvailable reports whether requests should be attempted. A tracker in
// cooldown becomes available again once its backoff has elapsed.
func (h *HealthTracker) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availableLocked()
}

func (h *HealthTracker) availableLocked() bool {
	switch h.state {
	case StateHealthy:
		return true
	case StateCooldown:
		return !h.now().Before(h.cooldownExpires)
	default:
		return false
	}
}

// RecordSuccess resets the tracker to healthy.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	prev := h.state
	h.state = StateHealthy
	h.failures = 0
	h.currentBackoff = 0
	h.cooldownExpires = time.Time{}
	h.mu.Unlock()

	h.notify(prev, StateHealthy)
}

// RecordFailure records a failure to reach the backend. Errors that
// prove the backend answered, see Reachable, are ignored.
func (h *HealthTracker) RecordFailure(err error) {
	if Reachable(err) {
		return
	}
	h.mu.Lock()
	prev := h.state
	h.failures++
	h.lastErr, h.lastFailure = err, h.now()

	next := StateCooldown
	if h.failures >= h.cfg.MaxFailures {
		next = StateDead
	} else {
		if h.currentBackoff == 0 {
			h.currentBackoff = h.cfg.InitialBackoff
		} else {
			h.currentBackoff = min(h.currentBackoff*2, h.cfg.MaxBackoff)
		}
		h.cooldownExpires = h.now().Add(h.currentBackoff)
	}
	h.state = next
	h.mu.Unlock()

	h.notify(prev, next)
}

// ShouldProbe reports whether an active health check is due: the backend is
// dead, or its cooldown has expired.
func (h *HealthTracker) ShouldProbe() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateDead:
		return true
	case StateCooldown:
		return !h.now().Before(h.cooldownExpires)
	default:
		return false
	}
}

// State returns the current health state.
func (h *HealthTracker) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Status returns a snapshot suitable for health endpoints.
func (h *HealthTracker) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Status{
		State:     h.state.String(),
		Available: h.availableLocked(),
		Failures:  h.failures,
	}
	if h.state == StateCooldown {
		st.RetryAt = h.cooldownExpires
	}
	if h.lastErr != nil {
		st.LastError = h.lastErr.Error()
		st.LastFailure = h.lastFailure
	}
	return st
}

func (h *HealthTracker) notify(from, to HealthState) {
	if from != to && h.cfg.OnStateChange != nil {
		h.cfg.OnStateChange(from, to)
	}
}

// Reachable reports whether err is a backend response that says nothing
// about availability, such as a rejected key or an oversized request.
func Reachable(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !IsRetryable(err)
}

package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds shared by all backends. Backend errors wrap one of them so
// callers can branch with errors.Is.
var (
	ErrRateLimit     = errors.New("provider rate limited")
	ErrContextLength = errors.New("context length exceeded")
	ErrProviderDown  = errors.New("provider unavailable")
	ErrAuth          = errors.New("provider authentication failed")
	ErrBadRequest    = errors.New("provider rejected the request")
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code    int
	Message string
	kind    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (HTTP %d): %s", e.kind, e.Code, e.Message)
}

// Unwrap returns the error kind.
func (e *StatusError) Unwrap() error { return e.kind }

// ClassifyStatus turns an HTTP status and the backend's error message into
// a *StatusError. It returns nil for 2xx codes. An empty message becomes
// the status text.
func ClassifyStatus(code int, message string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	if message == "" {
		message = http.StatusText(code)
	}

	kind := ErrBadRequest
	switch {
	case code == http.StatusTooManyRequests:
		kind = ErrRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusPaymentRequired:
		kind = ErrAuth
	case code == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "context length"):
		kind = ErrContextLength
	case code >= 500:
		kind = ErrProviderDown
	}
	return &StatusError{Code: code, Message: message, kind: kind}
}

// IsRetryable reports whether err is transient. The session engine never
// retries on its own; health probes and the CLI use this for wording.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

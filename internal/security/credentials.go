// Package security holds the secrets fanyi loads at runtime and keeps them
// out of logs, audit records and diagnostics. It also provides the gateway's
// rate limiter and the validation of untrusted JSON documents.
package security

import (
	"slices"
	"sync"
)

// Credential names used outside the provider modules.
const (
	CredentialGatewayToken    = "gateway_bearer_token"
	CredentialGatewayPass     = "gateway_basic_pass"
	CredentialTelemetryHeader = "telemetry_header_" // + header name
)

// CredentialStore is the single place secrets live once configuration is
// loaded: backend API keys, gateway tokens, exporter headers. Every change
// is pushed to the attached redactors, so a secret is masked in log output
// from the moment it is known. Safe for concurrent use.
type CredentialStore struct {
	mu        sync.RWMutex
	creds     map[string]string
	redactors []*Redactor
}

// NewCredentialStore creates an empty store that keeps the given redactors
// in sync.
func NewCredentialStore(redactors ...*Redactor) *CredentialStore {
	return &CredentialStore{
		creds:     make(map[string]string),
		redactors: redactors,
	}
}

// Attach keeps r in sync with the store from now on.
func (s *CredentialStore) Attach(r *Redactor) {
	s.mu.Lock()
	s.redactors = append(s.redactors, r)
	values := s.valuesLocked()
	s.mu.Unlock()
	r.setLiterals(values)
}

// Set stores a credential, replacing any previous value. An empty value
// removes it.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	if value == "" {
		delete(s.creds, name)
	} else {
		s.creds[name] = value
	}
	s.syncLocked()
}

// Delete removes a credential. It is a no-op for unknown names.
func (s *CredentialStore) Delete(name string) {
	s.Set(name, "")
}

// Get returns the credential value and whether it exists.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Names returns the sorted credential names.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns every credential value, longest first, so that a secret
// containing another is masked whole.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valuesLocked()
}

func (s *CredentialStore) valuesLocked() []string {
	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		values = append(values, v)
	}
	slices.SortFunc(values, func(a, b string) int { return len(b) - len(a) })
	return values
}

// syncLocked pushes the current values to the redactors and releases mu.
func (s *CredentialStore) syncLocked() {
	values := s.valuesLocked()
	redactors := slices.Clone(s.redactors)
	s.mu.Unlock()
	for _, r := range redactors {
		r.setLiterals(values)
	}
}

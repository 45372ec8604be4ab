package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every masked secret.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely hold secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|pass|api_?key|authorization|identity)`)

// DefaultPatterns returns the secret formats masked even before they are
// registered as credentials.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Backend API keys: sk-<hex or alphanumeric>.
		regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		// Authorization header values.
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{16,}`),
		// age identities used to decrypt backups.
		regexp.MustCompile(`AGE-SECRET-KEY-1[0-9A-Z]{20,}`),
		// Credentials embedded in URLs, e.g. an exporter endpoint.
		regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`),
	}
}

// Redactor masks secrets in strings and maps. It matches the default
// patterns and the literal values of a CredentialStore. Safe for
// concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor returns a Redactor loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddPattern masks every match of pattern from now on.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral masks secret on sight. Empty strings are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

func (r *Redactor) setLiterals(values []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = values
}

// Redact returns s with every known secret replaced by RedactPlaceholder.
// Literals go first so a registered key is masked whole even when a
// pattern would match only part of it.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns, literals := r.patterns, r.literals
	r.mu.RUnlock()

	for _, lit := range literals {
		if lit != "" && strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	for _, p := range patterns {
		if p.MatchString(s) {
			s = p.ReplaceAllStringFunc(s, maskMatch)
		}
	}
	return s
}

// maskMatch keeps the scheme and separator of URL credentials so the
// endpoint stays readable.
func maskMatch(m string) string {
	if strings.HasPrefix(m, "://") {
		return "://" + RedactPlaceholder + "@"
	}
	return RedactPlaceholder
}

// RedactMap masks, in place, string values under secret-looking keys and
// any known secret found in other strings. Used when printing the
// effective configuration.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if val != "" && secretKeyPattern.MatchString(k) {
				m[k] = RedactPlaceholder
			} else {
				m[k] = r.Redact(val)
			}
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for i, item := range val {
				switch it := item.(type) {
				case map[string]any:
					r.RedactMap(it)
				case string:
					val[i] = r.Redact(it)
				}
			}
		}
	}
}

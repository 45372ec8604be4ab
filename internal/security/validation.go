package security

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Validation errors for untrusted documents.
var (
	ErrDocumentTooLarge = errors.New("document exceeds maximum size")
	ErrDocumentTooDeep  = errors.New("document nesting exceeds maximum depth")
	ErrInvalidDocument  = errors.New("invalid JSON document")
)

// DocumentLimits bounds the JSON the gateway accepts from clients:
// WebSocket frames and history imports. Zero fields take the defaults.
type DocumentLimits struct {
	MaxBytes int
	MaxDepth int
}

// DefaultDocumentLimits allows 1 MiB documents nested 32 levels deep.
var DefaultDocumentLimits = DocumentLimits{MaxBytes: 1 << 20, MaxDepth: 32}

func (l DocumentLimits) withDefaults() DocumentLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultDocumentLimits.MaxBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultDocumentLimits.MaxDepth
	}
	return l
}

// Check rejects data when it is too large, malformed or too deep. Size is
// checked first so oversized input is never parsed.
func (l DocumentLimits) Check(data []byte) error {
	l = l.withDefaults()
	if len(data) > l.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, len(data), l.MaxBytes)
	}
	if !gjson.ValidBytes(data) {
		return ErrInvalidDocument
	}
	if depth := nestingDepth(data); depth > l.MaxDepth {
		return fmt.Errorf("%w: depth %d (max %d)", ErrDocumentTooDeep, depth, l.MaxDepth)
	}
	return nil
}

// nestingDepth returns the deepest object or array level of valid JSON.
// Brackets inside strings do not count.
func nestingDepth(data []byte) int {
	var depth, deepest int
	inString, escaped := false, false
	for _, c := range data {
		switch {
		case escaped:
			escaped = false
		case inString:
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{' || c == '[':
			depth++
			deepest = max(deepest, depth)
		case c == '}' || c == ']':
			depth--
		}
	}
	return deepest
}

// Package memory implements the conversation History Store: a durable,
// token-budgeted record of past turns persisted through a key-value store.
package memory

import (
	"context"
	"encoding/json"
)

// Persisted keys.
const (
	KeyHistory       = "conversationHistory"
	KeySummary       = "conversationSummary"
	KeySummaryTokens = "summaryTokens"
	KeyEnabled       = "enableHistory"
)

// KV is the durable key-value collaborator the History Store persists to.
// Values are opaque JSON documents. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the values for the requested keys. Missing keys are
	// absent from the result, not an error.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set writes every entry of values.
	Set(ctx context.Context, values map[string]json.RawMessage) error
}

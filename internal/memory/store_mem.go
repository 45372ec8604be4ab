package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
)

// InMemoryKV is a thread-safe, in-memory implementation of KV.
type InMemoryKV struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
	sets   int
}

// NewInMemoryKV creates a new empty store.
func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{
		values: make(map[string]json.RawMessage),
	}
}

// Compile-time interface check.
var _ KV = (*InMemoryKV)(nil)

// Get returns copies of the stored values for keys.
func (s *InMemoryKV) Get(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = bytes.Clone(v)
		}
	}
	return out, nil
}

// Set stores copies of values.
func (s *InMemoryKV) Set(_ context.Context, values map[string]json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.values[k] = bytes.Clone(v)
	}
	s.sets++
	return nil
}

// Sets returns how many Set calls the store has served.
func (s *InMemoryKV) Sets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets
}

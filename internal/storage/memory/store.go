// Package memory provides an in-process key-value backend for development and
// tests. Values do not survive a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Store is a concurrency-safe map-backed key-value store.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Remove deletes key. Missing keys are ignored.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

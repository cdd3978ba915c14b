// Package kv is the persistent key-value layer the session store writes through to.
//
// A Backend is the raw storage (memory, SQLite or Redis). Store wraps a Backend
// with the contract the rest of the application relies on: reads never fail,
// writes may fail but only ever produce a logged warning, and values that no
// longer decode are treated as absent.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// Backend is a string-keyed storage engine.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Store is the adapter between the application state and a Backend.
type Store struct {
	backend Backend
	log     *slog.Logger
}

// NewStore wraps backend. A nil logger falls back to slog.Default().
func NewStore(backend Backend, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{backend: backend, log: log.With("component", "kv")}
}

// Get returns the value stored under key. Missing keys and backend failures
// both report absent; failures are logged.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("Failed to read key, treating as absent", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

// Set writes value under key. The error is returned for callers that want to
// react to it, but it has already been logged and must not be treated as fatal.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.backend.Set(ctx, key, value); err != nil {
		s.log.Warn("Failed to persist key, keeping in-memory state", "key", key, "bytes", len(value), "error", err)
		return err
	}
	return nil
}

// Remove deletes key. Removing a missing key is a no-op.
func (s *Store) Remove(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("Failed to remove key", "key", key, "error", err)
	}
}

// GetJSON decodes the value under key into v. It reports false when the key
// is absent or the stored value does not decode; in the latter case the
// corrupted value is removed so it cannot shadow future writes.
func (s *Store) GetJSON(ctx context.Context, key string, v any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.log.Warn("Discarding undecodable value", "key", key, "error", err)
		s.Remove(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and writes it under key.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("Failed to encode value", "key", key, "error", err)
		return err
	}
	return s.Set(ctx, key, string(data))
}

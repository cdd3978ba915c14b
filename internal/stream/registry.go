package stream

import (
	"context"
	"fmt"
	"sync"

	apperrors "glados/backend/internal/errors"
)

type slot struct {
	cancel context.CancelFunc
}

// Registry allows at most one in-flight reply per session. Different
// sessions stream independently.
type Registry struct {
	mu     sync.Mutex
	active map[string]*slot
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*slot)}
}

// Acquire claims sessionID for one reply. The returned context is cancelled
// by Cancel or by release; release must always be called.
func (r *Registry) Acquire(parent context.Context, sessionID string) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[sessionID]; busy {
		return nil, nil, fmt.Errorf("%w: a reply is already streaming in session %s", apperrors.ErrConflict, sessionID)
	}
	ctx, cancel := context.WithCancel(parent)
	s := &slot{cancel: cancel}
	r.active[sessionID] = s

	release := func() {
		cancel()
		r.mu.Lock()
		if r.active[sessionID] == s {
			delete(r.active, sessionID)
		}
		r.mu.Unlock()
	}
	return ctx, release, nil
}

// Cancel aborts the reply streaming in sessionID and reports whether there
// was one.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	s, ok := r.active[sessionID]
	r.mu.Unlock()
	if ok {
		s.cancel()
	}
	return ok
}

// Busy reports whether sessionID has a reply in flight.
func (r *Registry) Busy(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

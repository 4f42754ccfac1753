// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_session

import (
	"sync"
)

// Registry is the process-wide map of live voice sessions keyed by call
// id. The owning session registers and removes itself; webhook and
// control paths only look up.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds a session under its call id.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CallID()] = s
}

// Remove deletes a session by call id.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Get looks up a live session.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CancelAll requests cooperative shutdown of every live session. Used on
// process drain.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.RequestEnd("shutdown")
	}
}

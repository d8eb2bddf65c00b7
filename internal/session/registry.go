package session

import (
	"sync"

	"wsfanout/internal/message"
)

// Registry is the set of live sessions, keyed by ClientID. Insert/Remove
// are guarded by a mutex; Snapshot produces a shallow copy safe to
// iterate concurrently with in-flight inserts/removals.
type Registry struct {
	mu       sync.RWMutex
	sessions map[message.ClientID]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[message.ClientID]*Session)}
}

// Insert adds s to the registry, keyed by its ClientID.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Remove drops the session with id from the registry, if present.
func (r *Registry) Remove(id message.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Snapshot returns a point-in-time copy of the live session set. The
// returned slice is safe to range over while other goroutines call
// Insert/Remove.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the current registry size.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

package session

import "sync"

// Registry is the process-wide session map owned by the connection manager.
// Sessions are created explicitly on connect and torn down explicitly on
// disconnect; there is no ambient global state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session with the given id, creating it if absent.
// created reports whether this call created it.
func (r *Registry) GetOrCreate(id string) (sess *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok && id != "" {
		return s, false
	}
	s := New(id)
	r.sessions[s.ID()] = s
	return s, true
}

// Get returns the session with the given id, if present.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes the session and removes it from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		s.Close()
		delete(r.sessions, id)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

package realtime

import "sync"

// Registry tracks live sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	onConnect    func(*Session)
	onDisconnect func(*Session)
}

// NewRegistry creates a registry. Either hook may be nil.
func NewRegistry(onConnect, onDisconnect func(*Session)) *Registry {
	return &Registry{
		sessions:     make(map[string]*Session),
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	if r.onConnect != nil {
		r.onConnect(s)
	}
}

// Remove drops the session and runs the disconnect hook once.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	_, ok := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	if ok && r.onDisconnect != nil {
		r.onDisconnect(s)
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll ends every session, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}
}

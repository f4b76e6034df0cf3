package progression

import "sync"

// Registry holds the live workout session per user. Sessions are created
// on first access and dropped when ended, so an idle user costs nothing.
type Registry struct {
	mutex    sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: map[string]*Session{},
	}
}

// ForUser returns the user's session, creating an idle one if needed.
func (r *Registry) ForUser(userID string) *Session {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	s, ok := r.sessions[userID]
	if !ok {
		s = NewSession()
		r.sessions[userID] = s
	}
	return s
}

// Drop ends and removes the user's session, if any.
func (r *Registry) Drop(userID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if s, ok := r.sessions[userID]; ok {
		s.End()
		delete(r.sessions, userID)
	}
}

func (r *Registry) ActiveCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	count := 0
	for _, s := range r.sessions {
		if s.IsActive() {
			count++
		}
	}
	return count
}

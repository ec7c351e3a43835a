package call

import (
	"fmt"
	"sync"
)

// Registry is the concurrency-safe map of active call sessions keyed by
// stream id. It is the only state shared across sessions; a lookup-and-mutate
// on one session can never touch another.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session under its ID. Registering a second session with
// the same id is a protocol violation from the gateway and returns an error;
// the existing session is untouched.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("call: session %q already registered", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Get returns the session for id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove releases the id. Removing an unknown id is a no-op; teardown paths
// may race and both try to remove.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Inject enqueues externally supplied PCM onto the identified session's
// injection queue. Returns ErrSessionNotFound for an unknown id and
// ErrQueueFull when the session's queue is at capacity.
func (r *Registry) Inject(id string, pcm []int16) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Inject(pcm)
}

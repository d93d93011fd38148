package sshterminal

import (
	"sort"
	"sync"

	"github.com/gluk-w/claworc/sshdeck/internal/sshclient"
)

// Registry maps session ids to live sessions. Every mutation and every
// snapshot runs under one lock, so a broadcast snapshot never observes a
// half-applied create or remove.
type Registry struct {
	opts SessionOptions

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry whose sessions use opts.
func NewRegistry(opts SessionOptions) *Registry {
	return &Registry{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new idle session. It fails with ErrDuplicateSession if
// id is already registered.
func (r *Registry) Create(id string, params sshclient.ConnectionParams) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}
	s := newSession(id, params, r.opts)
	r.sessions[id] = s
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops id from the registry. It does not close the session.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// removeSession drops s only if it still holds its id, so a late terminal
// event from an old session cannot evict a newer one registered under the
// same id.
func (r *Registry) removeSession(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ID()]; ok && cur == s {
		delete(r.sessions, s.ID())
		return true
	}
	return false
}

// holds reports whether s is the registered session for its id.
func (r *Registry) holds(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[s.ID()] == s
}

// BroadcastTargets returns the shell-active sessions, sorted by id.
func (r *Registry) BroadcastTargets() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var targets []*Session
	for _, s := range r.sessions {
		if s.State() == StateShellActive {
			targets = append(targets, s)
		}
	}
	sortSessions(targets)
	return targets
}

// List returns every registered session, sorted by id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sortSessions(list)
	return list
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll disconnects and removes every session.
func (r *Registry) CloseAll() []*Session {
	r.mu.Lock()
	list := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range list {
		s.Disconnect()
	}
	return list
}

func sortSessions(list []*Session) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
}

// Package registry owns the in-memory table of download sessions. It is
// process-wide shared state; all access goes through the mutex here, and
// per-session mutation is additionally guarded by the session itself.
package registry

import (
	"sort"
	"sync"

	"github.com/vidrelay/vidrelay/internal/domain"
)

// Registry is the in-memory table of in-flight and completed sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.DownloadSession
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]*domain.DownloadSession),
	}
}

// Create registers a new session for an extraction result and returns it.
// It always succeeds and assigns a fresh opaque id.
func (r *Registry) Create(ref *domain.MediaReference) *domain.DownloadSession {
	sess := domain.NewDownloadSession(ref)
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess
}

// Get returns the session for an id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*domain.DownloadSession, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// List returns snapshots of all sessions, newest first.
func (r *Registry) List() []domain.SessionSnapshot {
	r.mu.RLock()
	snaps := make([]domain.SessionSnapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		snaps = append(snaps, sess.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CountActive returns the number of sessions that are not terminal.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := 0
	for _, sess := range r.sessions {
		if !sess.State().IsTerminal() {
			active++
		}
	}
	return active
}

// Sweep removes completed and failed sessions and returns the removed count.
// Ready and streaming sessions are never removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sess := range r.sessions {
		if sess.State().IsTerminal() {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

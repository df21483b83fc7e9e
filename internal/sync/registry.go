// Package sync implements the agent-side synchronization engine: the
// session registry, presence controller, and the polling synchronizer
// that keeps a local view consistent with the store's message log.
package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/avoronin/chatdesk/internal/domain"
)

// Delta describes how a session changed between two list refreshes.
type Delta struct {
	SessionID   string
	NewMessages int
	UnreadCount int
}

// Registry holds the known set of sessions as last fetched, with an
// explicit freshness window, plus the focus flag for the conversation
// the agent is currently viewing. The session-list loop is the only
// writer; reads are permitted from anywhere.
type Registry struct {
	mu        sync.RWMutex
	ttl       time.Duration
	fetchedAt time.Time
	seeded    bool
	sessions  []domain.ChatSession
	byID      map[string]domain.ChatSession
	focused   string
}

// NewRegistry creates a registry whose cached session list is
// considered fresh for ttl after each refresh.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:  ttl,
		byID: make(map[string]domain.ChatSession),
	}
}

// Replace swaps in the result of a full session-list refresh and
// returns a delta for every session whose message count grew since the
// previous refresh. The first refresh seeds the registry silently.
func (r *Registry) Replace(sessions []domain.ChatSession) []Delta {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deltas []Delta
	if r.seeded {
		for _, sess := range sessions {
			prev, known := r.byID[sess.SessionID]
			grown := 0
			if known {
				grown = sess.MessageCount - prev.MessageCount
			} else {
				grown = sess.MessageCount
			}
			if grown > 0 {
				deltas = append(deltas, Delta{
					SessionID:   sess.SessionID,
					NewMessages: grown,
					UnreadCount: sess.UnreadCount,
				})
			}
		}
	}

	r.sessions = make([]domain.ChatSession, len(sessions))
	copy(r.sessions, sessions)

	r.byID = make(map[string]domain.ChatSession, len(sessions))
	for _, sess := range sessions {
		r.byID[sess.SessionID] = sess
	}

	r.fetchedAt = time.Now()
	r.seeded = true
	return deltas
}

// Get returns a session by id.
func (r *Registry) Get(sessionID string) (*domain.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, errdefs.ErrNotFound)
	}
	return &sess, nil
}

// Sessions returns the cached list in the order the store returned it
// (last activity descending).
func (r *Registry) Sessions() []domain.ChatSession {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ChatSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Fresh reports whether the cached list is within its freshness window.
func (r *Registry) Fresh() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seeded && time.Since(r.fetchedAt) < r.ttl
}

// Invalidate expires the cache. Called after mutations (send, mark
// read) so the next read goes back to the store.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchedAt = time.Time{}
}

// MarkFocused records the conversation the agent is viewing.
func (r *Registry) MarkFocused(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = sessionID
}

// ClearFocus clears the focused conversation.
func (r *Registry) ClearFocus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focused = ""
}

// Focused returns the focused session id, or empty. A single call
// yields one consistent value; loops must not re-read it mid-tick.
func (r *Registry) Focused() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.focused
}

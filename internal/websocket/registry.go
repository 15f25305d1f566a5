package websocket

import (
	"sync"

	"groupchat/internal/metrics"
	"groupchat/internal/models"
)

// SessionRegistry maps user ids to their single live connection.
// It is the source of truth for who is online in this process.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[int64]Conn
	metrics  *metrics.Metrics
}

func NewSessionRegistry(m *metrics.Metrics) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[int64]Conn),
		metrics:  m,
	}
}

// Register installs c for userID. A previous connection for the same user is
// evicted, closed with CloseReplacedElsewhere and returned.
func (r *SessionRegistry) Register(userID int64, c Conn) Conn {
	r.mu.Lock()
	prev, had := r.sessions[userID]
	r.sessions[userID] = c
	r.mu.Unlock()

	if !had {
		r.metrics.SessionOpened()
		return nil
	}
	if prev == c {
		return nil
	}
	r.metrics.SessionReplaced()
	_ = prev.Close(models.CloseReplacedElsewhere, "logged in elsewhere")
	return prev
}

// Unregister removes the mapping only if c is still the registered connection,
// so a late unregister from an evicted connection cannot remove its successor.
func (r *SessionRegistry) Unregister(userID int64, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[userID]; !ok || cur != c {
		return false
	}
	delete(r.sessions, userID)
	r.metrics.SessionClosed()
	return true
}

func (r *SessionRegistry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[userID]
	return c, ok
}

func (r *SessionRegistry) IsOnline(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns a point-in-time copy of the online user ids.
func (r *SessionRegistry) Snapshot() map[int64]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]struct{}, len(r.sessions))
	for id := range r.sessions {
		out[id] = struct{}{}
	}
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

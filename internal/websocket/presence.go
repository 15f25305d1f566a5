package websocket

import (
	"context"
	"sync"
	"time"

	"groupchat/internal/metrics"
	"groupchat/internal/models"

	"go.uber.org/zap"
)

type PresenceState int

const (
	Offline PresenceState = iota
	Online
	PendingOffline
)

func (s PresenceState) String() string {
	switch s {
	case Online:
		return "online"
	case PendingOffline:
		return "pending_offline"
	default:
		return "offline"
	}
}

// ContactSource lists the users who should hear about a user's presence.
type ContactSource interface {
	GetContactIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Broadcaster fans a payload out to users.
type Broadcaster interface {
	Broadcast(payload any, recipients []int64)
}

type presenceEntry struct {
	state PresenceState
	timer *time.Timer
	gen   uint64
}

// PresenceTracker turns registry changes into settled online/offline
// announcements. A disconnect only becomes offline after the debounce delay
// passes without the user reconnecting.
//
// Announcements for a user are broadcast one at a time and only while they
// still match the tracked state, so contacts always end on the latest state.
type PresenceTracker struct {
	mu      sync.Mutex
	entries map[int64]*presenceEntry
	stopped bool

	// announceMu orders broadcasts; shown holds users last announced online.
	announceMu sync.Mutex
	shown      map[int64]bool

	delay     time.Duration
	online    func(userID int64) bool
	contacts  ContactSource
	broadcast Broadcaster
	log       *zap.Logger
	metrics   *metrics.Metrics
}

func NewPresenceTracker(delay time.Duration, registry *SessionRegistry, contacts ContactSource, b Broadcaster, log *zap.Logger, m *metrics.Metrics) *PresenceTracker {
	return &PresenceTracker{
		entries:   make(map[int64]*presenceEntry),
		shown:     make(map[int64]bool),
		delay:     delay,
		online:    registry.IsOnline,
		contacts:  contacts,
		broadcast: b,
		log:       log,
		metrics:   m,
	}
}

// Connected records a registration for userID.
func (p *PresenceTracker) Connected(userID int64) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	switch {
	case !ok:
		p.entries[userID] = &presenceEntry{state: Online}
	case e.state == PendingOffline:
		// reconnect inside the window: no announcement either way
		e.timer.Stop()
		e.timer = nil
		e.gen++
		e.state = Online
		p.mu.Unlock()
		return
	default:
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.announce(userID, true)
}

// Disconnected records that userID's registration was removed.
func (p *PresenceTracker) Disconnected(userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[userID]
	if !ok || e.state != Online || p.stopped {
		return
	}
	if p.online(userID) {
		// a newer connection registered between unregister and now
		return
	}
	e.state = PendingOffline
	e.gen++
	gen := e.gen
	e.timer = time.AfterFunc(p.delay, func() { p.expire(userID, gen) })
}

func (p *PresenceTracker) expire(userID int64, gen uint64) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok || e.state != PendingOffline || e.gen != gen || p.stopped {
		p.mu.Unlock()
		return
	}
	if p.online(userID) {
		e.state = Online
		e.timer = nil
		p.mu.Unlock()
		return
	}
	delete(p.entries, userID)
	p.mu.Unlock()

	p.announce(userID, false)
}

// State reports the tracked state for userID.
func (p *PresenceTracker) State(userID int64) PresenceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[userID]; ok {
		return e.state
	}
	return Offline
}

// Stop cancels every pending offline timer. No further announcements are made.
func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	for _, e := range p.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// tracked reports whether userID currently counts as online (including the
// pending offline window).
func (p *PresenceTracker) tracked(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[userID]
	return ok
}

func (p *PresenceTracker) announce(userID int64, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contacts, err := p.contacts.GetContactIDs(ctx, userID)
	if err != nil {
		p.log.Warn("load contacts for presence", zap.Int64("user_id", userID), zap.Bool("online", online), zap.Error(err))
		return
	}

	p.announceMu.Lock()
	defer p.announceMu.Unlock()

	// a transition that happened while contacts loaded supersedes this one
	if p.tracked(userID) != online || p.shown[userID] == online {
		p.log.Debug("presence announcement superseded", zap.Int64("user_id", userID), zap.Bool("online", online))
		return
	}
	if online {
		p.shown[userID] = true
	} else {
		delete(p.shown, userID)
	}
	p.metrics.PresenceChanged(online)

	p.log.Debug("presence changed", zap.Int64("user_id", userID), zap.Bool("online", online), zap.Int("contacts", len(contacts)))

	p.broadcast.Broadcast(models.PresenceEvent{
		Type:   models.EventPresenceUpdate,
		UserID: userID,
		Online: online,
	}, contacts)
}

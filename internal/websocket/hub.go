package websocket

import (
	"context"
	"time"

	"groupchat/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub wires connection lifecycle to the registry, presence and router.
type Hub struct {
	registry   *SessionRegistry
	presence   *PresenceTracker
	router     *MessageRouter
	dispatcher *BroadcastDispatcher
	contacts   ContactSource
	opts       Options
	log        *zap.Logger
}

func NewHub(registry *SessionRegistry, presence *PresenceTracker, router *MessageRouter, dispatcher *BroadcastDispatcher, contacts ContactSource, opts Options, log *zap.Logger) *Hub {
	return &Hub{
		registry:   registry,
		presence:   presence,
		router:     router,
		dispatcher: dispatcher,
		contacts:   contacts,
		opts:       opts.withDefaults(),
		log:        log,
	}
}

// Serve runs an upgraded websocket for an authenticated user until it closes.
// The session is closed with CloseAuthInvalid when expiresAt passes.
func (h *Hub) Serve(conn *websocket.Conn, userID int64, username string, expiresAt time.Time) {
	c := newClient(conn, userID, username, expiresAt, h.opts, h.log)

	go c.writePump()
	h.Attach(c)
	go c.readPump(h)
}

// Attach registers c, announces presence and sends the online contacts snapshot.
func (h *Hub) Attach(c Conn) {
	userID := c.UserID()
	if evicted := h.registry.Register(userID, c); evicted != nil {
		h.log.Info("session replaced",
			zap.Int64("user_id", userID), zap.String("old_conn_id", evicted.ID()), zap.String("conn_id", c.ID()))
	}
	h.presence.Connected(userID)
	h.sendOnlineUsers(c)
	h.log.Debug("session attached", zap.Int64("user_id", userID), zap.String("conn_id", c.ID()))
}

// Detach is called once a connection stops reading.
func (h *Hub) Detach(c Conn) {
	h.router.Forget(c)
	if h.registry.Unregister(c.UserID(), c) {
		h.presence.Disconnected(c.UserID())
	}
	h.log.Debug("session detached", zap.Int64("user_id", c.UserID()), zap.String("conn_id", c.ID()))
}

func (h *Hub) sendOnlineUsers(c Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	contacts, err := h.contacts.GetContactIDs(ctx, c.UserID())
	if err != nil {
		h.log.Warn("load contacts for snapshot", zap.Int64("user_id", c.UserID()), zap.Error(err))
		return
	}

	online := h.registry.Snapshot()
	users := make([]int64, 0, len(contacts))
	for _, id := range contacts {
		if _, ok := online[id]; ok {
			users = append(users, id)
		}
	}
	if err := h.dispatcher.SendTo(c, models.OnlineUsersEvent{Type: models.EventOnlineUsers, Users: users}); err != nil {
		h.log.Debug("online snapshot not delivered", zap.String("conn_id", c.ID()), zap.Error(err))
	}
}

// Shutdown stops presence timers and closes every session.
func (h *Hub) Shutdown() {
	h.presence.Stop()
	for id := range h.registry.Snapshot() {
		if c, ok := h.registry.Lookup(id); ok {
			_ = c.Close(websocket.CloseGoingAway, "server shutting down")
		}
	}
}

// OnlineCount reports the number of registered sessions.
func (h *Hub) OnlineCount() int {
	return h.registry.Len()
}

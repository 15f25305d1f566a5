package handlers

import (
	"errors"
	"net/http"
	"time"

	"groupchat/internal/auth"
	"groupchat/internal/errs"
	"groupchat/internal/models"
	ws "groupchat/internal/websocket"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandlers struct {
	authService *auth.Service
	hub         *ws.Hub
	upgrader    websocket.Upgrader
	log         *zap.Logger
}

func NewWebSocketHandlers(authService *auth.Service, hub *ws.Hub, log *zap.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		hub:         hub,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket upgrades /ws?token=... A bad token still upgrades so the
// client receives close code 4001 and knows to refresh instead of retrying.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, authErr := authenticate(h.authService, r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if authErr != nil {
		reason := "invalid token"
		if errors.Is(authErr, errs.ErrTokenExpired) {
			reason = "token expired"
		}
		h.log.Debug("websocket auth rejected", zap.Error(authErr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(models.CloseAuthInvalid, reason),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	h.hub.Serve(conn, identity.UserID, identity.Username, identity.ExpiresAt)
}

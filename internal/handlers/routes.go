package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// Handlers bundles every HTTP surface of the server.
type Handlers struct {
	Auth      *AuthHandlers
	Rooms     *RoomHandlers
	WebSocket *WebSocketHandlers
	Health    *HealthHandlers
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the HTTP routing tree wrapped in CORS handling.
func NewRouter(h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/register", post(h.Auth.Register))
	mux.HandleFunc("/login", post(h.Auth.Login))

	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.Rooms.ListRooms(w, r)
		case http.MethodPost:
			h.Rooms.CreateRoom(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r)
		if len(parts) < 2 || parts[1] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		switch {
		// /rooms/{code}
		case len(parts) == 2 && r.Method == http.MethodDelete:
			h.Rooms.DisbandRoom(w, r)
		// /rooms/{code}/members
		case len(parts) == 3 && parts[2] == "members" && r.Method == http.MethodGet:
			h.Rooms.GetRoomMembers(w, r)
		// /rooms/{code}/members/{userID}
		case len(parts) == 4 && parts[2] == "members" && r.Method == http.MethodDelete:
			h.Rooms.RemoveMember(w, r)
		// /rooms/{code}/join
		case len(parts) == 3 && parts[2] == "join" && r.Method == http.MethodPost:
			h.Rooms.JoinRoom(w, r)
		// /rooms/{code}/leave
		case len(parts) == 3 && parts[2] == "leave" && (r.Method == http.MethodPost || r.Method == http.MethodDelete):
			h.Rooms.LeaveRoom(w, r)
		// /rooms/{code}/owner
		case len(parts) == 3 && parts[2] == "owner" && r.Method == http.MethodPut:
			h.Rooms.TransferOwner(w, r)
		// /rooms/{code}/messages
		case len(parts) == 3 && parts[2] == "messages" && r.Method == http.MethodGet:
			h.Rooms.Messages(w, r)
		default:
			http.Error(w, "endpoint not found", http.StatusNotFound)
		}
	})

	mux.HandleFunc("/ws", h.WebSocket.HandleWebSocket)
	if h.Health != nil {
		mux.HandleFunc("/healthz", h.Health.Healthz)
	}
	if h.Metrics != nil {
		mux.Handle("/metrics", h.Metrics)
	}

	return corsMiddleware(mux)
}

func post(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// LogEndpoints prints the routing table at startup.
func LogEndpoints(log *zap.Logger, port string) {
	log.Info("server endpoints",
		zap.String("websocket", "ws://localhost"+port+"/ws?token=..."),
		zap.Strings("http", []string{
			"POST   /register",
			"POST   /login",
			"GET    /rooms",
			"POST   /rooms",
			"DELETE /rooms/{code}",
			"GET    /rooms/{code}/members",
			"DELETE /rooms/{code}/members/{userID}",
			"POST   /rooms/{code}/join",
			"POST   /rooms/{code}/leave",
			"PUT    /rooms/{code}/owner",
			"GET    /rooms/{code}/messages?after=N&limit=L",
			"GET    /healthz",
			"GET    /metrics",
		}))
}

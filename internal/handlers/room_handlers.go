package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"groupchat/internal/auth"
	"groupchat/internal/errs"
	"groupchat/internal/models"
	"groupchat/internal/services"

	"go.uber.org/zap"
)

type RoomHandlers struct {
	roomService *services.RoomService
	syncService *services.SyncService
	authService *auth.Service
	log         *zap.Logger
}

func NewRoomHandlers(roomService *services.RoomService, syncService *services.SyncService, authService *auth.Service, log *zap.Logger) *RoomHandlers {
	return &RoomHandlers{
		roomService: roomService,
		syncService: syncService,
		authService: authService,
		log:         log,
	}
}

func (h *RoomHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	room, err := h.roomService.CreateRoom(r.Context(), &req, id.UserID)
	if err != nil {
		writeError(w, h.log, "create room", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (h *RoomHandlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	rooms, err := h.roomService.ListUserRooms(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.log, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *RoomHandlers) GetRoomMembers(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	members, err := h.roomService.GetRoomMembers(r.Context(), roomCodeFromPath(r), id.UserID)
	if err != nil {
		writeError(w, h.log, "room members", err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *RoomHandlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	room, err := h.roomService.JoinRoom(r.Context(), roomCodeFromPath(r), id.UserID)
	if err != nil {
		writeError(w, h.log, "join room", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *RoomHandlers) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	if err := h.roomService.LeaveRoom(r.Context(), roomCodeFromPath(r), id.UserID); err != nil {
		writeError(w, h.log, "leave room", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	parts := pathParts(r)
	if len(parts) < 4 {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	target, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || target <= 0 {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	if err := h.roomService.RemoveMember(r.Context(), parts[1], id.UserID, target); err != nil {
		writeError(w, h.log, "remove member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandlers) TransferOwner(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	var req models.TransferOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.roomService.TransferOwner(r.Context(), roomCodeFromPath(r), id.UserID, req.UserID); err != nil {
		writeError(w, h.log, "transfer owner", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *RoomHandlers) DisbandRoom(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	if err := h.roomService.DisbandRoom(r.Context(), roomCodeFromPath(r), id.UserID); err != nil {
		writeError(w, h.log, "disband room", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages serves GET /rooms/{code}/messages?after=N&limit=L.
func (h *RoomHandlers) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := authenticate(h.authService, r)
	if err != nil {
		writeError(w, h.log, "authenticate", err)
		return
	}

	after, limit, err := cursorFromQuery(r)
	if err != nil {
		writeError(w, h.log, "sync", err)
		return
	}

	res, err := h.syncService.Sync(r.Context(), id.UserID, roomCodeFromPath(r), after, limit)
	if err != nil {
		writeError(w, h.log, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, res.Events())
}

func cursorFromQuery(r *http.Request) (int64, int, error) {
	q := r.URL.Query()
	var after int64
	if s := q.Get("after"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid after", errs.ErrInvalidInput)
		}
		after = v
	}
	var limit int
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid limit", errs.ErrInvalidInput)
		}
		limit = v
	}
	return after, limit, nil
}

// pathParts splits "/rooms/{code}/..." into ["rooms", code, ...].
func pathParts(r *http.Request) []string {
	return strings.Split(strings.Trim(r.URL.Path, "/"), "/")
}

func roomCodeFromPath(r *http.Request) string {
	parts := pathParts(r)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

package handlers

import (
	"encoding/json"
	"net/http"

	"groupchat/internal/auth"
	"groupchat/internal/models"

	"go.uber.org/zap"
)

type AuthHandlers struct {
	authService *auth.Service
	log         *zap.Logger
}

func NewAuthHandlers(authService *auth.Service, log *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		log:         log,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		writeError(w, h.log, "register", err)
		return
	}
	h.log.Info("user registered", zap.Int64("user_id", response.User.ID))
	writeJSON(w, http.StatusCreated, response)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		writeError(w, h.log, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

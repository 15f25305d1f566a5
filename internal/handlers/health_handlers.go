package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandlers struct {
	db     Pinger
	online func() int
	log    *zap.Logger
}

func NewHealthHandlers(db Pinger, online func() int, log *zap.Logger) *HealthHandlers {
	return &HealthHandlers{db: db, online: online, log: log}
}

func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	body := map[string]any{"status": "ok"}
	if h.online != nil {
		body["online"] = h.online()
	}
	writeJSON(w, http.StatusOK, body)
}

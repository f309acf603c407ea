package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger はDB疎通確認のインターフェース。*sql.DBが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler は死活監視用のハンドラー。
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health はプロセスの死活を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthDB はDBへの疎通を返す。
// GET /health/db
func (h *HealthHandler) HealthDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.db == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "database": "disconnected"})
		return
	}
	if err := h.db.PingContext(ctx); err != nil {
		slog.Warn("database health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "database": "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}

package handler

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/notesync"
)

// NoteSyncer はノート同期のインターフェース。
type NoteSyncer interface {
	Sync(ctx context.Context, ref, pathPrefix string) (*notesync.Result, error)
}

// AdminHandler は共有シークレットで保護された管理操作のハンドラー。
type AdminHandler struct {
	syncer    NoteSyncer
	secret    string
	ref       string
	notesPath string
}

// NewAdminHandler はAdminHandlerを生成する。secretが空の場合は全てのリクエストを拒否する。
func NewAdminHandler(syncer NoteSyncer, secret, ref, notesPath string) *AdminHandler {
	return &AdminHandler{syncer: syncer, secret: secret, ref: ref, notesPath: notesPath}
}

// Sync は全件同期を同期的に実行し、結果を返す。
// POST /admin/sync?secret=
func (h *AdminHandler) Sync(w http.ResponseWriter, r *http.Request) {
	given := r.URL.Query().Get("secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		handleServiceError(w, model.NewAdminForbiddenError())
		return
	}

	result, err := h.syncer.Sync(r.Context(), h.ref, h.notesPath)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"upserted": result.Upserted,
		"failed":   result.Failed,
	})
}

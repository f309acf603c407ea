package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/hitoshi/notegate/internal/middleware"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/webhook"
)

// maxWebhookPayload はGitHub Webhookのボディ上限。pushイベントは大きくなりうる。
const maxWebhookPayload = 5 << 20

// WebhookIntake はGitHub Webhookの受付インターフェース。
type WebhookIntake interface {
	Handle(ctx context.Context, d webhook.Delivery) (*webhook.Response, error)
}

// GitHubHandler はGitHub Webhookを受け付けるハンドラー。
type GitHubHandler struct {
	intake WebhookIntake
}

// NewGitHubHandler はGitHubHandlerを生成する。
func NewGitHubHandler(intake WebhookIntake) *GitHubHandler {
	return &GitHubHandler{intake: intake}
}

// Webhook はGitHubのpush/pingイベントを受け付ける。
// POST /github/webhook
func (h *GitHubHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookPayload))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの読み込みに失敗しました"))
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}

	resp, err := h.intake.Handle(r.Context(), webhook.Delivery{
		Event:      r.Header.Get("X-GitHub-Event"),
		DeliveryID: r.Header.Get("X-GitHub-Delivery"),
		Signature:  signature,
		Body:       body,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, resp.Status, resp.Body)
}

package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/notegate/internal/middleware"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/payment"
	"github.com/hitoshi/notegate/internal/purchase"
)

// maxPaymentPayload はStripe Webhookのボディ上限。
const maxPaymentPayload = 64 << 10

// EventVerifier は決済イベントの署名を検証するインターフェース。payment.Backendが実装する。
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (*payment.Event, error)
}

// PaymentFulfiller は決済完了時の購入処理インターフェース。
type PaymentFulfiller interface {
	OnPaymentCompleted(ctx context.Context, sessionID, buyerEmail, noteSlug string) (*purchase.Result, error)
}

// StripeHandler はStripe Webhookを受け付けるハンドラー。
type StripeHandler struct {
	verifier  EventVerifier
	fulfiller PaymentFulfiller
	logger    *slog.Logger
}

// NewStripeHandler はStripeHandlerを生成する。決済が未設定の場合verifierはnilでよい。
func NewStripeHandler(verifier EventVerifier, fulfiller PaymentFulfiller, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{verifier: verifier, fulfiller: fulfiller, logger: logger}
}

// Webhook はStripeからのイベントを検証し、決済完了イベントで購入処理を行う。
// POST /stripe/webhook
func (h *StripeHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil || h.fulfiller == nil {
		handleServiceError(w, model.NewWebhookNotConfiguredError("STRIPE_WEBHOOK_SECRET"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPaymentPayload))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの読み込みに失敗しました"))
		return
	}

	event, err := h.verifier.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Stripeイベントの検証に失敗しました", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidSignatureError())
		return
	}

	if event.Type != payment.EventCheckoutCompleted {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}

	result, err := h.fulfiller.OnPaymentCompleted(r.Context(), event.SessionID, event.BuyerEmail, event.NoteSlug)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if result.AlreadyProcessed {
		writeJSON(w, http.StatusOK, map[string]any{"already_processed": true})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": result.Token})
}

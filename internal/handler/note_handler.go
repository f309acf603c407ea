package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/notegate/internal/access"
	"github.com/hitoshi/notegate/internal/middleware"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/payment"
)

// NoteFinder はノートの取得に使うインターフェース。
type NoteFinder interface {
	FindBySlug(ctx context.Context, slug string) (*model.Note, error)
	List(ctx context.Context) ([]*model.NoteSummary, error)
}

// Decider はアクセス判定のインターフェース。
type Decider interface {
	Decide(ctx context.Context, req access.Request) (access.Decision, error)
}

// Bundler はダウンロード用バンドルを生成するインターフェース。
type Bundler interface {
	Zip(ctx context.Context, note *model.Note) ([]byte, error)
	PDF(note *model.Note) ([]byte, error)
}

// Checkouts はチェックアウト作成のインターフェース。payment.Backendが実装する。
type Checkouts interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error)
}

// NoteHandler はノート一覧・閲覧・ダウンロードのHTTPハンドラー。
type NoteHandler struct {
	notes     NoteFinder
	decider   Decider
	bundler   Bundler
	checkouts Checkouts
	logger    *slog.Logger
}

// NewNoteHandler はNoteHandlerを生成する。決済が未設定の場合checkoutsはnilでよい。
func NewNoteHandler(notes NoteFinder, decider Decider, bundler Bundler, checkouts Checkouts, logger *slog.Logger) *NoteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoteHandler{
		notes:     notes,
		decider:   decider,
		bundler:   bundler,
		checkouts: checkouts,
		logger:    logger,
	}
}

// noteSummaryResponse はノート一覧の1要素。
type noteSummaryResponse struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Public      bool      `json:"public"`
	PriceCents  int       `json:"price_cents"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// checkoutResponse は購入が必要な場合の402レスポンス。
type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	PriceCents  int    `json:"price_cents"`
}

// ListNotes は本文を含まないノートのメタデータ一覧を返す。
// GET /notes
func (h *NoteHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.notes.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]noteSummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		tags := s.Tags
		if tags == nil {
			tags = []string{}
		}
		resp = append(resp, noteSummaryResponse{
			Slug:        s.Slug,
			Title:       s.Title,
			Description: s.Description,
			Tags:        tags,
			Public:      s.Public,
			PriceCents:  s.PriceCents,
			UpdatedAt:   s.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetNote はアクセスが許可されたノート本文をMarkdownで返す。
// GET /note/{slug}
func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	note, ok := h.authorize(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(note.Content))
}

// Preview はノートのプレビューを返す。アクセス判定は行わない。
// GET /note/{slug}/preview
func (h *NoteHandler) Preview(w http.ResponseWriter, r *http.Request) {
	note, ok := h.findNote(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(note.Preview))
}

// DownloadZip はノート本文とアセットをZIPで返す。
// POST /note/{slug}/download_zip
func (h *NoteHandler) DownloadZip(w http.ResponseWriter, r *http.Request) {
	note, ok := h.authorize(w, r)
	if !ok {
		return
	}

	data, err := h.bundler.Zip(r.Context(), note)
	if err != nil {
		handleServiceError(w, fmt.Errorf("failed to build zip for %s: %w", note.Slug, err))
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, note.Slug))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// PDF はノート本文をPDFに変換して返す。
// GET /note/{slug}/pdf
func (h *NoteHandler) PDF(w http.ResponseWriter, r *http.Request) {
	note, ok := h.authorize(w, r)
	if !ok {
		return
	}

	data, err := h.bundler.PDF(note)
	if err != nil {
		handleServiceError(w, fmt.Errorf("failed to render pdf for %s: %w", note.Slug, err))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.pdf"`, note.Slug))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *NoteHandler) findNote(w http.ResponseWriter, r *http.Request) (*model.Note, bool) {
	slug := chi.URLParam(r, "slug")
	note, err := h.notes.FindBySlug(r.Context(), slug)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	if note == nil {
		handleServiceError(w, model.NewNoteNotFoundError(slug))
		return nil, false
	}
	return note, true
}

// authorize はノートを取得しアクセス判定を行う。
// 許可されない場合はレスポンスを書き込みfalseを返す。
func (h *NoteHandler) authorize(w http.ResponseWriter, r *http.Request) (*model.Note, bool) {
	note, ok := h.findNote(w, r)
	if !ok {
		return nil, false
	}

	decision, err := h.decider.Decide(r.Context(), access.Request{
		Note:       note,
		Claims:     middleware.ClaimsFromContext(r.Context()),
		BuyerEmail: r.URL.Query().Get("buyer_email"),
	})
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}

	switch decision.Outcome {
	case access.Granted:
		return note, true
	case access.PurchaseRequired:
		h.requirePurchase(w, r, note, decision)
		return nil, false
	default:
		handleServiceError(w, decision.Err(note.Slug))
		return nil, false
	}
}

func (h *NoteHandler) requirePurchase(w http.ResponseWriter, r *http.Request, note *model.Note, decision access.Decision) {
	if h.checkouts == nil {
		handleServiceError(w, model.NewPaymentsUnavailableError(nil))
		return
	}

	checkout, err := h.checkouts.CreateCheckout(r.Context(), payment.CheckoutRequest{
		Slug:       note.Slug,
		PriceCents: decision.PriceCents,
		BuyerEmail: decision.BuyerEmail,
	})
	if err != nil {
		h.logger.Error("チェックアウトの作成に失敗しました",
			slog.String("slug", note.Slug),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, model.NewPaymentsUnavailableError(err))
		return
	}

	writeJSON(w, http.StatusPaymentRequired, checkoutResponse{
		CheckoutURL: checkout.URL,
		SessionID:   checkout.SessionID,
		PriceCents:  decision.PriceCents,
	})
}

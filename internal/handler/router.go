package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/notegate/internal/metrics"
	"github.com/hitoshi/notegate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenResolver     middleware.TokenResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	Gatherer          prometheus.Gatherer

	// ヘルスチェック
	DB Pinger

	// 認証
	AuthService AuthServiceInterface

	// ノート
	Notes     NoteFinder
	Decider   Decider
	Bundler   Bundler
	Checkouts Checkouts // 決済未設定の場合はnil

	// 決済
	EventVerifier EventVerifier // 決済未設定の場合はnil
	Fulfiller     PaymentFulfiller

	// Webhook・管理
	Intake          WebhookIntake
	Syncer          NoteSyncer
	AdminSyncSecret string
	SyncRef         string
	NotesPath       string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Claims → Logging
//
// /login、/register、Webhookには追加でクライアントIP単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewClaimsMiddleware(deps.TokenResolver))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	} else {
		r.Use(middleware.NewLoggingMiddleware(logger))
	}

	healthHandler := NewHealthHandler(deps.DB)
	authHandler := NewAuthHandler(deps.AuthService)
	noteHandler := NewNoteHandler(deps.Notes, deps.Decider, deps.Bundler, deps.Checkouts, logger)
	stripeHandler := NewStripeHandler(deps.EventVerifier, deps.Fulfiller, logger)
	githubHandler := NewGitHubHandler(deps.Intake)
	adminHandler := NewAdminHandler(deps.Syncer, deps.AdminSyncSecret, deps.SyncRef, deps.NotesPath)

	// 死活監視・メトリクス
	r.Get("/health", healthHandler.Health)
	r.Get("/health/db", healthHandler.HealthDB)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	// 認証
	r.Get("/me", authHandler.Me)

	// ノート
	r.Get("/notes", noteHandler.ListNotes)
	r.Route("/note/{slug}", func(r chi.Router) {
		r.Get("/", noteHandler.GetNote)
		r.Get("/preview", noteHandler.Preview)
		r.Post("/download_zip", noteHandler.DownloadZip)
		r.Get("/pdf", noteHandler.PDF)
	})

	// 管理
	r.Post("/admin/sync", adminHandler.Sync)

	// レート制限対象のルート
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/stripe/webhook", stripeHandler.Webhook)
		r.Post("/github/webhook", githubHandler.Webhook)
	})

	return r
}

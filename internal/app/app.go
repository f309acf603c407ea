package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/notegate/internal/access"
	"github.com/hitoshi/notegate/internal/auth"
	"github.com/hitoshi/notegate/internal/blob"
	"github.com/hitoshi/notegate/internal/config"
	"github.com/hitoshi/notegate/internal/database"
	"github.com/hitoshi/notegate/internal/delivery"
	"github.com/hitoshi/notegate/internal/handler"
	"github.com/hitoshi/notegate/internal/lease"
	"github.com/hitoshi/notegate/internal/logger"
	"github.com/hitoshi/notegate/internal/metrics"
	"github.com/hitoshi/notegate/internal/middleware"
	"github.com/hitoshi/notegate/internal/model"
	"github.com/hitoshi/notegate/internal/notesync"
	"github.com/hitoshi/notegate/internal/payment"
	"github.com/hitoshi/notegate/internal/purchase"
	"github.com/hitoshi/notegate/internal/repository"
	"github.com/hitoshi/notegate/internal/security"
	"github.com/hitoshi/notegate/internal/source"
	"github.com/hitoshi/notegate/internal/webhook"
	"github.com/hitoshi/notegate/internal/worker/syncer"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("repository", cfg.GitHubOwner+"/"+cfg.GitHubRepo),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSync:
		return runSync(cfg)
	default:
		return runServe(cfg)
	}
}

// services は全サブコマンドで共有する依存関係。
type services struct {
	db        *sql.DB
	redis     *redis.Client
	registry  *prometheus.Registry
	collector *metrics.Collector
	locker    lease.Locker
	users     *repository.PostgresUserRepo
	notes     *repository.PostgresNoteRepo
	purchases *repository.PostgresPurchaseRepo
	blobs     blob.Store
	syncer    handler.NoteSyncer
}

// buildServices はDB・Redis・Blobストア・同期パイプラインを初期化する。
func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL, database.DefaultConnectOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	s := &services{
		db:        db,
		registry:  prometheus.NewRegistry(),
		users:     repository.NewPostgresUserRepo(db),
		notes:     repository.NewPostgresNoteRepo(db),
		purchases: repository.NewPostgresPurchaseRepo(db),
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.collector = metrics.NewCollector(s.registry)

	// 2. リース（Redisが無ければプロセス内）
	s.locker = lease.NewMemoryLocker()
	if cfg.RedisURL != "" {
		client, err := lease.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, falling back to in-process lease", slog.String("error", err.Error()))
		} else {
			s.redis = client
			s.locker = lease.NewRedisLocker(client)
			slog.Info("redis lease enabled")
		}
	}

	// 3. Blobストア
	switch cfg.BlobBackend {
	case "s3":
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to initialize s3 blob store: %w", err)
		}
		s.blobs = store
	default:
		s.blobs = blob.NewPostgresStore(db)
	}

	// 4. 同期パイプライン
	if !cfg.SourceConfigured() {
		slog.Warn("GITHUB_OWNER/GITHUB_REPO not set, sync disabled")
		s.syncer = disabledSyncer{}
		return s, nil
	}

	guard := security.NewOutboundGuard()
	for _, endpoint := range []string{cfg.GitHubAPIURL, cfg.GitHubRawURL} {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			s.Close()
			return nil, fmt.Errorf("invalid github endpoint %s: %w", endpoint, err)
		}
	}
	src := source.NewClient(guard.NewSafeClient(cfg.SourceTimeout), slog.Default(), source.Config{
		Owner:   cfg.GitHubOwner,
		Repo:    cfg.GitHubRepo,
		Token:   cfg.GitHubToken,
		APIURL:  cfg.GitHubAPIURL,
		RawURL:  cfg.GitHubRawURL,
		MaxSize: cfg.SourceMaxSize,
	})
	s.syncer = notesync.NewPipeline(src, s.blobs, s.notes, security.NewTextSanitizer(), s.collector, slog.Default())

	return s, nil
}

// Close は保持している接続を閉じる。
func (s *services) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// disabledSyncer は同期元が未設定の場合に使う。
type disabledSyncer struct{}

func (disabledSyncer) Sync(ctx context.Context, ref, pathPrefix string) (*notesync.Result, error) {
	return nil, model.NewSourceUnavailableError("GITHUB_OWNER と GITHUB_REPO を設定してください。", errors.New("source not configured"))
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	s, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// 1. 認証
	tokens := auth.NewTokenService(cfg.SessionSecret)
	authService := auth.NewService(s.users, tokens, auth.ServiceConfig{SessionTTL: cfg.SessionTTL})

	// 2. 決済
	var backend *payment.StripeBackend
	if cfg.PaymentsConfigured() {
		backend = payment.NewStripeBackend(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			ReturnURL:     cfg.PaymentReturnURL,
		})
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set, paid notes cannot be purchased")
	}

	// 3. アクセス判定・配布
	engine := access.NewEngine(s.users, backend != nil, s.collector)
	bundler := delivery.NewBundler(s.blobs, slog.Default())

	opts := []purchase.Option{purchase.WithRecorder(s.collector)}
	if cfg.EmailOnPurchase && cfg.EmailConfigured() {
		notifier := delivery.NewSMTPNotifier(delivery.SMTPConfig{
			Host:     cfg.EmailHost,
			Port:     cfg.EmailPort,
			Username: cfg.EmailUser,
			Password: cfg.EmailPass,
			From:     cfg.EmailFrom,
		})
		opts = append(opts, purchase.WithEmailDelivery(s.notes, bundler, notifier))
	}
	fulfiller := purchase.NewFulfiller(s.purchases, s.users, tokens, purchase.Config{
		TokenTTL:        cfg.PurchaseTTL,
		EmailOnPurchase: cfg.EmailOnPurchase,
	}, slog.Default(), opts...)

	// 4. Webhook受付
	intake := webhook.NewIntake(webhook.Config{
		Secret:    cfg.GitHubWebhookSecret,
		Owner:     cfg.GitHubOwner,
		Repo:      cfg.GitHubRepo,
		NotesPath: cfg.NotesPath,
		Cooldown:  cfg.WebhookSyncCooldown,
	}, s.syncer, s.locker, s.collector, slog.Default())

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitAuth))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		TokenResolver:     tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    s.collector,
		Gatherer:          s.registry,
		DB:                s.db,
		AuthService:       authService,
		Notes:             s.notes,
		Decider:           engine,
		Bundler:           bundler,
		Fulfiller:         fulfiller,
		Intake:            intake,
		Syncer:            s.syncer,
		AdminSyncSecret:   cfg.AdminSyncSecret,
		SyncRef:           cfg.GitHubRef,
		NotesPath:         cfg.NotesPath,
	}
	if backend != nil {
		deps.Checkouts = backend
		deps.EventVerifier = backend
	}
	router := handler.NewRouter(deps)

	// 6. 起動時の初回同期（失敗はログのみ）
	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()
	if cfg.SourceConfigured() {
		go func() {
			if _, err := s.syncer.Sync(syncCtx, cfg.GitHubRef, cfg.NotesPath); err != nil {
				slog.Error("initial sync failed", slog.String("error", err.Error()))
			}
		}()
	}

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	cancelSync()
	intake.Wait()
	fulfiller.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 同期スケジューラを起動し、SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if !cfg.SourceConfigured() {
		return fmt.Errorf("worker requires GITHUB_OWNER and GITHUB_REPO")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	scheduler := syncer.NewScheduler(s.syncer, s.locker, syncer.Config{
		Owner:     cfg.GitHubOwner,
		Repo:      cfg.GitHubRepo,
		Ref:       cfg.GitHubRef,
		NotesPath: cfg.NotesPath,
		Interval:  cfg.SyncInterval,
	}, slog.Default())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.String("lease_key", scheduler.LeaseKey()),
	)

	// 同期スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSync は全件同期を1回実行して終了する。
func runSync(cfg *config.Config) error {
	if !cfg.SourceConfigured() {
		return fmt.Errorf("sync requires GITHUB_OWNER and GITHUB_REPO")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.syncer.Sync(ctx, cfg.GitHubRef, cfg.NotesPath)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	slog.Info("sync completed",
		slog.Int("upserted", result.Upserted),
		slog.Int("failed", len(result.Failed)),
	)
	for _, f := range result.Failed {
		slog.Warn("note failed to sync", slog.String("path", f.Path), slog.String("error", f.Error))
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

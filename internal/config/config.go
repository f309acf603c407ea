package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	SessionSecret string
	SessionTTL    time.Duration
	PurchaseTTL   time.Duration

	// GitHub source
	GitHubOwner         string
	GitHubRepo          string
	GitHubToken         string
	GitHubRef           string
	GitHubAPIURL        string
	GitHubRawURL        string
	GitHubWebhookSecret string
	NotesPath           string
	SourceTimeout       time.Duration
	SourceMaxSize       int64

	// Sync
	WebhookSyncCooldown time.Duration
	SyncInterval        time.Duration
	AdminSyncSecret     string

	// Payments
	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentReturnURL    string

	// Email
	EmailOnPurchase bool
	EmailHost       string
	EmailPort       int
	EmailUser       string
	EmailPass       string
	EmailFrom       string

	// Blob storage
	BlobBackend string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Lease
	RedisURL string

	// Rate Limit
	RateLimitAuth int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// SourceConfigured はGitHubの同期元が設定されているかを返す。
func (c *Config) SourceConfigured() bool {
	return c.GitHubOwner != "" && c.GitHubRepo != ""
}

// PaymentsConfigured はStripeの決済機能が利用可能かを返す。
func (c *Config) PaymentsConfigured() bool {
	return c.StripeSecretKey != ""
}

// EmailConfigured は購入時のメール送信に必要な設定が揃っているかを返す。
func (c *Config) EmailConfigured() bool {
	return c.EmailHost != "" && c.EmailUser != "" && c.EmailPass != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET_KEY")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.PurchaseTTL = getEnvDuration("PURCHASE_TOKEN_TTL", 14*24*time.Hour)

	cfg.GitHubOwner = getEnvString("GITHUB_OWNER", "")
	cfg.GitHubRepo = getEnvString("GITHUB_REPO", "")
	cfg.GitHubToken = getEnvString("GITHUB_TOKEN", "")
	cfg.GitHubRef = getEnvString("GITHUB_REF", "main")
	cfg.GitHubAPIURL = strings.TrimRight(getEnvString("GITHUB_API_URL", "https://api.github.com"), "/")
	cfg.GitHubRawURL = strings.TrimRight(getEnvString("GITHUB_RAW_URL", "https://raw.githubusercontent.com"), "/")
	cfg.GitHubWebhookSecret = getEnvString("GITHUB_WEBHOOK_SECRET", "")
	cfg.NotesPath = strings.TrimLeft(getEnvString("NOTES_PATH", "notes/"), "/")
	cfg.SourceTimeout = getEnvDuration("SOURCE_TIMEOUT", 30*time.Second)
	cfg.SourceMaxSize = getEnvInt64("SOURCE_MAX_SIZE", 20<<20)

	cfg.WebhookSyncCooldown = time.Duration(getEnvInt("WEBHOOK_SYNC_COOLDOWN_SECONDS", 10)) * time.Second
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 15*time.Minute)
	cfg.AdminSyncSecret = getEnvString("ADMIN_SYNC_SECRET", "")

	cfg.StripeSecretKey = getEnvString("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnvString("STRIPE_WEBHOOK_SECRET", "")
	cfg.PaymentReturnURL = getEnvString("PAYMENT_SUCCESS_RETURN_URL", "https://example.com/payment-success")

	cfg.EmailOnPurchase = getEnvBool("EMAIL_ON_PURCHASE", true)
	cfg.EmailHost = getEnvString("EMAIL_HOST", "")
	cfg.EmailPort = getEnvInt("EMAIL_PORT", 587)
	cfg.EmailUser = getEnvString("EMAIL_USER", "")
	cfg.EmailPass = getEnvString("EMAIL_PASS", "")
	cfg.EmailFrom = getEnvString("EMAIL_FROM", cfg.EmailUser)

	cfg.BlobBackend = strings.ToLower(getEnvString("BLOB_BACKEND", "postgres"))
	cfg.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.S3AccessKey = getEnvString("S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvString("S3_SECRET_KEY", "")

	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	if cfg.BlobBackend != "postgres" && cfg.BlobBackend != "s3" {
		return nil, fmt.Errorf("unsupported BLOB_BACKEND: %q (allowed: postgres, s3)", cfg.BlobBackend)
	}
	if cfg.BlobBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND=s3")
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvBool は "1", "true", "yes" を真として扱う（大文字小文字を区別しない）。
func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

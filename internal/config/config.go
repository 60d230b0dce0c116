package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ストレージドライバー
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string
	DatabaseURL   string

	// Redis（チェックインコードの表示用キャッシュ。空の場合は使用しない）
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Session
	SessionTTL         time.Duration
	AllowRoleSelection bool

	// Check-in
	CodeTTL time.Duration // コードは常に6文字。有効期間のみ設定できる

	// Service hours
	EvidenceProbe        bool
	EvidenceProbeTimeout time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral      int
	RateLimitCheckIn      int
	RateLimitCheckInBurst int

	// Worker
	CleanupInterval      time.Duration
	ReconcileInterval    time.Duration
	ReconcileConcurrency int
	WorkerMetricsPort    string

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	cfg.StorageDriver = strings.ToLower(getEnvString("STORAGE_DRIVER", StoragePostgres))
	switch cfg.StorageDriver {
	case StorageMemory, StoragePostgres:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q (want %s or %s)", cfg.StorageDriver, StoragePostgres, StorageMemory)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageDriver == StoragePostgres {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	var invalid []string
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.AllowRoleSelection = getEnvBool("ALLOW_ROLE_SELECTION", false)
	cfg.CodeTTL = getEnvDuration("CODE_TTL", 60*time.Second)
	if cfg.SessionTTL <= 0 {
		invalid = append(invalid, "SESSION_TTL")
	}
	if cfg.CodeTTL <= 0 {
		invalid = append(invalid, "CODE_TTL")
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables must be positive durations: %v", invalid)
	}
	cfg.EvidenceProbe = getEnvBool("EVIDENCE_PROBE", false)
	cfg.EvidenceProbeTimeout = getEnvDuration("EVIDENCE_PROBE_TIMEOUT", 5*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckIn = getEnvInt("RATE_LIMIT_CHECKIN", 10)
	cfg.RateLimitCheckInBurst = getEnvInt("RATE_LIMIT_CHECKIN_BURST", 5)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", 6*time.Hour)
	cfg.ReconcileConcurrency = getEnvInt("RECONCILE_CONCURRENCY", 4)
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

// getEnvLogLevel は debug/info/warn/error を解釈する。不正な値はdefaultValになる。
func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/chapterhub/internal/attendance"
	"github.com/hitoshi/chapterhub/internal/auth"
	"github.com/hitoshi/chapterhub/internal/checkin"
	"github.com/hitoshi/chapterhub/internal/clock"
	"github.com/hitoshi/chapterhub/internal/config"
	"github.com/hitoshi/chapterhub/internal/database"
	"github.com/hitoshi/chapterhub/internal/handler"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/middleware"
	"github.com/hitoshi/chapterhub/internal/notification"
	"github.com/hitoshi/chapterhub/internal/repository"
	"github.com/hitoshi/chapterhub/internal/security"
	"github.com/hitoshi/chapterhub/internal/servicehours"
	"github.com/hitoshi/chapterhub/internal/user"
	"github.com/hitoshi/chapterhub/internal/worker"
	"github.com/hitoshi/chapterhub/internal/worker/cleanup"
	"github.com/hitoshi/chapterhub/internal/worker/reconcile"
)

const (
	dbPingTimeout    = 5 * time.Second
	redisPingTimeout = 5 * time.Second
)

// appStore はヘルスチェック可能なストア。
type appStore interface {
	repository.Store
	Ping(ctx context.Context) error
}

// openStore は設定に応じたストアを開く。戻り値のcloseは必ず呼び出すこと。
func openStore(ctx context.Context, cfg *config.Config) (appStore, func(), error) {
	if cfg.StorageDriver == config.StorageMemory {
		slog.Warn("using in-memory storage; data will be lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return repository.NewPostgresStore(db), func() { db.Close() }, nil
}

// openCodeCache はREDIS_ADDRが設定されていればRedisのコードキャッシュを返す。
// 未設定の場合はnilを返し、チェックインサービスはキャッシュなしで動作する。
func openCodeCache(ctx context.Context, cfg *config.Config) (checkin.CodeCache, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
	return checkin.NewRedisCodeCache(client), func() { client.Close() }, nil
}

// newRegistry はランタイムのコレクターを登録済みのレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server はAPIサーバーの依存関係一式。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Collector
}

// newServer はサービスとハンドラーをワイヤリングする。
func newServer(cfg *config.Config, store appStore, cache checkin.CodeCache, reg *prometheus.Registry) *server {
	c := clock.System{}
	collector := metrics.NewCollector(reg)
	sanitizer := security.NewTextSanitizer()
	guard := auth.NewGuard(c)

	authService := auth.NewService(store, guard, c, sanitizer, collector, auth.ServiceConfig{
		SessionTTL:         cfg.SessionTTL,
		AllowRoleSelection: cfg.AllowRoleSelection,
	})
	ledger := attendance.NewLedger(store, guard, c, sanitizer)
	checkInService := checkin.NewService(store, guard, ledger, cache, c, sanitizer, collector, checkin.ServiceConfig{
		CodeTTL: cfg.CodeTTL,
	})
	submissionService := servicehours.NewService(store, guard, c, sanitizer,
		security.NewLinkGuard(cfg.EvidenceProbeTimeout), collector,
		servicehours.ServiceConfig{ProbeEvidence: cfg.EvidenceProbe},
	)
	userService := user.NewService(store, guard, c, sanitizer)
	notificationService := notification.NewService(store, guard, c)

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	deps := &handler.RouterDeps{
		HealthChecker:     store,
		UserResolver:      authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:     rateLimiter,
		Metrics:         collector,
		MetricsGatherer: reg,
		Logger:          slog.Default(),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		UserService:         userService,
		CheckInService:      checkInService,
		AttendanceService:   ledger,
		SubmissionService:   submissionService,
		NotificationService: notificationService,
	}

	return &server{
		handler:     handler.NewRouter(deps),
		rateLimiter: rateLimiter,
		metrics:     collector,
	}
}

// rateLimiterConfig は設定値（req/min）をレート制限設定に変換する。
// 0以下の値はデフォルトのまま。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = middleware.PerMinute(cfg.RateLimitGeneral)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCheckIn > 0 {
		rl.CheckInRate = middleware.PerMinute(cfg.RateLimitCheckIn)
	}
	if cfg.RateLimitCheckInBurst > 0 {
		rl.CheckInBurst = cfg.RateLimitCheckInBurst
	}
	return rl
}

// newScheduler はセッション掃除と集計修復のスケジューラを構築する。
func newScheduler(cfg *config.Config, store repository.Store, m metrics.MetricsCollector) *worker.Scheduler {
	logger := slog.Default()
	return worker.NewScheduler(logger,
		worker.Schedule{
			Name:     "session_cleanup",
			Job:      cleanup.NewCleanupJob(store, clock.System{}, logger, m),
			Interval: cfg.CleanupInterval,
		},
		worker.Schedule{
			Name:     "counter_reconcile",
			Job:      reconcile.NewReconcileJob(store, logger, m, cfg.ReconcileConcurrency),
			Interval: cfg.ReconcileInterval,
		},
	)
}

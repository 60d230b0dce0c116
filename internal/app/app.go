package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/chapterhub/internal/config"
	"github.com/hitoshi/chapterhub/internal/database"
	"github.com/hitoshi/chapterhub/internal/logger"
	"github.com/hitoshi/chapterhub/internal/metrics"
	"github.com/hitoshi/chapterhub/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを反映する
	logger.SetLevel(cfg.LogLevel)

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
		slog.String("storage", cfg.StorageDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReconcile:
		return runReconcile(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストアとコードキャッシュを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
// メモリストアの場合はワーカーが同じデータを参照できないため、ジョブもこのプロセスで実行する。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCodeCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	srv := newServer(cfg, store, cache, newRegistry())
	defer srv.rateLimiter.Stop()

	var jobs sync.WaitGroup
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer func() {
		cancelJobs()
		jobs.Wait()
	}()
	if cfg.StorageDriver == config.StorageMemory {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			newScheduler(cfg, store, srv.metrics).Start(jobCtx)
		}()
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// runWorker はワーカーモードで起動する。
// セッション掃除と集計修復を定期実行し、/metricsを別ポートで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageMemory {
		return errors.New("worker requires STORAGE_DRIVER=postgres; the memory store runs jobs inside serve")
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	metricsServer := &http.Server{
		Addr:         ":" + cfg.WorkerMetricsPort,
		Handler:      metrics.SetupMetricsRoute(reg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Int("reconcile_concurrency", cfg.ReconcileConcurrency),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serveUntilDone(ctx, metricsServer, "worker metrics server"); err != nil {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	// スケジューラはctxがキャンセルされるまでブロックする
	newScheduler(cfg, store, collector).Start(ctx)
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runReconcile は集計キャッシュの修復を1回実行して終了する。
// 運用中にカウンターのずれが疑われる場合の手動実行用。
func runReconcile(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageMemory {
		return errors.New("reconcile requires STORAGE_DRIVER=postgres")
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	job := reconcile.NewReconcileJob(store, slog.Default(), nil, cfg.ReconcileConcurrency)
	result, err := job.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	slog.Info("reconcile finished",
		slog.Int("meetings_fixed", result.MeetingsFixed),
		slog.Int("profiles_fixed", result.ProfilesFixed),
	)
	return nil
}

// serveUntilDone はHTTPサーバーを起動し、ctxのキャンセルでシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageDriver == config.StorageMemory {
		slog.Info("memory storage selected; no migrations to run")
		return nil
	}

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

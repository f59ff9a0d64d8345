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

	"github.com/hitoshi/feedpoller/internal/config"
	"github.com/hitoshi/feedpoller/internal/database"
	"github.com/hitoshi/feedpoller/internal/entry"
	"github.com/hitoshi/feedpoller/internal/feed"
	"github.com/hitoshi/feedpoller/internal/handler"
	"github.com/hitoshi/feedpoller/internal/logger"
	"github.com/hitoshi/feedpoller/internal/metrics"
	"github.com/hitoshi/feedpoller/internal/middleware"
	"github.com/hitoshi/feedpoller/internal/queue"
	"github.com/hitoshi/feedpoller/internal/repository"
	"github.com/hitoshi/feedpoller/internal/security"
	"github.com/hitoshi/feedpoller/internal/subscription"
	"github.com/hitoshi/feedpoller/internal/user"
	"github.com/hitoshi/feedpoller/internal/worker/poll"
	"github.com/hitoshi/feedpoller/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	l := logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, l, nil
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

	cfg, l, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, l)
	case CommandMigrate:
		return runMigrate(cfg, l)
	default:
		return runServe(ctx, cfg, l)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config, l *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// components はserveとworkerで共有する依存関係。
type components struct {
	feeds       *repository.PostgresFeedRepo
	entries     *repository.PostgresEntryRepo
	subs        *repository.PostgresSubscriptionRepo
	subscribers *repository.PostgresSubscriberRepo
	guard       *security.SSRFGuard
	scheduler   *poll.Scheduler
}

// newComponents はリポジトリ、取り込みエンジン、スケジューラを組み立てる。
// serveもStartPolling/ForceUpdateのためにスケジューラを使うが、サイクルは実行しない。
func newComponents(cfg *config.Config, db *sql.DB, l *slog.Logger, recorder metrics.Recorder) *components {
	c := &components{
		feeds:       repository.NewPostgresFeedRepo(db),
		entries:     repository.NewPostgresEntryRepo(db),
		subs:        repository.NewPostgresSubscriptionRepo(db),
		subscribers: repository.NewPostgresSubscriberRepo(db),
		guard:       security.NewSSRFGuard(cfg.FetchAllowPrivate),
	}

	fetcher := feed.NewFetcher(c.guard, security.NewContentSanitizer(), l, feed.Options{
		Timeout:      cfg.FetchTimeout,
		MaxBodySize:  cfg.FetchMaxSize,
		MaxEntrySize: cfg.EntryMaxSize,
	})
	engine := entry.NewEngine(c.feeds, c.entries, fetcher, l)

	c.scheduler = poll.NewScheduler(
		c.feeds, engine, queue.NewPostgresQueue(db),
		poll.BackoffPolicy{
			Base:          cfg.PollBaseInterval,
			Growth:        cfg.PollGrowth,
			Max:           cfg.PollMaxBackoff,
			FailThreshold: cfg.PollFailThreshold,
		},
		recorder, l,
		poll.Options{
			MaxConcurrency: cfg.PollMaxConcurrent,
			Lease:          cfg.PollLease,
			ClaimInterval:  cfg.PollClaimInterval,
		},
	)
	return c
}

// newServer はAPIサーバーのルーターを組み立てる。
// 戻り値の関数はレート制限のクリーンアップを停止する。
func newServer(cfg *config.Config, db *sql.DB, l *slog.Logger, reg *prometheus.Registry) (http.Handler, func()) {
	c := newComponents(cfg, db, l, metrics.NewCollector(reg))

	subService := subscription.NewService(c.subscribers, c.feeds, c.subs, c.entries, c.scheduler, c.guard, l)
	userService := user.NewService(c.subscribers, l)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral), l)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:        l,
		HealthChecker: db,
		RateLimiter:   rateLimiter,
		Metrics:       metrics.Handler(reg),

		UserService:         userService,
		SubscriptionService: subService,
		FeedUpdater:         c.scheduler,
	})
	return router, rateLimiter.Stop
}

// runServe はAPIサーバーモードで起動する。
// コンテキストがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	db, err := openDB(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer db.Close()

	router, stopLimiter := newServer(cfg, db, l, prometheus.NewRegistry())
	defer stopLimiter()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, l)
}

// runWorker はワーカーモードで起動する。
// ポーリングスケジューラとスケジュール再構築ジョブを実行し、
// コンテキストがキャンセルされると実行中のサイクルの終了を待って戻る。
func runWorker(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	db, err := openDB(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	c := newComponents(cfg, db, l, metrics.NewCollector(reg))

	job := reconcile.NewJob(c.feeds, c.scheduler, l)
	job.Interval = cfg.ReconcileInterval
	go job.Start(ctx)

	if cfg.WorkerMetricsPort != "" {
		server := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, server, l); err != nil {
				l.Error("metrics server error", slog.String("error", err.Error()))
			}
		}()
	}

	l.Info("worker starting",
		slog.Duration("poll_base_interval", cfg.PollBaseInterval),
		slog.Int("max_concurrent", cfg.PollMaxConcurrent),
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	c.scheduler.Start(ctx)

	l.Info("worker stopped gracefully")
	return nil
}

// serveUntilDone はHTTPサーバーを起動し、コンテキストがキャンセルされたらシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, l *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		l.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info("shutting down HTTP server...", slog.String("addr", server.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	l.Info("HTTP server stopped gracefully", slog.String("addr", server.Addr))
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	l.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	l.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthcheck エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthcheck", port)
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

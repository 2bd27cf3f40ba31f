// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/moodie/internal/auth"
	"github.com/hitoshi/moodie/internal/backend"
	"github.com/hitoshi/moodie/internal/chat"
	"github.com/hitoshi/moodie/internal/config"
	"github.com/hitoshi/moodie/internal/database"
	"github.com/hitoshi/moodie/internal/handler"
	"github.com/hitoshi/moodie/internal/journal"
	"github.com/hitoshi/moodie/internal/localstate"
	"github.com/hitoshi/moodie/internal/logger"
	"github.com/hitoshi/moodie/internal/metrics"
	"github.com/hitoshi/moodie/internal/middleware"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/repository"
	"github.com/hitoshi/moodie/internal/scan"
	"github.com/hitoshi/moodie/internal/security"
	"github.com/hitoshi/moodie/internal/user"
	"github.com/hitoshi/moodie/internal/web"
	"github.com/hitoshi/moodie/internal/worker/cleanup"
	"github.com/hitoshi/moodie/internal/worker/task"
)

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込み、JSON構造化ログをセットアップしてからConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envの読み込み（ログレベルも.envで指定できるよう最初に行う）
	dotenv := config.LoadDotEnv()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if !dotenv {
		slog.Debug("no .env file found, using environment variables")
	}

	// 3. 環境変数から設定を読み込む
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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return database.Connect(ctx, databaseURL)
}

// newRegistry はプロセスとGoランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// server はserveモードで組み立てた依存関係。
type server struct {
	handler http.Handler
	runner  *task.Runner
	close   func()
}

// newServer は全依存関係をワイヤリングし、ルーターを構築する。
func newServer(cfg *config.Config, db *sql.DB, reg prometheus.Registerer, gatherer prometheus.Gatherer, log *slog.Logger) (*server, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	deviceRepo := repository.NewPostgresDeviceStorageRepo(db)

	// 2. 認証
	sealer, err := auth.NewSealer(cfg.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create sealer: %w", err)
	}
	provider := auth.NewIdentityProvider(auth.IdentityProviderConfig{
		RedirectURL: cfg.RedirectURL(),
		AuthURL:     cfg.IdentityProviderURL,
		TokenURL:    cfg.IdentityProviderTokenURL,
		RevokeURL:   cfg.IdentityProviderRevokeURL,
	}, &http.Client{Timeout: 10 * time.Second})
	manager := auth.NewManager(provider, sessionRepo, sealer, auth.ManagerConfig{
		SessionMaxAge: cfg.SessionMaxAge,
		LoginTimeout:  cfg.LoginTimeout,
	}, collector, log)

	// 3. バックエンドクライアント
	backendClient := backend.NewClient(backend.Config{
		BaseURL:    cfg.BackendURL,
		CanisterID: cfg.BackendCanisterID,
	}, &http.Client{Timeout: cfg.BackendTimeout}, collector, log)

	// 4. ドメインサービスの初期化
	userCache := localstate.New[model.User](cfg.LocalStateTTL)
	journalState := localstate.New[[]model.JournalEntry](cfg.LocalStateTTL)
	users := user.NewSynchronizer(backendClient, userCache, log)

	hub := chat.NewHub()
	chatService := chat.NewService(deviceRepo, backendClient, hub, chat.Config{
		HistoryLimit: cfg.ChatHistoryLimit,
	}, log)

	scanService := scan.NewService(backendClient, deviceRepo, scan.Config{
		Warmup:        cfg.ScanWarmup,
		Delay:         cfg.ScanDelay,
		MaxImageBytes: cfg.ImageMaxBytes,
	}, log)

	journalService := journal.NewService(backendClient, journalState, log)

	runner := task.NewRunner(log, cfg.ChatMaxReplies, cfg.ChatReplyTimeout)

	// 5. セキュリティ・描画
	fetcher := security.NewImageFetcher(security.NewGuard(), nil, scanService.MaxImageBytes())
	renderer, err := web.NewRenderer(security.NewTextSanitizer(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	// 6. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   log,
		Recorder: collector,
		Renderer: renderer,
		Static:   web.StaticHandler(),
		Metrics:  metrics.Handler(gatherer),
		DB:       db,

		Auth: manager,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL: cfg.BaseURL,
			Cookies: middleware.CookieConfig{
				Secure: cfg.CookieSecure,
				Domain: cfg.CookieDomain,
			},
			SessionMaxAge: cfg.SessionMaxAge,
			LoginTimeout:  cfg.LoginTimeout,
		},

		Users: users,

		Chat:       chatService,
		ChatEvents: hub,
		Runner:     runner,

		Scan:         scanService,
		ImageFetcher: fetcher,

		Journal: journalService,
	})

	return &server{
		handler: router,
		runner:  runner,
		close: func() {
			userCache.Stop()
			journalState.Stop()
		},
	}, nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行い、
// 実行中のチャット応答の完了を待つ。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	reg := newRegistry()
	srv, err := newServer(cfg, db, reg, reg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	// WebSocketの長時間接続があるため、ReadTimeout/WriteTimeoutは設定しない
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := srv.runner.Wait(ctx); err != nil {
		slog.Warn("background tasks did not finish before shutdown", slog.String("error", err.Error()))
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと古い端末ストレージのクリーンアップを定期実行し、
// メトリクスとヘルスチェックをSERVER_PORTで公開する。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	job := cleanup.NewCleanupJob(db, collector, slog.Default())
	job.RetentionDays = cfg.DeviceStorageRetentionDays

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.Handle("GET /health", handler.NewHealthHandler(db))
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}

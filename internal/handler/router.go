package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/moodie/internal/middleware"
	"github.com/hitoshi/moodie/internal/scan"
	"github.com/hitoshi/moodie/internal/web"
)

// AuthManager はログインフローとリクエストごとのセッション初期化を担う。
type AuthManager interface {
	AuthManagerInterface
	middleware.SessionInitializer
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger   *slog.Logger
	Recorder middleware.StatusRecorder
	Renderer Renderer
	Static   http.Handler
	Metrics  http.Handler
	DB       Pinger

	// 認証
	Auth       AuthManager
	AuthConfig AuthHandlerConfig

	// ユーザー
	Users UserServiceInterface

	// チャット
	Chat       ChatServiceInterface
	ChatEvents ChatEventSource
	Runner     TaskRunner

	// スキャン・プロフィール画像
	Scan         ScanServiceInterface
	ImageFetcher ImageFetcher

	// ジャーナル
	Journal JournalServiceInterface
}

// NewRouter は全画面のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → RequestSize → Device → CSRF → Session
//
// 静的ファイル・メトリクス・ヘルスチェックは端末とセッションのミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookies := deps.AuthConfig.Cookies

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Recorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	p := newPages(deps.Renderer, deps.Users, logger)
	authHandler := NewAuthHandler(deps.Auth, deps.Users, p, deps.AuthConfig)
	homeHandler := NewHomeHandler(p)
	chatHandler := NewChatHandler(deps.Chat, deps.ChatEvents, deps.Runner, p)
	scanHandler := NewScanHandler(deps.Scan, p)
	journalHandler := NewJournalHandler(deps.Journal, p)
	profileHandler := NewProfileHandler(deps.ImageFetcher, deps.Scan.MaxImageBytes(), p)

	// --- 端末・セッション不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB))
	if deps.Static != nil {
		r.Method(http.MethodGet, "/static/*", deps.Static)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 画面 ---
	// ミドルウェアスタック: RequestSize → Device → CSRF → Session
	r.Group(func(r chi.Router) {
		r.Use(chimw.RequestSize(requestSizeLimit(deps.Scan.MaxImageBytes())))
		r.Use(middleware.NewDeviceMiddleware(cookies))
		r.Use(middleware.NewCSRFMiddleware(cookies))
		r.Use(middleware.NewSessionMiddleware(deps.Auth))

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			p.render(w, http.StatusNotFound, web.PageNotFound, p.build(r, "", "Not Found"), nil)
		})

		r.Get("/", homeHandler.Show)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
			r.Post("/logout", authHandler.Logout)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/", chatHandler.Show)
			r.Post("/messages", chatHandler.Send)
			r.Get("/events", chatHandler.Events)
		})

		r.Route("/scan", func(r chi.Router) {
			r.Get("/", scanHandler.Show)
			r.Post("/", scanHandler.Scan)
			r.Post("/image", scanHandler.Upload)
		})

		r.Route("/journal", func(r chi.Router) {
			r.Get("/", journalHandler.Show)
			r.Post("/", journalHandler.Add)
			r.Post("/{id}/delete", journalHandler.Delete)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Get("/", profileHandler.Show)
			r.Post("/", profileHandler.Update)
			r.Post("/name", homeHandler.SaveName)
		})
	})

	return r
}

// requestSizeLimit はリクエストボディの上限を返す。
// 上限を超えた画像でも検証まで届き、サイズ超過のメッセージを表示できるよう余裕を持たせる。
func requestSizeLimit(maxImageBytes int64) int64 {
	if maxImageBytes <= 0 {
		maxImageBytes = scan.DefaultMaxImageBytes
	}
	return 4*maxImageBytes + 1<<20
}

package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/moodie/internal/auth"
	"github.com/hitoshi/moodie/internal/middleware"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/web"
)

// loginCookieName はIdPへのリダイレクト中の封印状態を保持するCookie名。
const loginCookieName = "moodie_login"

// AuthManagerInterface は認証ハンドラーが必要とするインターフェース。
type AuthManagerInterface interface {
	BeginLogin(s *auth.Session) (redirectURL, pendingCookie string, err error)
	CompleteLogin(ctx context.Context, s *auth.Session, pendingCookie, state, code, providerErr string) (string, error)
	Logout(ctx context.Context, s *auth.Session) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	Cookies       middleware.CookieConfig
	SessionMaxAge time.Duration
	LoginTimeout  time.Duration
}

// AuthHandler はIdPによるログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	manager AuthManagerInterface
	users   UserServiceInterface
	pages   *pages
	config  AuthHandlerConfig
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(manager AuthManagerInterface, users UserServiceInterface, p *pages, config AuthHandlerConfig) *AuthHandler {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = 7 * 24 * time.Hour
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = 10 * time.Minute
	}
	return &AuthHandler{manager: manager, users: users, pages: p, config: config, logger: p.logger}
}

// Login はIdPのログインフローを開始する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	s := auth.SessionFromContext(r.Context())
	if s == nil {
		middleware.WriteInternalServerError(w)
		return
	}
	if s.IsAuthenticated() {
		http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
		return
	}

	redirectURL, pending, err := h.manager.BeginLogin(s)
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}

	middleware.SetCookie(w, h.config.Cookies, loginCookieName, pending, h.config.LoginTimeout)
	http.Redirect(w, r, redirectURL, http.StatusSeeOther)
}

// Callback はIdPからのリダイレクトを処理する。
// GET /auth/callback?code=xxx&state=yyy または ?error=zzz
// 成功時はセッションCookieを設定し、BASE_URLへリダイレクトしてページ全体を再読み込みさせる。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	s := auth.SessionFromContext(r.Context())
	if s == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	q := r.URL.Query()
	providerErr := q.Get("error")
	if desc := q.Get("error_description"); providerErr != "" && desc != "" {
		providerErr = desc
	}

	pending := ""
	if c, err := r.Cookie(loginCookieName); err == nil {
		pending = c.Value
	}
	middleware.SetCookie(w, h.config.Cookies, loginCookieName, "", 0)

	sessionID, err := h.manager.CompleteLogin(r.Context(), s, pending, q.Get("state"), q.Get("code"), providerErr)
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}

	middleware.SetCookie(w, h.config.Cookies, middleware.SessionCookieName, sessionID, h.config.SessionMaxAge)
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// Logout はセッションを破棄する。失敗してもローカルの状態とCookieは消去する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	s := auth.SessionFromContext(r.Context())
	if s == nil {
		middleware.WriteInternalServerError(w)
		return
	}

	principal := s.PrincipalID()
	err := h.manager.Logout(r.Context(), s)
	if principal != "" {
		h.users.Forget(principal)
	}
	middleware.SetCookie(w, h.config.Cookies, middleware.SessionCookieName, "", 0)

	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}
	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

// renderAuthError はホーム画面のシェルに認証エラーを表示する。
func (h *AuthHandler) renderAuthError(w http.ResponseWriter, r *http.Request, err error) {
	page := h.pages.build(r, "/", "")
	var apiErr *model.APIError
	page.AuthError = "Login failed"
	if errors.As(err, &apiErr) {
		page.AuthError = apiErr.Message
	}
	h.pages.render(w, statusFor(err), web.PageHome, page, web.HomeContent{})
}

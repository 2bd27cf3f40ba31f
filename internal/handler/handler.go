// Package handler はHTTPハンドラーを提供する。
// 各ページはサーバーサイドで描画し、エラーはページ内に表示する。
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

// Renderer はページ描画のインターフェース。
type Renderer interface {
	Render(w http.ResponseWriter, status int, page string, data *web.Page)
}

// UserServiceInterface はユーザープロフィールの取得・更新インターフェース。
type UserServiceInterface interface {
	Load(ctx context.Context, principal string) (*model.User, error)
	Update(ctx context.Context, principal string, update model.ProfileUpdate) error
	Forget(principal string)
}

// pages は全ページ共通のシェル（サイドバー・ヘッダー・ナビゲーション）のデータを組み立てる。
type pages struct {
	renderer Renderer
	users    UserServiceInterface
	logger   *slog.Logger
	now      func() time.Time
}

func newPages(renderer Renderer, users UserServiceInterface, logger *slog.Logger) *pages {
	if logger == nil {
		logger = slog.Default()
	}
	return &pages{renderer: renderer, users: users, logger: logger, now: time.Now}
}

// build はリクエストの認証状態からシェルのデータを生成する。
// 認証済みの場合はユーザーを読み込むが、失敗してもページ描画は続ける。
func (p *pages) build(r *http.Request, path, title string) *web.Page {
	ctx := r.Context()
	page := &web.Page{
		Title:     title,
		Path:      path,
		CSRFToken: middleware.CSRFTokenFromContext(ctx),
		Today:     p.now().Format("2006-01-02"),
	}

	if s := auth.SessionFromContext(ctx); s != nil {
		page.AuthError = s.LastError()
		if s.IsAuthenticated() {
			page.Authenticated = true
			u, err := p.users.Load(ctx, s.PrincipalID())
			if err != nil {
				p.logger.Warn("failed to load user",
					slog.String("principal", s.PrincipalID()),
					slog.String("error", err.Error()),
				)
			} else {
				page.User = u
			}
		}
	}

	page.Nav = web.BuildNav(path, page.Authenticated)
	page.ShowLogin = !page.Authenticated && r.URL.Query().Get("prompt") == "login"
	return page
}

// protect は未認証の場合にログイン要求オーバーレイ付きのシェルを401で描画し、falseを返す。
func (p *pages) protect(w http.ResponseWriter, page *web.Page, name string, empty any) bool {
	if page.Authenticated {
		return true
	}
	page.Restricted = true
	page.ShowLogin = true
	page.Content = empty
	p.renderer.Render(w, http.StatusUnauthorized, name, page)
	return false
}

func (p *pages) render(w http.ResponseWriter, status int, name string, page *web.Page, content any) {
	page.Content = content
	p.renderer.Render(w, status, name, page)
}

// principal はリクエストの認証済みプリンシパルを返す。
func principal(r *http.Request) string {
	if s := auth.SessionFromContext(r.Context()); s != nil {
		return s.PrincipalID()
	}
	return ""
}

// statusFor はエラー種別に対応するHTTPステータスコードを返す。
func statusFor(err error) int {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case model.ErrCodeUnauthorized, model.ErrCodeLogin:
		return http.StatusUnauthorized
	case model.ErrCodeBackendCall, model.ErrCodeProfileUpdate:
		return http.StatusBadGateway
	case model.ErrCodeInit:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage は画面に表示するメッセージを返す。
// 入力検証とログインのエラーはそのメッセージを、それ以外はfallbackを使う。
func errorMessage(err error, fallback string) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case model.ErrCodeValidation, model.ErrCodeLogin:
			return apiErr.Message
		}
	}
	return fallback
}

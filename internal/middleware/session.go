// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/moodie/internal/actor"
	"github.com/hitoshi/moodie/internal/auth"
)

// SessionCookieName はログインセッションIDを保持するCookieの名前。
const SessionCookieName = "moodie_session"

// SessionInitializer はリクエストごとの認証状態の構築に必要なインターフェース。
// auth.Managerの部分集合として定義する。
type SessionInitializer interface {
	Initialize(sessionID string) (*auth.Session, error)
	CheckState(ctx context.Context, s *auth.Session)
}

// NewSessionMiddleware はCookieのセッションIDからauth.Sessionを構築し、
// SessionとAgentをリクエストコンテキストに注入するミドルウェアを返す。
// 未認証でもリクエストは拒否しない。保護ページの判定はハンドラーが行う。
// Initializeが失敗した場合、Sessionはリクエストの間Unauthenticatedのままとなる。
func NewSessionMiddleware(initializer SessionInitializer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var sessionID string
			if c, err := r.Cookie(SessionCookieName); err == nil {
				sessionID = c.Value
			}

			s, err := initializer.Initialize(sessionID)
			if err == nil {
				initializer.CheckState(r.Context(), s)
			}
			annotatePrincipal(r.Context(), s.PrincipalID())

			ctx := auth.ContextWithSession(r.Context(), s)
			ctx = actor.ContextWithAgent(ctx, s.Agent())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext は認証済みセッションのプリンシパルIDを返す。未認証の場合は空文字。
func PrincipalFromContext(ctx context.Context) string {
	s := auth.SessionFromContext(ctx)
	if s == nil {
		return ""
	}
	return s.PrincipalID()
}

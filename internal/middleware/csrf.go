package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/moodie/internal/model"
)

const (
	// csrfCookieName はCSRFトークンを保持するCookieの名前。
	csrfCookieName = "csrf_token"

	// CSRFHeaderName はスクリプトからの送信時にトークンを載せるヘッダー名。
	CSRFHeaderName = "X-CSRF-Token"

	// CSRFFormField はHTMLフォームでトークンを送る隠しフィールド名。
	CSRFFormField = "csrf_token"

	csrfCookieMaxAge = 24 * time.Hour
)

type csrfContextKey struct{}

// NewCSRFMiddleware はダブルサブミットCookie方式のCSRF対策ミドルウェアを返す。
// トークンはCookieと同じ値をコンテキストにも格納し、テンプレートのフォームに埋め込めるようにする。
// 状態変更メソッドではヘッダーまたはフォームフィールドのトークンがCookieと一致する必要がある。
func NewCSRFMiddleware(cfg CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookieToken := ""
			if c, err := r.Cookie(csrfCookieName); err == nil {
				cookieToken = c.Value
			}

			if isSafeMethod(r.Method) {
				token := cookieToken
				if token == "" {
					var err error
					token, err = generateCSRFToken()
					if err != nil {
						slog.Error("failed to generate CSRF token", slog.String("error", err.Error()))
						WriteInternalServerError(w)
						return
					}
					http.SetCookie(w, cfg.newCookie(csrfCookieName, token, csrfCookieMaxAge, false))
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, token)))
				return
			}

			submitted := r.Header.Get(CSRFHeaderName)
			if submitted == "" {
				submitted = r.PostFormValue(CSRFFormField)
			}

			if cookieToken == "" || submitted == "" ||
				subtle.ConstantTimeCompare([]byte(cookieToken), []byte(submitted)) != 1 {
				slog.Warn("CSRF validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("cookie_present", cookieToken != ""),
					slog.Bool("token_present", submitted != ""),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     "CSRF_ERROR",
					Message:  "The form has expired.",
					Category: "client",
					Action:   "Reload the page and try again.",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), csrfContextKey{}, cookieToken)))
		})
	}
}

// CSRFTokenFromContext はフォームに埋め込むCSRFトークンを返す。
func CSRFTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(csrfContextKey{}).(string)
	return token
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// generateCSRFToken は暗号的に安全なCSRFトークンを生成する。
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

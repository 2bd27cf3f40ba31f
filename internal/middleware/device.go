package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// DeviceCookieName は端末ストレージのキーとなる匿名端末IDのCookie名。
	DeviceCookieName = "moodie_device"

	deviceCookieMaxAge = 365 * 24 * time.Hour
)

type deviceContextKey struct{}

// NewDeviceMiddleware は端末IDをCookieから読み取り、なければ発行してコンテキストに注入する。
// 端末IDはログイン状態とは独立しており、ログアウト後も維持される。
func NewDeviceMiddleware(cfg CookieConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := ""
			if c, err := r.Cookie(DeviceCookieName); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					deviceID = id.String()
				}
			}
			if deviceID == "" {
				deviceID = uuid.NewString()
				http.SetCookie(w, cfg.newCookie(DeviceCookieName, deviceID, deviceCookieMaxAge, true))
			}
			next.ServeHTTP(w, r.WithContext(ContextWithDeviceID(r.Context(), deviceID)))
		})
	}
}

// DeviceIDFromContext はコンテキストから端末IDを取得する。
func DeviceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceContextKey{}).(string)
	return id
}

// ContextWithDeviceID はコンテキストに端末IDを注入する。
func ContextWithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, deviceID)
}

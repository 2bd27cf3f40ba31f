package middleware

import (
	"net/http"
	"time"
)

// CookieConfig はミドルウェアが発行するCookieの共通属性。
type CookieConfig struct {
	Secure bool
	Domain string
}

// newCookie はPath=/・SameSite=Laxの共通属性を持つCookieを生成する。
func (c CookieConfig) newCookie(name, value string, maxAge time.Duration, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetCookie はcfgの属性でCookieを設定する。maxAgeが0以下の場合はCookieを削除する。
func SetCookie(w http.ResponseWriter, cfg CookieConfig, name, value string, maxAge time.Duration) {
	c := cfg.newCookie(name, value, maxAge, true)
	if maxAge <= 0 {
		c.MaxAge = -1
		c.Value = ""
	}
	http.SetCookie(w, c)
}

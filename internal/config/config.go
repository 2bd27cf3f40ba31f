// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Backend
	BackendURL        string        `env:"BACKEND_URL"`
	BackendCanisterID string        `env:"BACKEND_CANISTER_ID"`
	BackendTimeout    time.Duration `env:"BACKEND_TIMEOUT" envDefault:"30s"`

	// Identity Provider
	IdentityProviderURL       string `env:"IDENTITY_PROVIDER_URL"`
	IdentityProviderTokenURL  string `env:"IDENTITY_PROVIDER_TOKEN_URL"`
	IdentityProviderRevokeURL string `env:"IDENTITY_PROVIDER_REVOKE_URL"`

	// Session
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"168h"`
	LoginTimeout  time.Duration `env:"LOGIN_TIMEOUT" envDefault:"10m"`

	// Chat
	ChatHistoryLimit int           `env:"CHAT_HISTORY_LIMIT" envDefault:"15"`
	ChatReplyTimeout time.Duration `env:"CHAT_REPLY_TIMEOUT" envDefault:"60s"`
	ChatMaxReplies   int           `env:"CHAT_MAX_CONCURRENT_REPLIES" envDefault:"16"`

	// Scan
	ScanWarmup    bool          `env:"SCAN_WARMUP" envDefault:"true"`
	ScanDelay     time.Duration `env:"SCAN_DELAY" envDefault:"1s"`
	ImageMaxBytes int64         `env:"IMAGE_MAX_BYTES" envDefault:"2097152"`

	// Local state
	LocalStateTTL time.Duration `env:"LOCAL_STATE_TTL" envDefault:"30m"`

	// Cleanup
	DeviceStorageRetentionDays int           `env:"DEVICE_STORAGE_RETENTION_DAYS" envDefault:"90"`
	CleanupInterval            time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// LoadDotEnv はカレントディレクトリに.envがあれば環境変数へ読み込む。
// 既に設定されている環境変数は上書きしない。
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	required := []struct {
		key   string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"BASE_URL", cfg.BaseURL},
		{"SESSION_SECRET", cfg.SessionSecret},
		{"BACKEND_URL", cfg.BackendURL},
		{"BACKEND_CANISTER_ID", cfg.BackendCanisterID},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return cfg, nil
}

// RedirectURL はIdPのコールバックURLを返す。
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/auth/callback"
}

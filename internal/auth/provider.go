package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/moodie/internal/actor"
)

const (
	defaultIdentityProviderURL = "https://identity.ic0.app"
	defaultMaxTimeToLive       = 7 * 24 * time.Hour
)

// Delegation はIdPが発行した委任を表す。
type Delegation struct {
	Principal string    // ユーザーのプリンシパル（テキスト表現）
	Token     string    // セッション鍵に対する委任トークン
	ExpiresAt time.Time // 委任の有効期限
}

// Provider はIdentity Providerのインターフェース。
// ブラウザをIdPへリダイレクトし、戻ってきた認可コードをセッション鍵への委任に交換する。
type Provider interface {
	// GetLoginURL はIdPの認証URLを生成する。
	GetLoginURL(state string, sessionKey ed25519.PublicKey) string
	// ExchangeCode は認可コードをセッション鍵への委任に交換する。
	ExchangeCode(ctx context.Context, code string, sessionKey ed25519.PublicKey) (*Delegation, error)
	// Revoke は委任を失効させる。
	Revoke(ctx context.Context, delegation string) error
}

// IdentityProviderConfig はIdentityProviderの設定。
type IdentityProviderConfig struct {
	RedirectURL   string
	MaxTimeToLive time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL   string
	TokenURL  string
	RevokeURL string
}

// IdentityProvider はHTTPでIdPと通信するProvider実装。
type IdentityProvider struct {
	config     IdentityProviderConfig
	httpClient *http.Client
}

// NewIdentityProvider はIdentityProviderを生成する。
func NewIdentityProvider(config IdentityProviderConfig, httpClient *http.Client) *IdentityProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultIdentityProviderURL + "/authorize"
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultIdentityProviderURL + "/api/delegation"
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultIdentityProviderURL + "/api/revoke"
	}
	if config.MaxTimeToLive <= 0 {
		config.MaxTimeToLive = defaultMaxTimeToLive
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &IdentityProvider{config: config, httpClient: httpClient}
}

// GetLoginURL はIdPの認証URLを生成する。
// 委任の最大有効期間はナノ秒で渡す。
func (p *IdentityProvider) GetLoginURL(state string, sessionKey ed25519.PublicKey) string {
	params := url.Values{
		"redirect_uri":       {p.config.RedirectURL},
		"state":              {state},
		"session_public_key": {encodeKey(sessionKey)},
		"max_time_to_live":   {strconv.FormatInt(p.config.MaxTimeToLive.Nanoseconds(), 10)},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// delegationResponse はトークンエンドポイントのレスポンス。
type delegationResponse struct {
	Principal  string `json:"principal"`
	Delegation string `json:"delegation"`
	Expiration int64  `json:"expiration"` // UNIX秒
}

// ExchangeCode は認可コードをセッション鍵への委任に交換する。
func (p *IdentityProvider) ExchangeCode(ctx context.Context, code string, sessionKey ed25519.PublicKey) (*Delegation, error) {
	data := url.Values{
		"code":               {code},
		"session_public_key": {encodeKey(sessionKey)},
		"redirect_uri":       {p.config.RedirectURL},
	}

	body, err := p.postForm(ctx, p.config.TokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("delegation request failed: %w", err)
	}

	var resp delegationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse delegation response: %w", err)
	}
	if resp.Delegation == "" {
		return nil, fmt.Errorf("empty delegation in response")
	}
	if _, err := actor.ParsePrincipal(resp.Principal); err != nil {
		return nil, fmt.Errorf("invalid principal in response: %w", err)
	}

	return &Delegation{
		Principal: resp.Principal,
		Token:     resp.Delegation,
		ExpiresAt: time.Unix(resp.Expiration, 0),
	}, nil
}

// Revoke は委任を失効させる。
func (p *IdentityProvider) Revoke(ctx context.Context, delegation string) error {
	if _, err := p.postForm(ctx, p.config.RevokeURL, url.Values{"delegation": {delegation}}); err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	return nil
}

func (p *IdentityProvider) postForm(ctx context.Context, endpoint string, data url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func encodeKey(key ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// compile-time interface check
var _ Provider = (*IdentityProvider)(nil)

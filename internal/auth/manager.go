// Package auth はIdentity Providerによるログイン、セッション管理、
// リクエスト単位の認証状態（Session）を提供する。
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/moodie/internal/actor"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/repository"
)

// 認証結果の分類（メトリクスのラベル）。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder はログイン・ログアウト結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordLogin(outcome string)
	RecordLogout(outcome string)
}

// ManagerConfig は認証マネージャーの設定。
type ManagerConfig struct {
	SessionMaxAge time.Duration // セッションの最大有効期間
	LoginTimeout  time.Duration // IdPから戻るまでの許容時間
}

// Manager はセッションの初期化・検証・ログイン・ログアウトを行う。
// Agentへの署名Identityの設定はManagerのみが行う。
type Manager struct {
	provider Provider
	sessions repository.SessionRepository
	sealer   *Sealer
	config   ManagerConfig
	recorder Recorder
	logger   *slog.Logger

	now    func() time.Time
	newKey func() (ed25519.PrivateKey, error)
}

// NewManager はManagerを生成する。recorderはnilでもよい。
func NewManager(
	provider Provider,
	sessions repository.SessionRepository,
	sealer *Sealer,
	config ManagerConfig,
	recorder Recorder,
	logger *slog.Logger,
) *Manager {
	if config.SessionMaxAge <= 0 {
		config.SessionMaxAge = 7 * 24 * time.Hour
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		provider: provider,
		sessions: sessions,
		sealer:   sealer,
		config:   config,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		newKey:   generateKey,
	}
}

// Initialize はリクエスト用のSessionとIdentityクライアントを生成する。
// クライアント生成に失敗した場合、SessionはUnauthenticatedのままInitErrorを返す。
func (m *Manager) Initialize(sessionID string) (*Session, error) {
	s := newSession(actor.NewAgent())
	if err := s.transition(StateInitializing); err != nil {
		return s, model.NewInitError(err)
	}
	done := s.startLoading()
	defer done()

	key, err := m.newKey()
	if err != nil {
		m.logger.Error("failed to create identity client", slog.String("error", err.Error()))
		s.unauthenticate("Failed to initialize authentication")
		return s, model.NewInitError(err)
	}

	s.setClient(&Client{
		sessions:  m.sessions,
		sealer:    m.sealer,
		provider:  m.provider,
		opts:      ClientOptions{DisableIdle: true},
		logger:    m.logger,
		now:       m.now,
		sessionID: sessionID,
		key:       key,
	})
	return s, nil
}

// CheckState は保存済みセッションを検証し、有効であればIdentityをAgentに設定する。
// エラーはログに記録してUnauthenticatedとし、呼び出し元には返さない。
func (m *Manager) CheckState(ctx context.Context, s *Session) {
	client := s.Client()
	if client == nil {
		s.unauthenticate(s.LastError())
		return
	}
	done := s.startLoading()
	defer done()

	ok, err := client.IsAuthenticated(ctx)
	if err != nil {
		m.logger.Warn("failed to check authentication state", slog.String("error", err.Error()))
		s.unauthenticate("")
		return
	}
	if !ok {
		s.unauthenticate("")
		return
	}

	id, err := client.GetIdentity(ctx)
	if err != nil {
		m.logger.Warn("failed to restore identity", slog.String("error", err.Error()))
		s.unauthenticate("")
		return
	}

	s.Agent().ReplaceIdentity(id)
	if err := s.authenticate(id.Principal()); err != nil {
		m.logger.Warn("failed to mark session authenticated", slog.String("error", err.Error()))
		s.Agent().ReplaceIdentity(nil)
		s.unauthenticate("")
	}
}

// pendingLogin はIdPへのリダイレクト中に封印Cookieへ保持する状態。
type pendingLogin struct {
	State    string    `json:"state"`
	Seed     []byte    `json:"seed"`
	IssuedAt time.Time `json:"issued_at"`
}

// BeginLogin はIdPの認証URLと、コールバックで照合する封印Cookieの値を返す。
func (m *Manager) BeginLogin(s *Session) (string, string, error) {
	client := s.Client()
	if client == nil {
		return "", "", m.loginFailed(s, "Login is unavailable", errors.New("identity client is not initialized"))
	}
	if err := s.transition(StateAuthenticating); err != nil {
		return "", "", model.NewLoginError("Already signed in", err)
	}
	done := s.startLoading()
	defer done()

	state, err := randomHex(16)
	if err != nil {
		return "", "", m.loginFailed(s, "", err)
	}

	client.mu.Lock()
	seed := client.key.Seed()
	client.mu.Unlock()

	cookie, err := m.sealer.SealJSON(pendingLogin{State: state, Seed: seed, IssuedAt: m.now()})
	if err != nil {
		return "", "", m.loginFailed(s, "", err)
	}

	return m.provider.GetLoginURL(state, client.PublicKey()), cookie, nil
}

// CompleteLogin はIdPからのコールバックを処理し、新しいセッションIDを返す。
// providerErrが空でない場合はIdPがエラーを返したことを示す。
// 失敗時はUnauthenticatedに戻してLoginErrorを返す。
func (m *Manager) CompleteLogin(ctx context.Context, s *Session, pendingCookie, state, code, providerErr string) (string, error) {
	client := s.Client()
	if client == nil {
		return "", m.loginFailed(s, "Login is unavailable", errors.New("identity client is not initialized"))
	}
	if err := s.transition(StateAuthenticating); err != nil {
		return "", model.NewLoginError("Already signed in", err)
	}
	done := s.startLoading()
	defer done()

	if providerErr != "" {
		return "", m.loginFailed(s, "Login failed: "+providerErr, errors.New(providerErr))
	}

	var pending pendingLogin
	if err := m.sealer.OpenJSON(pendingCookie, &pending); err != nil {
		return "", m.loginFailed(s, "Login session is missing or invalid", err)
	}
	if m.now().Sub(pending.IssuedAt) > m.config.LoginTimeout {
		return "", m.loginFailed(s, "Login session has expired", errors.New("pending login expired"))
	}
	if state == "" || subtle.ConstantTimeCompare([]byte(state), []byte(pending.State)) != 1 {
		return "", m.loginFailed(s, "Login state mismatch", errors.New("state mismatch"))
	}
	if len(pending.Seed) != ed25519.SeedSize {
		return "", m.loginFailed(s, "Login session is missing or invalid", errors.New("invalid session key seed"))
	}
	if code == "" {
		return "", m.loginFailed(s, "Missing authorization code", errors.New("empty code"))
	}

	key := ed25519.NewKeyFromSeed(pending.Seed)
	delegation, err := m.provider.ExchangeCode(ctx, code, key.Public().(ed25519.PublicKey))
	if err != nil {
		return "", m.loginFailed(s, "", err)
	}

	identity, err := actor.NewDelegationIdentity(delegation.Principal, key, delegation.Token, delegation.ExpiresAt)
	if err != nil {
		return "", m.loginFailed(s, "", err)
	}

	// 以降の呼び出しがすべて新しいIdentityで署名されるよう、永続化より先に差し替える
	s.Agent().ReplaceIdentity(identity)

	record, err := m.persist(ctx, identity, pending.Seed, delegation)
	if err != nil {
		s.Agent().ReplaceIdentity(nil)
		return "", m.loginFailed(s, "", err)
	}
	client.bind(record.ID, key, record)

	if err := s.authenticate(identity.Principal()); err != nil {
		s.Agent().ReplaceIdentity(nil)
		return "", m.loginFailed(s, "", err)
	}

	m.record(true, OutcomeSuccess)
	m.logger.Info("user logged in", slog.String("principal", identity.Principal()))
	return record.ID, nil
}

// Logout は保存済みセッションを削除して未認証状態に戻す。
// ローカルの状態は失敗時も必ず消去する。
func (m *Manager) Logout(ctx context.Context, s *Session) error {
	done := s.startLoading()
	defer done()

	principal := s.PrincipalID()
	var err error
	if client := s.Client(); client != nil {
		err = client.Logout(ctx)
	}

	s.Agent().ReplaceIdentity(nil)

	if err != nil {
		m.logger.Error("logout failed", slog.String("error", err.Error()))
		s.unauthenticate("Logout failed")
		m.record(false, OutcomeFailure)
		return model.NewLogoutError(err)
	}

	s.unauthenticate("")
	m.record(false, OutcomeSuccess)
	if principal != "" {
		m.logger.Info("user logged out", slog.String("principal", principal))
	}
	return nil
}

// persist はセッション鍵を封印してセッションを保存する。
// 有効期限は最大有効期間と委任の期限の早い方とする。
func (m *Manager) persist(ctx context.Context, identity *actor.DelegationIdentity, seed []byte, delegation *Delegation) (*model.Session, error) {
	sessionID, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	sealedKey, err := m.sealer.Seal(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to seal session key: %w", err)
	}

	now := m.now()
	expiresAt := now.Add(m.config.SessionMaxAge)
	if delegation.ExpiresAt.Before(expiresAt) {
		expiresAt = delegation.ExpiresAt
	}

	record := &model.Session{
		ID:                  sessionID,
		Principal:           identity.Principal(),
		SessionKey:          sealedKey,
		Delegation:          delegation.Token,
		DelegationExpiresAt: delegation.ExpiresAt,
		ExpiresAt:           expiresAt,
		CreatedAt:           now,
	}
	if err := m.sessions.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return record, nil
}

func (m *Manager) loginFailed(s *Session, message string, cause error) error {
	loginErr := model.NewLoginError(message, cause)
	m.logger.Warn("login failed", slog.String("error", cause.Error()))
	s.unauthenticate(loginErr.Message)
	m.record(true, OutcomeFailure)
	return loginErr
}

func (m *Manager) record(login bool, outcome string) {
	if m.recorder == nil {
		return
	}
	if login {
		m.recorder.RecordLogin(outcome)
	} else {
		m.recorder.RecordLogout(outcome)
	}
}

func generateKey() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	return key, nil
}

// randomHex は暗号的に安全なランダム文字列を生成する。
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/moodie/internal/actor"
)

// State はセッションの認証状態。
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateUnauthenticated
	StateAuthenticating
	StateAuthenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions は許可される状態遷移。
// Unauthenticatedへの遷移は初期化済みの全状態から許可する（unauthenticateで処理）。
var transitions = map[State][]State{
	StateUninitialized:   {StateInitializing},
	StateInitializing:    {StateAuthenticated},
	StateUnauthenticated: {StateAuthenticating},
	StateAuthenticating:  {StateAuthenticated},
	StateAuthenticated:   {StateAuthenticated},
}

// Session はリクエスト単位の認証状態を保持する。
// principalIDは状態がAuthenticatedのときに限り空でない。
type Session struct {
	mu          sync.Mutex
	client      *Client
	state       State
	principalID string
	isLoading   bool
	lastError   string
	agent       *actor.Agent
}

func newSession(agent *actor.Agent) *Session {
	if agent == nil {
		agent = actor.NewAgent()
	}
	return &Session{state: StateUninitialized, agent: agent}
}

// State は現在の状態を返す。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PrincipalID は認証済みのプリンシパルを返す。未認証の場合は空文字。
func (s *Session) PrincipalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principalID
}

// IsAuthenticated は認証済みかどうかを返す。
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// IsLoading は操作の実行中かどうかを返す。
func (s *Session) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

// LastError は直近のエラーメッセージを返す。
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Agent はバックエンド呼び出し用のAgentを返す。
func (s *Session) Agent() *actor.Agent {
	return s.agent
}

// Client はIdentityクライアントを返す。初期化に失敗した場合はnil。
func (s *Session) Client() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// SessionID は保存済みセッションのIDを返す。
func (s *Session) SessionID() string {
	if c := s.Client(); c != nil {
		return c.SessionID()
	}
	return ""
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, to)
}

// authenticate はAuthenticatedへ遷移し、プリンシパルを記録する。
func (s *Session) authenticate(principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range transitions[s.state] {
		if allowed == StateAuthenticated {
			s.state = StateAuthenticated
			s.principalID = principal
			s.lastError = ""
			return nil
		}
	}
	return fmt.Errorf("invalid session transition %s -> %s", s.state, StateAuthenticated)
}

// unauthenticate はUnauthenticatedへ遷移し、プリンシパルを消去する。
func (s *Session) unauthenticate(lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized {
		return
	}
	s.state = StateUnauthenticated
	s.principalID = ""
	s.lastError = lastError
}

func (s *Session) setClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
}

// startLoading はisLoadingを立て、解除する関数を返す。
// 重複した呼び出しはキューイングせず、後勝ちで上書きする。
func (s *Session) startLoading() func() {
	s.mu.Lock()
	s.isLoading = true
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.isLoading = false
		s.mu.Unlock()
	}
}

type sessionContextKey struct{}

// ContextWithSession はコンテキストにSessionを注入する。
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext はコンテキストからSessionを取り出す。未設定の場合はnil。
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionContextKey{}).(*Session)
	return s
}

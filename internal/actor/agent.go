package actor

import (
	"context"
	"sync"
)

// Agent はバックエンド呼び出しに使う現在のIdentityを保持する。
// Identityの差し替えはセッション管理（auth.Manager）のみが行う。
type Agent struct {
	mu       sync.RWMutex
	identity Identity
}

// NewAgent は匿名状態のAgentを生成する。
func NewAgent() *Agent {
	return &Agent{}
}

// ReplaceIdentity は以降の呼び出しに使うIdentityを差し替える。
// nilを渡すと匿名に戻る。
func (a *Agent) ReplaceIdentity(id Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.identity = id
}

// Identity は現在のIdentityを返す。匿名の場合はnil。
func (a *Agent) Identity() Identity {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.identity
}

// Principal は現在のプリンシパルのテキスト表現を返す。
func (a *Agent) Principal() string {
	if id := a.Identity(); id != nil {
		return id.Principal()
	}
	return AnonymousPrincipal
}

type contextKey struct{}

// ContextWithAgent はコンテキストにAgentを注入する。
func ContextWithAgent(ctx context.Context, agent *Agent) context.Context {
	return context.WithValue(ctx, contextKey{}, agent)
}

// AgentFromContext はコンテキストからAgentを取り出す。未設定の場合はnil。
func AgentFromContext(ctx context.Context) *Agent {
	agent, _ := ctx.Value(contextKey{}).(*Agent)
	return agent
}

package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/moodie/internal/actor"
	"github.com/hitoshi/moodie/internal/model"
	"github.com/hitoshi/moodie/internal/repository"
)

// ClientOptions はIdentityクライアントのオプション。
type ClientOptions struct {
	// DisableIdle がtrueの場合、無操作によるセッション失効を行わない。
	// セッションは最大有効期間か委任の期限でのみ失効する。
	DisableIdle bool
	// IdleTimeout はDisableIdleがfalseの場合の無操作タイムアウト。
	IdleTimeout time.Duration
}

// Client はリクエスト単位のIdentityクライアント。
// 保存済みセッションの検証、署名用Identityの復元、ログアウトを行う。
type Client struct {
	sessions repository.SessionRepository
	sealer   *Sealer
	provider Provider
	opts     ClientOptions
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessionID string
	key       ed25519.PrivateKey
	record    *model.Session
	loaded    bool
}

// SessionID は紐づくセッションIDを返す。
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// PublicKey はログインに使うセッション公開鍵を返す。
func (c *Client) PublicKey() ed25519.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key.Public().(ed25519.PublicKey)
}

// bind はログイン完了後のセッションIDと鍵を紐づける。
func (c *Client) bind(sessionID string, key ed25519.PrivateKey, record *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.key = key
	c.record = record
	c.loaded = true
}

// load は保存済みセッションを一度だけ読み込む。
func (c *Client) load(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.record, nil
	}
	if c.sessionID == "" {
		c.loaded = true
		return nil, nil
	}
	rec, err := c.sessions.FindByID(ctx, c.sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	c.record = rec
	c.loaded = true
	return rec, nil
}

// IsAuthenticated は有効なセッションが存在するかを返す。
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	rec, err := c.load(ctx)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if !c.opts.DisableIdle && c.opts.IdleTimeout > 0 && c.now().Sub(rec.CreatedAt) > c.opts.IdleTimeout {
		return false, nil
	}
	return true, nil
}

// GetIdentity は保存済みセッションから署名用Identityを復元する。
func (c *Client) GetIdentity(ctx context.Context) (actor.Identity, error) {
	rec, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errors.New("no active session")
	}

	seed, err := c.sealer.Open(rec.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open session key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("session key has invalid length %d", len(seed))
	}

	return actor.NewDelegationIdentity(rec.Principal, ed25519.NewKeyFromSeed(seed), rec.Delegation, rec.DelegationExpiresAt)
}

// Logout は保存済みセッションを削除し、委任を失効させる。
// 委任の失効はベストエフォートで、失敗してもエラーにしない。
func (c *Client) Logout(ctx context.Context) error {
	rec, err := c.load(ctx)
	if err != nil {
		return err
	}

	sessionID := c.SessionID()
	if sessionID != "" {
		if err := c.sessions.DeleteByID(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	if rec != nil {
		if err := c.provider.Revoke(ctx, rec.Delegation); err != nil {
			c.logger.Warn("failed to revoke delegation",
				slog.String("principal", rec.Principal),
				slog.String("error", err.Error()),
			)
		}
	}

	c.mu.Lock()
	c.sessionID = ""
	c.record = nil
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Package user はログインユーザーのプロフィールをバックエンドと同期する。
package user

import (
	"context"
	"log/slog"

	"github.com/hitoshi/moodie/internal/localstate"
	"github.com/hitoshi/moodie/internal/model"
)

// Backend はユーザー関連のバックエンド呼び出しインターフェース。
type Backend interface {
	GetUserByPrincipal(ctx context.Context, principal string) (*model.User, error)
	AuthenticateUser(ctx context.Context, principalText string) error
	UpdateUserProfile(ctx context.Context, update model.ProfileUpdate) error
}

// Synchronizer はプリンシパル単位でユーザーをキャッシュし、
// 未登録の場合はバックエンドへ登録してから取得する。
type Synchronizer struct {
	backend Backend
	cache   *localstate.Store[model.User]
	logger  *slog.Logger
}

// NewSynchronizer はSynchronizerを生成する。
func NewSynchronizer(backend Backend, cache *localstate.Store[model.User], logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{backend: backend, cache: cache, logger: logger}
}

// Load はユーザーを返す。キャッシュにない場合はバックエンドから取得し、
// 存在しなければ登録してから再取得する。
func (s *Synchronizer) Load(ctx context.Context, principal string) (*model.User, error) {
	if u, ok := s.cache.Get(principal); ok {
		return &u, nil
	}

	u, err := s.backend.GetUserByPrincipal(ctx, principal)
	if err != nil {
		return nil, err
	}

	if u == nil {
		s.logger.Info("registering new user", slog.String("principal", principal))
		if err := s.backend.AuthenticateUser(ctx, principal); err != nil {
			return nil, err
		}
		u, err = s.backend.GetUserByPrincipal(ctx, principal)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, model.NewUserNotFoundError()
		}
	}

	s.cache.Set(principal, *u)
	return u, nil
}

// Update はプロフィールを部分更新する。成功時は空でないフィールドだけを
// キャッシュへ反映し、再取得はしない。失敗時はキャッシュを変更しない。
func (s *Synchronizer) Update(ctx context.Context, principal string, update model.ProfileUpdate) error {
	if update.IsEmpty() {
		return model.NewValidationError("Nothing to update.")
	}

	if err := s.backend.UpdateUserProfile(ctx, update); err != nil {
		s.logger.Error("profile update failed",
			slog.String("principal", principal),
			slog.String("error", err.Error()),
		)
		return model.NewProfileUpdateError(err)
	}

	s.cache.Update(principal, func(current model.User, found bool) (model.User, bool) {
		if !found {
			return current, false
		}
		if v := model.Present(update.Username); v != nil {
			current.Username = v
		}
		if v := model.Present(update.Name); v != nil {
			current.Name = v
		}
		if v := model.Present(update.ProfilePicture); v != nil {
			current.ProfilePicture = v
		}
		return current, true
	})
	return nil
}

// Forget はキャッシュを破棄する。ログアウト時に使う。
func (s *Synchronizer) Forget(principal string) {
	s.cache.Delete(principal)
}

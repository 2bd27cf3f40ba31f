// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/moodie/internal/model"
)

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByPrincipal は指定プリンシパルの全セッションを削除する。
	DeleteByPrincipal(ctx context.Context, principal string) error
}

// UpdateFunc は現在値を受け取り新しい値を返す。
// foundは値が保存済みかどうかを示す。エラーを返すと更新は破棄される。
type UpdateFunc func(current string, found bool) (string, error)

// DeviceStorageRepository は端末単位のキー・バリューストアのインターフェース。
// 値はJSON文字列として保存する。
type DeviceStorageRepository interface {
	// Get は値を取得する。未保存の場合はfound=falseを返す。
	Get(ctx context.Context, deviceID, key string) (value string, found bool, err error)
	// Put は値を保存する（上書き）。
	Put(ctx context.Context, deviceID, key, value string) error
	// Update は行ロックを取得した上でfnを適用し、結果を保存する。
	// 同一キーへの並行更新は直列化される。
	Update(ctx context.Context, deviceID, key string, fn UpdateFunc) error
	// Delete は値を削除する。
	Delete(ctx context.Context, deviceID, key string) error
}

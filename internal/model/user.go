// Package model はドメインモデルを定義する。
package model

import "time"

// User はバックエンドに登録されたMoodieユーザーを表す。
// 任意項目はnilで未設定を表す。
type User struct {
	ID             string
	Username       *string
	Name           *string
	ProfilePicture *string // data URI または URL
}

// DisplayName は表示用の名前を返す。未設定の場合はfallbackを返す。
func (u *User) DisplayName(fallback string) string {
	if u == nil {
		return fallback
	}
	return Deref(u.Name, fallback)
}

// ProfileUpdate はプロフィールの部分更新内容を表す。
// nilまたは空文字のフィールドは「未指定」として扱い、サーバー側の既存値を維持する。
type ProfileUpdate struct {
	Username       *string
	Name           *string
	ProfilePicture *string
}

// IsEmpty は更新対象のフィールドが1つもないかを判定する。
func (p ProfileUpdate) IsEmpty() bool {
	return Present(p.Username) == nil && Present(p.Name) == nil && Present(p.ProfilePicture) == nil
}

// Session はブラウザのログインセッションを表す。
// SessionKeyはセッション鍵のシードをsecretboxで封印したもの。
type Session struct {
	ID                  string
	Principal           string
	SessionKey          []byte
	Delegation          string
	DelegationExpiresAt time.Time
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// StringPtr は文字列のポインタを返す。
func StringPtr(s string) *string {
	return &s
}

// Present は値が設定されていればそのポインタを、nilまたは空文字ならnilを返す。
func Present(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}

// Deref はポインタの値を返す。nilまたは空文字の場合はfallbackを返す。
func Deref(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

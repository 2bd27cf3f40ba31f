// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 画面に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（ログ用、画面には出さない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInit          = "INIT_ERROR"
	ErrCodeLogin         = "LOGIN_ERROR"
	ErrCodeLogout        = "LOGOUT_ERROR"
	ErrCodeProfileUpdate = "PROFILE_UPDATE_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeBackendCall   = "BACKEND_CALL_ERROR"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeUserNotFound  = "USER_NOT_FOUND"
)

// IsKind はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func IsKind(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInitError は認証クライアントの初期化失敗エラーを生成する。
func NewInitError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeInit,
		Message:  "Failed to initialize authentication client",
		Category: "auth",
		Action:   "Reload the page.",
		Err:      cause,
	}
}

// NewLoginError はログイン失敗エラーを生成する。
// messageが空の場合は既定のメッセージを使用する。
func NewLoginError(message string, cause error) *APIError {
	if message == "" {
		message = "Login failed"
	}
	return &APIError{
		Code:     ErrCodeLogin,
		Message:  message,
		Category: "auth",
		Action:   "Please try logging in again.",
		Err:      cause,
	}
}

// NewLogoutError はログアウト失敗エラーを生成する。
func NewLogoutError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeLogout,
		Message:  "Logout failed",
		Category: "auth",
		Action:   "You have been signed out on this device.",
		Err:      cause,
	}
}

// NewProfileUpdateError はプロフィール更新失敗エラーを生成する。
func NewProfileUpdateError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeProfileUpdate,
		Message:  "Failed to update user profile",
		Category: "backend",
		Action:   "Please wait a moment and try again.",
		Err:      cause,
	}
}

// NewValidationError は入力検証エラーを生成する。
// バックエンド呼び出し前に検出されるため原因エラーは持たない。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Check your input and try again.",
	}
}

// NewBackendCallError はバックエンド呼び出し失敗エラーを生成する。
func NewBackendCallError(method string, cause error) *APIError {
	return &APIError{
		Code:     ErrCodeBackendCall,
		Message:  fmt.Sprintf("backend call %s failed", method),
		Category: "backend",
		Action:   "Please wait a moment and try again.",
		Err:      cause,
	}
}

// NewUnauthorizedError は未ログイン状態で保護された操作を行った場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Please log in to access this page.",
		Category: "auth",
		Action:   "Log in to continue.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please log in again.",
	}
}

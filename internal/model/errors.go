// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// セッションコントローラーとIdPクライアントで共有するエラー。
var (
	// ErrAuthConfigFetch は /auth_config.json の取得・解析に失敗したことを示す。
	ErrAuthConfigFetch = errors.New("auth config fetch failed")
	// ErrIdentityProvider はIdPクライアント呼び出しの失敗を示す。
	ErrIdentityProvider = errors.New("identity provider error")
	// ErrNotInitialized はIdPクライアントが未初期化であることを示す。
	ErrNotInitialized = errors.New("identity client is not initialized")
	// ErrControllerStopped はイベントループが停止済みであることを示す。
	ErrControllerStopped = errors.New("session controller stopped")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSessionUnavailable = "SESSION_UNAVAILABLE"
	ErrCodeInvalidCallback    = "INVALID_CALLBACK"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewSessionUnavailableError はブラウザセッションが解決できない場合のエラーを生成する。
func NewSessionUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionUnavailable,
		Message:  "セッションを取得できませんでした。",
		Category: "auth",
		Action:   "ページを再読み込みしてください。",
	}
}

// NewInvalidCallbackError はIdPからのコールバックが不正な場合のエラーを生成する。
func NewInvalidCallbackError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCallback,
		Message:  fmt.Sprintf("認証コールバックが不正です: %s", reason),
		Category: "validation",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewAuthFailedError は認証処理に失敗した場合のエラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "認証に失敗しました。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewInternalError は詳細を伏せた内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// ErrCodeRateLimited はレート制限超過のエラーコード。
const ErrCodeRateLimited = "RATE_LIMIT_EXCEEDED"

// NewRateLimitedError は認証操作のレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

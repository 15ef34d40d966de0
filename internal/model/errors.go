// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// AuthErrorKind は認証フローの失敗種別。
type AuthErrorKind string

const (
	// AuthDenied はIdPがエラーを返した、またはstateが一致しなかったことを示す。
	AuthDenied AuthErrorKind = "denied"
	// AuthTokenExchangeFailed は認可コードのトークン交換に失敗したことを示す。
	AuthTokenExchangeFailed AuthErrorKind = "token_exchange_failed"
	// AuthProfileFetchFailed はプロフィール取得に失敗したことを示す。
	AuthProfileFetchFailed AuthErrorKind = "profile_fetch_failed"
)

// AuthError はOAuthコールバック処理の失敗を表す。
// いずれの種別も利用者には不適格ページへのリダイレクトとして扱われる。
type AuthError struct {
	Kind   AuthErrorKind
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth %s", e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is は種別が一致するAuthErrorを同一とみなす。
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 種別比較用のセンチネル。errors.Isで使用する。
var (
	ErrDenied              = &AuthError{Kind: AuthDenied}
	ErrTokenExchangeFailed = &AuthError{Kind: AuthTokenExchangeFailed}
	ErrProfileFetchFailed  = &AuthError{Kind: AuthProfileFetchFailed}
)

// NewDeniedError はDenied種別のAuthErrorを生成する。
func NewDeniedError(reason string) *AuthError {
	return &AuthError{Kind: AuthDenied, Reason: reason}
}

// NewTokenExchangeError はTokenExchangeFailed種別のAuthErrorを生成する。
func NewTokenExchangeError(err error) *AuthError {
	return &AuthError{Kind: AuthTokenExchangeFailed, Err: err}
}

// NewProfileFetchError はProfileFetchFailed種別のAuthErrorを生成する。
func NewProfileFetchError(err error) *AuthError {
	return &AuthError{Kind: AuthProfileFetchFailed, Err: err}
}

// AuthErrorKindOf はエラーからAuthErrorKindを取り出す。AuthErrorでない場合は空文字列を返す。
func AuthErrorKindOf(err error) AuthErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// ConfigError は起動時の設定不備を表す。プロセスは起動を中止する。
type ConfigError struct {
	Field string
	Err   error
}

// Error はerrorインターフェースを実装する。
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Field, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrInvalidCutoff は適格判定の基準日時が解析できないことを示す。
var ErrInvalidCutoff = errors.New("invalid eligibility cutoff")

// AllowlistError は許可リスト（スプレッドシート）操作の失敗を表す。
// ログに記録して握りつぶし、利用者には表出させない。
type AllowlistError struct {
	Op  string // "exists" または "append"
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *AllowlistError) Error() string {
	return fmt.Sprintf("allowlist %s: %v", e.Op, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *AllowlistError) Unwrap() error {
	return e.Err
}

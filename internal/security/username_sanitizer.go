// Package security はアプリケーションのセキュリティ機能を提供する。
//
// UsernameSanitizer は外部の許可リストへ書き込む前にユーザー名を無害化する。
// bluemondayのStrictPolicyで全てのタグを除去し、テキストのみを残す。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxUsernameLength は書き込みを許可するユーザー名の最大長。
const MaxUsernameLength = 64

// UsernameSanitizer はユーザー名のサニタイズ機能のインターフェースを定義する。
type UsernameSanitizer interface {
	// Sanitize はタグと制御文字を除去したユーザー名を返す。
	// 結果が空文字列の場合、そのユーザー名は書き込むべきではない。
	Sanitize(username string) string
}

type usernameSanitizer struct {
	policy *bluemonday.Policy
}

// NewUsernameSanitizer はUsernameSanitizerの新しいインスタンスを生成する。
func NewUsernameSanitizer() *usernameSanitizer {
	return &usernameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はユーザー名をサニタイズする。同一入力に対して常に同一出力を返す。
func (s *usernameSanitizer) Sanitize(username string) string {
	// StrictPolicyはテキストをHTMLエスケープして返すため、シートにはアンエスケープして書き込む
	text := html.UnescapeString(s.policy.Sanitize(username))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	if len([]rune(text)) > MaxUsernameLength {
		text = string([]rune(text)[:MaxUsernameLength])
	}
	return text
}

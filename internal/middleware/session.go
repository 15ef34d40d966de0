// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ballotgate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	sessionContextKey   = contextKey("session")
	requestIDContextKey = contextKey("request_id")
	requestInfoKey      = contextKey("request_info")
)

// SessionLoader はリクエストからセッションを読み込むインターフェース。
// session.Managerが実装する。
type SessionLoader interface {
	Load(r *http.Request) (*model.Session, bool, error)
}

// requestInfo は内側のミドルウェアが外側のロギングへ値を渡すための入れ物。
type requestInfo struct {
	session *model.Session
}

// NewSessionMiddleware はCookieからセッションを読み込み、リクエストコンテキストに注入するミドルウェアを返す。
// セッションが存在しない場合も新しいセッションを注入するため、後続のハンドラーは常にセッションを取得できる。
// セッションストアの障害時はonFailureに処理を委ねる。onFailureがnilの場合は500を返す。
func NewSessionMiddleware(loader SessionLoader, onFailure http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, _, err := loader.Load(r)
			if err != nil {
				slog.Error("failed to load session",
					slog.String("error", err.Error()),
					slog.String("request_id", RequestIDFromContext(r.Context())),
				)
				if onFailure != nil {
					onFailure.ServeHTTP(w, r)
					return
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
				info.session = session
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

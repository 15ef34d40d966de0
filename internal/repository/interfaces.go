// Package repository はセッションデータの永続化インターフェースと実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/ballotgate/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Save はセッションを作成または上書きする。有効期限はsession.ExpiresAtに従う。
	Save(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ExpiredSessionDeleter は期限切れセッションを一括削除できるリポジトリ。
// TTLで自動失効するストア（Redis）は実装しない。
type ExpiredSessionDeleter interface {
	// DeleteExpired は期限切れセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// Pinger は接続確認が可能なリポジトリ。ヘルスチェックで使用する。
type Pinger interface {
	Ping(ctx context.Context) error
}

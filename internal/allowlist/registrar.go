// Package allowlist は外部スプレッドシート上の許可リストへのアクセスを提供する。
//
// 許可リストへの登録は閲覧ページの描画とは独立に行い、
// どのような失敗も訪問者には返さない。
package allowlist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ballotgate/internal/security"
)

// DefaultTimeout はバックグラウンド登録1回あたりの上限時間。
const DefaultTimeout = 10 * time.Second

// Connector は許可リストの読み書きを行うインターフェース。
type Connector interface {
	// Exists はユーザー名が登録済みかを返す。エラー時はfalseを返す。
	Exists(ctx context.Context, username string) bool
	// Append はユーザー名を登録する。
	Append(ctx context.Context, username string) error
}

// Registrar はユーザー名が許可リストに無ければ追加する。
// 存在確認と追加はアトミックではなく、同一ユーザーの同時リクエストで重複行が生じうる。
type Registrar struct {
	connector Connector
	sanitizer security.UsernameSanitizer
	metrics   OpRecorder
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewRegistrar はRegistrarを生成する。timeoutが0以下ならDefaultTimeoutを使う。
func NewRegistrar(connector Connector, sanitizer security.UsernameSanitizer, metrics OpRecorder, timeout time.Duration) *Registrar {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registrar{
		connector: connector,
		sanitizer: sanitizer,
		metrics:   metrics,
		timeout:   timeout,
	}
}

// EnsureListed はユーザー名が未登録の場合に追加する。
// 戻り値は追加を行ったかどうか。失敗はログとメトリクスにのみ残す。
func (r *Registrar) EnsureListed(ctx context.Context, username string) bool {
	name := r.sanitizer.Sanitize(username)
	if name == "" {
		slog.Warn("allowlist skipped: empty username after sanitizing")
		r.record("append", "skipped")
		return false
	}

	if r.connector.Exists(ctx, name) {
		r.record("append", "skipped")
		return false
	}

	if err := r.connector.Append(ctx, name); err != nil {
		slog.Error("allowlist append failed",
			slog.String("username", name),
			slog.String("error", err.Error()),
		)
		r.record("append", "error")
		return false
	}

	slog.Info("allowlist entry appended", slog.String("username", name))
	r.record("append", "ok")
	return true
}

// EnsureListedAsync はリクエストから切り離したゴルーチンでEnsureListedを実行する。
// 呼び出し元のリクエストがキャンセルされても登録は継続する。
func (r *Registrar) EnsureListedAsync(username string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("allowlist panic recovered", slog.Any("panic", rec))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.EnsureListed(ctx, username)
	}()
}

// Wait は実行中のバックグラウンド登録の完了を待つ。
// ctxが先に終了した場合はctxのエラーを返す。
func (r *Registrar) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registrar) record(op, result string) {
	if r.metrics != nil {
		r.metrics.RecordAllowlistOp(op, result)
	}
}

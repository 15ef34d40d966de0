package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/ballotgate/internal/middleware"
	"github.com/hitoshi/ballotgate/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger        *slog.Logger
	SessionLoader middleware.SessionLoader
	AuthRateLimit middleware.RateLimiterConfig
	StatusMetrics middleware.StatusRecorder // nilなら記録しない
	HSTS          bool

	// TrustProxyHeaders がtrueの場合のみX-Forwarded-For等からクライアントIPを復元する。
	// リバースプロキシの背後で、プロキシがこれらのヘッダーを上書きする構成でのみ有効にすること。
	TrustProxyHeaders bool

	// ページ
	AuthService AuthServiceInterface
	Sessions    SessionWriter
	Renderer    PageRenderer
	Allowlist   AllowlistRegistrar // nilなら許可リストを使わない
	Outcomes    OutcomeRecorder
	PageConfig  PageHandlerConfig

	// 運用
	HealthPinger   repository.Pinger // nilならプロセスの応答のみ
	MetricsHandler http.Handler      // nilなら/metricsを公開しない
}

// Router はHTTPハンドラーと停止が必要なリソースを保持する。
type Router struct {
	http.Handler
	limiter *middleware.RateLimiter
}

// Close はレートリミッターのバックグラウンド処理を停止する。
func (r *Router) Close() {
	r.limiter.Stop()
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したRouterを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → [RealIP] → Logging → Recovery → SecurityHeaders → Session
//
// RealIPはTrustProxyHeadersが有効な場合のみ挿入する。無効な場合、レート制限は
// 接続元アドレスをキーにするため、ヘッダーの詐称で制限を回避できない。
// セッションストアの障害時はPageHandler.SessionUnavailableが応答する。
// /auth と /auth/afterwards にはさらにクライアントIP単位のレート制限を適用する。
// /health と /metrics はセッションを読み込まない。
func NewRouter(deps *RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pages := NewPageHandler(deps.AuthService, deps.Sessions, deps.Renderer, deps.Allowlist, deps.Outcomes, deps.PageConfig)
	health := NewHealthHandler(deps.HealthPinger)
	limiter := middleware.NewRateLimiter(deps.AuthRateLimit, http.HandlerFunc(pages.TooManyRequests))

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusMetrics))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))

	// --- 運用エンドポイント ---
	r.Get("/health", health.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- ページ ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionLoader, http.HandlerFunc(pages.SessionUnavailable)))

		r.Get(pathIndex, pages.Index)
		r.Get(pathBallot, pages.Ballot)
		r.Get(pathIneligible, pages.Ineligible)

		// 認証フロー（レート制限付き）
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware())
			r.Get(pathAuth, pages.Auth)
			r.Get(pathCallback, pages.Callback)
		})
	})

	r.NotFound(pages.NotFound)

	return &Router{Handler: r, limiter: limiter}
}

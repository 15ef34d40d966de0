// Package app は設定の読み込みから依存関係のワイヤリング、HTTPサーバーの起動・停止までを担う。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/ballotgate/internal/allowlist"
	"github.com/hitoshi/ballotgate/internal/auth"
	"github.com/hitoshi/ballotgate/internal/config"
	"github.com/hitoshi/ballotgate/internal/database"
	"github.com/hitoshi/ballotgate/internal/eligibility"
	"github.com/hitoshi/ballotgate/internal/handler"
	"github.com/hitoshi/ballotgate/internal/logger"
	"github.com/hitoshi/ballotgate/internal/metrics"
	"github.com/hitoshi/ballotgate/internal/middleware"
	"github.com/hitoshi/ballotgate/internal/repository"
	"github.com/hitoshi/ballotgate/internal/security"
	"github.com/hitoshi/ballotgate/internal/session"
	"github.com/hitoshi/ballotgate/internal/web"
	"github.com/hitoshi/ballotgate/internal/worker/cleanup"
)

const (
	// shutdownTimeout は停止シグナル受信後に処理中リクエストを待つ上限。
	shutdownTimeout = 30 * time.Second
	// storeConnectTimeout は起動時のセッションストア接続確認の上限。
	storeConnectTimeout = 5 * time.Second
)

// Init はJSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// 読み込み後はLOG_LEVELに従ってロガーを再設定する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// App はワイヤリング済みのアプリケーション。
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	router    *handler.Router
	registrar *allowlist.Registrar
	cleanup   *cleanup.CleanupJob
	closers   []func() error
}

// sessionStore はセッションリポジトリと、ストアが任意で提供する機能をまとめたもの。
type sessionStore struct {
	repo    repository.SessionRepository
	pinger  repository.Pinger
	deleter repository.ExpiredSessionDeleter
	close   func() error
}

// New は設定に従って全依存関係を構築する。
// セッションストアに接続できない場合はエラーを返す。
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, logger: log}

	// 1. セッションストア
	store, err := openSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.close)

	sessions, err := session.NewManager(store.repo, session.Config{
		Secret:       cfg.SessionSecret,
		CookieDomain: cfg.CookieDomain,
		CookieSecure: cfg.CookieSecure,
		TTL:          session.DefaultTTL,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	if store.deleter != nil {
		a.cleanup = cleanup.NewCleanupJob(store.deleter, log, cfg.SessionCleanupInterval)
	}

	// 2. メトリクス
	var (
		collector      metrics.MetricsCollector = metrics.Nop{}
		statusMetrics  middleware.StatusRecorder
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		c := metrics.NewCollector(registry)
		collector = c
		statusMetrics = c
		metricsHandler = metrics.Handler(registry)
	}

	// 3. 認証と適格判定
	evaluator, err := eligibility.New(cfg.EligibilityDate, cfg.EligibilityTimeZone)
	if err != nil {
		a.Close()
		return nil, err
	}
	provider := auth.NewRedditOAuthProvider(auth.RedditOAuthConfig{
		ClientID:     cfg.RedditClientID,
		ClientSecret: cfg.RedditClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		Timeout:      cfg.OutboundTimeout,
	})
	authService := auth.NewService(provider, evaluator, collector)

	// 4. 許可リスト（失敗しても起動は続ける）
	a.registrar = newRegistrar(ctx, cfg, collector, log)

	// 5. ページとルーター
	renderer, err := web.NewRenderer()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	deps := &handler.RouterDeps{
		Logger:        log,
		SessionLoader: sessions,
		AuthRateLimit: middleware.PerMinuteRateLimiterConfig(cfg.RateLimitAuth),
		StatusMetrics: statusMetrics,
		HSTS:          cfg.CookieSecure,

		TrustProxyHeaders: cfg.TrustProxyHeaders,

		AuthService: authService,
		Sessions:    sessions,
		Renderer:    renderer,
		Outcomes:    collector,
		PageConfig: handler.PageHandlerConfig{
			FailureRedirect: cfg.FailureRedirect,
			FormID:          cfg.FormID,
			FieldID:         cfg.FormFieldID,
		},

		HealthPinger:   store.pinger,
		MetricsHandler: metricsHandler,
	}
	// nilの*Registrarをインターフェースに入れない
	if a.registrar != nil {
		deps.Allowlist = a.registrar
	}
	a.router = handler.NewRouter(deps)

	log.Info("application wired",
		slog.String("session_store", cfg.SessionStore),
		slog.Bool("allowlist", a.registrar != nil),
		slog.Bool("metrics", cfg.MetricsEnabled),
		slog.Time("eligibility_cutoff", evaluator.Cutoff()),
	)

	return a, nil
}

// Handler はミドルウェア込みのHTTPハンドラーを返す。
func (a *App) Handler() http.Handler {
	return a.router
}

// Serve はcfg.Addr()で待ち受け、ctxがキャンセルされるまでリクエストを処理する。
func (a *App) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener は指定リスナーでHTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行い、
// 処理中のリクエストと許可リストへの書き込みを最大30秒待つ。
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	if a.cleanup != nil {
		go a.cleanup.Start(workerCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("base_url", a.cfg.BaseURL),
			slog.String("exec_mode", a.cfg.ExecMode),
		)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if a.registrar != nil {
		if err := a.registrar.Wait(shutdownCtx); err != nil {
			a.logger.Warn("pending allowlist writes abandoned", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("server stopped gracefully")
	return nil
}

// Close はレートリミッターとセッションストアの接続を解放する。
func (a *App) Close() {
	if a.router != nil {
		a.router.Close()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// openSessionStore はSESSION_STOREに応じたリポジトリを開き、接続を確認する。
func openSessionStore(ctx context.Context, cfg *config.Config) (*sessionStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, storeConnectTimeout)
	defer cancel()

	switch cfg.SessionStore {
	case config.StoreRedis:
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		repo := repository.NewRedisSessionRepo(client, repository.DefaultRedisKeyPrefix)
		if err := repo.Ping(pingCtx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &sessionStore{repo: repo, pinger: repo, close: client.Close}, nil

	case config.StorePostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		repo := repository.NewPostgresSessionRepo(db)
		if err := repo.Ping(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return &sessionStore{repo: repo, pinger: repo, deleter: repo, close: db.Close}, nil

	default:
		repo := repository.NewMemorySessionRepo()
		return &sessionStore{repo: repo, deleter: repo, close: func() error { return nil }}, nil
	}
}

// newRegistrar は許可リストの書き込み口を構築する。
// 無効化されている場合や資格情報を読み込めない場合はnilを返し、ゲート自体は動作を続ける。
func newRegistrar(ctx context.Context, cfg *config.Config, ops allowlist.OpRecorder, log *slog.Logger) *allowlist.Registrar {
	if !cfg.AllowlistActive() {
		return nil
	}

	httpClient := &http.Client{Timeout: cfg.OutboundTimeout}
	opts, err := allowlist.ClientOptionsFromFiles(ctx, cfg.GoogleCredentialsPath, cfg.GoogleTokenPath, httpClient)
	if err != nil {
		log.Error("allowlist disabled: failed to load google credentials",
			slog.String("credentials_path", cfg.GoogleCredentialsPath),
			slog.String("token_path", cfg.GoogleTokenPath),
			slog.String("error", err.Error()),
		)
		return nil
	}

	connector, err := allowlist.NewSheetsConnector(ctx, allowlist.SheetsConfig{
		SpreadsheetID: cfg.SheetID,
		Range:         cfg.AllowlistRange,
	}, ops, opts...)
	if err != nil {
		log.Error("allowlist disabled: failed to create sheets client", slog.String("error", err.Error()))
		return nil
	}

	return allowlist.NewRegistrar(connector, security.NewUsernameSanitizer(), ops, cfg.OutboundTimeout)
}

// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/ballotgate/internal/auth"
	"github.com/hitoshi/ballotgate/internal/metrics"
	"github.com/hitoshi/ballotgate/internal/middleware"
	"github.com/hitoshi/ballotgate/internal/model"
	"github.com/hitoshi/ballotgate/internal/web"
)

const (
	pathIndex      = "/"
	pathAuth       = "/auth"
	pathCallback   = "/auth/afterwards"
	pathBallot     = "/ballot"
	pathIneligible = "/ballot_ineligible"
)

// ballotContentSecurityPolicy は埋め込みフォームの表示を許可するCSP。
const ballotContentSecurityPolicy = middleware.DefaultContentSecurityPolicy + "; frame-src https://docs.google.com;"

// AuthServiceInterface はページハンドラーが必要とする認証サービスインターフェース。
type AuthServiceInterface interface {
	BeginAuth() (state string, authURL string, err error)
	HandleCallback(ctx context.Context, params auth.CallbackParams, storedState string) (*model.Profile, error)
	IsEligible(profile *model.Profile) bool
}

// SessionWriter はセッションの保存・ID更新・破棄を行うインターフェース。
// session.Managerが実装する。
type SessionWriter interface {
	Save(ctx context.Context, w http.ResponseWriter, s *model.Session) error
	Renew(ctx context.Context, s *model.Session) error
	Destroy(ctx context.Context, w http.ResponseWriter, s *model.Session) error
}

// PageRenderer はHTMLページを描画するインターフェース。
type PageRenderer interface {
	Render(w http.ResponseWriter, status int, page web.Page, data any) error
}

// AllowlistRegistrar は許可リストへのバックグラウンド登録を行うインターフェース。
type AllowlistRegistrar interface {
	EnsureListedAsync(username string)
}

// OutcomeRecorder は認証フローの結果を記録するインターフェース。
type OutcomeRecorder interface {
	RecordAuthOutcome(outcome string)
}

// PageHandlerConfig はページハンドラーの設定。
type PageHandlerConfig struct {
	FailureRedirect string // 資格なしページの戻り先リンク
	FormID          string // 埋め込むGoogleフォームのID
	FieldID         string // ユーザー名を事前入力するフォーム項目のID
}

// PageHandler は公開ページと認証フローのHTTPハンドラー。
type PageHandler struct {
	auth      AuthServiceInterface
	sessions  SessionWriter
	renderer  PageRenderer
	allowlist AllowlistRegistrar
	outcomes  OutcomeRecorder
	config    PageHandlerConfig
}

// NewPageHandler はPageHandlerを生成する。allowlistがnilの場合は許可リスト登録を行わない。
func NewPageHandler(
	authService AuthServiceInterface,
	sessions SessionWriter,
	renderer PageRenderer,
	allowlist AllowlistRegistrar,
	outcomes OutcomeRecorder,
	config PageHandlerConfig,
) *PageHandler {
	if outcomes == nil {
		outcomes = metrics.Nop{}
	}
	return &PageHandler{
		auth:      authService,
		sessions:  sessions,
		renderer:  renderer,
		allowlist: allowlist,
		outcomes:  outcomes,
		config:    config,
	}
}

// Index はランディングページを表示する。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, web.PageIndex, web.IndexData{
		Title:       web.IndexTitle,
		Description: web.IndexDescription,
		ButtonText:  web.IndexButtonText,
		AuthURL:     pathAuth,
	})
}

// Auth はstateをセッションに保存してRedditの認可画面へリダイレクトする。
// 訪問のたびにstateを上書きする。
// GET /auth
func (h *PageHandler) Auth(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.serverError(w, r, fmt.Errorf("session missing from context"))
		return
	}

	state, authURL, err := h.auth.BeginAuth()
	if err != nil {
		h.serverError(w, r, err)
		return
	}

	// リダイレクト前に保存しないとコールバックで照合できない
	session.State = state
	if err := h.sessions.Save(r.Context(), w, session); err != nil {
		h.serverError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はRedditからのリダイレクトを処理する。
// stateはこのリクエストで消費され、成否にかかわらず再利用できない。
// GET /auth/afterwards?code=xxx&state=yyy[&error=zzz]
func (h *PageHandler) Callback(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		h.SessionUnavailable(w, r)
		return
	}

	q := r.URL.Query()
	params := auth.CallbackParams{
		Code:  q.Get("code"),
		State: q.Get("state"),
		Error: q.Get("error"),
	}

	storedState := session.State
	session.State = ""

	profile, err := h.auth.HandleCallback(r.Context(), params, storedState)
	if err != nil {
		h.logAuthFailure(r, err)
		// 消費済みstateと以前のプロフィールをまとめて破棄する
		h.destroyBestEffort(w, r, session)
		http.Redirect(w, r, pathIneligible, http.StatusFound)
		return
	}

	// ログイン前に発行されたIDを認証後に引き継がない
	err = h.sessions.Renew(r.Context(), session)
	if err == nil {
		session.Profile = profile
		err = h.sessions.Save(r.Context(), w, session)
	}
	if err != nil {
		slog.Error("failed to save session after callback",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		h.outcomes.RecordAuthOutcome(metrics.OutcomeSessionFailure)
		http.Redirect(w, r, pathIneligible, http.StatusFound)
		return
	}

	if !h.auth.IsEligible(profile) {
		slog.Info("account is not eligible",
			slog.String("username", profile.Name),
			slog.Time("created_at", profile.CreatedAt()),
		)
		h.outcomes.RecordAuthOutcome(metrics.OutcomeIneligible)
		http.Redirect(w, r, pathIneligible, http.StatusFound)
		return
	}

	slog.Info("account is eligible", slog.String("username", profile.Name))
	h.outcomes.RecordAuthOutcome(metrics.OutcomeEligible)
	http.Redirect(w, r, pathBallot, http.StatusFound)
}

// Ballot はフォームを埋め込んだ投票ページを表示する。
// プロフィールの無いセッションはトップへ、資格の無いアカウントは資格なしページへ送る。
// 資格は描画のたびにプロフィールから再計算する。
// GET /ballot
func (h *PageHandler) Ballot(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.SessionFromContext(r.Context())
	if !ok || !session.IsAuthenticated() {
		http.Redirect(w, r, pathIndex, http.StatusFound)
		return
	}

	if !h.auth.IsEligible(session.Profile) {
		http.Redirect(w, r, pathIneligible, http.StatusFound)
		return
	}

	username := session.Username()

	// 許可リストの結果は描画に影響させない
	if h.allowlist != nil {
		h.allowlist.EnsureListedAsync(username)
	}

	w.Header().Set("Content-Security-Policy", ballotContentSecurityPolicy)
	h.render(w, r, http.StatusOK, web.PageBallot, web.BallotData{
		Username: username,
		FormURL:  FormURL(h.config.FormID, h.config.FieldID, username),
	})
}

// Ineligible は資格なしページを表示する。
// GET /ballot_ineligible
func (h *PageHandler) Ineligible(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, web.PageIneligible, web.IneligibleData{
		Title:       web.IneligibleTitle,
		Description: web.IneligibleDescription,
		ButtonText:  web.IneligibleButtonText,
		FallbackURL: h.config.FailureRedirect,
	})
}

// NotFound は404ページを表示する。セッションの状態には依存しない。
func (h *PageHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusNotFound, web.PageNotFound, web.NotFoundData{
		Message: web.NotFoundMessage,
	})
}

// TooManyRequests はレート制限超過ページを表示する。
func (h *PageHandler) TooManyRequests(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusTooManyRequests, web.PageTooManyRequests, nil)
}

// SessionUnavailable はセッションストアの障害時に呼ばれる。
// 認証フローと投票ページは資格なしページへ送り、それ以外はエラーページを表示する。
func (h *PageHandler) SessionUnavailable(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case pathCallback:
		h.outcomes.RecordAuthOutcome(metrics.OutcomeSessionFailure)
		http.Redirect(w, r, pathIneligible, http.StatusFound)
	case pathBallot:
		http.Redirect(w, r, pathIneligible, http.StatusFound)
	case pathIneligible:
		// セッションを参照しないのでそのまま表示できる
		h.Ineligible(w, r)
	default:
		h.render(w, r, http.StatusInternalServerError, web.PageError, nil)
	}
}

// FormURL はユーザー名を事前入力したGoogleフォームのURLを返す。
func FormURL(formID, fieldID, username string) string {
	return fmt.Sprintf("https://docs.google.com/forms/d/e/%s/viewform?usp=pp_url&entry.%s=%s",
		url.PathEscape(formID),
		url.QueryEscape(fieldID),
		url.QueryEscape(username),
	)
}

func (h *PageHandler) logAuthFailure(r *http.Request, err error) {
	kind := model.AuthErrorKindOf(err)
	attrs := []any{
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	}

	switch kind {
	case model.AuthDenied:
		slog.Warn("oauth callback denied", attrs...)
		h.outcomes.RecordAuthOutcome(metrics.OutcomeDenied)
	case model.AuthTokenExchangeFailed:
		slog.Error("oauth token exchange failed", attrs...)
		h.outcomes.RecordAuthOutcome(metrics.OutcomeTokenExchange)
	default:
		slog.Error("oauth profile fetch failed", attrs...)
		h.outcomes.RecordAuthOutcome(metrics.OutcomeProfileFetch)
	}
}

// destroyBestEffort は失敗したコールバックの後でセッションを破棄する。
// 破棄に失敗してもリダイレクト先は変わらない。
func (h *PageHandler) destroyBestEffort(w http.ResponseWriter, r *http.Request, session *model.Session) {
	if err := h.sessions.Destroy(r.Context(), w, session); err != nil {
		slog.Error("failed to destroy session",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
	}
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, status int, page web.Page, data any) {
	if err := h.renderer.Render(w, status, page, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", string(page)),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *PageHandler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	h.render(w, r, http.StatusInternalServerError, web.PageError, nil)
}

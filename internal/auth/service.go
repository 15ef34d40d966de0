// Package auth はOAuth認可コードフローと適格判定の連携を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/ballotgate/internal/model"
)

// stateBytes はstate値の乱数バイト数（256ビット）。
const stateBytes = 32

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// トークン交換とプロフィール取得は明示的な2段階として分離する。
type OAuthProvider interface {
	// AuthorizationURL は認可エンドポイントのURLを生成する。
	AuthorizationURL(state string) string
	// ExchangeCode は認可コードをアクセストークンに交換する。
	// 失敗時はTokenExchangeFailed種別の*model.AuthErrorを返す。
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	// FetchProfile はアクセストークンでプロフィールを取得する。
	// 失敗時はProfileFetchFailed種別の*model.AuthErrorを返す。
	FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error)
}

// EligibilityEvaluator は適格判定のインターフェース。
type EligibilityEvaluator interface {
	IsEligible(createdEpoch float64) bool
}

// LatencyRecorder は外部呼び出しのレイテンシを記録する。
type LatencyRecorder interface {
	RecordOAuthLatency(step string, duration time.Duration)
}

// CallbackParams はIdPからのリダイレクトに含まれるクエリパラメータ。
type CallbackParams struct {
	Code  string
	State string
	Error string
}

// Service は認証フローのビジネスロジックを提供する。
type Service struct {
	oauth     OAuthProvider
	evaluator EligibilityEvaluator
	latency   LatencyRecorder
}

// NewService はServiceを生成する。latencyはnilでもよい。
func NewService(oauth OAuthProvider, evaluator EligibilityEvaluator, latency LatencyRecorder) *Service {
	return &Service{
		oauth:     oauth,
		evaluator: evaluator,
		latency:   latency,
	}
}

// BeginAuth は新しいstate値を生成し、認可URLとともに返す。
// 呼び出し元はリダイレクト前にstateをセッションへ保存しなければならない。
func (s *Service) BeginAuth() (state string, authURL string, err error) {
	state, err = GenerateState()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return state, s.oauth.AuthorizationURL(state), nil
}

// HandleCallback はOAuthコールバックを処理し、プロフィールを返す。
// storedStateはセッションに保存されていたstate値で、空の場合は常にDeniedとなる。
// IdPのエラー報告やstate不一致の場合はトークン交換を行わない。
func (s *Service) HandleCallback(ctx context.Context, params CallbackParams, storedState string) (*model.Profile, error) {
	// 1. IdPが報告したエラー
	if params.Error != "" {
		return nil, model.NewDeniedError("provider reported " + params.Error)
	}

	// 2. stateの検証（CSRF対策）
	if !StatesMatch(storedState, params.State) {
		return nil, model.NewDeniedError("state mismatch")
	}

	if params.Code == "" {
		return nil, model.NewTokenExchangeError(errors.New("missing authorization code"))
	}

	// 3. 認可コードをアクセストークンに交換
	start := time.Now()
	token, err := s.oauth.ExchangeCode(ctx, params.Code)
	s.recordLatency("token_exchange", start)
	if err != nil {
		return nil, asAuthError(err, model.NewTokenExchangeError)
	}

	// 4. アクセストークンでプロフィールを取得
	start = time.Now()
	profile, err := s.oauth.FetchProfile(ctx, token)
	s.recordLatency("profile_fetch", start)
	if err != nil {
		return nil, asAuthError(err, model.NewProfileFetchError)
	}

	slog.Info("oauth callback succeeded", slog.String("username", profile.Name))
	return profile, nil
}

// IsEligible はプロフィールのアカウント作成日時から適格性を判定する。
// 結果は保存せず、呼び出しのたびに再計算する。
func (s *Service) IsEligible(profile *model.Profile) bool {
	if profile == nil {
		return false
	}
	return s.evaluator.IsEligible(profile.CreatedEpoch())
}

func (s *Service) recordLatency(step string, start time.Time) {
	if s.latency != nil {
		s.latency.RecordOAuthLatency(step, time.Since(start))
	}
}

// asAuthError はAuthError以外のエラーを指定種別のAuthErrorに包む。
func asAuthError(err error, wrap func(error) *model.AuthError) error {
	var authErr *model.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return wrap(err)
}

// StatesMatch はセッションのstateとクエリのstateを定数時間で比較する。
// セッション側が空の場合は一致しない。
func StatesMatch(stored, received string) bool {
	if stored == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(received)) == 1
}

// GenerateState はCSRF対策用の暗号学的に安全なstate値を生成する。
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

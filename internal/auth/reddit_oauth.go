package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/ballotgate/internal/model"
)

const (
	defaultRedditAuthURL    = "https://www.reddit.com/api/v1/authorize"
	defaultRedditTokenURL   = "https://www.reddit.com/api/v1/access_token"
	defaultRedditProfileURL = "https://oauth.reddit.com/api/v1/me"

	defaultUserAgent = "ballotgate/1.0"
	defaultTimeout   = 10 * time.Second

	// identityScope は本人確認に必要な最小スコープ。
	identityScope = "identity"
	// maxProfileBodySize はプロフィールレスポンスの読み込み上限。
	maxProfileBodySize = 1 << 20
)

// RedditOAuthConfig はReddit OAuthプロバイダーの設定。
type RedditOAuthConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL は認可リクエストとトークン交換の両方で同一バイト列として送信する。
	RedirectURL string
	UserAgent   string
	// Timeout はトークン交換・プロフィール取得それぞれの上限時間。
	Timeout time.Duration

	// テスト用にオーバーライド可能な値
	AuthURL    string
	TokenURL   string
	ProfileURL string
	HTTPClient *http.Client
}

// RedditOAuthProvider はRedditのOAuth 2.0認可コードフローを提供する。
type RedditOAuthProvider struct {
	oauth2Config *oauth2.Config
	profileURL   string
	httpClient   *http.Client
	timeout      time.Duration
}

// NewRedditOAuthProvider はRedditOAuthProviderを生成する。
func NewRedditOAuthProvider(config RedditOAuthConfig) *RedditOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultRedditAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultRedditTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultRedditProfileURL
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	base := config.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	// RedditはUser-Agentのないリクエストを拒否するため全リクエストに付与する
	client := &http.Client{
		Transport:     &userAgentTransport{base: transport, userAgent: config.UserAgent},
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
		Timeout:       config.Timeout,
	}

	return &RedditOAuthProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{identityScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		profileURL: config.ProfileURL,
		httpClient: client,
		timeout:    config.Timeout,
	}
}

// AuthorizationURL はRedditの認可エンドポイントURLを生成する。
// 一時トークン（duration=temporary）でidentityスコープのみを要求する。
func (p *RedditOAuthProvider) AuthorizationURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, oauth2.SetAuthURLParam("duration", "temporary"))
}

// RedirectURL はコールバックURLを返す。
func (p *RedditOAuthProvider) RedirectURL() string {
	return p.oauth2Config.RedirectURL
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// クライアント認証はHTTP Basic認証で行い、ボディは
// grant_type=authorization_code&code=...&redirect_uri=... となる。
func (p *RedditOAuthProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, model.NewTokenExchangeError(err)
	}
	if token.AccessToken == "" {
		return nil, model.NewTokenExchangeError(errors.New("empty access token in response"))
	}

	return token, nil
}

// FetchProfile はアクセストークンをBearerとして使い、認証済みプロフィールを取得する。
func (p *RedditOAuthProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*model.Profile, error) {
	if token == nil || token.AccessToken == "" {
		return nil, model.NewProfileFetchError(errors.New("access token is required"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, model.NewProfileFetchError(fmt.Errorf("failed to create profile request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, model.NewProfileFetchError(fmt.Errorf("profile request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return nil, model.NewProfileFetchError(fmt.Errorf("failed to read profile response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewProfileFetchError(fmt.Errorf("profile fetch failed with status %d", resp.StatusCode))
	}

	var profile model.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, model.NewProfileFetchError(fmt.Errorf("failed to parse profile response: %w", err))
	}

	if profile.Name == "" {
		return nil, model.NewProfileFetchError(errors.New("empty name in profile response"))
	}
	if profile.CreatedEpoch() == 0 {
		return nil, model.NewProfileFetchError(errors.New("missing created timestamp in profile response"))
	}

	return &profile, nil
}

// userAgentTransport は全リクエストにUser-Agentヘッダーを付与する。
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

// RoundTrip はhttp.RoundTripperを実装する。
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// compile-time interface check
var _ OAuthProvider = (*RedditOAuthProvider)(nil)

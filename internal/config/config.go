// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hitoshi/ballotgate/internal/eligibility"
	"github.com/hitoshi/ballotgate/internal/model"
	"github.com/hitoshi/ballotgate/internal/session"
)

// 実行モード。
const (
	ExecModeDev  = "DEV"
	ExecModeProd = "PROD"
)

// セッションストアの種類。
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// CallbackPath はOAuthコールバックのパス。
const CallbackPath = "/auth/afterwards"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Reddit OAuth
	RedditClientID     string `env:"REDDIT_ID,required"`
	RedditClientSecret string `env:"REDDIT_SECRET,required"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required"`
	SessionStore           string        `env:"SESSION_STORE" envDefault:"memory"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"10m"`
	RedisURL               string        `env:"REDIS_URL"`
	DatabaseURL            string        `env:"DATABASE_URL"`
	CookieDomain           string        `env:"COOKIE_DOMAIN"`

	// Eligibility
	EligibilityDate     string `env:"ELIGIBILITY_DATE,required"`
	EligibilityTimeZone string `env:"ELIGIBILITY_TIMEZONE" envDefault:"Asia/Seoul"`

	// Pages
	FailureRedirect string `env:"FAILURE_REDIRECT,required"`
	FormID          string `env:"FORM_ID,required"`
	FormFieldID     string `env:"FIELD_ID_1,required"`

	// Allowlist
	SheetID               string `env:"SHEET_ID"`
	AllowlistEnabled      bool   `env:"ALLOWLIST_ENABLED" envDefault:"true"`
	AllowlistRange        string `env:"ALLOWLIST_RANGE" envDefault:"AuthUsers!A2:B"`
	GoogleCredentialsPath string `env:"GOOGLE_CREDENTIALS_PATH" envDefault:"credentials.json"`
	GoogleTokenPath       string `env:"GOOGLE_TOKEN_PATH" envDefault:"token.json"`

	// Server
	ExecMode        string        `env:"EXEC_MODE" envDefault:"DEV"`
	SiteURLProd     string        `env:"SITE_URL_PROD" envDefault:"https://prod.example.com"`
	SiteURLDev      string        `env:"SITE_URL_DEV" envDefault:"http://localhost:9999"`
	Port            string        `env:"PORT" envDefault:"9999"`
	OutboundTimeout time.Duration `env:"OUTBOUND_TIMEOUT" envDefault:"10s"`

	// X-Forwarded-For等を信頼するのはヘッダーを上書きするプロキシの背後にいる場合のみ
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Rate Limit
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Observability
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	// 以下は他の値から導出する
	BaseURL      string
	CookieSecure bool
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 既に設定済みの環境変数は.envで上書きしない。
func Load() (*Config, error) {
	_ = godotenv.Load() // .envが無いのは本番では正常
	return Parse()
}

// Parse は環境変数のみからConfigを読み込み、検証する。
// 不備がある場合は*model.ConfigErrorを返す。
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, &model.ConfigError{Field: "environment", Err: err}
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// CallbackURL はOAuthのredirect_uriを返す。
// 認可リクエストとトークン交換で同じ値を使うため、この関数だけで組み立てる。
func (c *Config) CallbackURL() string {
	return c.BaseURL + CallbackPath
}

// AllowlistActive は許可リストを使用するかを返す。
func (c *Config) AllowlistActive() bool {
	return c.AllowlistEnabled && c.SheetID != ""
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) normalize() error {
	c.ExecMode = strings.ToUpper(strings.TrimSpace(c.ExecMode))
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))

	switch c.ExecMode {
	case ExecModeProd:
		c.BaseURL = c.SiteURLProd
	case ExecModeDev:
		c.BaseURL = c.SiteURLDev
	default:
		return &model.ConfigError{
			Field: "EXEC_MODE",
			Err:   fmt.Errorf("must be %s or %s, got %q", ExecModeDev, ExecModeProd, c.ExecMode),
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.CookieSecure = strings.HasPrefix(c.BaseURL, "https://")
	return nil
}

func (c *Config) validate() error {
	if len(c.SessionSecret) < session.MinSecretLength {
		return &model.ConfigError{
			Field: "SESSION_SECRET",
			Err:   fmt.Errorf("must be at least %d characters", session.MinSecretLength),
		}
	}

	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &model.ConfigError{Field: "SITE_URL_" + c.ExecMode, Err: fmt.Errorf("invalid base URL %q", c.BaseURL)}
	}

	loc, err := eligibility.LoadLocation(c.EligibilityTimeZone)
	if err != nil {
		return &model.ConfigError{Field: "ELIGIBILITY_TIMEZONE", Err: err}
	}
	if _, err := eligibility.ParseCutoff(c.EligibilityDate, loc); err != nil {
		return &model.ConfigError{Field: "ELIGIBILITY_DATE", Err: err}
	}

	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return &model.ConfigError{Field: "REDIS_URL", Err: errors.New("required when SESSION_STORE=redis")}
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return &model.ConfigError{Field: "DATABASE_URL", Err: errors.New("required when SESSION_STORE=postgres")}
		}
	default:
		return &model.ConfigError{
			Field: "SESSION_STORE",
			Err:   fmt.Errorf("unknown store %q", c.SessionStore),
		}
	}

	if c.OutboundTimeout <= 0 {
		return &model.ConfigError{Field: "OUTBOUND_TIMEOUT", Err: errors.New("must be positive")}
	}
	if c.RateLimitAuth < 1 {
		return &model.ConfigError{Field: "RATE_LIMIT_AUTH", Err: errors.New("must be at least 1")}
	}
	if c.SessionCleanupInterval <= 0 {
		return &model.ConfigError{Field: "SESSION_CLEANUP_INTERVAL", Err: errors.New("must be positive")}
	}

	return nil
}

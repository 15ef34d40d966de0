// Package session はCookieで識別する訪問者セッションの読み書きを提供する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/hitoshi/ballotgate/internal/model"
	"github.com/hitoshi/ballotgate/internal/repository"
)

const (
	// DefaultCookieName はセッションCookieの名前。
	DefaultCookieName = "sid"
	// DefaultTTL はセッションの有効期間。最終書き込みから起算する。
	DefaultTTL = time.Hour
	// MinSecretLength は署名用シークレットの最小長。
	MinSecretLength = 32
)

// Config はセッションマネージャーの設定。
type Config struct {
	Secret       string
	CookieName   string
	CookieDomain string
	CookieSecure bool
	TTL          time.Duration
}

// Manager はセッションの読み込み・保存・破棄を行う。
// セッションの実体はリポジトリに置き、CookieにはIDと署名のみを保持する。
type Manager struct {
	repo   repository.SessionRepository
	signer *signer
	config Config
	now    func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(repo repository.SessionRepository, config Config) (*Manager, error) {
	if len(config.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d characters", MinSecretLength)
	}
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	return &Manager{
		repo:   repo,
		signer: newSigner(config.Secret),
		config: config,
		now:    time.Now,
	}, nil
}

// Load はリクエストのCookieからセッションを読み込む。
// Cookieが無い、署名が不正、または期限切れの場合は未保存の新しいセッションを返す。
// 戻り値のbool はストアから読み込んだ既存セッションかどうか。
func (m *Manager) Load(r *http.Request) (*model.Session, bool, error) {
	cookie, err := r.Cookie(m.config.CookieName)
	if err == nil && cookie.Value != "" {
		if id, verr := m.signer.Verify(cookie.Value); verr == nil {
			s, ferr := m.repo.FindByID(r.Context(), id)
			if ferr != nil {
				return nil, false, fmt.Errorf("failed to load session: %w", ferr)
			}
			if s != nil {
				return s, true, nil
			}
		}
	}

	s, err := m.newSession()
	if err != nil {
		return nil, false, err
	}
	return s, false, nil
}

// Save はセッションを保存し、有効期限を延長したCookieを設定する。
// レスポンスヘッダーを書き込む前に呼び出すこと。
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *model.Session) error {
	now := m.now()
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(m.config.TTL)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}

	if err := m.repo.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    m.signer.Sign(s.ID),
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   int(m.config.TTL / time.Second),
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		// IdPからのトップレベルGETリダイレクトでCookieを送るためLaxとする
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Renew はセッションIDを新しい値に置き換え、旧IDのレコードを削除する。
// 認証済みプロフィールを結び付ける直前に呼び出し、ログイン前に発行されたIDを使えなくする。
// 新しいIDのCookieは続くSaveで発行される。
func (m *Manager) Renew(ctx context.Context, s *model.Session) error {
	id, err := generateSessionID()
	if err != nil {
		return fmt.Errorf("failed to generate session ID: %w", err)
	}
	if err := m.repo.DeleteByID(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to delete previous session: %w", err)
	}

	s.ID = id
	s.CreatedAt = time.Time{}
	return nil
}

// Destroy はセッションを削除し、Cookieをクリアする。
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *model.Session) error {
	if err := m.repo.DeleteByID(ctx, s.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   m.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// CookieName はセッションCookieの名前を返す。
func (m *Manager) CookieName() string {
	return m.config.CookieName
}

func (m *Manager) newSession() (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	return &model.Session{ID: id}, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

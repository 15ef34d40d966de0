package allowlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// storedToken は保存済みトークンファイルの形式。
// oauth2.Tokenの形式に加え、ミリ秒エポックのexpiry_dateも受け付ける。
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	ExpiryDate   int64     `json:"expiry_date"`
}

func (s storedToken) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		Expiry:       s.Expiry,
	}
	if tok.Expiry.IsZero() && s.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(s.ExpiryDate)
	}
	// 期限不明のトークンはリフレッシュトークンで取り直す
	if tok.Expiry.IsZero() && tok.RefreshToken != "" {
		tok.Expiry = time.Unix(1, 0)
	}
	return tok
}

// ClientOptionsFromFiles はインストール型OAuthクライアントの認証情報と保存済みトークンから
// Sheets APIのクライアントオプションを組み立てる。
// httpClientがnilでなければトークンのリフレッシュにも使う。
func ClientOptionsFromFiles(ctx context.Context, credentialsPath, tokenPath string, httpClient *http.Client) ([]option.ClientOption, error) {
	credJSON, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	conf, err := google.ConfigFromJSON(credJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	tokJSON, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(tokJSON, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if stored.AccessToken == "" && stored.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s has neither access_token nor refresh_token", tokenPath)
	}

	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	ts := conf.TokenSource(ctx, stored.token())

	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

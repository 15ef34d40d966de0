package allowlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func installedCredentials(tokenURL string) string {
	return `{"installed":{"client_id":"cid","client_secret":"csecret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"` + tokenURL + `","redirect_uris":["http://localhost"]}}`
}

func TestClientOptionsFromFiles_Valid(t *testing.T) {
	dir := t.TempDir()
	cred := writeFile(t, dir, "credentials.json", installedCredentials("https://oauth2.googleapis.com/token"))
	tok := writeFile(t, dir, "token.json", `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expiry_date":4102444800000}`)

	opts, err := ClientOptionsFromFiles(context.Background(), cred, tok, nil)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestClientOptionsFromFiles_Errors(t *testing.T) {
	dir := t.TempDir()
	cred := writeFile(t, dir, "credentials.json", installedCredentials("https://oauth2.googleapis.com/token"))
	tok := writeFile(t, dir, "token.json", `{"refresh_token":"rt"}`)
	badJSON := writeFile(t, dir, "bad.json", `{`)
	emptyTok := writeFile(t, dir, "empty.json", `{}`)

	tests := []struct {
		name  string
		cred  string
		token string
	}{
		{"missing credentials", filepath.Join(dir, "nope.json"), tok},
		{"invalid credentials", badJSON, tok},
		{"missing token", cred, filepath.Join(dir, "nope.json")},
		{"invalid token", cred, badJSON},
		{"token without secrets", cred, emptyTok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ClientOptionsFromFiles(context.Background(), tt.cred, tt.token, nil)
			assert.Error(t, err)
		})
	}
}

func TestStoredToken_Expiry(t *testing.T) {
	tests := []struct {
		name       string
		stored     storedToken
		wantValid  bool
		wantExpiry time.Time
	}{
		{
			name:       "millisecond expiry_date",
			stored:     storedToken{AccessToken: "at", ExpiryDate: 4102444800000},
			wantValid:  true,
			wantExpiry: time.UnixMilli(4102444800000),
		},
		{
			name:      "refresh token without expiry is refreshed",
			stored:    storedToken{AccessToken: "at", RefreshToken: "rt"},
			wantValid: false,
		},
		{
			name:      "access token only never expires",
			stored:    storedToken{AccessToken: "at"},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := tt.stored.token()
			assert.Equal(t, tt.wantValid, tok.Valid())
			if !tt.wantExpiry.IsZero() {
				assert.True(t, tok.Expiry.Equal(tt.wantExpiry))
			}
		})
	}
}

// TestClientOptionsFromFiles_RefreshesThroughClient は期限不明のトークンがリフレッシュされ、
// その結果がSheets API呼び出しに使われることを検証する。
func TestClientOptionsFromFiles_RefreshesThroughClient(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth string
	fake := &fakeSheets{rows: [][]interface{}{{"alice"}}}
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fake.ServeHTTP(w, r)
	}))
	defer apiSrv.Close()

	dir := t.TempDir()
	cred := writeFile(t, dir, "credentials.json", installedCredentials(tokenSrv.URL))
	tok := writeFile(t, dir, "token.json", `{"refresh_token":"rt"}`)

	opts, err := ClientOptionsFromFiles(context.Background(), cred, tok, tokenSrv.Client())
	require.NoError(t, err)

	c, err := NewSheetsConnector(context.Background(),
		SheetsConfig{SpreadsheetID: testSpreadsheetID},
		nil,
		append(opts, option.WithEndpoint(apiSrv.URL+"/"))...,
	)
	require.NoError(t, err)

	assert.True(t, c.Exists(context.Background(), "alice"))
	assert.Equal(t, "Bearer fresh-token", gotAuth)
}

// Package web はサーバーサイドで描画するHTMLページを提供する。
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page は描画可能なページの識別子。
type Page string

const (
	PageIndex           Page = "index"
	PageBallot          Page = "ballot"
	PageIneligible      Page = "ineligible"
	PageNotFound        Page = "not_found"
	PageTooManyRequests Page = "too_many_requests"
	PageError           Page = "error"
)

var pages = []Page{
	PageIndex,
	PageBallot,
	PageIneligible,
	PageNotFound,
	PageTooManyRequests,
	PageError,
}

// 各ページの文言。
const (
	IndexTitle            = "Welcome to Reddit Auth App"
	IndexDescription      = "Authenticate with Reddit to proceed."
	IndexButtonText       = "Continue with Reddit"
	IneligibleTitle       = "Access Denied"
	IneligibleDescription = "You are ineligible to proceed further."
	IneligibleButtonText  = "Go Back to Home"
	NotFoundMessage       = "Page Not Found"
)

// IndexData はランディングページの表示内容。
type IndexData struct {
	Title       string
	Description string
	ButtonText  string
	AuthURL     string
}

// BallotData は投票ページの表示内容。
type BallotData struct {
	Username string
	FormURL  string
}

// IneligibleData は資格なしページの表示内容。
type IneligibleData struct {
	Title       string
	Description string
	ButtonText  string
	FallbackURL string
}

// NotFoundData は404ページの表示内容。
type NotFoundData struct {
	Message string
}

// Renderer は埋め込みテンプレートからページを描画する。
type Renderer struct {
	templates map[Page]*template.Template
}

// NewRenderer は全ページのテンプレートを起動時に一度だけパースする。
func NewRenderer() (*Renderer, error) {
	layout, err := template.ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	r := &Renderer{templates: make(map[Page]*template.Template, len(pages))}
	for _, p := range pages {
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone layout for %s: %w", p, err)
		}
		if _, err := t.ParseFS(templateFS, "templates/"+string(p)+".html"); err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", p, err)
		}
		r.templates[p] = t
	}
	return r, nil
}

// Render はページを描画してレスポンスに書き込む。
// テンプレートの実行が失敗した場合は何も書き込まずにエラーを返す。
func (r *Renderer) Render(w http.ResponseWriter, status int, page Page, data any) error {
	t, ok := r.templates[page]
	if !ok {
		return fmt.Errorf("unknown page: %s", page)
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", page, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}

package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	return r
}

func TestRenderer_Index(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()

	err := r.Render(w, http.StatusOK, PageIndex, IndexData{
		Title:       IndexTitle,
		Description: IndexDescription,
		ButtonText:  IndexButtonText,
		AuthURL:     "/auth",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "<title>Welcome to Reddit Auth App</title>")
	assert.Contains(t, body, IndexDescription)
	assert.Contains(t, body, `href="/auth"`)
	assert.Contains(t, body, IndexButtonText)
}

func TestRenderer_Ballot_EscapesUsernameAndURL(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()

	err := r.Render(w, http.StatusOK, PageBallot, BallotData{
		Username: "<b>spez</b>",
		FormURL:  "https://docs.google.com/forms/d/e/F/viewform?usp=pp_url&entry.1=spez",
	})
	require.NoError(t, err)

	body := w.Body.String()
	assert.Contains(t, body, "&lt;b&gt;spez&lt;/b&gt;")
	assert.NotContains(t, body, "<b>spez</b>")
	assert.Contains(t, body, `src="https://docs.google.com/forms/d/e/F/viewform?usp=pp_url&amp;entry.1=spez"`)
}

func TestRenderer_Ineligible(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()

	err := r.Render(w, http.StatusOK, PageIneligible, IneligibleData{
		Title:       IneligibleTitle,
		Description: IneligibleDescription,
		ButtonText:  IneligibleButtonText,
		FallbackURL: "https://example.com/fallback",
	})
	require.NoError(t, err)

	body := w.Body.String()
	assert.Contains(t, body, IneligibleTitle)
	assert.Contains(t, body, IneligibleDescription)
	assert.Contains(t, body, `href="https://example.com/fallback"`)
}

func TestRenderer_UnsafeFallbackURLIsNeutralized(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()

	err := r.Render(w, http.StatusOK, PageIneligible, IneligibleData{FallbackURL: "javascript:alert(1)"})
	require.NoError(t, err)
	assert.NotContains(t, w.Body.String(), "javascript:alert(1)")
}

func TestRenderer_StatusPages(t *testing.T) {
	r := newTestRenderer(t)

	tests := []struct {
		page   Page
		status int
		data   any
		want   string
	}{
		{PageNotFound, http.StatusNotFound, NotFoundData{Message: NotFoundMessage}, NotFoundMessage},
		{PageTooManyRequests, http.StatusTooManyRequests, nil, "Too Many Requests"},
		{PageError, http.StatusInternalServerError, nil, "Something Went Wrong"},
	}

	for _, tt := range tests {
		t.Run(string(tt.page), func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, r.Render(w, tt.status, tt.page, tt.data))
			assert.Equal(t, tt.status, w.Code)
			assert.True(t, strings.Contains(w.Body.String(), tt.want))
		})
	}
}

func TestRenderer_UnknownPage(t *testing.T) {
	r := newTestRenderer(t)
	w := httptest.NewRecorder()

	err := r.Render(w, http.StatusOK, Page("missing"), nil)
	assert.Error(t, err)
	assert.Empty(t, w.Body.String())
}

package enrich

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/webmentions/internal/fetcher/colly"
)

type stubFetcher struct {
	body []byte
	err  error
}

func (s stubFetcher) Get(_ context.Context, rawURL string, _ http.Header) (collyfetcher.Response, error) {
	return collyfetcher.Response{URL: rawURL, StatusCode: http.StatusOK, Body: s.body}, s.err
}

const page = `<html><body>
<article class="h-entry">
  <h1 class="p-name">Reply</h1>
  <div class="e-content">
    <p>Great post! <a href="https://example.com/a/">here</a></p>
    <p>   </p>
    <script>alert(1)</script>
    <p><em></em>Second line</p>
  </div>
</article>
</body></html>`

func TestExtract(t *testing.T) {
	t.Parallel()

	got, err := New(nil).Extract([]byte(page))
	require.NoError(t, err)
	assert.Contains(t, got, "Great post!")
	assert.Contains(t, got, `href="https://example.com/a/"`)
	assert.Contains(t, got, "Second line")
	assert.NotContains(t, got, "script")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "<em>")
	assert.NotContains(t, got, "<p></p>")
	assert.NotRegexp(t, `(?m)^\s`, got)
}

func TestExtractFallsBackToBareEContent(t *testing.T) {
	t.Parallel()

	got, err := New(nil).Extract([]byte(`<div class="e-content"><p>bare</p></div>`))
	require.NoError(t, err)
	assert.Equal(t, "<p>bare</p>", got)
}

func TestExtractNoContent(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Extract([]byte(`<p>no microformats</p>`))
	require.ErrorIs(t, err, ErrNoContent)
}

func TestContentPropagatesFetchErrors(t *testing.T) {
	t.Parallel()

	e := New(stubFetcher{err: errors.New("timeout")})
	_, err := e.Content(context.Background(), "https://slow.example/")
	require.Error(t, err)

	e = New(stubFetcher{body: []byte(page)})
	got, err := e.Content(context.Background(), "https://ok.example/")
	require.NoError(t, err)
	assert.Contains(t, got, "Great post!")
}

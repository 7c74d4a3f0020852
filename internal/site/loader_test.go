package site

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoaderLoad(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "_posts/2024-03-05-hello.md", "---\ntitle: Hello\nin_reply_to: https://other.example/post\nredirect_from:\n  - /old-hello/\n---\nSee [this](https://example.org/x).\n")
	writeFile(t, root, "_posts/2024-03-06-draft.md", "---\ntitle: Draft\npublished: false\n---\nhidden\n")
	writeFile(t, root, "about.html", "---\ntitle: About\npermalink: /about-me/\n---\n<p>about</p>\n")
	writeFile(t, root, "_drafts/idea.md", "---\ntitle: Idea\n---\nnope\n")
	writeFile(t, root, "notes/dated.md", "---\ndate: 2023-12-31 08:00:00 -0500\n---\nbody\n")
	writeFile(t, root, "styles.css", "body {}")

	loader, err := NewLoader(root, zap.NewNop())
	require.NoError(t, err)
	docs, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, docs, 3)

	byURL := make(map[string]Document)
	for _, d := range docs {
		byURL[d.URL] = d
	}

	hello, ok := byURL["/2024/03/05/hello/"]
	require.True(t, ok, "urls: %v", byURL)
	assert.Equal(t, "Hello", hello.Title)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), hello.Date)
	assert.Contains(t, hello.Content, `<a href="https://example.org/x">this</a>`)
	assert.Equal(t, []string{"/old-hello/"}, hello.Strings("redirect_from"))
	assert.Equal(t, []string{"https://other.example/post"}, hello.Strings("in_reply_to"))
	assert.Equal(t, "https://example.com/2024/03/05/hello/", hello.AbsoluteURL("https://example.com/"))

	about, ok := byURL["/about-me/"]
	require.True(t, ok)
	assert.False(t, about.HasDate())
	assert.Equal(t, "<p>about</p>\n", about.Content)

	dated, ok := byURL["/notes/dated/"]
	require.True(t, ok)
	assert.True(t, dated.HasDate())
	assert.Equal(t, 2023, dated.Date.Year())
}

func TestNewLoaderValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLoader("", nil)
	require.Error(t, err)
	_, err = NewLoader(filepath.Join(t.TempDir(), "missing"), nil)
	require.Error(t, err)
}

func TestSplitFrontMatterWithoutHeader(t *testing.T) {
	t.Parallel()

	data, body, err := splitFrontMatter([]byte("plain body"))
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, "plain body", string(body))
}

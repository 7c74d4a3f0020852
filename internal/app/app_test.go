package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/webmentions/internal/config"
	"github.com/JakeFAU/webmentions/internal/mention"
)

type remote struct {
	server  *httptest.Server
	lookups atomic.Int32
	sends   atomic.Int32
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/mentions", func(w http.ResponseWriter, req *http.Request) {
		r.lookups.Add(1)
		assert.Equal(t, "https://example.com/2024/06/01/hello/", req.URL.Query().Get("target[]"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"links":[{"id":101,"source":"https://friend.example/reply","target":"https://example.com/2024/06/01/hello/","verified_date":"2024-06-02T10:00:00Z","activity":{"type":"reply"},"data":{"content":"nice"}}]}`)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><link rel="webmention" href="/wm"></head><body>hi</body></html>`)
	})
	mux.HandleFunc("/wm", func(w http.ResponseWriter, req *http.Request) {
		r.sends.Add(1)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.NoError(t, req.ParseForm())
		assert.Equal(t, "https://example.com/2024/06/01/hello/", req.PostForm.Get("source"))
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"status":"queued"}`)
	})
	r.server = httptest.NewServer(mux)
	t.Cleanup(r.server.Close)
	return r
}

func writeSite(t *testing.T, articleURL string) string {
	t.Helper()
	dir := t.TempDir()
	posts := filepath.Join(dir, "_posts")
	require.NoError(t, os.MkdirAll(posts, 0o750))
	body := fmt.Sprintf("---\ntitle: Hello\n---\nI liked [this article](%s).\n", articleURL)
	require.NoError(t, os.WriteFile(filepath.Join(posts, "2024-06-01-hello.md"), []byte(body), 0o600))
	return dir
}

func testConfig(t *testing.T, r *remote) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Site.URL = "https://example.com"
	cfg.Site.Source = writeSite(t, r.server.URL+"/article")
	cfg.Cache.Backend = config.BackendMemory
	cfg.Webmentions.APIBase = r.server.URL + "/api"
	cfg.HTTP.RateLimitRPS = 0
	cfg.HTTP.MaxRetries = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestGatherThenSend(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t, r), zaptest.NewLogger(t), "run-test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	report, err := a.Gather(ctx)
	require.NoError(t, err)
	assert.False(t, report.Migrated)
	assert.Equal(t, 1, report.Incoming.Added)
	assert.Equal(t, 1, report.Outgoing.Queued)
	assert.EqualValues(t, 1, r.lookups.Load())

	ledger, err := a.Store().LoadIncoming(ctx)
	require.NoError(t, err)
	records := ledger.Records("/2024/06/01/hello/")
	require.Len(t, records, 1)
	assert.Equal(t, "101", records[0].ID)
	assert.Equal(t, mention.TypeReply, records[0].Type)

	summary, err := a.Send(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.EqualValues(t, 1, r.sends.Load())

	out, err := a.Store().LoadOutgoing(ctx)
	require.NoError(t, err)
	entry, ok := out.Entry("https://example.com/2024/06/01/hello/")
	require.True(t, ok)
	d, ok := entry.Get(r.server.URL + "/article")
	require.True(t, ok)
	assert.Equal(t, mention.StatusSent, d.Status)
	assert.Equal(t, map[string]any{"status": "queued"}, d.Response)

	// A second send pass finds nothing due.
	summary, err = a.Send(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Attempted)
	assert.EqualValues(t, 1, r.sends.Load())
}

func TestGatherWithoutSiteURLSkips(t *testing.T) {
	r := newRemote(t)
	cfg := testConfig(t, r)
	cfg.Site.URL = ""
	ctx := context.Background()
	a, err := Build(ctx, cfg, zaptest.NewLogger(t), "run-test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	report, err := a.Gather(ctx)
	require.NoError(t, err)
	assert.True(t, report.Incoming.Skipped)
	assert.True(t, report.Outgoing.Skipped)
	assert.Zero(t, r.lookups.Load())
}

func TestMigrateWithoutLegacyCache(t *testing.T) {
	r := newRemote(t)
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t, r), zaptest.NewLogger(t), "run-test")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(ctx) })

	migrated, err := a.Migrate(ctx)
	require.NoError(t, err)
	assert.False(t, migrated)
}

func TestBuildRejectsBadLocalDir(t *testing.T) {
	r := newRemote(t)
	cfg := testConfig(t, r)
	cfg.Cache.Backend = config.BackendLocal
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg.Cache.Dir = file

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t), "run-test")
	require.Error(t, err)
}

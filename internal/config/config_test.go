package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
site:
  url: https://example.com/
  baseurl: /blog/
  source: ./site
webmentions:
  rescan: true
  legacy_domains: ["http://old.example.com"]
  link_fields: ["in_reply_to", "bookmark_of"]
  lookup_concurrency: 4
  throttle_lookups:
    last_month: weekly
    older: never
  api_token: secret
cache:
  backend: gcs
  gcs_bucket: caches
http:
  timeout_seconds: 30
  max_retries: 5
server:
  port: 9090
logging:
  development: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/blog", cfg.SiteURL())
	assert.Equal(t, "./site", cfg.Site.Source)
	assert.True(t, cfg.Webmentions.Rescan)
	assert.Equal(t, []string{"http://old.example.com"}, cfg.Webmentions.LegacyDomains)
	assert.Equal(t, []string{"in_reply_to", "bookmark_of"}, cfg.Webmentions.LinkFields)
	assert.Equal(t, 4, cfg.Webmentions.LookupConcurrency)
	assert.Equal(t, "never", cfg.Webmentions.ThrottleLookups["older"])
	assert.Equal(t, BackendGCS, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Logging.Development)

	// Untouched keys keep their defaults.
	assert.Equal(t, 9999, cfg.Webmentions.PerPage)
	assert.Equal(t, "down", cfg.Webmentions.SortDir)
	assert.Equal(t, "webmention_io_", cfg.Cache.Prefix)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Cache.Backend)
	assert.Equal(t, []string{"in_reply_to"}, cfg.Webmentions.LinkFields)
	assert.Equal(t, 1, cfg.Webmentions.LookupConcurrency)
	assert.Empty(t, cfg.SiteURL())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "s3" }},
		{"gcs without bucket", func(c *Config) { c.Cache.Backend = BackendGCS }},
		{"local without dir", func(c *Config) { c.Cache.Dir = " " }},
		{"zero concurrency", func(c *Config) { c.Webmentions.LookupConcurrency = 0 }},
		{"bad sort dir", func(c *Config) { c.Webmentions.SortDir = "sideways" }},
		{"zero timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }},
		{"half pubsub", func(c *Config) { c.PubSub.ProjectID = "p" }},
		{"bad cooldown", func(c *Config) { c.Webmentions.ThrottleLookups = map[string]string{"older": "fortnightly"} }},
		{"unknown bucket", func(c *Config) { c.Webmentions.ThrottleLookups = map[string]string{"last_decade": "daily"} }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Webmentions.ThrottleLookups = nil
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, base.Validate())
}

func TestSiteURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com", Config{Site: SiteConfig{URL: "https://example.com/"}}.SiteURL())
	assert.Equal(t, "https://example.com/docs", Config{Site: SiteConfig{URL: "https://example.com", BaseURL: "docs"}}.SiteURL())
	assert.Empty(t, Config{Site: SiteConfig{BaseURL: "/docs"}}.SiteURL())
}

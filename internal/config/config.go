// Package config loads and validates webmention settings via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webmentions/internal/throttle"
)

// Cache backend names.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site        SiteConfig       `mapstructure:"site"`
	Webmentions WebmentionConfig `mapstructure:"webmentions"`
	Cache       CacheConfig      `mapstructure:"cache"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	DB          DBConfig         `mapstructure:"db"`
	PubSub      PubSubConfig     `mapstructure:"pubsub"`
	Server      ServerConfig     `mapstructure:"server"`
	Logging     LoggingConfig    `mapstructure:"logging"`
}

// SiteConfig locates the site and its source documents.
type SiteConfig struct {
	URL     string `mapstructure:"url"`
	BaseURL string `mapstructure:"baseurl"`
	Source  string `mapstructure:"source"`
}

// WebmentionConfig governs gathering and sending.
type WebmentionConfig struct {
	PauseLookups      bool              `mapstructure:"pause_lookups"`
	Rescan            bool              `mapstructure:"rescan"`
	LegacyDomains     []string          `mapstructure:"legacy_domains"`
	LinkFields        []string          `mapstructure:"link_fields"`
	RedactDomains     []string          `mapstructure:"redact_domains"`
	LookupConcurrency int               `mapstructure:"lookup_concurrency"`
	ThrottleLookups   map[string]string `mapstructure:"throttle_lookups"`
	APIBase           string            `mapstructure:"api_base"`
	APIToken          string            `mapstructure:"api_token"`
	PerPage           int               `mapstructure:"per_page"`
	SortDir           string            `mapstructure:"sort_dir"`
}

// CacheConfig selects where the YAML caches live.
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	Prefix    string `mapstructure:"prefix"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
}

// DBConfig enables the optional Postgres mention archive.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig enables the optional mention event publisher.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBMENTIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.url", "")
	v.SetDefault("site.baseurl", "")
	v.SetDefault("site.source", ".")
	v.SetDefault("webmentions.pause_lookups", false)
	v.SetDefault("webmentions.rescan", false)
	v.SetDefault("webmentions.legacy_domains", []string{})
	v.SetDefault("webmentions.link_fields", []string{"in_reply_to"})
	v.SetDefault("webmentions.redact_domains", []string{})
	v.SetDefault("webmentions.lookup_concurrency", 1)
	v.SetDefault("webmentions.throttle_lookups", map[string]string{})
	v.SetDefault("webmentions.api_base", "https://webmention.io/api")
	v.SetDefault("webmentions.api_token", "")
	v.SetDefault("webmentions.per_page", 9999)
	v.SetDefault("webmentions.sort_dir", "down")
	v.SetDefault("cache.backend", BackendLocal)
	v.SetDefault("cache.dir", ".jekyll-cache/webmention-io")
	v.SetDefault("cache.prefix", "webmention_io_")
	v.SetDefault("http.user_agent", "webmentions/0.1 (+https://github.com/JakeFAU/webmentions)")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.rate_limit_rps", 2)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("db.table", "webmentions")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. A missing site URL
// is allowed; gathering and queueing skip themselves in that case.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return fmt.Errorf("cache.dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket must be set for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("cache.backend must be one of local, gcs, memory; got %q", c.Cache.Backend)
	}
	if c.Webmentions.LookupConcurrency <= 0 {
		return fmt.Errorf("webmentions.lookup_concurrency must be > 0")
	}
	if c.Webmentions.PerPage <= 0 {
		return fmt.Errorf("webmentions.per_page must be > 0")
	}
	if dir := c.Webmentions.SortDir; dir != "up" && dir != "down" {
		return fmt.Errorf("webmentions.sort_dir must be up or down")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if _, err := throttle.FromConfig(c.Webmentions.ThrottleLookups, nil); err != nil {
		return fmt.Errorf("webmentions.throttle_lookups: %w", err)
	}
	return nil
}

// SiteURL joins the site url and baseurl into the absolute site root.
func (c Config) SiteURL() string {
	url := strings.TrimSuffix(strings.TrimSpace(c.Site.URL), "/")
	if url == "" {
		return ""
	}
	base := strings.Trim(strings.TrimSpace(c.Site.BaseURL), "/")
	if base == "" {
		return url
	}
	return url + "/" + base
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

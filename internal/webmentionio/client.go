// Package webmentionio queries the webmention.io mentions API.
package webmentionio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/policy/ratelimit"
	"github.com/JakeFAU/webmentions/internal/retry"
)

// DefaultBaseURL is the public webmention.io API root.
const DefaultBaseURL = "https://webmention.io/api"

// ErrStatus matches every *StatusError.
var ErrStatus = errors.New("unexpected webmention.io status")

// StatusError reports a non-200 API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webmention.io returned %d: %s", e.StatusCode, e.Body)
}

// Is lets errors.Is match ErrStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Temporary reports whether the request may succeed if repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// malformedError wraps an undecodable response body; repeating the call
// will not fix it.
type malformedError struct {
	err error
}

func (e malformedError) Error() string   { return "decode mentions: " + e.err.Error() }
func (e malformedError) Unwrap() error   { return e.err }
func (e malformedError) Temporary() bool { return false }

// Config configures the client.
type Config struct {
	BaseURL   string
	Token     string
	PerPage   int
	SortBy    string
	SortDir   string
	UserAgent string
	Timeout   time.Duration
}

// Query selects mentions of a set of targets.
type Query struct {
	Targets []string
	// SinceID limits results to mentions newer than this id; empty means all.
	SinceID string
}

// Client calls the mentions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *ratelimit.Limiter
	retry   *retry.Policy
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLimiter rate limits API calls.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

// WithRetry sets the retry policy.
func WithRetry(p *retry.Policy) Option {
	return func(cl *Client) { cl.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a client with defaults for anything left unset.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 9999
	}
	if cfg.SortBy == "" {
		cfg.SortBy = "published"
	}
	if cfg.SortDir == "" {
		cfg.SortDir = "down"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  retry.New(3),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mentions returns the raw link payloads for q in API order.
func (c *Client) Mentions(ctx context.Context, q Query) ([]map[string]any, error) {
	if len(q.Targets) == 0 {
		return nil, nil
	}
	endpoint := c.mentionsURL(q)
	var links []map[string]any
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		links, err = c.fetch(ctx, endpoint)
		if err != nil {
			c.logger.Debug("mentions request failed", zap.String("url", redactToken(endpoint)), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (c *Client) mentionsURL(q Query) string {
	params := url.Values{}
	for _, target := range q.Targets {
		params.Add("target[]", target)
	}
	if q.SinceID != "" {
		params.Set("since_id", q.SinceID)
	}
	params.Set("per-page", strconv.Itoa(c.cfg.PerPage))
	params.Set("sort-by", c.cfg.SortBy)
	params.Set("sort-dir", c.cfg.SortDir)
	if c.cfg.Token != "" {
		params.Set("token", c.cfg.Token)
	}
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/mentions?" + params.Encode()
}

func (c *Client) fetch(ctx context.Context, endpoint string) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request mentions: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only close
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read mentions: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return decodeLinks(body)
}

func decodeLinks(body []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload struct {
		Links []map[string]any `json:"links"`
	}
	if err := dec.Decode(&payload); err != nil {
		return nil, malformedError{err: err}
	}
	for i, link := range payload.Links {
		payload.Links[i] = normalizeNumbers(link).(map[string]any)
	}
	return payload.Links, nil
}

// normalizeNumbers turns json.Number values into int64 or float64.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, child := range val {
			val[k] = normalizeNumbers(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = normalizeNumbers(child)
		}
		return val
	default:
		return v
	}
}

func redactToken(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

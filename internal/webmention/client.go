// Package webmention discovers a target's webmention endpoint and notifies it.
package webmention

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/webmentions/internal/fetcher/colly"
)

// ErrNoEndpoint is returned when a target advertises no webmention endpoint.
var ErrNoEndpoint = errors.New("no webmention endpoint advertised")

var linkValue = regexp.MustCompile(`<([^>]*)>((?:\s*;\s*[^;,]+)*)`)

// Fetcher performs the HTTP requests the client needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (collyfetcher.Response, error)
	PostForm(ctx context.Context, rawURL string, form map[string]string) (collyfetcher.Response, error)
}

// Client sends webmentions.
type Client struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// New creates a client.
func New(fetcher Fetcher, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, logger: logger}
}

// DiscoverEndpoint resolves the webmention endpoint advertised by target,
// first through the Link header and then through <link> or <a> elements.
func (c *Client) DiscoverEndpoint(ctx context.Context, target string) (string, error) {
	resp, err := c.fetcher.Get(ctx, target, http.Header{"Accept": {"text/html, */*;q=0.8"}})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.RobotsAssumed {
		c.logger.Warn("robots.txt unreachable; discovering endpoint as if allowed",
			zap.String("target", target))
	}
	base := resp.URL
	if base == "" {
		base = target
	}
	if href, ok := endpointFromHeader(resp.Headers); ok {
		return resolve(base, href)
	}
	href, ok, err := endpointFromHTML(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", target, err)
	}
	if !ok {
		return "", ErrNoEndpoint
	}
	return resolve(base, href)
}

// Send notifies endpoint that source mentions target and returns the raw
// response body.
func (c *Client) Send(ctx context.Context, source, target, endpoint string) (string, error) {
	resp, err := c.fetcher.PostForm(ctx, endpoint, map[string]string{
		"source": source,
		"target": target,
	})
	if err != nil {
		return string(resp.Body), fmt.Errorf("send to %s: %w", endpoint, err)
	}
	c.logger.Debug("webmention accepted",
		zap.String("endpoint", endpoint),
		zap.String("target", target),
		zap.Int("status", resp.StatusCode))
	return string(resp.Body), nil
}

func endpointFromHeader(headers http.Header) (string, bool) {
	for _, value := range headers.Values("Link") {
		for _, m := range linkValue.FindAllStringSubmatch(value, -1) {
			if hasWebmentionRel(m[2]) {
				return m[1], true
			}
		}
	}
	return "", false
}

func hasWebmentionRel(params string) bool {
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
			continue
		}
		for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
			if strings.EqualFold(rel, "webmention") || rel == "http://webmention.org/" {
				return true
			}
		}
	}
	return false
}

func endpointFromHTML(body []byte) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	var (
		href  string
		found bool
	)
	doc.Find(`link[rel~="webmention"][href], a[rel~="webmention"][href]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, found = s.Attr("href")
		return !found
	})
	return href, found, nil
}

func resolve(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", href, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

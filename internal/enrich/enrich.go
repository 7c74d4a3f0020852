// Package enrich re-reads a mention's source page to recover the full post
// content when the discovery API only returned a truncated snippet.
package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	collyfetcher "github.com/JakeFAU/webmentions/internal/fetcher/colly"
)

// ErrNoContent is returned when the page has no h-entry content.
var ErrNoContent = errors.New("source page has no e-content")

var leadingSpace = regexp.MustCompile(`(?m)^\s+`)

// Fetcher retrieves a page.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (collyfetcher.Response, error)
}

// Enricher extracts and sanitizes h-entry content.
type Enricher struct {
	fetcher Fetcher
	policy  *bluemonday.Policy
}

// New creates an Enricher.
func New(fetcher Fetcher) *Enricher {
	policy := bluemonday.UGCPolicy()
	policy.AllowURLSchemes("http", "https", "mailto", "dat")
	return &Enricher{fetcher: fetcher, policy: policy}
}

// Content fetches source and returns its sanitized h-entry content.
func (e *Enricher) Content(ctx context.Context, source string) (string, error) {
	resp, err := e.fetcher.Get(ctx, source, http.Header{"Accept": {"text/html"}})
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", source, err)
	}
	return e.Extract(resp.Body)
}

// Extract pulls the first .h-entry .e-content (or any .e-content) out of page,
// sanitizes it, drops empty elements, and strips leading whitespace per line.
func (e *Enricher) Extract(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	content := doc.Find(".h-entry .e-content").First()
	if content.Length() == 0 {
		content = doc.Find(".e-content").First()
	}
	if content.Length() == 0 {
		return "", ErrNoContent
	}
	raw, err := content.Html()
	if err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	cleaned, err := removeEmpty(e.policy.Sanitize(raw))
	if err != nil {
		return "", err
	}
	cleaned = strings.TrimSpace(leadingSpace.ReplaceAllString(cleaned, ""))
	if cleaned == "" {
		return "", ErrNoContent
	}
	return cleaned, nil
}

var voidElements = map[string]bool{"br": true, "img": true, "hr": true}

// removeEmpty drops elements with no text, innermost first.
func removeEmpty(fragment string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + fragment + "</body>"))
	if err != nil {
		return "", fmt.Errorf("parse sanitized content: %w", err)
	}
	body := doc.Find("body")
	for {
		empty := body.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return !voidElements[goquery.NodeName(s)] && s.Find("img").Length() == 0 &&
				strings.TrimSpace(s.Text()) == ""
		})
		if empty.Length() == 0 {
			break
		}
		empty.Remove()
	}
	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render sanitized content: %w", err)
	}
	return out, nil
}

// Package site loads the documents whose webmentions are gathered and sent.
package site

import (
	"strings"
	"time"
)

// Document is one published page of the site.
type Document struct {
	// Path is the source file path relative to the site source directory.
	Path string
	// URL is the site-relative URL, e.g. /2024/01/02/hello/.
	URL   string
	Title string
	// Date is the publish date; zero when the document has none.
	Date time.Time
	// Modified is the source file modification time.
	Modified time.Time
	// Data holds the front matter.
	Data map[string]any
	// Content is the rendered HTML body.
	Content string
}

// HasDate reports whether the document carries a publish date.
func (d Document) HasDate() bool {
	return !d.Date.IsZero()
}

// AbsoluteURL joins the site base URL and the document URL.
func (d Document) AbsoluteURL(siteURL string) string {
	return strings.TrimSuffix(siteURL, "/") + d.URL
}

// Strings returns a front matter value as a list of strings. Scalars become a
// single-element list; anything else yields nil.
func (d Document) Strings(key string) []string {
	switch v := d.Data[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Package outgoing finds the URLs each document mentions and tracks them in
// the outgoing ledger until they are delivered.
package outgoing

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/metrics"
	"github.com/JakeFAU/webmentions/internal/site"
)

// DefaultLinkFields are scanned when no link fields are configured.
var DefaultLinkFields = []string{"in_reply_to"}

var uriPattern = regexp.MustCompile(`(?:https?:)?//[^\s)#"'<>]+`)

// normalizeScheme gives protocol-relative URLs an explicit http scheme.
func normalizeScheme(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "http:" + raw
	}
	return raw
}

// Config controls outgoing extraction.
type Config struct {
	SiteURL       string
	PauseLookups  bool
	LinkFields    []string
	RedactDomains []string
}

// Extractor scans documents for mentioned URLs and merges them into the
// outgoing ledger.
type Extractor struct {
	cfg      Config
	redactor *domainRedactor
	logger   *zap.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(cfg Config, logger *zap.Logger) *Extractor {
	if len(cfg.LinkFields) == 0 {
		cfg.LinkFields = DefaultLinkFields
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:      cfg,
		redactor: newDomainRedactor(cfg.RedactDomains),
		logger:   logger,
	}
}

// Targets returns the URLs doc mentions, fields first and then the body, in
// first-occurrence order. Protocol-relative URLs are keyed as http.
func (e *Extractor) Targets(doc site.Document) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		key := normalizeScheme(raw)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	for _, field := range e.cfg.LinkFields {
		for _, value := range doc.Strings(field) {
			if match := uriPattern.FindString(value); match != "" {
				add(match)
			}
		}
	}
	for _, match := range uriPattern.FindAllString(e.redactor.redact(doc.Content), -1) {
		add(match)
	}
	return out
}

// Merge folds doc into ledger. A stored entry older than the document's
// modification time is discarded first. It returns the number of targets added.
func (e *Extractor) Merge(ledger *mention.OutgoingLedger, doc site.Document) int {
	source := doc.AbsoluteURL(e.cfg.SiteURL)
	if entry, ok := ledger.Entry(source); ok && !entry.Timestamp.IsZero() && entry.Timestamp.Before(doc.Modified) {
		e.logger.Debug("document changed since last scan, rebuilding entry",
			zap.String("source", source),
			zap.Time("stored", entry.Timestamp),
			zap.Time("modified", doc.Modified))
		ledger.Drop(source)
	}
	ledger.Ensure(source)
	added := 0
	for _, target := range e.Targets(doc) {
		if ledger.AddTarget(source, target) {
			added++
		}
	}
	ledger.SetTimestamp(source, doc.Modified)
	return added
}

// Summary reports what a gather pass did.
type Summary struct {
	Documents int
	Queued    int
	Skipped   bool
}

// Run merges every document into the stored outgoing ledger and saves it.
func (e *Extractor) Run(ctx context.Context, store *cache.Store, docs []site.Document) (Summary, error) {
	if reason := skipReason(e.cfg.SiteURL, e.cfg.PauseLookups); reason != "" {
		e.logger.Info(reason)
		return Summary{Skipped: true}, nil
	}
	e.logger.Info("gathering webmentions you have made", zap.Int("documents", len(docs)))

	ledger, err := store.LoadOutgoing(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load outgoing cache: %w", err)
	}
	summary := Summary{Documents: len(docs)}
	for _, doc := range docs {
		summary.Queued += e.Merge(ledger, doc)
	}
	if err := store.SaveOutgoing(ctx, ledger); err != nil {
		return summary, fmt.Errorf("save outgoing cache: %w", err)
	}
	metrics.ObserveQueued(summary.Queued)
	e.logger.Info("outgoing webmentions queued",
		zap.Int("documents", summary.Documents),
		zap.Int("new_targets", summary.Queued),
		zap.Int("pending", ledger.PendingCount()))
	return summary, nil
}

func skipReason(siteURL string, paused bool) string {
	switch {
	case strings.TrimSpace(siteURL) == "":
		return "site url is not configured; skipping outgoing webmentions"
	case strings.Contains(siteURL, "localhost"):
		return "outgoing webmentions are not gathered on localhost"
	case paused:
		return "webmention lookups are currently paused"
	default:
		return ""
	}
}

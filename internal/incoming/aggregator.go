// Package incoming gathers the webmentions other sites have sent to this one
// and merges them into the incoming ledger.
package incoming

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/clock/system"
	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/metrics"
	"github.com/JakeFAU/webmentions/internal/publisher"
	"github.com/JakeFAU/webmentions/internal/site"
	"github.com/JakeFAU/webmentions/internal/throttle"
	"github.com/JakeFAU/webmentions/internal/webmentionio"
)

// Discoverer lists the mentions of a set of targets.
type Discoverer interface {
	Mentions(ctx context.Context, q webmentionio.Query) ([]map[string]any, error)
}

// Enricher recovers the full content of a mention's source page.
type Enricher interface {
	Content(ctx context.Context, source string) (string, error)
}

// Archiver keeps a durable copy of every new mention.
type Archiver interface {
	Archive(ctx context.Context, document string, rec mention.Record) (bool, error)
}

// Config controls incoming gathering.
type Config struct {
	SiteURL       string
	PauseLookups  bool
	Rescan        bool
	LegacyDomains []string
	Concurrency   int
	RunID         string
	// SortDir is the order the discovery API returns links in: "down"
	// (newest first, the default) or "up".
	SortDir string
}

// SortAscending is the SortDir value for oldest-first responses.
const SortAscending = "up"

// Aggregator looks up and caches incoming mentions per document.
type Aggregator struct {
	cfg       Config
	api       Discoverer
	policy    *throttle.Policy
	enricher  Enricher
	archive   Archiver
	publisher publisher.Publisher
	clock     throttle.Clock
	logger    *zap.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithEnricher enables source rescans when Config.Rescan is set.
func WithEnricher(e Enricher) Option {
	return func(a *Aggregator) { a.enricher = e }
}

// WithArchive archives every new mention.
func WithArchive(ar Archiver) Option {
	return func(a *Aggregator) { a.archive = ar }
}

// WithPublisher announces every new mention.
func WithPublisher(p publisher.Publisher) Option {
	return func(a *Aggregator) { a.publisher = p }
}

// WithClock overrides the clock used for event timestamps.
func WithClock(c throttle.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// New creates an Aggregator.
func New(cfg Config, api Discoverer, policy *throttle.Policy, logger *zap.Logger, opts ...Option) *Aggregator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		cfg:    cfg,
		api:    api,
		policy: policy,
		clock:  system.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Summary reports what a gather pass did.
type Summary struct {
	Documents int
	Checked   int
	Throttled int
	Failed    int
	Added     int
	Skipped   bool
}

// Run loads the incoming ledger, gathers mentions for docs, and writes the
// ledger back if anything new was learned.
func (a *Aggregator) Run(ctx context.Context, store *cache.Store, docs []site.Document) (Summary, error) {
	if reason := a.skipReason(); reason != "" {
		a.logger.Info(reason)
		return Summary{Skipped: true}, nil
	}
	a.logger.Info("gathering webmentions of your posts", zap.Int("documents", len(docs)))

	ledger, err := store.LoadIncoming(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load incoming cache: %w", err)
	}
	summary := a.Gather(ctx, ledger, docs)
	if _, err := store.SaveIfDirty(ctx, cache.KindIncoming, ledger); err != nil {
		return summary, fmt.Errorf("save incoming cache: %w", err)
	}
	a.logger.Info("incoming webmentions gathered",
		zap.Int("documents", summary.Documents),
		zap.Int("checked", summary.Checked),
		zap.Int("throttled", summary.Throttled),
		zap.Int("failed", summary.Failed),
		zap.Int("added", summary.Added))
	return summary, nil
}

// batch is the outcome of one document lookup.
type batch struct {
	records   []mention.Record
	checked   bool
	throttled bool
	failed    bool
}

// Gather looks up every document and merges the results into ledger. Lookups
// run concurrently and only read the ledger; batches are applied afterwards in
// document order so a failed lookup never leaves a partial entry.
func (a *Aggregator) Gather(ctx context.Context, ledger *mention.IncomingLedger, docs []site.Document) Summary {
	batches := make([]batch, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i := range docs {
		g.Go(func() error {
			batches[i] = a.lookup(gctx, ledger, docs[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{Documents: len(docs)}
	for i, b := range batches {
		switch {
		case b.throttled:
			summary.Throttled++
			metrics.ObserveLookup(metrics.OutcomeThrottled)
			metrics.ObserveThrottled(metrics.DirectionIncoming)
			continue
		case b.failed:
			summary.Failed++
			metrics.ObserveLookup(metrics.OutcomeFailed)
			continue
		case b.checked:
			summary.Checked++
			metrics.ObserveLookup(metrics.OutcomeChecked)
		}
		doc := docs[i].URL
		for _, rec := range b.records {
			if !ledger.Add(doc, rec) {
				continue
			}
			summary.Added++
			metrics.ObserveDiscovered(string(rec.Type))
			a.logger.Debug("cached new webmention",
				zap.String("document", doc),
				zap.String("id", rec.ID),
				zap.String("source", rec.Source),
				zap.String("type", string(rec.Type)))
			a.announce(ctx, doc, rec)
		}
	}
	return summary
}

func (a *Aggregator) lookup(ctx context.Context, ledger *mention.IncomingLedger, doc site.Document) batch {
	logger := a.logger.With(zap.String("document", doc.URL))
	logger.Debug("checking for webmentions")

	last, seen := ledger.Last(doc.URL)
	if doc.HasDate() && seen {
		if d := a.policy.Decide(doc.Date, last.VerifiedDate); d.Throttle {
			logger.Info("throttling this post",
				zap.String("title", doc.Title),
				zap.String("bucket", d.Bucket),
				zap.String("cooldown", d.Cooldown.String()))
			return batch{throttled: true}
		}
	}

	query := webmentionio.Query{Targets: a.Targets(doc)}
	if seen {
		query.SinceID = last.SinceID()
	}
	links, err := a.api.Mentions(ctx, query)
	if err != nil {
		logger.Warn("webmention lookup failed; leaving cache entry unchanged", zap.Error(err))
		return batch{failed: true}
	}
	if len(links) == 0 {
		logger.Warn("no webmentions found", zap.String("since_id", query.SinceID))
	} else {
		logger.Info("webmentions found", zap.Int("count", len(links)))
	}

	records := make([]mention.Record, 0, len(links))
	for _, link := range a.oldestFirst(links) {
		a.rescan(ctx, logger, link)
		rec, err := mention.NewRecord(link)
		if err != nil {
			logger.Warn("skipping malformed webmention", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return batch{records: records, checked: true}
}

// oldestFirst orders links so the newest is cached last and becomes the
// since_id cursor.
func (a *Aggregator) oldestFirst(links []map[string]any) []map[string]any {
	if a.cfg.SortDir == SortAscending {
		return links
	}
	out := make([]map[string]any, len(links))
	for i, link := range links {
		out[len(links)-1-i] = link
	}
	return out
}

// rescan replaces the API's content snippet with the source page's own
// h-entry content. Failures keep the snippet.
func (a *Aggregator) rescan(ctx context.Context, logger *zap.Logger, link map[string]any) {
	if !a.cfg.Rescan || a.enricher == nil {
		return
	}
	data, ok := link["data"].(map[string]any)
	if !ok {
		return
	}
	source, _ := link["source"].(string)
	if source == "" {
		return
	}
	content, err := a.enricher.Content(ctx, source)
	if err != nil {
		logger.Info("could not rescan source", zap.String("source", source), zap.Error(err))
		return
	}
	data["content"] = content
}

// Targets lists the URLs doc may have been mentioned under: its canonical URL,
// each redirect_from alias, and the canonical URL on every legacy domain.
func (a *Aggregator) Targets(doc site.Document) []string {
	base := strings.TrimSuffix(a.cfg.SiteURL, "/")
	canonical := base + doc.URL
	seen := map[string]struct{}{}
	var targets []string
	add := func(u string) {
		if _, dup := seen[u]; dup || u == "" {
			return
		}
		seen[u] = struct{}{}
		targets = append(targets, u)
	}
	add(canonical)
	for _, redirect := range doc.Strings("redirect_from") {
		if strings.HasPrefix(redirect, "http://") || strings.HasPrefix(redirect, "https://") {
			add(redirect)
			continue
		}
		if !strings.HasPrefix(redirect, "/") {
			redirect = "/" + redirect
		}
		add(base + redirect)
	}
	for _, domain := range a.cfg.LegacyDomains {
		domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
		if domain == "" {
			continue
		}
		add(domain + strings.TrimPrefix(canonical, base))
	}
	return targets
}

func (a *Aggregator) announce(ctx context.Context, doc string, rec mention.Record) {
	if a.archive != nil {
		if _, err := a.archive.Archive(ctx, doc, rec); err != nil {
			a.logger.Warn("archive webmention failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	if a.publisher != nil {
		event := publisher.MentionEvent{
			RunID:        a.cfg.RunID,
			Document:     doc,
			ID:           rec.ID,
			Source:       rec.Source,
			Target:       rec.Target,
			Type:         string(rec.Type),
			VerifiedDate: rec.VerifiedDate,
			OccurredAt:   a.now(),
		}
		if _, err := a.publisher.Publish(ctx, publisher.TopicMentionDiscovered, event); err != nil {
			a.logger.Warn("publish webmention event failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
}

func (a *Aggregator) now() time.Time {
	return a.clock.Now()
}

func (a *Aggregator) skipReason() string {
	switch {
	case strings.TrimSpace(a.cfg.SiteURL) == "":
		return "site url is not configured; skipping webmention gathering"
	case strings.Contains(a.cfg.SiteURL, "localhost"):
		return "webmentions are not gathered on localhost"
	case a.cfg.PauseLookups:
		return "webmention gathering is currently paused"
	default:
		return ""
	}
}

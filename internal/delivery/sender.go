// Package delivery sends the webmentions queued in the outgoing ledger.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/clock/system"
	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/metrics"
	"github.com/JakeFAU/webmentions/internal/outgoing"
	"github.com/JakeFAU/webmentions/internal/publisher"
	"github.com/JakeFAU/webmentions/internal/throttle"
	"github.com/JakeFAU/webmentions/internal/webmention"
)

// Client discovers endpoints and sends webmentions to them.
type Client interface {
	DiscoverEndpoint(ctx context.Context, target string) (string, error)
	Send(ctx context.Context, source, target, endpoint string) (string, error)
}

// Sender walks the outgoing ledger and delivers pending targets.
type Sender struct {
	client    Client
	policy    *throttle.Policy
	clock     throttle.Clock
	publisher publisher.Publisher
	runID     string
	logger    *zap.Logger
}

// Option customizes a Sender.
type Option func(*Sender)

// WithClock overrides the clock used to stamp attempts.
func WithClock(c throttle.Clock) Option {
	return func(s *Sender) { s.clock = c }
}

// WithPublisher announces every successful send.
func WithPublisher(p publisher.Publisher, runID string) Option {
	return func(s *Sender) {
		s.publisher = p
		s.runID = runID
	}
}

// New creates a Sender.
func New(client Client, policy *throttle.Policy, logger *zap.Logger, opts ...Option) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sender{client: client, policy: policy, clock: system.New(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summary counts the outcome of a send pass.
type Summary struct {
	Sent      int
	Attempted int
	Throttled int
	Failed    int
}

// Run sends every due target in the outgoing cache and writes the cache back
// when an attempt was recorded. A legacy cache layout aborts the run.
func (s *Sender) Run(ctx context.Context, store *cache.Store) (Summary, error) {
	if err := outgoing.CheckFormat(ctx, store); err != nil {
		return Summary{}, err
	}
	ledger, err := store.LoadOutgoing(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load outgoing cache: %w", err)
	}
	summary := s.Deliver(ctx, ledger)
	if _, err := store.SaveIfDirty(ctx, cache.KindOutgoing, ledger); err != nil {
		return summary, fmt.Errorf("save outgoing cache: %w", err)
	}
	s.logger.Info(fmt.Sprintf("%d webmentions sent, %d attempted", summary.Sent, summary.Attempted),
		zap.Int("sent", summary.Sent),
		zap.Int("attempted", summary.Attempted),
		zap.Int("throttled", summary.Throttled),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// Deliver attempts every due target in ledger, recording results in place.
func (s *Sender) Deliver(ctx context.Context, ledger *mention.OutgoingLedger) Summary {
	var summary Summary
	for _, source := range ledger.Sources() {
		entry, ok := ledger.Entry(source)
		if !ok {
			continue
		}
		for _, target := range entry.Targets() {
			if err := ctx.Err(); err != nil {
				s.logger.Warn("send pass interrupted", zap.Error(err))
				return summary
			}
			d, _ := entry.Get(target)
			if !s.due(entry, target, d) {
				if d.Status == mention.StatusSent {
					summary.Throttled++
				}
				continue
			}
			s.attempt(ctx, ledger, source, target, &summary)
		}
	}
	return summary
}

func (s *Sender) due(entry *mention.OutgoingEntry, target string, d mention.Delivery) bool {
	switch d.Status {
	case mention.StatusPending:
		return true
	case mention.StatusSent:
		if d.At.IsZero() {
			return true
		}
		if s.policy.ShouldThrottle(entry.Timestamp, d.At) {
			s.logger.Info("throttling target", zap.String("target", target))
			metrics.ObserveThrottled(metrics.DirectionOutgoing)
			return false
		}
		return true
	default:
		return false
	}
}

func (s *Sender) attempt(ctx context.Context, ledger *mention.OutgoingLedger, source, key string, summary *Summary) {
	target := key
	if strings.HasPrefix(target, "//") {
		target = "http:" + target
	}
	logger := s.logger.With(zap.String("source", source), zap.String("target", target))

	endpoint, err := s.client.DiscoverEndpoint(ctx, target)
	switch {
	case errors.Is(err, webmention.ErrNoEndpoint):
		logger.Debug("target advertises no webmention endpoint")
		ledger.Record(source, key, mention.Sent(s.clock.Now(), nil))
		summary.Attempted++
		metrics.ObserveSend(target, metrics.OutcomeNoTarget)
		return
	case err != nil:
		logger.Warn("endpoint discovery failed; target left queued", zap.Error(err))
		summary.Failed++
		metrics.ObserveSend(target, metrics.OutcomeFailed)
		return
	}

	body, err := s.client.Send(ctx, source, target, endpoint)
	if err != nil {
		logger.Warn("webmention send failed; target left queued", zap.String("endpoint", endpoint), zap.Error(err))
		summary.Failed++
		metrics.ObserveSend(target, metrics.OutcomeFailed)
		return
	}
	now := s.clock.Now()
	ledger.Record(source, key, mention.Sent(now, parseResponse(body)))
	summary.Attempted++
	summary.Sent++
	metrics.ObserveSend(target, metrics.OutcomeSent)
	logger.Info("webmention sent", zap.String("endpoint", endpoint))

	if s.publisher != nil {
		event := publisher.MentionEvent{
			RunID:      s.runID,
			Document:   source,
			Source:     source,
			Target:     target,
			OccurredAt: now,
		}
		if _, err := s.publisher.Publish(ctx, publisher.TopicMentionSent, event); err != nil {
			logger.Warn("publish send event failed", zap.Error(err))
		}
	}
}

// parseResponse decodes a JSON body, keeping the raw text when it is not JSON.
func parseResponse(body string) any {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return body
	}
	return parsed
}

package outgoing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/mention"
)

// Migrate converts the old sent and queued caches into an outgoing ledger.
// Every queued target becomes pending unless sent also lists it, in which case
// the sent response (or "" when none was stored) is kept as a legacy value.
// Neither input is modified.
func Migrate(sent, queued *mention.LegacyLedger) *mention.OutgoingLedger {
	out := mention.NewOutgoingLedger()
	if queued == nil {
		return out
	}
	if sent == nil {
		sent = mention.NewLegacyLedger()
	}
	for _, source := range queued.Sources() {
		entry, _ := queued.Entry(source)
		out.Ensure(source)
		if !entry.Timestamp.IsZero() {
			out.SetTimestamp(source, entry.Timestamp)
		}
		for _, target := range entry.Targets() {
			response, wasSent := sent.Lookup(source, target)
			if !wasSent || response == false {
				out.AddTarget(source, target)
				continue
			}
			if response == nil {
				response = ""
			}
			out.Record(source, target, mention.Legacy(response))
		}
	}
	return out
}

// Upgrade migrates a legacy cache in place. It is a no-op when no legacy
// sent file exists. It reports whether a migration ran.
func Upgrade(ctx context.Context, store *cache.Store, logger *zap.Logger) (bool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	hasSent, err := store.Exists(ctx, cache.KindSent)
	if err != nil {
		return false, err
	}
	if !hasSent {
		return false, nil
	}
	sent, err := store.LoadLegacy(ctx, cache.KindSent)
	if err != nil {
		return false, fmt.Errorf("load legacy sent cache: %w", err)
	}
	queued, err := store.LoadLegacy(ctx, cache.KindQueued)
	if err != nil {
		return false, fmt.Errorf("load legacy queued cache: %w", err)
	}
	ledger := Migrate(sent, queued)
	if err := store.SaveOutgoing(ctx, ledger); err != nil {
		return false, fmt.Errorf("save migrated outgoing cache: %w", err)
	}
	for _, kind := range []cache.Kind{cache.KindSent, cache.KindQueued} {
		if err := store.Remove(ctx, kind); err != nil {
			return true, err
		}
	}
	logger.Info("upgraded your sent webmentions cache",
		zap.Int("sources", len(ledger.Sources())),
		zap.Int("pending", ledger.PendingCount()))
	return true, nil
}

// CheckFormat fails with cache.ErrStaleCacheFormat when a legacy sent file is
// still present.
func CheckFormat(ctx context.Context, store *cache.Store) error {
	hasSent, err := store.Exists(ctx, cache.KindSent)
	if err != nil {
		return err
	}
	if hasSent {
		return fmt.Errorf("%s found: %w", store.Name(cache.KindSent), cache.ErrStaleCacheFormat)
	}
	return nil
}

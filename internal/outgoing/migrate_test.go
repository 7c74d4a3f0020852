package outgoing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/mention"
)

const (
	legacySent = `https://example.com/a/:
  https://t1.example/: resp
`
	legacyQueued = `https://example.com/a/:
  timestamp: 2024-05-01 10:00:00.000000000 +00:00
  https://t1.example/: ""
  https://t2.example/: ""
`
)

func decodeLegacy(t *testing.T, doc string) *mention.LegacyLedger {
	t.Helper()
	ledger := mention.NewLegacyLedger()
	require.NoError(t, yaml.Unmarshal([]byte(doc), ledger))
	return ledger
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	sent := decodeLegacy(t, legacySent)
	queued := decodeLegacy(t, legacyQueued)

	out := Migrate(sent, queued)
	entry, ok := out.Entry("https://example.com/a/")
	require.True(t, ok)
	assert.Equal(t, t0, entry.Timestamp.UTC())
	assert.Equal(t, []string{"https://t1.example/", "https://t2.example/"}, entry.Targets())

	d1, _ := entry.Get("https://t1.example/")
	assert.Equal(t, mention.Legacy("resp"), d1)
	d2, _ := entry.Get("https://t2.example/")
	assert.True(t, d2.IsPending())

	_, stillThere := queued.Lookup("https://example.com/a/", "https://t2.example/")
	assert.True(t, stillThere, "inputs are not modified")
}

func TestMigrateEmptySentResponse(t *testing.T) {
	t.Parallel()

	sent := mention.NewLegacyLedger()
	sent.Set("https://example.com/a/", "https://t1.example/", nil)
	queued := mention.NewLegacyLedger()
	queued.Set("https://example.com/a/", "https://t1.example/", "")

	out := Migrate(sent, queued)
	entry, _ := out.Entry("https://example.com/a/")
	d, _ := entry.Get("https://t1.example/")
	assert.Equal(t, mention.Legacy(""), d)
}

func TestUpgrade(t *testing.T) {
	t.Parallel()

	store, backend := newTestStore(t)
	ctx := context.Background()

	ran, err := Upgrade(ctx, store, nil)
	require.NoError(t, err)
	assert.False(t, ran, "no legacy files, nothing to do")
	require.NoError(t, CheckFormat(ctx, store))

	require.NoError(t, backend.Put(ctx, store.Name(cache.KindSent), []byte(legacySent)))
	require.NoError(t, backend.Put(ctx, store.Name(cache.KindQueued), []byte(legacyQueued)))

	err = CheckFormat(ctx, store)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cache.ErrStaleCacheFormat))

	ran, err = Upgrade(ctx, store, nil)
	require.NoError(t, err)
	assert.True(t, ran)

	for _, kind := range []cache.Kind{cache.KindSent, cache.KindQueued} {
		exists, err := store.Exists(ctx, kind)
		require.NoError(t, err)
		assert.False(t, exists, "legacy %s file removed", kind)
	}
	require.NoError(t, CheckFormat(ctx, store))

	ledger, err := store.LoadOutgoing(ctx)
	require.NoError(t, err)
	entry, ok := ledger.Entry("https://example.com/a/")
	require.True(t, ok)
	d1, _ := entry.Get("https://t1.example/")
	assert.Equal(t, mention.StatusLegacy, d1.Status)
	assert.Equal(t, "resp", d1.Response)
	d2, _ := entry.Get("https://t2.example/")
	assert.True(t, d2.IsPending())
}

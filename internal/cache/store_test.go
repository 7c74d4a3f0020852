package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/storage/memory"
)

func newStore(t *testing.T) (*Store, *memory.BlobStore) {
	t.Helper()
	backend := memory.NewBlobStore()
	store, err := New(backend, "", zap.NewNop())
	require.NoError(t, err)
	return store, backend
}

func TestNewRequiresBackend(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", nil)
	require.Error(t, err)
}

func TestName(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	assert.Equal(t, "webmention_io_incoming.yml", store.Name(KindIncoming))
	assert.Equal(t, "webmention_io_sent.yml", store.Name(KindSent))

	custom, err := New(memory.NewBlobStore(), "site_", nil)
	require.NoError(t, err)
	assert.Equal(t, "site_outgoing.yml", custom.Name(KindOutgoing))
}

func TestLoadMissingReturnsEmptyLedgers(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()

	incoming, err := store.LoadIncoming(ctx)
	require.NoError(t, err)
	assert.Empty(t, incoming.Documents())
	assert.False(t, incoming.Dirty())

	outgoing, err := store.LoadOutgoing(ctx)
	require.NoError(t, err)
	assert.Empty(t, outgoing.Sources())
}

func TestIncomingRoundTrip(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	ctx := context.Background()

	ledger := mention.NewIncomingLedger()
	ledger.Add("https://example.com/a/", mention.Record{ID: "9", Source: "https://other.example/x", Type: mention.TypeReply})
	ledger.Add("https://example.com/a/", mention.Record{ID: "3", Source: "https://other.example/y", Type: mention.TypeLike})
	require.NoError(t, store.SaveIncoming(ctx, ledger))

	loaded, err := store.LoadIncoming(ctx)
	require.NoError(t, err)
	last, ok := loaded.Last("https://example.com/a/")
	require.True(t, ok)
	assert.Equal(t, "3", last.ID)
	assert.Equal(t, mention.TypeLike, last.Type)
	assert.Equal(t, 1, backend.Writes(store.Name(KindIncoming)))
}

func TestSaveIfDirty(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	ctx := context.Background()

	ledger := mention.NewOutgoingLedger()
	wrote, err := store.SaveIfDirty(ctx, KindOutgoing, ledger)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Zero(t, backend.Writes(store.Name(KindOutgoing)))

	ledger.SetTimestamp("https://example.com/a/", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	ledger.AddTarget("https://example.com/a/", "https://target.example/")
	wrote, err = store.SaveIfDirty(ctx, KindOutgoing, ledger)
	require.NoError(t, err)
	assert.True(t, wrote)

	loaded, err := store.LoadOutgoing(ctx)
	require.NoError(t, err)
	assert.False(t, loaded.Dirty())
	entry, ok := loaded.Entry("https://example.com/a/")
	require.True(t, ok)
	d, ok := entry.Get("https://target.example/")
	require.True(t, ok)
	assert.True(t, d.IsPending())
}

func TestLegacyHelpers(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, KindSent)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Put(ctx, store.Name(KindSent), []byte("https://a.example/:\n  https://t.example/: ok\n")))
	ok, err = store.Exists(ctx, KindSent)
	require.NoError(t, err)
	assert.True(t, ok)

	sent, err := store.LoadLegacy(ctx, KindSent)
	require.NoError(t, err)
	value, found := sent.Lookup("https://a.example/", "https://t.example/")
	require.True(t, found)
	assert.Equal(t, "ok", value)

	require.NoError(t, store.Remove(ctx, KindSent))
	ok, err = store.Exists(ctx, KindSent)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadRejectsMalformedCache(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, store.Name(KindIncoming), []byte("- just\n- a list\n")))

	_, err := store.LoadIncoming(ctx)
	require.Error(t, err)
}

package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmentions/internal/app"
	"github.com/JakeFAU/webmentions/internal/cache"
	"github.com/JakeFAU/webmentions/internal/config"
	"github.com/JakeFAU/webmentions/internal/delivery"
	"github.com/JakeFAU/webmentions/internal/incoming"
	"github.com/JakeFAU/webmentions/internal/mention"
	"github.com/JakeFAU/webmentions/internal/outgoing"
	"github.com/JakeFAU/webmentions/internal/runid"
	"github.com/JakeFAU/webmentions/internal/storage/memory"
)

type fakeApp struct {
	store    *cache.Store
	report   app.GatherReport
	summary  delivery.Summary
	migrated bool
	err      error
	closed   bool
	runID    string
}

func (f *fakeApp) Gather(ctx context.Context) (app.GatherReport, error) {
	f.runID = runid.FromContext(ctx)
	return f.report, f.err
}

func (f *fakeApp) Send(context.Context) (delivery.Summary, error) { return f.summary, f.err }
func (f *fakeApp) Migrate(context.Context) (bool, error)          { return f.migrated, f.err }
func (f *fakeApp) Serve(context.Context) error                    { return f.err }
func (f *fakeApp) Store() *cache.Store                            { return f.store }
func (f *fakeApp) Logger() *zap.Logger                            { return zap.NewNop() }
func (f *fakeApp) Close(context.Context)                          { f.closed = true }

func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	if fake.store == nil {
		store, err := cache.New(memory.NewBlobStore(), "", nil)
		require.NoError(t, err)
		fake.store = store
	}
	original := newApp
	newApp = func(context.Context, config.Config, *zap.Logger, string) (App, error) {
		return fake, nil
	}
	t.Cleanup(func() { newApp = original })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGatherCommand(t *testing.T) {
	fake := &fakeApp{report: app.GatherReport{
		Migrated: true,
		Incoming: incoming.Summary{Documents: 3, Added: 2, Throttled: 1},
		Outgoing: outgoing.Summary{Queued: 4},
	}}
	withFakeApp(t, fake)

	out, err := run(t, "gather")
	require.NoError(t, err)
	assert.Contains(t, out, "Upgraded the outgoing webmentions cache.")
	assert.Contains(t, out, "2 new webmentions cached across 3 documents (1 throttled, 0 failed).")
	assert.Contains(t, out, "4 outgoing webmentions queued.")
	assert.True(t, fake.closed)
	assert.NotEmpty(t, fake.runID)
}

func TestSendCommand(t *testing.T) {
	withFakeApp(t, &fakeApp{summary: delivery.Summary{Sent: 1, Attempted: 2}})

	out, err := run(t, "send")
	require.NoError(t, err)
	assert.Contains(t, out, "1 webmentions sent, 2 attempted.")
}

func TestSendCommandStaleCache(t *testing.T) {
	withFakeApp(t, &fakeApp{err: cache.ErrStaleCacheFormat})

	_, err := run(t, "send")
	require.ErrorIs(t, err, cache.ErrStaleCacheFormat)
}

func TestMigrateCommand(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to upgrade.")
}

func TestCountCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	ledger := mention.NewIncomingLedger()
	ledger.Add("/post/", mention.Record{ID: "1", Type: mention.TypeLike})
	ledger.Add("/post/", mention.Record{ID: "2", Type: mention.TypeReply})
	require.NoError(t, fake.store.SaveIncoming(context.Background(), ledger))

	out, err := run(t, "count", "/post/")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, "count", "/post/", "likes")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, "count", "/post/", "shares")
	require.Error(t, err)

	_, err = run(t, "count")
	require.Error(t, err)
}

func TestAppInitFailure(t *testing.T) {
	original := newApp
	newApp = func(context.Context, config.Config, *zap.Logger, string) (App, error) {
		return nil, errors.New("no bucket")
	}
	t.Cleanup(func() { newApp = original })

	_, err := run(t, "gather")
	require.ErrorContains(t, err, "no bucket")
}

func TestBadConfigFile(t *testing.T) {
	withFakeApp(t, &fakeApp{})

	_, err := run(t, "--config", "/nonexistent/config.yaml", "gather")
	require.Error(t, err)
}

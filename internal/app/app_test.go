package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/config"
	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/netstatus"
	"github.com/hpungsan/tilth/internal/optimistic"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.UserID = "u1"
	cfg.UserEmail = "farmer@example.com"
	return cfg
}

func newApp(t *testing.T, baseDir string, cfg *config.Config, online bool, mem *backend.Memory) *App {
	t.Helper()
	database, err := db.Init(baseDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	a, err := New(context.Background(), cfg, database, nil, Options{Online: &online, Backend: mem.Backend})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_OfflineWorkSyncsOnReconnect(t *testing.T) {
	mem := backend.NewMemory()
	a := newApp(t, t.TempDir(), testConfig(), false, mem)
	ctx := context.Background()

	_, _, err := a.Community.AddPost(ctx, a.User(), "Rain expected tomorrow", nil)
	require.NoError(t, err)
	_, _, err = a.Tracker.AddOutcome(ctx, a.User(), model.Outcome{CropName: "Cotton", YieldAmount: 8, YieldUnit: "quintal"})
	require.NoError(t, err)

	st := a.Status()
	require.False(t, st.Online)
	require.Equal(t, 2, st.Pending)

	res, err := a.SetOnline(ctx, true)
	require.NoError(t, err)
	require.True(t, res.Synced)
	require.Equal(t, 2, res.Succeeded)

	st = a.Status()
	assert.True(t, st.Online)
	assert.Equal(t, 0, st.Pending)
	assert.NotEmpty(t, st.Notice)
	assert.Equal(t, uint64(1), st.RefreshToken)
	assert.Same(t, res, st.LastSync)
	assert.Len(t, mem.Writes(), 2)
}

func TestApp_PendingCountRecomputedAtStartup(t *testing.T) {
	dir := t.TempDir()
	mem := backend.NewMemory()
	first := newApp(t, dir, testConfig(), false, mem)
	_, err := first.Calendar.SetTaskStatus(context.Background(), first.User(), "task-1", true)
	require.NoError(t, err)
	first.Close()

	second := newApp(t, dir, testConfig(), false, mem)
	assert.Equal(t, 1, second.Status().Pending)
}

func TestApp_SyncRefusedOffline(t *testing.T) {
	a := newApp(t, t.TempDir(), testConfig(), false, backend.NewMemory())

	_, err := a.Sync(context.Background())
	require.ErrorIs(t, err, netstatus.ErrOffline)
}

func TestApp_LanguageReachesNotice(t *testing.T) {
	cfg := testConfig()
	cfg.Language = "te"
	a := newApp(t, t.TempDir(), cfg, false, backend.NewMemory())
	ctx := context.Background()

	_, _, err := a.Community.AddPost(ctx, a.User(), "నమస్కారం", nil)
	require.NoError(t, err)
	_, err = a.SetOnline(ctx, true)
	require.NoError(t, err)

	st := a.Status()
	assert.Equal(t, "te", st.Language)
	assert.NotContains(t, st.Notice, "Back online")
}

func TestApp_SignalFileDrivesConnectivity(t *testing.T) {
	dir := t.TempDir()
	signal := filepath.Join(dir, "net.state")
	require.NoError(t, os.WriteFile(signal, []byte("offline\n"), 0600))

	cfg := testConfig()
	cfg.SignalFile = signal
	a := newApp(t, t.TempDir(), cfg, true, backend.NewMemory())
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return !a.Monitor.Online() }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(signal, []byte("online\n"), 0600))
	require.Eventually(t, func() bool { return a.Monitor.Online() }, 2*time.Second, 10*time.Millisecond)
}

func TestApp_DrainReplacesPlaceholders(t *testing.T) {
	mem := backend.NewMemory()
	a := newApp(t, t.TempDir(), testConfig(), false, mem)
	ctx := context.Background()

	placeholder, out, err := a.Community.AddPost(ctx, a.User(), "Sowing done in the east plot", nil)
	require.NoError(t, err)
	require.Equal(t, optimistic.Queued, out)
	require.True(t, model.IsPendingID(placeholder.ID))

	res, err := a.SetOnline(ctx, true)
	require.NoError(t, err)
	require.True(t, res.Synced)

	// No manual Refresh: the sync itself must bring the feed up to date.
	require.Eventually(t, func() bool {
		posts := a.Community.Posts.Snapshot()
		return len(posts) == 1 && !model.IsPendingID(posts[0].ID)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Sowing done in the east plot", a.Community.Posts.Snapshot()[0].Content)
}

func TestApp_RefreshViewsOfflineIsNoop(t *testing.T) {
	mem := backend.NewMemory()
	a := newApp(t, t.TempDir(), testConfig(), false, mem)
	mem.ResetCalls()

	a.RefreshViews(context.Background())
	assert.Empty(t, mem.Calls())
}

func TestApp_ClosedStoreKeepsOnlineWork(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, database.Close())

	mem := backend.NewMemory()
	online := true
	a, err := New(context.Background(), testConfig(), database, nil, Options{Online: &online, Backend: mem.Backend})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	ctx := context.Background()

	require.True(t, errors.Is(a.StoreErr(), errors.ErrStoreUnavailable))
	assert.NotEmpty(t, a.Status().StoreError)
	assert.Equal(t, 0, a.Status().Pending)

	_, out, err := a.Community.AddPost(ctx, a.User(), "Pest spotted near the canal", nil)
	require.NoError(t, err)
	assert.Equal(t, optimistic.Applied, out)
	assert.Len(t, mem.Writes(), 1)

	_, err = a.Weather.Cached(ctx)
	assert.True(t, errors.Is(err, errors.ErrStoreUnavailable))
}

func TestApp_NoStoreOfflineWritesFail(t *testing.T) {
	mem := backend.NewMemory()
	online := false
	a, err := New(context.Background(), testConfig(), nil, nil, Options{Online: &online, Backend: mem.Backend})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	ctx := context.Background()

	require.Error(t, a.StoreErr())

	_, _, err = a.Community.AddPost(ctx, a.User(), "Rain expected tomorrow", nil)
	require.True(t, errors.Is(err, errors.ErrEnqueueFailed))
	assert.Zero(t, a.Community.Posts.Len())

	_, err = a.Knowledge.Ask(ctx, a.User(), "When to sow paddy?")
	assert.True(t, errors.Is(err, errors.ErrStoreUnavailable))
}

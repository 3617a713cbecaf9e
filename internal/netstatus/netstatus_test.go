package netstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tilth/internal/appstate"
	"github.com/hpungsan/tilth/internal/drain"
)

type fakeDrainer struct {
	mu     sync.Mutex
	calls  int
	result *drain.Result
	err    error
}

func (f *fakeDrainer) Drain(context.Context) (*drain.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

func (f *fakeDrainer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCounter struct{ refreshes int }

func (f *fakeCounter) Refresh(context.Context) (int, error) {
	f.refreshes++
	return 0, nil
}

func TestMonitor_DrainsOncePerTransition(t *testing.T) {
	d := &fakeDrainer{result: &drain.Result{Synced: true, Attempted: 1, Succeeded: 1}}
	shell := appstate.New("en", time.Minute)
	defer shell.Close()
	counter := &fakeCounter{}
	m := NewMonitor(d, shell, counter, false, nil)
	ctx := context.Background()

	res, err := m.SetOnline(ctx, true)
	require.NoError(t, err)
	require.True(t, res.Synced)
	require.Equal(t, 1, d.Calls())
	require.Equal(t, 1, counter.refreshes)

	snap := shell.Snapshot()
	require.True(t, snap.Online)
	require.NotEmpty(t, snap.Notice)
	require.EqualValues(t, 1, snap.RefreshToken)

	// Still online: no drain
	res, err = m.SetOnline(ctx, true)
	require.NoError(t, err)
	require.Nil(t, res)
	require.Equal(t, 1, d.Calls())

	// Going offline never drains
	_, err = m.SetOnline(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 1, d.Calls())
	require.False(t, shell.Snapshot().Online)

	_, err = m.SetOnline(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 2, d.Calls())
	require.NotNil(t, m.LastResult())
}

func TestMonitor_FailedPassShowsNoNotice(t *testing.T) {
	d := &fakeDrainer{result: &drain.Result{Attempted: 2, Failed: 1}}
	shell := appstate.New("en", time.Minute)
	defer shell.Close()
	m := NewMonitor(d, shell, nil, false, nil)

	res, err := m.SetOnline(context.Background(), true)
	require.NoError(t, err)
	require.False(t, res.Synced)
	require.Empty(t, shell.Snapshot().Notice)
	require.Zero(t, shell.Snapshot().RefreshToken)
}

func TestMonitor_EmptyQueueShowsNoNotice(t *testing.T) {
	d := &fakeDrainer{result: &drain.Result{}}
	shell := appstate.New("en", time.Minute)
	defer shell.Close()
	m := NewMonitor(d, shell, nil, false, nil)

	_, err := m.SetOnline(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, shell.Snapshot().Notice)
}

func TestMonitor_StartingOnlineDoesNotDrain(t *testing.T) {
	d := &fakeDrainer{result: &drain.Result{}}
	m := NewMonitor(d, nil, nil, true, nil)
	require.True(t, m.Online())

	_, err := m.SetOnline(context.Background(), true)
	require.NoError(t, err)
	require.Zero(t, d.Calls())
}

func TestMonitor_DrainInProgressIsDropped(t *testing.T) {
	d := &fakeDrainer{err: drain.ErrDrainInProgress}
	m := NewMonitor(d, nil, nil, false, nil)

	res, err := m.SetOnline(context.Background(), true)
	require.ErrorIs(t, err, drain.ErrDrainInProgress)
	require.Nil(t, res)
	require.True(t, m.Online())
}

func TestMonitor_SyncNow(t *testing.T) {
	d := &fakeDrainer{result: &drain.Result{}}
	m := NewMonitor(d, nil, nil, false, nil)

	_, err := m.SyncNow(context.Background())
	require.ErrorIs(t, err, ErrOffline)
	require.Zero(t, d.Calls())

	_, _ = m.SetOnline(context.Background(), true)
	_, err = m.SyncNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, d.Calls())
}

type recordingTarget struct {
	mu       sync.Mutex
	readings []bool
}

func (r *recordingTarget) SetOnline(_ context.Context, online bool) (*drain.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, online)
	return nil, nil
}

func (r *recordingTarget) last() (bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.readings) == 0 {
		return false, 0
	}
	return r.readings[len(r.readings)-1], len(r.readings)
}

func TestProbe_Check(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := &Probe{URL: srv.URL, Interval: time.Second}
	require.True(t, p.Check(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	require.False(t, p.Check(context.Background()))

	p.URL = "http://127.0.0.1:1"
	require.False(t, p.Check(context.Background()))
}

func TestProbe_RunReportsUntilCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	target := &recordingTarget{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		(&Probe{URL: srv.URL, Interval: 10 * time.Millisecond, Target: target}).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		online, n := target.last()
		return online && n >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in         string
		online, ok bool
	}{
		{"online", true, true},
		{" Online\n", true, true},
		{"offline", false, true},
		{"", false, false},
		{"onl", false, false},
	}
	for _, tt := range tests {
		online, ok := ParseSignal([]byte(tt.in))
		require.Equal(t, tt.online, online, tt.in)
		require.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestFileSignal_AppliesInitialAndChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connectivity")
	require.NoError(t, os.WriteFile(path, []byte("offline\n"), 0600))

	target := &recordingTarget{}
	fs, err := NewFileSignal(path, target, nil)
	require.NoError(t, err)
	require.NoError(t, fs.Start(context.Background()))
	defer fs.Stop()

	online, n := target.last()
	require.Equal(t, 1, n)
	require.False(t, online)

	require.NoError(t, os.WriteFile(path, []byte("online\n"), 0600))
	require.Eventually(t, func() bool {
		online, _ := target.last()
		return online
	}, 2*time.Second, 10*time.Millisecond)

	// Other files in the directory are ignored
	_, before := target.last()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("offline"), 0600))
	time.Sleep(50 * time.Millisecond)
	online, after := target.last()
	require.True(t, online)
	require.Equal(t, before, after)

	require.NoError(t, fs.Stop())
	require.NoError(t, fs.Stop(), "second Stop is a no-op")
}

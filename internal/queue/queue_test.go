package queue

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// countRecorder collects values pushed through a CountHook.
type countRecorder struct {
	mu     sync.Mutex
	values []int
}

func (r *countRecorder) hook(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, n)
}

func (r *countRecorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.values) == 0 {
		return -1
	}
	return r.values[len(r.values)-1]
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func taskStatus(task string) action.UpdateTaskStatus {
	return action.UpdateTaskStatus{UserID: "u1", TaskID: task, IsDone: true}
}

func TestEnqueue_PendingCountTracksEnqueues(t *testing.T) {
	database := setupDB(t)
	rec := &countRecorder{}
	q := New(database, zap.NewNop(), WithCountHook(rec.hook))
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		_, err := q.Enqueue(ctx, taskStatus("t"))
		require.NoError(t, err)
		require.Equal(t, i+1, rec.last(), "hook after enqueue %d", i+1)
	}

	count, err := q.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, n, count)
}

func TestEnqueue_TimestampsStrictlyIncrease(t *testing.T) {
	database := setupDB(t)
	// Frozen clock: every enqueue lands on the same millisecond
	q := New(database, nil, WithClock(fixedClock(1_700_000_000_000)))
	ctx := context.Background()

	var stamps []int64
	for i := 0; i < 3; i++ {
		e, err := q.Enqueue(ctx, taskStatus("t"))
		require.NoError(t, err)
		stamps = append(stamps, e.Timestamp)
	}
	require.Equal(t, []int64{1_700_000_000_000, 1_700_000_000_001, 1_700_000_000_002}, stamps)
}

func TestEnqueue_ClockStepsBackwards(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	first := New(database, nil, WithClock(fixedClock(5000)))
	e1, err := first.Enqueue(ctx, taskStatus("a"))
	require.NoError(t, err)

	// A new process with an earlier clock still orders after the stored row
	second := New(database, nil, WithClock(fixedClock(1000)))
	e2, err := second.Enqueue(ctx, taskStatus("b"))
	require.NoError(t, err)
	require.Greater(t, e2.Timestamp, e1.Timestamp)
}

func TestListPending_Order(t *testing.T) {
	database := setupDB(t)
	ms := int64(100)
	q := New(database, nil, WithClock(func() time.Time { ms += 10; return time.UnixMilli(ms) }))
	ctx := context.Background()

	for _, task := range []string{"t1", "t2", "t3"} {
		_, err := q.Enqueue(ctx, taskStatus(task))
		require.NoError(t, err)
	}

	entries, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, want := range []string{"t1", "t2", "t3"} {
		require.NoError(t, entries[i].DecodeErr)
		got, ok := entries[i].Action.(action.UpdateTaskStatus)
		require.True(t, ok, "entry %d is %T", i, entries[i].Action)
		require.Equal(t, want, got.TaskID)
		if i > 0 {
			require.Greater(t, entries[i].Timestamp, entries[i-1].Timestamp)
		}
	}
	require.Equal(t, "calendar", entries[0].Service)
	require.Equal(t, "updateTaskStatus", entries[0].Method)
}

func TestEnqueue_AttachmentSurvivesRoundTrip(t *testing.T) {
	database := setupDB(t)
	q := New(database, nil)
	ctx := context.Background()

	img := &model.Attachment{Data: []byte{0x89, 'P', 'N', 'G'}, Filename: "field.png", MIMEType: "image/png"}
	e, err := q.Enqueue(ctx, action.AddPost{Content: "pests on chilli", UserID: "u1", Image: img})
	require.NoError(t, err)
	require.NotNil(t, e.Attachment)
	require.Equal(t, 4, e.Attachment.Size)

	entries, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	post := entries[0].Action.(action.AddPost)
	require.NotNil(t, post.Image)
	require.True(t, bytes.Equal(img.Data, post.Image.Data))
	require.Equal(t, "image/png", post.Image.MIMEType)
	require.Equal(t, "field.png", post.Image.Filename)
}

func TestEnqueue_InvalidActionNotStored(t *testing.T) {
	database := setupDB(t)
	rec := &countRecorder{}
	q := New(database, nil, WithCountHook(rec.hook))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, action.AddBookmark{UserID: "u1"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	count, _ := q.Count(ctx)
	require.Equal(t, 0, count)
	require.Equal(t, -1, rec.last(), "hook must not fire for rejected actions")
}

func TestEnqueue_StoreUnavailable(t *testing.T) {
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	database.Close()

	q := New(database, nil)
	_, err = q.Enqueue(context.Background(), taskStatus("t"))
	require.True(t, errors.Is(err, errors.ErrEnqueueFailed), "got %v", err)
	require.True(t, errors.Is(err, errors.ErrStoreUnavailable), "cause should be kept, got %v", err)
}

func TestClearThrough_KeepsLaterActions(t *testing.T) {
	database := setupDB(t)
	rec := &countRecorder{}
	q := New(database, nil, WithCountHook(rec.hook))
	ctx := context.Background()

	e1, _ := q.Enqueue(ctx, taskStatus("a"))
	_, _ = q.Enqueue(ctx, taskStatus("b"))
	_, _ = q.Enqueue(ctx, taskStatus("c"))

	n, err := q.ClearThrough(ctx, e1.Timestamp)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, 2, rec.last())

	n, err = q.ClearAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 0, rec.last())
}

func TestListPending_UnknownStoredKind(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertAction(ctx, database, &db.QueueRow{
		Timestamp: 1, Service: "community", Method: "editPost", Payload: []byte(`{}`),
	}))

	q := New(database, nil)
	entries, err := q.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].Action)
	require.True(t, errors.Is(entries[0].DecodeErr, errors.ErrUnknownAction))
}

func TestRefresh_PushesStoredCount(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()

	// Queue written by an earlier process
	writer := New(database, nil)
	_, _ = writer.Enqueue(ctx, taskStatus("a"))
	_, _ = writer.Enqueue(ctx, taskStatus("b"))

	rec := &countRecorder{}
	q := New(database, nil, WithCountHook(rec.hook))
	n, err := q.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, rec.last())
}

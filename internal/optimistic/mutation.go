package optimistic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/queue"
)

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	Online() bool
}

// Enqueuer durably stores an action for later replay.
type Enqueuer interface {
	Enqueue(ctx context.Context, a action.Action) (*queue.Entry, error)
}

// Invoker runs an action's remote operation now.
type Invoker interface {
	Invoke(ctx context.Context, a action.Action) (any, error)
}

// Outcome says which branch a mutation took.
type Outcome string

const (
	// Applied: the backend accepted the operation immediately.
	Applied Outcome = "applied"
	// Queued: the operation was stored for replay and the placeholder stays.
	Queued Outcome = "queued"
)

// Mutation describes one optimistic user action.
type Mutation[T Identified] struct {
	// List receives Splice synchronously, before any network call.
	List   *List[T]
	Splice Splice[T]
	// Action is both invoked online and enqueued offline.
	Action action.Action
	// Refetch reloads authoritative items after an online success. Optional.
	Refetch func(ctx context.Context) ([]T, error)
}

// Runner applies mutations against the current connectivity.
type Runner struct {
	net     Connectivity
	queue   Enqueuer
	invoker Invoker
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	lastID int64
}

// NewRunner creates a Runner.
func NewRunner(net Connectivity, q Enqueuer, inv Invoker, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{net: net, queue: q, invoker: inv, logger: logger.Named("optimistic"), now: time.Now}
}

// Online reports the current connectivity.
func (r *Runner) Online() bool {
	return r.net.Online()
}

// PendingID returns a fresh placeholder id, "pending-<unix ms>". Ids are
// unique per Runner even within one millisecond.
func (r *Runner) PendingID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixMilli()
	if ts <= r.lastID {
		ts = r.lastID + 1
	}
	r.lastID = ts
	return fmt.Sprintf("%s%d", model.PendingPrefix, ts)
}

// Placeholder returns a record header for a new local item.
func (r *Runner) Placeholder() model.Record {
	return model.Record{ID: r.PendingID(), CreatedAt: r.now().UTC().Format(time.RFC3339)}
}

// Apply runs m. Online, it invokes the action; success refetches the list,
// failure undoes the splice and returns ONLINE_OPERATION_FAILED wrapping
// the cause. Offline, it enqueues the action and leaves the splice in
// place; if enqueueing fails the splice is undone and ENQUEUE_FAILED returned.
func Apply[T Identified](ctx context.Context, r *Runner, m Mutation[T]) (Outcome, error) {
	if m.Action == nil {
		return "", errors.NewInvalidRequest("mutation has no action")
	}
	if err := action.Validate(m.Action); err != nil {
		return "", err
	}

	undo := func() {}
	if m.List != nil && m.Splice != nil {
		undo = m.Splice(m.List)
	}

	if !r.net.Online() {
		if _, err := r.queue.Enqueue(ctx, m.Action); err != nil {
			undo()
			return "", err
		}
		return Queued, nil
	}

	if _, err := r.invoker.Invoke(ctx, m.Action); err != nil {
		undo()
		r.logger.Info("online operation failed, reverted",
			zap.String("kind", string(m.Action.Kind())),
			zap.Error(err))
		return "", errors.NewOnlineOperationFailed(string(m.Action.Kind()), err)
	}

	if m.Refetch != nil && m.List != nil {
		items, err := m.Refetch(ctx)
		if err != nil {
			// The write succeeded; the placeholder stays until the next refresh.
			r.logger.Warn("refetch after online operation failed",
				zap.String("kind", string(m.Action.Kind())),
				zap.Error(err))
			return Applied, nil
		}
		m.List.Set(items)
	}
	return Applied, nil
}

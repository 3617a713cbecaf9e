// Package drain replays queued actions against the backend after
// connectivity returns.
package drain

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/queue"
)

// ErrDrainInProgress is returned when a pass is already running.
// The trigger is dropped, not queued.
var ErrDrainInProgress = stderrors.New("drain already in progress")

// Invoker runs one action's remote operation.
type Invoker interface {
	Invoke(ctx context.Context, a action.Action) (any, error)
}

// Failure describes one action that failed during a pass.
type Failure struct {
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Result summarizes a drain pass.
type Result struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	// Synced is true when every action succeeded and the batch was removed.
	// An empty queue is "nothing synced": Synced is false.
	Synced         bool  `json:"synced"`
	ClearedThrough int64 `json:"cleared_through,omitempty"`
	DurationMs     int64 `json:"duration_ms"`
}

// Drainer runs drain passes. At most one pass runs at a time.
type Drainer struct {
	queue   *queue.Queue
	invoker Invoker
	logger  *zap.Logger
	running atomic.Bool
}

// New creates a Drainer.
func New(q *queue.Queue, inv Invoker, logger *zap.Logger) *Drainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Drainer{queue: q, invoker: inv, logger: logger.Named("drain")}
}

// Running reports whether a pass is in flight.
func (d *Drainer) Running() bool {
	return d.running.Load()
}

// Drain snapshots the queue and dispatches every action in timestamp order.
// Each action is isolated: a failure or panic is recorded and the pass moves
// on. The snapshot is removed only if no action failed; otherwise the queue
// is left untouched for the next pass. Actions enqueued during the pass are
// newer than the snapshot and are left for the next pass.
//
// A diagnosis that finds no plant, or cannot identify one, counts as skipped
// rather than failed.
func (d *Drainer) Drain(ctx context.Context) (*Result, error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrDrainInProgress
	}
	defer d.running.Store(false)

	start := time.Now()
	entries, err := d.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if len(entries) == 0 {
		d.logger.Debug("nothing to sync")
		return res, nil
	}

	for i := range entries {
		e := &entries[i]
		res.Attempted++
		err := d.invokeOne(ctx, e)
		switch {
		case err == nil:
			res.Succeeded++
		case errors.Is(err, errors.ErrNotAPlant), errors.Is(err, errors.ErrUnidentifiable):
			res.Skipped++
			d.logger.Info("skipped queued diagnosis",
				zap.Int64("timestamp", e.Timestamp),
				zap.String("reason", string(errors.CodeOf(err))))
		default:
			wrapped := errors.NewDispatchFailed(e.Service, e.Method, e.Timestamp, err)
			res.Failed++
			res.Failures = append(res.Failures, Failure{
				Timestamp: e.Timestamp,
				Kind:      string(e.Kind()),
				Code:      string(errors.CodeOf(err)),
				Message:   wrapped.Message,
			})
			d.logger.Warn("queued action failed",
				zap.Int64("timestamp", e.Timestamp),
				zap.String("kind", string(e.Kind())),
				zap.Error(err))
			report(wrapped, e)
		}
	}
	res.DurationMs = time.Since(start).Milliseconds()

	if res.Failed > 0 {
		d.logger.Warn("drain pass failed, queue kept",
			zap.Int("attempted", res.Attempted),
			zap.Int("failed", res.Failed))
		return res, nil
	}

	last := entries[len(entries)-1].Timestamp
	if _, err := d.queue.ClearThrough(ctx, last); err != nil {
		return res, err
	}
	res.Synced = true
	res.ClearedThrough = last
	d.logger.Info("drain pass synced",
		zap.Int("succeeded", res.Succeeded),
		zap.Int("skipped", res.Skipped),
		zap.Int64("cleared_through", last))
	return res, nil
}

// invokeOne dispatches one entry and converts a panic into an error.
func (d *Drainer) invokeOne(ctx context.Context, e *queue.Entry) (err error) {
	// An undecodable row fails every pass and holds the batch until the
	// queue is cleared by hand. It is not dropped.
	if e.DecodeErr != nil {
		return e.DecodeErr
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternal(fmt.Errorf("panic: %v", r))
		}
	}()
	_, err = d.invoker.Invoke(ctx, e.Action)
	return err
}

// report sends a dispatch failure to Sentry. A no-op unless Sentry is initialized.
func report(err error, e *queue.Entry) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("action", string(e.Kind()))
		scope.SetTag("timestamp", fmt.Sprint(e.Timestamp))
		sentry.CaptureException(err)
	})
}

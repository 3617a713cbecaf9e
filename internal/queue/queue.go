// Package queue is the durable, ordered holding area for actions that could
// not be sent to the backend yet.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/errors"
)

// maxCollisionRetries bounds timestamp bumps when another writer took the key.
const maxCollisionRetries = 8

// AttachmentInfo describes a queued attachment without its bytes.
type AttachmentInfo struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
}

// Entry is one queued action as listed for display and draining.
type Entry struct {
	Timestamp  int64           `json:"timestamp"`
	Service    string          `json:"service"`
	Method     string          `json:"method"`
	Payload    json.RawMessage `json:"payload"`
	Attachment *AttachmentInfo `json:"attachment,omitempty"`

	// Action is the decoded variant. Nil when DecodeErr is set.
	Action action.Action `json:"-"`
	// DecodeErr is set when the stored row no longer maps to a known variant.
	DecodeErr error `json:"-"`
}

// Kind returns the entry's stored kind.
func (e *Entry) Kind() action.Kind {
	return action.KindOf(e.Service, e.Method)
}

// CountHook receives the pending count after every change.
type CountHook func(count int)

// Option configures a Queue.
type Option func(*Queue)

// WithCountHook registers fn to receive the pending count after every
// enqueue or removal.
func WithCountHook(fn CountHook) Option {
	return func(q *Queue) { q.hooks = append(q.hooks, fn) }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is the action queue backed by the action_queue partition.
type Queue struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
	hooks  []CountHook

	mu   sync.Mutex // serializes timestamp assignment
	last int64
}

// New creates a Queue over an initialized database.
func New(database *sql.DB, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		db:     database,
		logger: logger.Named("queue"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue validates and durably stores an action under a fresh timestamp.
// Timestamps are strictly increasing: a clock tie or step backwards takes
// the previous timestamp plus one. Never touches the network.
func (q *Queue) Enqueue(ctx context.Context, a action.Action) (*Entry, error) {
	if err := action.Validate(a); err != nil {
		return nil, err
	}
	kind := a.Kind()
	service, method := string(kind.Service()), kind.Method()

	payload, err := action.Encode(a)
	if err != nil {
		return nil, errors.NewEnqueueFailed(service, method, err)
	}
	row := &db.QueueRow{
		Service: service,
		Method:  method,
		Payload: payload.Body(),
	}
	if wa, ok := payload.(action.WithAttachment); ok {
		att := wa.Attachment
		row.Attachment = &att
	}

	q.mu.Lock()
	err = q.insertLocked(ctx, row)
	q.mu.Unlock()
	if err != nil {
		q.logger.Warn("enqueue failed",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, errors.NewEnqueueFailed(service, method, err)
	}

	q.logger.Info("action queued",
		zap.String("kind", string(kind)),
		zap.Int64("timestamp", row.Timestamp),
		zap.Bool("attachment", row.Attachment != nil),
	)
	q.notify(ctx)

	return toEntry(row), nil
}

func (q *Queue) insertLocked(ctx context.Context, row *db.QueueRow) error {
	stored, err := db.LastActionTimestamp(ctx, q.db)
	if err != nil {
		return err
	}
	floor := max(stored, q.last)

	ts := q.now().UnixMilli()
	if ts <= floor {
		ts = floor + 1
	}
	for i := 0; ; i++ {
		row.Timestamp = ts
		err := db.InsertAction(ctx, q.db, row)
		if err == nil {
			q.last = ts
			return nil
		}
		if err != db.ErrUniqueConstraint || i == maxCollisionRetries {
			return err
		}
		ts++
	}
}

// ListPending returns every queued action in ascending timestamp order.
// Rows whose kind is no longer known are returned with DecodeErr set.
func (q *Queue) ListPending(ctx context.Context) ([]Entry, error) {
	rows, err := db.ListActions(ctx, q.db)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, *toEntry(&rows[i]))
	}
	return entries, nil
}

// Count returns the number of queued actions.
func (q *Queue) Count(ctx context.Context) (int, error) {
	return db.CountActions(ctx, q.db)
}

// ClearAll deletes every queued action.
func (q *Queue) ClearAll(ctx context.Context) (int64, error) {
	n, err := db.ClearActions(ctx, q.db)
	if err != nil {
		return 0, err
	}
	q.logger.Info("queue cleared", zap.Int64("removed", n))
	q.notify(ctx)
	return n, nil
}

// ClearThrough deletes every action with timestamp <= maxTimestamp. The
// drainer uses it to remove exactly the batch it dispatched, so actions
// enqueued during a pass survive for the next one.
func (q *Queue) ClearThrough(ctx context.Context, maxTimestamp int64) (int64, error) {
	n, err := db.DeleteActionsThrough(ctx, q.db, maxTimestamp)
	if err != nil {
		return 0, err
	}
	q.logger.Info("queue batch cleared",
		zap.Int64("through", maxTimestamp),
		zap.Int64("removed", n),
	)
	q.notify(ctx)
	return n, nil
}

// Refresh recomputes the pending count and pushes it to the hooks.
// Called at startup; nothing else is reconciled against the queue.
func (q *Queue) Refresh(ctx context.Context) (int, error) {
	n, err := q.Count(ctx)
	if err != nil {
		return 0, err
	}
	for _, hook := range q.hooks {
		hook(n)
	}
	return n, nil
}

func (q *Queue) notify(ctx context.Context) {
	if len(q.hooks) == 0 {
		return
	}
	if _, err := q.Refresh(ctx); err != nil {
		q.logger.Warn("pending count refresh failed", zap.Error(err))
	}
}

func toEntry(row *db.QueueRow) *Entry {
	e := &Entry{
		Timestamp: row.Timestamp,
		Service:   row.Service,
		Method:    row.Method,
		Payload:   json.RawMessage(row.Payload),
	}

	var payload action.Payload = action.JSONOnly{JSON: e.Payload}
	if row.Attachment != nil {
		e.Attachment = &AttachmentInfo{
			Filename: row.Attachment.Filename,
			MIMEType: row.Attachment.MIMEType,
			Size:     len(row.Attachment.Data),
		}
		payload = action.WithAttachment{JSON: e.Payload, Attachment: *row.Attachment}
	}

	e.Action, e.DecodeErr = action.Decode(e.Kind(), payload)
	return e
}

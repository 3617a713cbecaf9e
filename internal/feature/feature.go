// Package feature holds the user-facing areas built on the optimistic
// runner. Each area keeps its own local lists; mutations splice them first
// and then either run against the backend or land in the queue.
package feature

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/cache"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// errOffline is the cause reported when an online-only read is attempted offline.
var errOffline = stderrors.New("no connection")

// User identifies who performs an action.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Deps are the collaborators shared by every feature area.
type Deps struct {
	Runner     *optimistic.Runner
	Backend    *backend.Backend
	Content    *cache.Content
	Knowledge  *cache.Knowledge
	Diagnoser  backend.Diagnoser
	Answerer   backend.Answerer
	Forecaster backend.Forecaster
	// Language returns the current answer language ("en" or "te").
	Language func() string
	Logger   *zap.Logger
	// Now is the clock used for default dates. Defaults to time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Diagnoser == nil {
		d.Diagnoser = backend.Unavailable{}
	}
	if d.Answerer == nil {
		d.Answerer = backend.Unavailable{}
	}
	if d.Language == nil {
		d.Language = func() string { return "en" }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) online() bool {
	return d.Runner.Online()
}

// remoteErr wraps a failed immediate read or call. Errors that already
// carry a code the caller acts on pass through unchanged.
func remoteErr(op string, err error) error {
	switch errors.CodeOf(err) {
	case errors.ErrAIUnavailable, errors.ErrNotAPlant, errors.ErrUnidentifiable, errors.ErrInvalidRequest:
		return err
	}
	return errors.NewOnlineOperationFailed(op, err)
}

// fetcher adapts a table select into an optimistic refetch.
func fetcher[T any](t backend.Table[T], q backend.Query) func(context.Context) ([]T, error) {
	return func(ctx context.Context) ([]T, error) {
		return t.Select(ctx, q)
	}
}

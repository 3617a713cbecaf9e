package feature

import (
	"context"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Tracker records harvest outcomes.
type Tracker struct {
	d        Deps
	Outcomes *optimistic.List[model.Outcome]
}

// NewTracker creates an empty tracker.
func NewTracker(d Deps) *Tracker {
	return &Tracker{d: d.withDefaults(), Outcomes: optimistic.NewList[model.Outcome]()}
}

func (t *Tracker) query(userID string) backend.Query {
	return backend.Where("user_id", userID).OrderBy("date", true)
}

// Refresh reloads the user's outcomes when online.
func (t *Tracker) Refresh(ctx context.Context, userID string) error {
	if !t.d.online() {
		return nil
	}
	outcomes, err := t.d.Backend.Outcomes.Select(ctx, t.query(userID))
	if err != nil {
		return remoteErr("tracker.refresh", err)
	}
	t.Outcomes.Set(outcomes)
	return nil
}

// AddOutcome records o for the user. An empty date means today.
func (t *Tracker) AddOutcome(ctx context.Context, user User, o model.Outcome) (model.Outcome, optimistic.Outcome, error) {
	o.UserID = user.ID
	if o.Date == "" {
		o.Date = t.d.Now().Format("2006-01-02")
	}
	o.Record = model.Record{}

	placeholder := o
	placeholder.Record = t.d.Runner.Placeholder()

	out, err := optimistic.Apply(ctx, t.d.Runner, optimistic.Mutation[model.Outcome]{
		List:    t.Outcomes,
		Splice:  optimistic.Prepend(placeholder),
		Action:  action.AddOutcome{Outcome: o},
		Refetch: fetcher(t.d.Backend.Outcomes, t.query(user.ID)),
	})
	return placeholder, out, err
}

package feature

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Calendar is the monthly advisory calendar with per-user done flags.
type Calendar struct {
	d        Deps
	Tasks    *optimistic.List[model.CalendarTask]
	Statuses *optimistic.List[model.TaskStatus]

	mu      sync.Mutex
	pending map[string]bool // task ids with a queued status change
	month   int             // month of the last load
}

// NewCalendar creates an empty calendar.
func NewCalendar(d Deps) *Calendar {
	return &Calendar{
		d:        d.withDefaults(),
		Tasks:    optimistic.NewList[model.CalendarTask](),
		Statuses: optimistic.NewList[model.TaskStatus](),
		pending:  make(map[string]bool),
	}
}

// Refresh loads the tasks for month and the user's statuses. A successful
// fetch clears the pending markers.
func (c *Calendar) Refresh(ctx context.Context, userID string, month int) error {
	if !c.d.online() {
		return nil
	}
	tasks, err := c.d.Backend.CalendarTasks.Select(ctx,
		backend.Where("month", strconv.Itoa(month)).OrderBy("day_of_month", false))
	if err != nil {
		return remoteErr("calendar.refresh", err)
	}
	statuses, err := c.d.Backend.TaskStatus.Select(ctx, backend.Where("user_id", userID))
	if err != nil {
		return remoteErr("calendar.refresh", err)
	}
	c.Tasks.Set(tasks)
	c.Statuses.Set(statuses)

	c.mu.Lock()
	c.pending = make(map[string]bool)
	c.month = month
	c.mu.Unlock()
	return nil
}

// Month returns the month last loaded, or the current month before any load.
func (c *Calendar) Month() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.month == 0 {
		return int(c.d.Now().Month())
	}
	return c.month
}

// IsDone reports the user's current flag for taskID.
func (c *Calendar) IsDone(userID, taskID string) bool {
	s, ok := c.Statuses.Get(model.TaskStatus{UserID: userID, TaskID: taskID}.GetID())
	return ok && s.IsDone
}

// SetTaskStatus sets the done flag. Offline, the task is marked pending
// until the next successful refresh.
func (c *Calendar) SetTaskStatus(ctx context.Context, user User, taskID string, done bool) (optimistic.Outcome, error) {
	status := model.TaskStatus{UserID: user.ID, TaskID: taskID, IsDone: done}
	out, err := optimistic.Apply(ctx, c.d.Runner, optimistic.Mutation[model.TaskStatus]{
		List:   c.Statuses,
		Splice: optimistic.UpsertByID(status),
		Action: action.UpdateTaskStatus{UserID: user.ID, TaskID: taskID, IsDone: done},
	})
	if err == nil && out == optimistic.Queued {
		c.mu.Lock()
		c.pending[taskID] = true
		c.mu.Unlock()
	}
	return out, err
}

// ToggleTask flips the user's flag on taskID.
func (c *Calendar) ToggleTask(ctx context.Context, user User, taskID string) (bool, optimistic.Outcome, error) {
	done := !c.IsDone(user.ID, taskID)
	out, err := c.SetTaskStatus(ctx, user, taskID, done)
	return done, out, err
}

// IsPending reports whether taskID has a status change waiting to sync.
func (c *Calendar) IsPending(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[taskID]
}

// PendingTasks lists task ids with queued status changes, sorted.
func (c *Calendar) PendingTasks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.pending))
	for id := range c.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

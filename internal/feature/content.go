package feature

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/cache"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/optimistic"
)

// Admin manages tutorials, suppliers and calendar tasks.
type Admin struct {
	d         Deps
	Tutorials *optimistic.List[model.Tutorial]
	Suppliers *optimistic.List[model.Supplier]
	Tasks     *optimistic.List[model.CalendarTask]
}

// NewAdmin creates an empty content admin.
func NewAdmin(d Deps) *Admin {
	return &Admin{
		d:         d.withDefaults(),
		Tutorials: optimistic.NewList[model.Tutorial](),
		Suppliers: optimistic.NewList[model.Supplier](),
		Tasks:     optimistic.NewList[model.CalendarTask](),
	}
}

var (
	tutorialQuery = backend.Query{}.Newest()
	supplierQuery = backend.Query{}.OrderBy("name", false)
	taskQuery     = backend.Query{}.OrderBy("month", false)
)

// Refresh reloads all three lists when online. The tutorial list is also
// written to the content cache. Offline, tutorials come from the cache when
// present.
func (a *Admin) Refresh(ctx context.Context) error {
	if !a.d.online() {
		tutorials, err := cache.Get[[]model.Tutorial](ctx, a.d.Content, cache.KeyTutorials)
		if err == nil {
			a.Tutorials.Set(tutorials)
		}
		return nil
	}

	tutorials, err := a.d.Backend.Tutorials.Select(ctx, tutorialQuery)
	if err != nil {
		return remoteErr("content.refresh", err)
	}
	suppliers, err := a.d.Backend.Suppliers.Select(ctx, supplierQuery)
	if err != nil {
		return remoteErr("content.refresh", err)
	}
	tasks, err := a.d.Backend.CalendarTasks.Select(ctx, taskQuery)
	if err != nil {
		return remoteErr("content.refresh", err)
	}
	a.Tutorials.Set(tutorials)
	a.Suppliers.Set(suppliers)
	a.Tasks.Set(tasks)

	if err := a.d.Content.Put(ctx, cache.KeyTutorials, tutorials); err != nil {
		a.d.Logger.Named("content").Warn("caching tutorials failed", zap.Error(err))
	}
	return nil
}

// SaveTutorial creates t and returns its placeholder.
func (a *Admin) SaveTutorial(ctx context.Context, t model.Tutorial) (model.Tutorial, optimistic.Outcome, error) {
	t.Record = a.d.Runner.Placeholder()
	out, err := optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.Tutorial]{
		List:    a.Tutorials,
		Splice:  optimistic.Prepend(t),
		Action:  action.SaveTutorial{Tutorial: t},
		Refetch: fetcher(a.d.Backend.Tutorials, tutorialQuery),
	})
	return t, out, err
}

// UpdateTutorial replaces the tutorial with t.ID.
func (a *Admin) UpdateTutorial(ctx context.Context, t model.Tutorial) (optimistic.Outcome, error) {
	return optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.Tutorial]{
		List:    a.Tutorials,
		Splice:  optimistic.ReplaceByID(t),
		Action:  action.UpdateTutorial{Tutorial: t},
		Refetch: fetcher(a.d.Backend.Tutorials, tutorialQuery),
	})
}

// DeleteTutorial removes the tutorial with id.
func (a *Admin) DeleteTutorial(ctx context.Context, id string) (optimistic.Outcome, error) {
	return optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.Tutorial]{
		List:    a.Tutorials,
		Splice:  optimistic.RemoveByID[model.Tutorial](id),
		Action:  action.DeleteTutorial{TutorialID: id},
		Refetch: fetcher(a.d.Backend.Tutorials, tutorialQuery),
	})
}

// SaveSupplier creates s and returns its placeholder.
func (a *Admin) SaveSupplier(ctx context.Context, s model.Supplier) (model.Supplier, optimistic.Outcome, error) {
	s.Record = a.d.Runner.Placeholder()
	out, err := optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.Supplier]{
		List:    a.Suppliers,
		Splice:  optimistic.Prepend(s),
		Action:  action.SaveSupplier{Supplier: s},
		Refetch: fetcher(a.d.Backend.Suppliers, supplierQuery),
	})
	return s, out, err
}

// UpdateSupplier replaces the supplier with s.ID.
func (a *Admin) UpdateSupplier(ctx context.Context, s model.Supplier) (optimistic.Outcome, error) {
	return optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.Supplier]{
		List:    a.Suppliers,
		Splice:  optimistic.ReplaceByID(s),
		Action:  action.UpdateSupplier{Supplier: s},
		Refetch: fetcher(a.d.Backend.Suppliers, supplierQuery),
	})
}

// DeleteSupplier removes the supplier with id.
func (a *Admin) DeleteSupplier(ctx context.Context, id string) (optimistic.Outcome, error) {
	return optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.Supplier]{
		List:    a.Suppliers,
		Splice:  optimistic.RemoveByID[model.Supplier](id),
		Action:  action.DeleteSupplier{SupplierID: id},
		Refetch: fetcher(a.d.Backend.Suppliers, supplierQuery),
	})
}

// SaveCalendarTask creates t and returns its placeholder.
func (a *Admin) SaveCalendarTask(ctx context.Context, t model.CalendarTask) (model.CalendarTask, optimistic.Outcome, error) {
	t.Record = a.d.Runner.Placeholder()
	out, err := optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.CalendarTask]{
		List:    a.Tasks,
		Splice:  optimistic.Prepend(t),
		Action:  action.SaveCalendarTask{CalendarTask: t},
		Refetch: fetcher(a.d.Backend.CalendarTasks, taskQuery),
	})
	return t, out, err
}

// UpdateCalendarTask replaces the task with t.ID.
func (a *Admin) UpdateCalendarTask(ctx context.Context, t model.CalendarTask) (optimistic.Outcome, error) {
	return optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.CalendarTask]{
		List:    a.Tasks,
		Splice:  optimistic.ReplaceByID(t),
		Action:  action.UpdateCalendarTask{CalendarTask: t},
		Refetch: fetcher(a.d.Backend.CalendarTasks, taskQuery),
	})
}

// DeleteCalendarTask removes the task with id.
func (a *Admin) DeleteCalendarTask(ctx context.Context, id string) (optimistic.Outcome, error) {
	return optimistic.Apply(ctx, a.d.Runner, optimistic.Mutation[model.CalendarTask]{
		List:    a.Tasks,
		Splice:  optimistic.RemoveByID[model.CalendarTask](id),
		Action:  action.DeleteCalendarTask{TaskID: id},
		Refetch: fetcher(a.d.Backend.CalendarTasks, taskQuery),
	})
}

// Package dispatch maps every action variant to the remote operation that
// performs it. The immediate online path and the queue drainer both invoke
// actions through Table.Invoke, so the two paths cannot diverge.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

// Table resolves actions to backend operations.
type Table struct {
	backend   *backend.Backend
	diagnoser backend.Diagnoser
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a dispatch table.
func New(b *backend.Backend, d backend.Diagnoser, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	if d == nil {
		d = backend.Unavailable{}
	}
	return &Table{backend: b, diagnoser: d, logger: logger.Named("dispatch"), now: time.Now}
}

// Invoke validates a and runs its remote operation. It returns the record
// the backend persisted, or nil for deletes.
//
// Unknown variants return UNKNOWN_ACTION; that is a programming error.
func (t *Table) Invoke(ctx context.Context, a action.Action) (any, error) {
	if a == nil {
		return nil, errors.NewInvalidRequest("action is required")
	}
	if err := action.Validate(a); err != nil {
		return nil, err
	}
	t.logger.Debug("invoking action", zap.String("kind", string(a.Kind())))
	b := t.backend

	switch a := a.(type) {
	case action.AddReport:
		return t.addReport(ctx, a)
	case action.UpdateTaskStatus:
		return b.TaskStatus.Upsert(ctx, model.TaskStatus{UserID: a.UserID, TaskID: a.TaskID, IsDone: a.IsDone}, "user_id", "task_id")
	case action.AddBookmark:
		return b.Bookmarks.Insert(ctx, model.Bookmark{UserID: a.UserID, Question: a.Question, Answer: a.Answer})
	case action.AddOutcome:
		o := a.Outcome
		o.Record = model.Record{}
		return b.Outcomes.Insert(ctx, o)
	case action.AddPost:
		return t.addPost(ctx, a)

	case action.SaveTutorial:
		rec := a.Tutorial
		rec.Record = model.Record{}
		return b.Tutorials.Insert(ctx, rec)
	case action.UpdateTutorial:
		rec := a.Tutorial
		rec.Record = model.Record{}
		return b.Tutorials.Update(ctx, a.ID, rec)
	case action.DeleteTutorial:
		return nil, b.Tutorials.Delete(ctx, a.TutorialID)

	case action.SaveSupplier:
		rec := a.Supplier
		rec.Record = model.Record{}
		return b.Suppliers.Insert(ctx, rec)
	case action.UpdateSupplier:
		rec := a.Supplier
		rec.Record = model.Record{}
		return b.Suppliers.Update(ctx, a.ID, rec)
	case action.DeleteSupplier:
		return nil, b.Suppliers.Delete(ctx, a.SupplierID)

	case action.SaveCalendarTask:
		rec := a.CalendarTask
		rec.Record = model.Record{}
		return b.CalendarTasks.Insert(ctx, rec)
	case action.UpdateCalendarTask:
		rec := a.CalendarTask
		rec.Record = model.Record{}
		return b.CalendarTasks.Update(ctx, a.ID, rec)
	case action.DeleteCalendarTask:
		return nil, b.CalendarTasks.Delete(ctx, a.TaskID)

	default:
		k := a.Kind()
		return nil, errors.NewUnknownAction(string(k.Service()), k.Method())
	}
}

// addReport diagnoses the image unless a diagnosis came with the action,
// uploads it and saves the merged report. A non-plant or unidentifiable
// image returns NOT_A_PLANT or UNIDENTIFIABLE and nothing is uploaded.
func (t *Table) addReport(ctx context.Context, a action.AddReport) (*model.Report, error) {
	d := a.Diagnosis
	if d == nil {
		var err error
		if d, err = t.diagnoser.Diagnose(ctx, &a.Image); err != nil {
			return nil, err
		}
	}
	if err := backend.CheckDiagnosis(d); err != nil {
		return nil, err
	}

	url, err := t.backend.Blobs.Upload(ctx, backend.BucketReportImages, t.objectPath(a.UserID, &a.Image), &a.Image)
	if err != nil {
		return nil, err
	}
	return t.backend.Reports.Insert(ctx, model.Report{
		UserID:        a.UserID,
		UserEmail:     a.UserEmail,
		Disease:       d.Disease,
		Confidence:    d.Confidence,
		Treatment:     d.Treatment,
		AIExplanation: d.AIExplanation,
		SimilarCases:  d.SimilarCases,
		PhotoURL:      url,
	})
}

func (t *Table) addPost(ctx context.Context, a action.AddPost) (*model.Post, error) {
	post := model.Post{Content: a.Content, UserID: a.UserID}
	if a.Image != nil {
		url, err := t.backend.Blobs.Upload(ctx, backend.BucketCommunityImages, "posts/"+t.objectPath(a.UserID, a.Image), a.Image)
		if err != nil {
			return nil, err
		}
		post.PhotoURL = url
	}
	return t.backend.Posts.Insert(ctx, post)
}

// objectPath names an upload <userId>/<unix ms>.<ext>.
func (t *Table) objectPath(userID string, file *model.Attachment) string {
	return fmt.Sprintf("%s/%d.%s", userID, t.now().UnixMilli(), file.Ext())
}

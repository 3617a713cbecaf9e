package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

var leaf = model.Attachment{Data: []byte{0x89, 'P', 'N', 'G'}, Filename: "leaf.PNG", MIMEType: "image/png"}

var healthy = &model.Diagnosis{
	IsPlant: true, IsIdentifiable: true,
	Disease: "Leaf Blight", Confidence: 87, Treatment: "Neem oil", AIExplanation: "Dark spots",
	SimilarCases: []model.SimilarCase{{ID: "case_0", Disease: "Early Blight"}},
}

func newTable(t *testing.T, d backend.Diagnoser) (*Table, *backend.Memory) {
	t.Helper()
	mem := backend.NewMemory()
	tbl := New(mem.Backend, d, nil)
	tbl.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return tbl, mem
}

// seeded returns a valid action of kind k whose referenced rows exist in mem.
func seeded(t *testing.T, mem *backend.Memory, k action.Kind) action.Action {
	t.Helper()
	ctx := context.Background()
	tut, err := mem.Tutorials.Insert(ctx, model.Tutorial{Title: "Composting", Category: "soil"})
	require.NoError(t, err)
	sup, err := mem.Suppliers.Insert(ctx, model.Supplier{Name: "Agro", District: "Guntur"})
	require.NoError(t, err)
	task, err := mem.CalendarTasks.Insert(ctx, model.CalendarTask{Title: "Sow", Month: 6, DayOfMonth: 1})
	require.NoError(t, err)

	switch k {
	case action.KindAddReport:
		return action.AddReport{UserID: "u1", UserEmail: "farmer@example.com", Image: leaf}
	case action.KindUpdateTaskStatus:
		return action.UpdateTaskStatus{UserID: "u1", TaskID: task.ID, IsDone: true}
	case action.KindAddBookmark:
		return action.AddBookmark{UserID: "u1", Question: "q", Answer: "a"}
	case action.KindAddOutcome:
		return action.AddOutcome{Outcome: model.Outcome{UserID: "u1", Date: "2026-03-01", CropName: "Paddy", YieldAmount: 10, YieldUnit: "quintal"}}
	case action.KindAddPost:
		return action.AddPost{Content: "hello", UserID: "u1"}
	case action.KindSaveTutorial:
		return action.SaveTutorial{Tutorial: model.Tutorial{Record: model.Record{ID: "pending-1"}, Title: "Mulching", Category: "soil"}}
	case action.KindUpdateTutorial:
		return action.UpdateTutorial{Tutorial: model.Tutorial{Record: tut.Record, Title: "Composting 2", Category: "soil"}}
	case action.KindDeleteTutorial:
		return action.DeleteTutorial{TutorialID: tut.ID}
	case action.KindSaveSupplier:
		return action.SaveSupplier{Supplier: model.Supplier{Name: "Seeds Co", District: "Krishna"}}
	case action.KindUpdateSupplier:
		return action.UpdateSupplier{Supplier: model.Supplier{Record: sup.Record, Name: "Agro 2", District: "Guntur"}}
	case action.KindDeleteSupplier:
		return action.DeleteSupplier{SupplierID: sup.ID}
	case action.KindSaveCalendarTask:
		return action.SaveCalendarTask{CalendarTask: model.CalendarTask{Title: "Weed", Month: 7, DayOfMonth: 2}}
	case action.KindUpdateCalendarTask:
		return action.UpdateCalendarTask{CalendarTask: model.CalendarTask{Record: task.Record, Title: "Sow early", Month: 6, DayOfMonth: 1}}
	case action.KindDeleteCalendarTask:
		return action.DeleteCalendarTask{TaskID: task.ID}
	}
	t.Fatalf("no seeded action for %s", k)
	return nil
}

func TestInvoke_EveryKindResolves(t *testing.T) {
	for _, k := range action.Kinds {
		t.Run(string(k), func(t *testing.T) {
			tbl, mem := newTable(t, &backend.Scripted{Diagnosis: healthy})
			a := seeded(t, mem, k)
			mem.ResetCalls()

			_, err := tbl.Invoke(context.Background(), a)
			require.NoError(t, err)
			require.NotEmpty(t, mem.Writes(), "kind %s made no remote write", k)
		})
	}
}

// pointerAction is an Action the table has no case for.
type pointerAction struct{ action.DeleteTutorial }

func TestInvoke_UnknownVariant(t *testing.T) {
	tbl, _ := newTable(t, nil)
	_, err := tbl.Invoke(context.Background(), &pointerAction{action.DeleteTutorial{TutorialID: "x"}})
	require.True(t, errors.Is(err, errors.ErrUnknownAction), "got %v", err)
}

func TestInvoke_TaskStatusUpserts(t *testing.T) {
	tbl, mem := newTable(t, nil)
	ctx := context.Background()

	_, err := tbl.Invoke(ctx, action.UpdateTaskStatus{UserID: "u1", TaskID: "t1", IsDone: false})
	require.NoError(t, err)
	_, err = tbl.Invoke(ctx, action.UpdateTaskStatus{UserID: "u1", TaskID: "t1", IsDone: true})
	require.NoError(t, err)

	rows, err := mem.TaskStatus.Select(ctx, backend.Where("user_id", "u1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsDone)
}

func TestInvoke_AddReportDiagnosesUploadsAndSaves(t *testing.T) {
	tbl, mem := newTable(t, &backend.Scripted{Diagnosis: healthy})
	ctx := context.Background()

	out, err := tbl.Invoke(ctx, action.AddReport{UserID: "u1", UserEmail: "farmer@example.com", Image: leaf})
	require.NoError(t, err)
	report := out.(*model.Report)
	require.Equal(t, "Leaf Blight", report.Disease)
	require.Equal(t, "memory://report-images/u1/1700000000123.png", report.PhotoURL)

	blob, ok := mem.Blob(backend.BucketReportImages, "u1/1700000000123.png")
	require.True(t, ok)
	require.Equal(t, leaf.Data, blob.Data)
}

func TestInvoke_AddReportRejectedImageSkipsUpload(t *testing.T) {
	tests := []struct {
		name string
		d    *model.Diagnosis
		code errors.ErrorCode
	}{
		{"not a plant", &model.Diagnosis{IsPlant: false}, errors.ErrNotAPlant},
		{"unidentifiable", &model.Diagnosis{IsPlant: true, IsIdentifiable: false}, errors.ErrUnidentifiable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, mem := newTable(t, &backend.Scripted{Diagnosis: tt.d})
			_, err := tbl.Invoke(context.Background(), action.AddReport{UserID: "u1", UserEmail: "farmer@example.com", Image: leaf})
			require.True(t, errors.Is(err, tt.code), "got %v", err)
			require.Empty(t, mem.Writes())
		})
	}
}

func TestInvoke_AddPostWithImage(t *testing.T) {
	tbl, _ := newTable(t, nil)
	img := model.Attachment{Data: []byte("jpeg"), Filename: "field.jpg", MIMEType: "image/jpeg"}

	out, err := tbl.Invoke(context.Background(), action.AddPost{Content: "Good rain today", UserID: "u9", Image: &img})
	require.NoError(t, err)
	require.Equal(t, "memory://community-images/posts/u9/1700000000123.jpg", out.(*model.Post).PhotoURL)
}

func TestInvoke_SaveStripsPlaceholderID(t *testing.T) {
	tbl, _ := newTable(t, nil)

	out, err := tbl.Invoke(context.Background(), action.SaveTutorial{Tutorial: model.Tutorial{
		Record: model.Record{ID: "pending-1700000000000"}, Title: "Mulching", Category: "soil",
	}})
	require.NoError(t, err)
	require.False(t, model.IsPendingID(out.(*model.Tutorial).ID))
}

func TestInvoke_RejectsPlaceholderReference(t *testing.T) {
	tbl, mem := newTable(t, nil)

	_, err := tbl.Invoke(context.Background(), action.DeleteSupplier{SupplierID: "pending-1"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
	require.Empty(t, mem.Calls())
}

func TestInvoke_BackendErrorPropagates(t *testing.T) {
	tbl, mem := newTable(t, nil)
	mem.SetFault(func(op backend.Op) error { return errors.NewInternal(nil) })

	_, err := tbl.Invoke(context.Background(), action.AddBookmark{UserID: "u1", Question: "q", Answer: "a"})
	require.Error(t, err)
}

func TestInvoke_AddReportUsesAttachedDiagnosis(t *testing.T) {
	ai := &backend.Scripted{Err: errors.NewAIUnavailable("must not be called")}
	tbl, _ := newTable(t, ai)

	out, err := tbl.Invoke(context.Background(), action.AddReport{
		UserID: "u1", UserEmail: "farmer@example.com", Image: leaf, Diagnosis: healthy,
	})
	require.NoError(t, err)
	require.Equal(t, "Leaf Blight", out.(*model.Report).Disease)
}

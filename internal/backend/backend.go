// Package backend defines the remote collaborators the sync engine talks to:
// the hosted data store, the blob store, the AI inference client and the
// weather service. Each is a set of operations that succeed or fail.
package backend

import (
	"context"

	"github.com/hpungsan/tilth/internal/model"
)

// Remote table names.
const (
	TableReports         = "reports"
	TableCalendarTasks   = "calendar_tasks"
	TableTaskStatus      = "user_task_status"
	TableBookmarks       = "bookmarks"
	TableQuestionHistory = "question_history"
	TableOutcomes        = "outcomes"
	TablePosts           = "posts"
	TableTutorials       = "tutorials"
	TableSuppliers       = "suppliers"
)

// Blob buckets.
const (
	BucketReportImages    = "report-images"
	BucketCommunityImages = "community-images"
)

// Query filters and orders a Select. The zero value selects everything.
type Query struct {
	Eq    map[string]string
	Order string
	Desc  bool
	Limit int
}

// Where returns a query matching col = val.
func Where(col, val string) Query {
	return Query{}.And(col, val)
}

// And adds an equality filter.
func (q Query) And(col, val string) Query {
	eq := make(map[string]string, len(q.Eq)+1)
	for k, v := range q.Eq {
		eq[k] = v
	}
	eq[col] = val
	q.Eq = eq
	return q
}

// OrderBy sets the sort column.
func (q Query) OrderBy(col string, desc bool) Query {
	q.Order = col
	q.Desc = desc
	return q
}

// Newest orders by created_at descending, the default listing order.
func (q Query) Newest() Query {
	return q.OrderBy("created_at", true)
}

// WithLimit caps the number of rows returned. 0 means no limit.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Table is one remote entity collection.
type Table[T any] interface {
	Select(ctx context.Context, q Query) ([]T, error)
	Insert(ctx context.Context, rec T) (*T, error)
	Update(ctx context.Context, id string, rec T) (*T, error)
	// Upsert inserts rec or merges it into the row matching the onConflict columns.
	Upsert(ctx context.Context, rec T, onConflict ...string) (*T, error)
	Delete(ctx context.Context, id string) error
}

// BlobStore stores binary attachments.
type BlobStore interface {
	// Upload writes file at bucket/path and returns its public URL.
	Upload(ctx context.Context, bucket, path string, file *model.Attachment) (string, error)
}

// Diagnoser runs crop disease diagnosis on an image.
type Diagnoser interface {
	Diagnose(ctx context.Context, image *model.Attachment) (*model.Diagnosis, error)
}

// Answerer answers knowledge-base questions in the given language.
type Answerer interface {
	Answer(ctx context.Context, question, lang string) (*model.KnowledgeAnswer, error)
}

// Forecaster fetches current and daily weather for a location.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) (*model.Forecast, error)
}

// Backend groups the remote tables and the blob store.
type Backend struct {
	Reports         Table[model.Report]
	CalendarTasks   Table[model.CalendarTask]
	TaskStatus      Table[model.TaskStatus]
	Bookmarks       Table[model.Bookmark]
	QuestionHistory Table[model.QuestionHistory]
	Outcomes        Table[model.Outcome]
	Posts           Table[model.Post]
	Tutorials       Table[model.Tutorial]
	Suppliers       Table[model.Supplier]
	Blobs           BlobStore
}

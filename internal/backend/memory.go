package backend

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/tilth/internal/model"
)

// Op is one call made against the in-process backend.
type Op struct {
	Table  string // table or bucket name
	Method string // select, insert, update, upsert, delete, upload
	ID     string
	Record any
}

// Memory is an in-process Backend. It is used when no backend URL is
// configured and as the test double for every remote operation.
// Rows get ULID ids and RFC 3339 created_at values on insert.
type Memory struct {
	*Backend

	mu     sync.Mutex
	rows   map[string][]map[string]any
	blobs  map[string]model.Attachment
	calls  []Op
	fault  func(Op) error
	now    func() time.Time
	author map[string]string
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	m := &Memory{
		rows:   make(map[string][]map[string]any),
		blobs:  make(map[string]model.Attachment),
		now:    time.Now,
		author: make(map[string]string),
	}
	m.Backend = &Backend{
		Reports:         memTable[model.Report]{m: m, name: TableReports},
		CalendarTasks:   memTable[model.CalendarTask]{m: m, name: TableCalendarTasks},
		TaskStatus:      memTable[model.TaskStatus]{m: m, name: TableTaskStatus},
		Bookmarks:       memTable[model.Bookmark]{m: m, name: TableBookmarks},
		QuestionHistory: memTable[model.QuestionHistory]{m: m, name: TableQuestionHistory},
		Outcomes:        memTable[model.Outcome]{m: m, name: TableOutcomes},
		Posts:           memTable[model.Post]{m: m, name: TablePosts},
		Tutorials:       memTable[model.Tutorial]{m: m, name: TableTutorials},
		Suppliers:       memTable[model.Supplier]{m: m, name: TableSuppliers},
		Blobs:           memBlobs{m: m},
	}
	return m
}

// SetFault installs fn to run before every call. A non-nil return fails
// the call with that error. Pass nil to clear. fn runs under the backend
// lock and must not call back into m.
func (m *Memory) SetFault(fn func(Op) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fn
}

// SetAuthor registers the profile name joined onto posts by userID.
func (m *Memory) SetAuthor(userID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.author[userID] = name
}

// Calls returns the log of calls in the order they were made.
func (m *Memory) Calls() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.calls))
	copy(out, m.calls)
	return out
}

// Writes returns the logged calls that are not reads.
func (m *Memory) Writes() []Op {
	var out []Op
	for _, op := range m.Calls() {
		if op.Method != "select" {
			out = append(out, op)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (m *Memory) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Blob returns an uploaded object.
func (m *Memory) Blob(bucket, path string) (model.Attachment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.blobs[bucket+"/"+path]
	return a, ok
}

// enter logs op and applies the fault hook. Caller must hold m.mu.
func (m *Memory) enter(op Op) error {
	m.calls = append(m.calls, op)
	if m.fault != nil {
		return m.fault(op)
	}
	return nil
}

// createdAtLayout is fixed-width so timestamps sort as strings.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

type memBlobs struct{ m *Memory }

func (b memBlobs) Upload(ctx context.Context, bucket, path string, file *model.Attachment) (string, error) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	if err := b.m.enter(Op{Table: bucket, Method: "upload", ID: path, Record: file}); err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("upload %s/%s: no file", bucket, path)
	}
	key := bucket + "/" + path
	if _, exists := b.m.blobs[key]; exists {
		return "", &RemoteError{Method: http.MethodPost, Path: key, Status: http.StatusConflict, Message: "The resource already exists"}
	}
	b.m.blobs[key] = *file
	return "memory://" + key, nil
}

type memTable[T any] struct {
	m    *Memory
	name string
}

func (t memTable[T]) Select(ctx context.Context, q Query) ([]T, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.enter(Op{Table: t.name, Method: "select"}); err != nil {
		return nil, err
	}

	// Walk newest-first for descending order so ties keep recency.
	rows := t.m.rows[t.name]
	var matched []map[string]any
	for i := range rows {
		row := rows[i]
		if q.Desc {
			row = rows[len(rows)-1-i]
		}
		if matches(row, q.Eq) {
			matched = append(matched, row)
		}
	}
	if q.Order != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			if q.Desc {
				return less(matched[j][q.Order], matched[i][q.Order])
			}
			return less(matched[i][q.Order], matched[j][q.Order])
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]T, 0, len(matched))
	for _, row := range matched {
		rec, err := t.decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t memTable[T]) Insert(ctx context.Context, rec T) (*T, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.enter(Op{Table: t.name, Method: "insert", Record: rec}); err != nil {
		return nil, err
	}
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	return t.insertLocked(row)
}

func (t memTable[T]) insertLocked(row map[string]any) (*T, error) {
	if id, _ := row["id"].(string); id == "" {
		row["id"] = newID()
	}
	if ts, _ := row["created_at"].(string); ts == "" {
		row["created_at"] = t.m.now().UTC().Format(createdAtLayout)
	}
	delete(row, "profiles")
	t.m.rows[t.name] = append(t.m.rows[t.name], row)
	rec, err := t.decode(row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t memTable[T]) Update(ctx context.Context, id string, rec T) (*T, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.enter(Op{Table: t.name, Method: "update", ID: id, Record: rec}); err != nil {
		return nil, err
	}
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	for _, existing := range t.m.rows[t.name] {
		if existing["id"] == id {
			merge(existing, row)
			out, err := t.decode(existing)
			if err != nil {
				return nil, err
			}
			return &out, nil
		}
	}
	return nil, &RemoteError{Method: http.MethodPatch, Path: t.name, Status: http.StatusNotFound, Message: "no row with id " + id}
}

func (t memTable[T]) Upsert(ctx context.Context, rec T, onConflict ...string) (*T, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.enter(Op{Table: t.name, Method: "upsert", Record: rec}); err != nil {
		return nil, err
	}
	row, err := toRow(rec)
	if err != nil {
		return nil, err
	}
	if len(onConflict) > 0 {
		key := make(map[string]string, len(onConflict))
		for _, col := range onConflict {
			key[col] = fmt.Sprint(row[col])
		}
		for _, existing := range t.m.rows[t.name] {
			if matches(existing, key) {
				merge(existing, row)
				out, err := t.decode(existing)
				if err != nil {
					return nil, err
				}
				return &out, nil
			}
		}
	}
	return t.insertLocked(row)
}

func (t memTable[T]) Delete(ctx context.Context, id string) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if err := t.m.enter(Op{Table: t.name, Method: "delete", ID: id}); err != nil {
		return err
	}
	rows := t.m.rows[t.name]
	for i, existing := range rows {
		if existing["id"] == id {
			t.m.rows[t.name] = append(rows[:i:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

// decode converts a stored row to T, joining the author profile onto posts.
func (t memTable[T]) decode(row map[string]any) (T, error) {
	var out T
	view := row
	if t.name == TablePosts {
		if name, ok := t.m.author[fmt.Sprint(row["user_id"])]; ok {
			view = make(map[string]any, len(row)+1)
			for k, v := range row {
				view[k] = v
			}
			view["profiles"] = map[string]any{"name": name}
		}
	}
	data, err := json.Marshal(view)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

func toRow(rec any) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	row := make(map[string]any)
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// merge copies update columns into row, keeping server-assigned ones.
func merge(row, update map[string]any) {
	for k, v := range update {
		if k == "id" || k == "created_at" || k == "profiles" {
			continue
		}
		row[k] = v
	}
}

// less compares JSON column values, numerically when both are numbers.
func less(a, b any) bool {
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			return x < y
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func matches(row map[string]any, eq map[string]string) bool {
	for col, val := range eq {
		if fmt.Sprint(row[col]) != val {
			return false
		}
	}
	return true
}

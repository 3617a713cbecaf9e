// Package cache stores remote data for offline reads: the content cache
// (whole lists and snapshots under fixed names) and the knowledge cache
// (answers keyed by the exact question text).
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

// Content cache keys.
const (
	KeySuppliers = "suppliers"
	KeyWeather   = "weather_forecast"
	KeyTutorials = "tutorials"
)

// Entry is a cache key with its raw value, for listing.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt int64           `json:"updated_at"`
}

// Content is the content cache partition.
type Content struct {
	db  *sql.DB
	now func() time.Time
}

// NewContent returns the content cache over an initialized database.
func NewContent(database *sql.DB) *Content {
	return &Content{db: database, now: time.Now}
}

// Put replaces the value stored under key.
func (c *Content) Put(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.NewInvalidRequest("cache key is required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternal(err)
	}
	return db.PutContent(ctx, c.db, key, data, c.now().Unix())
}

// GetRaw returns the stored JSON, or NOT_AVAILABLE_OFFLINE on a miss.
func (c *Content) GetRaw(ctx context.Context, key string) (*Entry, error) {
	row, err := db.GetContent(ctx, c.db, key)
	if err != nil {
		return nil, err
	}
	return &Entry{Key: row.Key, Value: row.Value, UpdatedAt: row.UpdatedAt}, nil
}

// List returns every content entry ordered by key.
func (c *Content) List(ctx context.Context) ([]Entry, error) {
	rows, err := db.ListContent(ctx, c.db)
	if err != nil {
		return nil, err
	}
	return toEntries(rows), nil
}

// Delete removes key. Missing keys are not an error.
func (c *Content) Delete(ctx context.Context, key string) error {
	return db.DeleteContent(ctx, c.db, key)
}

// Clear empties the partition and returns how many entries were removed.
func (c *Content) Clear(ctx context.Context) (int64, error) {
	return db.ClearContent(ctx, c.db)
}

// Get decodes the value stored under key into T.
// A miss is NOT_AVAILABLE_OFFLINE, never a zero value.
func Get[T any](ctx context.Context, c *Content, key string) (T, error) {
	var out T
	entry, err := c.GetRaw(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(entry.Value, &out); err != nil {
		return out, errors.NewInternal(err)
	}
	return out, nil
}

// Knowledge is the knowledge cache partition. Lookups match the question
// text exactly; there is no normalization or fuzzy matching.
type Knowledge struct {
	db  *sql.DB
	now func() time.Time
}

// NewKnowledge returns the knowledge cache over an initialized database.
func NewKnowledge(database *sql.DB) *Knowledge {
	return &Knowledge{db: database, now: time.Now}
}

// Put stores answer under answer.Question.
func (k *Knowledge) Put(ctx context.Context, answer *model.KnowledgeAnswer) error {
	if answer == nil || answer.Question == "" {
		return errors.NewInvalidRequest("question is required")
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return errors.NewInternal(err)
	}
	return db.PutKnowledge(ctx, k.db, answer.Question, data, k.now().Unix())
}

// Get returns the cached answer for question, or NOT_AVAILABLE_OFFLINE.
func (k *Knowledge) Get(ctx context.Context, question string) (*model.KnowledgeAnswer, error) {
	row, err := db.GetKnowledge(ctx, k.db, question)
	if err != nil {
		return nil, err
	}
	var answer model.KnowledgeAnswer
	if err := json.Unmarshal(row.Value, &answer); err != nil {
		return nil, errors.NewInternal(err)
	}
	return &answer, nil
}

// Questions lists the cached question texts.
func (k *Knowledge) Questions(ctx context.Context) ([]string, error) {
	rows, err := db.ListKnowledge(ctx, k.db)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Key)
	}
	return out, nil
}

// Clear empties the partition.
func (k *Knowledge) Clear(ctx context.Context) (int64, error) {
	return db.ClearKnowledge(ctx, k.db)
}

func toEntries(rows []db.CacheRow) []Entry {
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, Entry{Key: r.Key, Value: r.Value, UpdatedAt: r.UpdatedAt})
	}
	return out
}

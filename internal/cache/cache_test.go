package cache

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestContent_PutGet(t *testing.T) {
	ctx := context.Background()
	c := NewContent(openDB(t))

	suppliers := []model.Supplier{{Name: "Sri Lakshmi Agro", District: "Guntur", Products: []string{"seed"}}}
	require.NoError(t, c.Put(ctx, KeySuppliers, suppliers))

	got, err := Get[[]model.Supplier](ctx, c, KeySuppliers)
	require.NoError(t, err)
	require.Equal(t, suppliers, got)
}

func TestContent_PutReplaces(t *testing.T) {
	ctx := context.Background()
	c := NewContent(openDB(t))

	require.NoError(t, c.Put(ctx, KeySuppliers, []string{"a"}))
	require.NoError(t, c.Put(ctx, KeySuppliers, []string{"b", "c"}))

	got, err := Get[[]string](ctx, c, KeySuppliers)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, got)

	entries, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestContent_MissIsNotAvailableOffline(t *testing.T) {
	ctx := context.Background()
	c := NewContent(openDB(t))

	_, err := Get[model.WeatherSnapshot](ctx, c, KeyWeather)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrNotAvailableOffline), "got %v", err)
}

func TestContent_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	c := NewContent(openDB(t))

	require.NoError(t, c.Put(ctx, KeySuppliers, 1))
	require.NoError(t, c.Put(ctx, KeyWeather, 2))
	require.NoError(t, c.Delete(ctx, KeySuppliers))

	_, err := c.GetRaw(ctx, KeySuppliers)
	require.True(t, errors.Is(err, errors.ErrNotAvailableOffline))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestContent_EmptyKey(t *testing.T) {
	c := NewContent(openDB(t))
	err := c.Put(context.Background(), "", 1)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestKnowledge_ExactMatch(t *testing.T) {
	ctx := context.Background()
	k := NewKnowledge(openDB(t))

	answer := &model.KnowledgeAnswer{
		Question: "When should I sow paddy?",
		Answer:   "Sow after the first monsoon rains.",
		Related:  []string{"a", "b", "c"},
	}
	require.NoError(t, k.Put(ctx, answer))

	got, err := k.Get(ctx, "When should I sow paddy?")
	require.NoError(t, err)
	require.Equal(t, answer, got)

	// Different case or whitespace is a different question
	for _, q := range []string{"when should I sow paddy?", "When should I sow paddy? ", ""} {
		_, err := k.Get(ctx, q)
		require.True(t, errors.Is(err, errors.ErrNotAvailableOffline), "question %q: %v", q, err)
	}

	qs, err := k.Questions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"When should I sow paddy?"}, qs)
}

func TestKnowledge_PutRequiresQuestion(t *testing.T) {
	k := NewKnowledge(openDB(t))
	require.True(t, errors.Is(k.Put(context.Background(), &model.KnowledgeAnswer{}), errors.ErrInvalidRequest))
	require.True(t, errors.Is(k.Put(context.Background(), nil), errors.ErrInvalidRequest))
}

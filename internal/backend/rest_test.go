package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tilth/internal/model"
)

type recorded struct {
	method string
	path   string
	query  map[string][]string
	header http.Header
	body   []byte
}

func newTestServer(t *testing.T, status int, response string) (*Client, *[]recorded) {
	t.Helper()
	var got []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, recorded{r.Method, r.URL.Path, r.URL.Query(), r.Header.Clone(), body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return NewClient(ClientOptions{BaseURL: srv.URL + "/", Key: "anon-key"}), &got
}

func TestREST_InsertSendsRowWithoutServerColumns(t *testing.T) {
	c, got := newTestServer(t, http.StatusCreated, `[{"id":"p1","created_at":"2024-01-01T00:00:00Z","content":"hello","user_id":"u1","profiles":{"name":"Ravi"}}]`)
	b := NewREST(c)

	post, err := b.Posts.Insert(context.Background(), model.Post{Content: "hello", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "p1", post.ID)
	require.NotNil(t, post.Profiles)
	require.Equal(t, "Ravi", post.Profiles.Name)

	require.Len(t, *got, 1)
	req := (*got)[0]
	require.Equal(t, http.MethodPost, req.method)
	require.Equal(t, "/rest/v1/posts", req.path)
	require.Equal(t, "*,profiles(name)", req.query["select"][0])
	require.Equal(t, "anon-key", req.header.Get("apikey"))
	require.Equal(t, "Bearer anon-key", req.header.Get("Authorization"))
	require.Equal(t, "return=representation", req.header.Get("Prefer"))

	var sent map[string]any
	require.NoError(t, json.Unmarshal(req.body, &sent))
	require.NotContains(t, sent, "id")
	require.NotContains(t, sent, "created_at")
	require.Equal(t, "hello", sent["content"])
}

func TestREST_UpsertOnConflict(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `[{"user_id":"u1","task_id":"t1","is_done":true}]`)
	b := NewREST(c)

	status, err := b.TaskStatus.Upsert(context.Background(), model.TaskStatus{UserID: "u1", TaskID: "t1", IsDone: true}, "user_id", "task_id")
	require.NoError(t, err)
	require.True(t, status.IsDone)

	req := (*got)[0]
	require.Equal(t, "user_id,task_id", req.query["on_conflict"][0])
	require.Contains(t, req.header.Get("Prefer"), "resolution=merge-duplicates")
}

func TestREST_SelectQuery(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `[]`)
	b := NewREST(c)

	rows, err := b.Bookmarks.Select(context.Background(), Where("user_id", "u1").Newest().WithLimit(10))
	require.NoError(t, err)
	require.Empty(t, rows)

	req := (*got)[0]
	require.Equal(t, http.MethodGet, req.method)
	require.Equal(t, "eq.u1", req.query["user_id"][0])
	require.Equal(t, "created_at.desc", req.query["order"][0])
	require.Equal(t, "10", req.query["limit"][0])
}

func TestREST_UpdateAndDeleteFilterByID(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `[{"id":"s1","name":"Agro","district":"Guntur"}]`)
	b := NewREST(c)

	_, err := b.Suppliers.Update(context.Background(), "s1", model.Supplier{Name: "Agro", District: "Guntur"})
	require.NoError(t, err)
	require.NoError(t, b.Suppliers.Delete(context.Background(), "s1"))

	require.Equal(t, http.MethodPatch, (*got)[0].method)
	require.Equal(t, "eq.s1", (*got)[0].query["id"][0])
	require.Equal(t, http.MethodDelete, (*got)[1].method)
	require.Equal(t, "eq.s1", (*got)[1].query["id"][0])
}

func TestREST_ErrorCarriesMessage(t *testing.T) {
	c, _ := newTestServer(t, http.StatusForbidden, `{"message":"new row violates row-level security policy"}`)
	b := NewREST(c)

	_, err := b.Outcomes.Insert(context.Background(), model.Outcome{UserID: "u1"})
	require.Error(t, err)
	var rerr *RemoteError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusForbidden, rerr.Status)
	require.Equal(t, "new row violates row-level security policy", rerr.Message)
}

func TestREST_EmptyRepresentationIsError(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, `[]`)
	b := NewREST(c)

	_, err := b.Tutorials.Update(context.Background(), "missing", model.Tutorial{Title: "x", Category: "y"})
	require.Error(t, err)
}

func TestREST_Upload(t *testing.T) {
	c, got := newTestServer(t, http.StatusOK, `{"Key":"community-images/posts/u1/1.jpg"}`)

	url, err := c.Upload(context.Background(), BucketCommunityImages, "posts/u1/1.jpg",
		&model.Attachment{Data: []byte("jpeg"), Filename: "leaf.jpg", MIMEType: "image/jpeg"})
	require.NoError(t, err)
	require.Equal(t, c.baseURL+"/storage/v1/object/public/community-images/posts/u1/1.jpg", url)

	req := (*got)[0]
	require.Equal(t, "/storage/v1/object/community-images/posts/u1/1.jpg", req.path)
	require.Equal(t, "image/jpeg", req.header.Get("Content-Type"))
	require.Equal(t, []byte("jpeg"), req.body)
}

func TestREST_RateLimitedClientStillServes(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)

	b := NewREST(NewClient(ClientOptions{BaseURL: srv.URL, RequestsPerSecond: 1000}))
	for i := 0; i < 3; i++ {
		_, err := b.Suppliers.Select(context.Background(), Query{})
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestREST_CanceledContext(t *testing.T) {
	c, _ := newTestServer(t, http.StatusOK, `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewREST(c).Suppliers.Select(ctx, Query{})
	require.Error(t, err)
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hpungsan/tilth/internal/model"
)

// RemoteError is a non-2xx response from the backend.
type RemoteError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Message)
}

// Client talks to a hosted REST data store (PostgREST tables under /rest/v1,
// object storage under /storage/v1).
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	BaseURL string
	Key     string
	// RequestsPerSecond limits outgoing calls. 0 disables limiting.
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// NewClient creates a REST client.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		key:     opts.Key,
		http:    opts.HTTPClient,
		logger:  opts.Logger,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("backend")
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// NewREST returns a Backend whose tables and blob store are served by c.
func NewREST(c *Client) *Backend {
	return &Backend{
		Reports:         restTable[model.Report]{c: c, name: TableReports},
		CalendarTasks:   restTable[model.CalendarTask]{c: c, name: TableCalendarTasks},
		TaskStatus:      restTable[model.TaskStatus]{c: c, name: TableTaskStatus},
		Bookmarks:       restTable[model.Bookmark]{c: c, name: TableBookmarks},
		QuestionHistory: restTable[model.QuestionHistory]{c: c, name: TableQuestionHistory},
		Outcomes:        restTable[model.Outcome]{c: c, name: TableOutcomes},
		Posts:           restTable[model.Post]{c: c, name: TablePosts, columns: "*,profiles(name)"},
		Tutorials:       restTable[model.Tutorial]{c: c, name: TableTutorials},
		Suppliers:       restTable[model.Supplier]{c: c, name: TableSuppliers},
		Blobs:           c,
	}
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	prefer      string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, r.body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rerr := &RemoteError{Method: r.method, Path: r.path, Status: resp.StatusCode, Message: remoteMessage(body)}
		c.logger.Debug("backend request failed",
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode))
		return rerr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// remoteMessage extracts the human-readable message from an error body.
func remoteMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

// Upload implements BlobStore.
func (c *Client) Upload(ctx context.Context, bucket, path string, file *model.Attachment) (string, error) {
	if file == nil {
		return "", fmt.Errorf("upload %s/%s: no file", bucket, path)
	}
	contentType := file.MIMEType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/storage/v1/object/" + bucket + "/" + path,
		body:        bytes.NewReader(file.Data),
		contentType: contentType,
	}, nil)
	if err != nil {
		return "", err
	}
	return c.PublicURL(bucket, path), nil
}

// PublicURL returns the public URL of an uploaded object.
func (c *Client) PublicURL(bucket, path string) string {
	return c.baseURL + "/storage/v1/object/public/" + bucket + "/" + path
}

type restTable[T any] struct {
	c       *Client
	name    string
	columns string
}

func (t restTable[T]) path() string { return "/rest/v1/" + t.name }

func (t restTable[T]) selectParams() url.Values {
	v := url.Values{}
	if t.columns != "" {
		v.Set("select", t.columns)
	}
	return v
}

func (t restTable[T]) Select(ctx context.Context, q Query) ([]T, error) {
	params := t.selectParams()
	for col, val := range q.Eq {
		params.Set(col, "eq."+val)
	}
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		params.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	var rows []T
	if err := t.c.do(ctx, request{method: http.MethodGet, path: t.path(), query: params}, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t restTable[T]) Insert(ctx context.Context, rec T) (*T, error) {
	return t.write(ctx, http.MethodPost, t.selectParams(), rec, "return=representation")
}

func (t restTable[T]) Update(ctx context.Context, id string, rec T) (*T, error) {
	params := t.selectParams()
	params.Set("id", "eq."+id)
	return t.write(ctx, http.MethodPatch, params, rec, "return=representation")
}

func (t restTable[T]) Upsert(ctx context.Context, rec T, onConflict ...string) (*T, error) {
	params := t.selectParams()
	if len(onConflict) > 0 {
		params.Set("on_conflict", strings.Join(onConflict, ","))
	}
	return t.write(ctx, http.MethodPost, params, rec, "resolution=merge-duplicates,return=representation")
}

func (t restTable[T]) Delete(ctx context.Context, id string) error {
	params := url.Values{}
	params.Set("id", "eq."+id)
	return t.c.do(ctx, request{method: http.MethodDelete, path: t.path(), query: params}, nil)
}

func (t restTable[T]) write(ctx context.Context, method string, params url.Values, rec T, prefer string) (*T, error) {
	body, err := marshalRow(rec)
	if err != nil {
		return nil, err
	}
	var rows []T
	err = t.c.do(ctx, request{
		method:      method,
		path:        t.path(),
		query:       params,
		body:        bytes.NewReader(body),
		contentType: "application/json",
		prefer:      prefer,
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &RemoteError{Method: method, Path: t.path(), Status: http.StatusNotFound, Message: "no row returned"}
	}
	return &rows[0], nil
}

// marshalRow encodes rec without server-assigned columns left empty, so the
// backend fills id and created_at itself.
func marshalRow(rec any) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return data, nil
	}
	for _, col := range []string{"id", "created_at"} {
		if s, ok := m[col].(string); ok && s == "" {
			delete(m, col)
		}
	}
	delete(m, "profiles")
	return json.Marshal(m)
}

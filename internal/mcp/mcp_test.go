package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tilth/internal/action"
	"github.com/hpungsan/tilth/internal/app"
	"github.com/hpungsan/tilth/internal/backend"
	"github.com/hpungsan/tilth/internal/config"
	"github.com/hpungsan/tilth/internal/db"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
)

// testSetup creates an app over a temporary database.
func testSetup(t *testing.T, online bool, mutate func(*config.Config)) *app.App {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.UserID = "u1"
	cfg.UserEmail = "farmer@example.com"
	if mutate != nil {
		mutate(cfg)
	}

	ai := &backend.Scripted{Answers: map[string]*model.KnowledgeAnswer{
		"When to sow paddy?": {Answer: "June, after the first rains.", Related: []string{"Paddy spacing?"}},
	}}
	a, err := app.New(context.Background(), cfg, database, nil, app.Options{
		Online:    &online,
		Backend:   backend.NewMemory().Backend,
		Diagnoser: ai,
		Answerer:  ai,
	})
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected result content")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &out); err != nil {
		t.Fatalf("failed to parse result: %v", err)
	}
	return out
}

func errorCode(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error result, got %s", result.Content[0].(mcp.TextContent).Text)
	}
	return resultJSON(t, result)["error"].(map[string]any)["code"].(string)
}

func queuePosts(t *testing.T, a *app.App, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, _, err := a.Community.AddPost(context.Background(), a.User(), fmt.Sprintf("post %d", i), nil); err != nil {
			t.Fatalf("AddPost: %v", err)
		}
	}
}

func TestHandleStatus(t *testing.T) {
	a := testSetup(t, false, nil)
	queuePosts(t, a, 2)
	h := NewHandlers(a)

	result, err := h.HandleStatus(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleStatus error: %v", err)
	}
	out := resultJSON(t, result)
	if out["online"] != false {
		t.Errorf("online = %v, want false", out["online"])
	}
	if out["pending"] != float64(2) {
		t.Errorf("pending = %v, want 2", out["pending"])
	}
	if out["draining"] != false {
		t.Errorf("draining = %v, want false", out["draining"])
	}
}

func TestHandleQueueListAndCount(t *testing.T) {
	a := testSetup(t, false, nil)
	h := NewHandlers(a)

	result, err := h.HandleQueueList(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleQueueList error: %v", err)
	}
	out := resultJSON(t, result)
	if items, ok := out["items"].([]any); !ok || len(items) != 0 {
		t.Errorf("empty queue items = %v, want []", out["items"])
	}

	queuePosts(t, a, 3)

	result, _ = h.HandleQueueList(context.Background(), makeRequest(nil))
	out = resultJSON(t, result)
	items := out["items"].([]any)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	var prev float64
	for i, raw := range items {
		item := raw.(map[string]any)
		if item["service"] != "community" || item["method"] != "addPost" {
			t.Errorf("item %d = %s.%s, want community.addPost", i, item["service"], item["method"])
		}
		ts := item["timestamp"].(float64)
		if ts <= prev {
			t.Errorf("item %d timestamp %v not after %v", i, ts, prev)
		}
		prev = ts
	}
	first := items[0].(map[string]any)["payload"].(map[string]any)
	if first["content"] != "post 0" {
		t.Errorf("first payload content = %v, want post 0", first["content"])
	}

	result, _ = h.HandleQueueCount(context.Background(), makeRequest(nil))
	if got := resultJSON(t, result)["count"]; got != float64(3) {
		t.Errorf("count = %v, want 3", got)
	}
}

func TestHandleSyncNow(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		a := testSetup(t, false, nil)
		queuePosts(t, a, 1)
		h := NewHandlers(a)

		result, err := h.HandleSyncNow(context.Background(), makeRequest(nil))
		if err != nil {
			t.Fatalf("HandleSyncNow error: %v", err)
		}
		if code := errorCode(t, result); code != "OFFLINE" {
			t.Errorf("code = %s, want OFFLINE", code)
		}
	})

	t.Run("online drains", func(t *testing.T) {
		a := testSetup(t, true, nil)
		for _, content := range []string{"first", "second"} {
			if _, err := a.Queue.Enqueue(context.Background(), action.AddPost{Content: content, UserID: "u1"}); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
		h := NewHandlers(a)

		result, err := h.HandleSyncNow(context.Background(), makeRequest(nil))
		if err != nil {
			t.Fatalf("HandleSyncNow error: %v", err)
		}
		if result.IsError {
			t.Fatalf("unexpected error: %s", result.Content[0].(mcp.TextContent).Text)
		}
		out := resultJSON(t, result)
		if out["synced"] != true {
			t.Errorf("synced = %v, want true", out["synced"])
		}
		if out["succeeded"] != float64(2) {
			t.Errorf("succeeded = %v, want 2", out["succeeded"])
		}
		if a.Status().Pending != 0 {
			t.Errorf("pending after sync = %d, want 0", a.Status().Pending)
		}
	})
}

func TestHandleSetConnectivity(t *testing.T) {
	a := testSetup(t, false, nil)
	queuePosts(t, a, 1)
	h := NewHandlers(a)

	result, _ := h.HandleSetConnectivity(context.Background(), makeRequest(map[string]any{}))
	if code := errorCode(t, result); code != string(errors.ErrInvalidRequest) {
		t.Errorf("missing online: code = %s, want INVALID_REQUEST", code)
	}

	result, err := h.HandleSetConnectivity(context.Background(), makeRequest(map[string]any{"online": true}))
	if err != nil {
		t.Fatalf("HandleSetConnectivity error: %v", err)
	}
	out := resultJSON(t, result)
	drained, ok := out["drain"].(map[string]any)
	if !ok {
		t.Fatalf("expected drain result on offline to online, got %v", out)
	}
	if drained["synced"] != true {
		t.Errorf("synced = %v, want true", drained["synced"])
	}

	result, _ = h.HandleSetConnectivity(context.Background(), makeRequest(map[string]any{"online": true}))
	if _, ok := resultJSON(t, result)["drain"]; ok {
		t.Error("repeated online reading should not drain")
	}
}

func TestHandleKnowledgeLookup(t *testing.T) {
	a := testSetup(t, true, nil)
	h := NewHandlers(a)
	ctx := context.Background()

	result, _ := h.HandleKnowledgeLookup(ctx, makeRequest(map[string]any{"question": "  "}))
	if code := errorCode(t, result); code != string(errors.ErrInvalidRequest) {
		t.Errorf("blank question: code = %s, want INVALID_REQUEST", code)
	}

	result, err := h.HandleKnowledgeLookup(ctx, makeRequest(map[string]any{"question": "When to sow paddy?"}))
	if err != nil {
		t.Fatalf("HandleKnowledgeLookup error: %v", err)
	}
	out := resultJSON(t, result)
	if !strings.HasPrefix(out["answer"].(string), "June") {
		t.Errorf("answer = %v", out["answer"])
	}
	if out["online"] != true {
		t.Errorf("online = %v, want true", out["online"])
	}

	if _, err := a.SetOnline(ctx, false); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}

	result, _ = h.HandleKnowledgeLookup(ctx, makeRequest(map[string]any{"question": "When to sow paddy?"}))
	if result.IsError {
		t.Fatalf("cached question should answer offline: %s", result.Content[0].(mcp.TextContent).Text)
	}

	result, _ = h.HandleKnowledgeLookup(ctx, makeRequest(map[string]any{"question": "when to sow paddy?"}))
	if code := errorCode(t, result); code != string(errors.ErrNotAvailableOffline) {
		t.Errorf("case-changed question offline: code = %s, want NOT_AVAILABLE_OFFLINE", code)
	}
}

func TestHandleContentGet(t *testing.T) {
	a := testSetup(t, true, nil)
	h := NewHandlers(a)
	ctx := context.Background()

	result, _ := h.HandleContentGet(ctx, makeRequest(map[string]any{"key": "suppliers"}))
	if code := errorCode(t, result); code != string(errors.ErrNotAvailableOffline) {
		t.Errorf("miss: code = %s, want NOT_AVAILABLE_OFFLINE", code)
	}

	if err := a.Content.Put(ctx, "suppliers", []map[string]string{{"name": "Rythu Seeds"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, _ = h.HandleContentGet(ctx, makeRequest(map[string]any{"key": "suppliers"}))
	out := resultJSON(t, result)
	if out["key"] != "suppliers" {
		t.Errorf("key = %v, want suppliers", out["key"])
	}
	value := out["value"].([]any)
	if len(value) != 1 || value[0].(map[string]any)["name"] != "Rythu Seeds" {
		t.Errorf("value = %v", value)
	}

	result, _ = h.HandleContentGet(ctx, makeRequest(nil))
	entries := resultJSON(t, result)["entries"].([]any)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestServerRegistration(t *testing.T) {
	a := testSetup(t, true, nil)
	s := NewServer(a, "test")

	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"status",
		"queue_list",
		"queue_count",
		"sync_now",
		"set_connectivity",
		"knowledge_lookup",
		"content_get",
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	a := testSetup(t, true, func(cfg *config.Config) {
		cfg.DisabledTools = []string{"sync_now", "set_connectivity", "sync_now"}
	})
	s := NewServer(a, "test")
	tools := s.ListTools()

	if len(tools) != 5 {
		t.Errorf("registered tool count = %d, want 5", len(tools))
	}
	for _, name := range []string{"sync_now", "set_connectivity"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{"all known", []string{"status", "sync_now"}, []string{}},
		{"unknown", []string{"status", "capsule_store"}, []string{"capsule_store"}},
		{"empty", nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateDisabledTools(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ValidateDisabledTools(%v) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ValidateDisabledTools(%v)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	sort.Strings(names)
	if len(names) != len(toolRegistry) {
		t.Fatalf("AllToolNames() = %d names, want %d", len(names), len(toolRegistry))
	}
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			t.Errorf("AllToolNames returned unknown tool %q", name)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	result := errorResult(errors.NewInternal(fmt.Errorf("open /home/farmer/.tilth/tilth.db: permission denied")))
	text := result.Content[0].(mcp.TextContent).Text
	if strings.Contains(text, "/home/farmer") {
		t.Errorf("internal error leaked details: %s", text)
	}

	result = errorResult(fmt.Errorf("plain error"))
	if code := errorCode(t, result); code != "INTERNAL" {
		t.Errorf("untyped error code = %s, want INTERNAL", code)
	}
}

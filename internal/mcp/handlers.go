package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tilth/internal/app"
	"github.com/hpungsan/tilth/internal/cache"
	"github.com/hpungsan/tilth/internal/drain"
	"github.com/hpungsan/tilth/internal/errors"
	"github.com/hpungsan/tilth/internal/model"
	"github.com/hpungsan/tilth/internal/netstatus"
	"github.com/hpungsan/tilth/internal/queue"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// SetConnectivityRequest represents the arguments for set_connectivity.
type SetConnectivityRequest struct {
	Online *bool `json:"online"`
}

// KnowledgeLookupRequest represents the arguments for knowledge_lookup.
type KnowledgeLookupRequest struct {
	Question string `json:"question"`
}

// ContentGetRequest represents the arguments for content_get.
type ContentGetRequest struct {
	Key string `json:"key,omitempty"`
}

// Response types

// QueueListOutput is the result of queue_list.
type QueueListOutput struct {
	Items []queue.Entry `json:"items"`
	Count int           `json:"count"`
}

// QueueCountOutput is the result of queue_count.
type QueueCountOutput struct {
	Count int `json:"count"`
}

// SetConnectivityOutput is the result of set_connectivity. Drain is set only
// when the reading started a sync.
type SetConnectivityOutput struct {
	Status app.Status    `json:"status"`
	Drain  *drain.Result `json:"drain,omitempty"`
}

// KnowledgeLookupOutput is the result of knowledge_lookup.
type KnowledgeLookupOutput struct {
	*model.KnowledgeAnswer
	Online bool `json:"online"`
}

// ContentListOutput is the result of content_get without a key.
type ContentListOutput struct {
	Entries []cache.Entry `json:"entries"`
}

// Handler implementations

// HandleStatus handles the status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.app.Status())
}

// HandleQueueList handles the queue_list tool call.
func (h *Handlers) HandleQueueList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := h.app.Queue.ListPending(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	if items == nil {
		items = []queue.Entry{}
	}
	return successResult(QueueListOutput{Items: items, Count: len(items)})
}

// HandleQueueCount handles the queue_count tool call.
func (h *Handlers) HandleQueueCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := h.app.Queue.Count(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(QueueCountOutput{Count: n})
}

// HandleSyncNow handles the sync_now tool call.
func (h *Handlers) HandleSyncNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := h.app.Sync(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(res)
}

// HandleSetConnectivity handles the set_connectivity tool call.
func (h *Handlers) HandleSetConnectivity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SetConnectivityRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Online == nil {
		return errorResult(errors.NewInvalidRequest("online is required")), nil
	}

	res, err := h.app.SetOnline(ctx, *input.Online)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(SetConnectivityOutput{Status: h.app.Status(), Drain: res})
}

// HandleKnowledgeLookup handles the knowledge_lookup tool call.
func (h *Handlers) HandleKnowledgeLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[KnowledgeLookupRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.Question) == "" {
		return errorResult(errors.NewInvalidRequest("question is required")), nil
	}

	ans, err := h.app.Knowledge.Ask(ctx, h.app.User(), input.Question)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(KnowledgeLookupOutput{KnowledgeAnswer: ans, Online: h.app.Monitor.Online()})
}

// HandleContentGet handles the content_get tool call.
func (h *Handlers) HandleContentGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContentGetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if input.Key == "" {
		entries, err := h.app.Content.List(ctx)
		if err != nil {
			return errorResult(err), nil
		}
		if entries == nil {
			entries = []cache.Entry{}
		}
		return successResult(ContentListOutput{Entries: entries})
	}

	entry, err := h.app.Content.GetRaw(ctx, input.Key)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var tErr *errors.TilthError
	switch {
	case stderrors.Is(err, netstatus.ErrOffline):
		payload = errorPayload("OFFLINE", err.Error(), 409)
	case stderrors.Is(err, drain.ErrDrainInProgress):
		payload = errorPayload("DRAIN_IN_PROGRESS", err.Error(), 409)
	case stderrors.As(err, &tErr) && tErr.Code == errors.ErrInternal:
		// Internal messages carry file paths and SQL errors
		payload = errorPayload(string(tErr.Code), "an internal error occurred", tErr.Status)
	case stderrors.As(err, &tErr):
		payload = errorPayload(string(tErr.Code), tErr.Message, tErr.Status)
		if tErr.Details != nil {
			payload["error"].(map[string]any)["details"] = tErr.Details
		}
	default:
		payload = errorPayload("INTERNAL", "an internal error occurred", 500)
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func errorPayload(code, message string, status int) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

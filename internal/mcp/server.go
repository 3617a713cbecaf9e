package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/tilth/internal/app"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// Tool definitions

var statusToolDef = mcp.NewTool("status",
	mcp.WithDescription("Connectivity, pending action count, sync notice and last sync result."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var queueListToolDef = mcp.NewTool("queue_list",
	mcp.WithDescription("List queued offline actions in the order they will be replayed."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var queueCountToolDef = mcp.NewTool("queue_count",
	mcp.WithDescription("Number of queued offline actions."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var syncNowToolDef = mcp.NewTool("sync_now",
	mcp.WithDescription("Replay every queued action against the backend. Fails while offline or while a sync is already running."),
)

var setConnectivityToolDef = mcp.NewTool("set_connectivity",
	mcp.WithDescription("Record a connectivity reading. Going from offline to online starts a sync."),
	mcp.WithBoolean("online", mcp.Required(), mcp.Description("true when the network is reachable")),
)

var knowledgeLookupToolDef = mcp.NewTool("knowledge_lookup",
	mcp.WithDescription("Answer a farming question. Offline, only questions asked before with the exact same text are answered."),
	mcp.WithString("question", mcp.Required(), mcp.Description("question text")),
)

var contentGetToolDef = mcp.NewTool("content_get",
	mcp.WithDescription("Read a cached content entry (suppliers, weather_forecast, tutorials). Omit key to list every entry."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("key", mcp.Description("cache key")),
)

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"status": {
		def:     statusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStatus },
	},
	"queue_list": {
		def:     queueListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueueList },
	},
	"queue_count": {
		def:     queueCountToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleQueueCount },
	},
	"sync_now": {
		def:     syncNowToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncNow },
	},
	"set_connectivity": {
		def:     setConnectivityToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSetConnectivity },
	},
	"knowledge_lookup": {
		def:     knowledgeLookupToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleKnowledgeLookup },
	},
	"content_get": {
		def:     contentGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContentGet },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with tilth tools registered.
// Tools listed in the app config's DisabledTools are not registered.
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tilth",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(a)

	disabled := make(map[string]bool, len(a.Config.DisabledTools))
	for _, name := range a.Config.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(a *app.App, version string) error {
	s := NewServer(a, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

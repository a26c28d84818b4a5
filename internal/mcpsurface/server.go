// Package mcpsurface exposes a read-only Model Context Protocol surface
// over a running pipeline: an AI agent or operator can ask for the
// pipeline's current drop counter, cubin registry size, and per-stream
// trace backlog, but cannot mutate pipeline state through this surface
// — the pipeline's lifecycle stays owned by the embedding tool, not by
// an MCP client.
package mcpsurface

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Stats is the narrow read-only surface mcpsurface queries. A
// *pipeline.Pipeline satisfies this directly.
type Stats interface {
	DroppedRecords() uint64
	CubinCount() (ids int, distinctContent int)
	TraceBacklog() map[uint32]int
}

// Server wraps an MCP server instance bound to one Stats source.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server named name/version, exposing tools
// backed by stats.
func NewServer(name, version string, stats Stats) *Server {
	s := server.NewMCPServer(name, version, server.WithLogging())
	registerTools(s, stats)
	return &Server{mcpServer: s}
}

// Start runs the server in stdio mode, blocking until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func registerTools(s *server.MCPServer, stats Stats) {
	s.AddTool(mcp.NewTool("get_dropped_records",
		mcp.WithDescription("Return the pipeline's cumulative count of activity records the vendor tracing library reported as dropped."),
	), handleGetDroppedRecords(stats))

	s.AddTool(mcp.NewTool("get_cubin_registry_stats",
		mcp.WithDescription("Return the number of vendor cubin ids currently registered and the number of distinct content-addressed device images backing them."),
	), handleGetCubinRegistryStats(stats))

	s.AddTool(mcp.NewTool("get_trace_backlog",
		mcp.WithDescription("Return, per device stream, the number of trace events pushed but not yet drained by that stream's worker."),
	), handleGetTraceBacklog(stats))
}

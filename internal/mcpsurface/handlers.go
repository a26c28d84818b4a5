package mcpsurface

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleGetDroppedRecords reports the pipeline's cumulative drop count.
func handleGetDroppedRecords(stats Stats) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return jsonResult(map[string]any{
			"dropped_records": stats.DroppedRecords(),
		})
	}
}

// handleGetCubinRegistryStats reports registered-id and distinct-content
// counts from the cubin registry.
func handleGetCubinRegistryStats(stats Stats) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, distinct := stats.CubinCount()
		return jsonResult(map[string]any{
			"registered_ids":   ids,
			"distinct_content": distinct,
		})
	}
}

// handleGetTraceBacklog reports the per-stream pending-event counts.
func handleGetTraceBacklog(stats Stats) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		backlog := stats.TraceBacklog()
		out := make(map[string]int, len(backlog))
		for streamID, pending := range backlog {
			out[fmt.Sprintf("stream_%d", streamID)] = pending
		}
		return jsonResult(out)
	}
}

// jsonResult renders v as an indented-JSON text tool result, or an
// error-flagged result if v cannot be marshaled.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: err.Error()}},
		}, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(data)}},
	}, nil
}

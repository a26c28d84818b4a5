package mcpsurface

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

type fakeStats struct {
	dropped uint64
	ids     int
	distinct int
	backlog map[uint32]int
}

func (f fakeStats) DroppedRecords() uint64                { return f.dropped }
func (f fakeStats) CubinCount() (int, int)                { return f.ids, f.distinct }
func (f fakeStats) TraceBacklog() map[uint32]int           { return f.backlog }

func TestHandleGetDroppedRecords(t *testing.T) {
	h := handleGetDroppedRecords(fakeStats{dropped: 42})
	res, err := h(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result")
	}
	text := textOf(t, res)
	if !strings.Contains(text, "42") {
		t.Errorf("result %q does not contain dropped count", text)
	}
}

func TestHandleGetCubinRegistryStats(t *testing.T) {
	h := handleGetCubinRegistryStats(fakeStats{ids: 3, distinct: 2})
	res, err := h(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := textOf(t, res)
	if !strings.Contains(text, `"registered_ids": 3`) || !strings.Contains(text, `"distinct_content": 2`) {
		t.Errorf("unexpected result: %s", text)
	}
}

func TestHandleGetTraceBacklog(t *testing.T) {
	h := handleGetTraceBacklog(fakeStats{backlog: map[uint32]int{1: 5}})
	res, err := h(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	text := textOf(t, res)
	if !strings.Contains(text, `"stream_1": 5`) {
		t.Errorf("unexpected result: %s", text)
	}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("want 1 content item, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is not TextContent: %T", res.Content[0])
	}
	return tc.Text
}

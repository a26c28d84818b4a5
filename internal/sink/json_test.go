package sink

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gpuprof/gpuprof/internal/model"
)

func TestJSONSinkWritesOneLinePerActivity(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)

	s.Attribute(model.Kernel{Blocks: 4}, "leaf-1")
	s.Attribute(model.Memcpy{Bytes: 128}, "leaf-2")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var r record
	if err := json.Unmarshal([]byte(lines[0]), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.Kind != "kernel" || r.CCTNode != "leaf-1" {
		t.Errorf("unexpected record: %+v", r)
	}
}

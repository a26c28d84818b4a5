package sink

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gpuprof/gpuprof/internal/model"
)

func TestFoldedStackWriterAccumulatesCounts(t *testing.T) {
	w := NewFoldedStackWriter()

	_ = w.WriteEvent(1, model.TraceEvent{Start: 0, End: 10, CCTNode: "kernelA"})
	_ = w.WriteEvent(1, model.TraceEvent{Start: 10, End: 20, CCTNode: "kernelA"})
	_ = w.WriteEvent(2, model.TraceEvent{Start: 0, End: 10, CCTNode: "kernelB"})

	var buf bytes.Buffer
	if err := w.Render(&buf); err != nil {
		t.Fatalf("Render: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "stream_1;kernelA 2") {
		t.Errorf("missing stream_1;kernelA count, got:\n%s", out)
	}
	if !strings.Contains(out, "stream_2;kernelB 1") {
		t.Errorf("missing stream_2;kernelB count, got:\n%s", out)
	}
}

package sink

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/gpuprof/gpuprof/internal/model"
)

// FoldedStackWriter implements trace.Writer, accumulating per-stream
// trace events into folded-stack counts ("stream;frame count" lines)
// suitable for Brendan-Gregg-style flamegraph tooling: it renders the
// pipeline's live per-stream trace events to the folded-stack text
// format that such tooling consumes, since a cct node here is an
// opaque handle and not a stack string this package can itself format.
//
// This is a reference export only: the calling-context tree itself
// stays out of scope, so FoldedStackWriter never interprets a node's
// internal structure, only its fmt.Stringer/%v rendering.
type FoldedStackWriter struct {
	mu     sync.Mutex
	counts map[string]int // "streamID;frame" -> sample count
}

// NewFoldedStackWriter creates an empty FoldedStackWriter.
func NewFoldedStackWriter() *FoldedStackWriter {
	return &FoldedStackWriter{counts: make(map[string]int)}
}

// WriteEvent implements trace.Writer.
func (w *FoldedStackWriter) WriteEvent(streamID uint32, ev model.TraceEvent) error {
	key := fmt.Sprintf("stream_%d;%v", streamID, ev.CCTNode)
	w.mu.Lock()
	w.counts[key]++
	w.mu.Unlock()
	return nil
}

// Render writes the accumulated folded-stack counts to out, one
// "stack count" line per distinct (stream, frame) pair, sorted for
// deterministic output.
func (w *FoldedStackWriter) Render(out io.Writer) error {
	w.mu.Lock()
	lines := make([]string, 0, len(w.counts))
	for stack, count := range w.counts {
		lines = append(lines, fmt.Sprintf("%s %d", stack, count))
	}
	w.mu.Unlock()

	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

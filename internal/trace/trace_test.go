package trace

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gpuprof/gpuprof/internal/lifecycle"
	"github.com/gpuprof/gpuprof/internal/model"
)

type recordingWriter struct {
	mu     sync.Mutex
	events []model.TraceEvent
}

func (w *recordingWriter) WriteEvent(streamID uint32, ev model.TraceEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) snapshot() []model.TraceEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]model.TraceEvent, len(w.events))
	copy(out, w.events)
	return out
}

func TestFirstEventAlwaysEmitted(t *testing.T) {
	w := &recordingWriter{}
	sub := New(1000, w, lifecycle.NewTracker())

	sub.Push(0, model.TraceEvent{Start: 5, End: 10})
	sub.Shutdown()

	got := w.snapshot()
	if len(got) != 1 || got[0].Start != 5 {
		t.Fatalf("events = %+v, want exactly the first event", got)
	}
}

func TestSamplingSkipsEventsWithinOneFrequencyWindow(t *testing.T) {
	w := &recordingWriter{}
	sub := New(100, w, lifecycle.NewTracker())

	// First event sets stream_start = 0 and is always emitted.
	sub.Push(0, model.TraceEvent{Start: 0, End: 5})
	// No sample boundary (multiple of 100) falls inside [10, 15].
	sub.Push(0, model.TraceEvent{Start: 10, End: 15})
	// 100 falls inside [90, 120]; emitted.
	sub.Push(0, model.TraceEvent{Start: 90, End: 120})
	sub.Shutdown()

	got := w.snapshot()
	if len(got) != 2 {
		t.Fatalf("events = %+v, want 2 emitted (first + boundary-crossing)", got)
	}
	if got[0].Start != 0 || got[1].Start != 90 {
		t.Errorf("unexpected emitted events: %+v", got)
	}
}

func TestBackpressureWakesWorkerWithoutShutdown(t *testing.T) {
	w := &recordingWriter{}
	sub := New(1, w, lifecycle.NewTracker())

	for i := 0; i < backpressureThreshold; i++ {
		sub.Push(0, model.TraceEvent{Start: uint64(i), End: uint64(i) + 1})
	}

	deadline := time.Now().Add(time.Second)
	for len(w.snapshot()) < backpressureThreshold && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := len(w.snapshot()); got != backpressureThreshold {
		t.Fatalf("events drained before shutdown = %d, want %d", got, backpressureThreshold)
	}

	sub.Shutdown()
}

func TestShutdownDrainsEveryStream(t *testing.T) {
	w := &recordingWriter{}
	lc := lifecycle.NewTracker()
	sub := New(1000, w, lc)

	sub.Push(0, model.TraceEvent{Start: 1, End: 2})
	sub.Push(1, model.TraceEvent{Start: 1, End: 2})
	sub.Shutdown()

	if got := len(w.snapshot()); got != 2 {
		t.Fatalf("events after shutdown = %d, want 2", got)
	}
	if lc.LiveCount() != 0 {
		t.Errorf("LiveCount() after Shutdown = %d, want 0", lc.LiveCount())
	}
}

func TestTextWriterFormatsLine(t *testing.T) {
	var sb strings.Builder
	tw := NewTextWriter(&sb)
	if err := tw.WriteEvent(3, model.TraceEvent{Start: 1, End: 2, CCTNode: 42}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if got := sb.String(); got != "3 1 2 42\n" {
		t.Errorf("WriteEvent output = %q", got)
	}
}

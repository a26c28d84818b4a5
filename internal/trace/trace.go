// Package trace implements the per-stream trace subsystem: each device
// stream gets a dedicated worker goroutine and trace channel, events
// are downsampled to at most one per sampling interval, and a worker
// signals backpressure once its channel backs up.
package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/gpuprof/gpuprof/internal/channel"
	"github.com/gpuprof/gpuprof/internal/lifecycle"
	"github.com/gpuprof/gpuprof/internal/model"
)

// backpressureThreshold is the number of unconsumed events that wakes a
// stream's worker outside its normal schedule.
const backpressureThreshold = 100

// Writer receives sampled trace events, in the order each stream emits
// them. One Writer is shared by every stream's worker goroutine, so
// calls for different streams can arrive concurrently and
// implementations must do their own locking.
type Writer interface {
	WriteEvent(streamID uint32, ev model.TraceEvent) error
}

// TextWriter writes one "streamID start end cctnode" line per emitted
// event. It is the subsystem's reference Writer, suitable for a demo
// harness.
type TextWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTextWriter wraps out.
func NewTextWriter(out io.Writer) *TextWriter {
	return &TextWriter{out: out}
}

func (w *TextWriter) WriteEvent(streamID uint32, ev model.TraceEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%d %d %d %v\n", streamID, ev.Start, ev.End, ev.CCTNode)
	return err
}

// stream holds one device stream's trace channel and sampling state.
// stream is owned by its worker goroutine except for the fields
// explicitly marked otherwise.
type stream struct {
	id uint32
	ch channel.TraceChannel

	mu       sync.Mutex
	cond     *sync.Cond
	pending  int
	stopping bool

	hasStart    bool
	streamStart uint64
}

// Subsystem owns every live stream, the sampling frequency they share,
// and the worker goroutines draining them.
type Subsystem struct {
	freq      uint64
	writer    Writer
	lifecycle *lifecycle.Tracker

	mu      sync.Mutex
	streams map[uint32]*stream
	wg      sync.WaitGroup
}

// New creates a Subsystem sampling at frequency freq nanoseconds,
// writing emitted events to writer.
func New(freq uint64, writer Writer, lc *lifecycle.Tracker) *Subsystem {
	return &Subsystem{freq: freq, writer: writer, lifecycle: lc, streams: make(map[uint32]*stream)}
}

// stream returns streamID's stream, starting its worker goroutine on
// first reference.
func (s *Subsystem) stream(streamID uint32) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[streamID]; ok {
		return st
	}
	st := &stream{id: streamID}
	st.cond = sync.NewCond(&st.mu)
	s.streams[streamID] = st

	name := fmt.Sprintf("trace-%d", streamID)
	if s.lifecycle != nil {
		s.lifecycle.Spawn(name)
	}
	s.wg.Add(1)
	go s.run(st, name)
	return st
}

// Push enqueues ev on streamID's trace channel. Called by the monitor
// thread once a kernel, memcpy, memset or sync activity has been
// translated.
func (s *Subsystem) Push(streamID uint32, ev model.TraceEvent) {
	st := s.stream(streamID)
	st.ch.Produce(ev)

	st.mu.Lock()
	st.pending++
	signal := st.pending >= backpressureThreshold
	st.mu.Unlock()
	if signal {
		st.cond.Signal()
	}
}

// run is a stream's worker goroutine: it waits for backpressure or
// shutdown, then drains and samples every queued event before looping.
func (s *Subsystem) run(st *stream, name string) {
	defer s.wg.Done()
	defer func() {
		if s.lifecycle != nil {
			s.lifecycle.Done(name)
		}
	}()

	for {
		st.mu.Lock()
		for st.pending < backpressureThreshold && !st.stopping {
			st.cond.Wait()
		}
		stopping := st.stopping
		st.mu.Unlock()

		s.drain(st)

		if stopping && st.ch.Empty() {
			return
		}
	}
}

// drain consumes every queued event on st's channel, applying the
// sampling filter and resetting the pending counter.
func (s *Subsystem) drain(st *stream) {
	n := st.ch.Consume(func(ev model.TraceEvent) {
		if s.shouldEmit(st, ev) {
			s.writer.WriteEvent(st.id, ev)
		}
	})

	st.mu.Lock()
	st.pending -= n
	if st.pending < 0 {
		st.pending = 0
	}
	st.mu.Unlock()
}

// shouldEmit implements the stream's sampling rule: the first event of
// a stream is always emitted and fixes stream_start; later events at
// [start, end] are emitted iff ceil((start-stream_start)/F)*F falls
// inside [start, end].
func (s *Subsystem) shouldEmit(st *stream, ev model.TraceEvent) bool {
	if !st.hasStart {
		st.hasStart = true
		st.streamStart = ev.Start
		return true
	}
	if s.freq == 0 {
		return true
	}
	sample := ceilDiv(ev.Start-st.streamStart, s.freq) * s.freq
	return sample >= ev.Start && sample <= ev.End
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Shutdown signals every stream's worker to drain and terminate, then
// waits for all of them to exit.
func (s *Subsystem) Shutdown() {
	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		st.mu.Lock()
		st.stopping = true
		st.mu.Unlock()
		st.cond.Broadcast()
	}
	s.wg.Wait()
}

// Backlog reports, for every stream the subsystem has seen (including
// streams whose worker has exited after Shutdown), the number of trace events pushed but not yet drained. Exposed for
// operational introspection (internal/mcpsurface) — it takes no lock
// ordering dependency on a stream's own condition variable, only a
// point-in-time read of its pending counter.
func (s *Subsystem) Backlog() map[uint32]int {
	s.mu.Lock()
	streams := make([]*stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	out := make(map[uint32]int, len(streams))
	for _, st := range streams {
		st.mu.Lock()
		out[st.id] = st.pending
		st.mu.Unlock()
	}
	return out
}

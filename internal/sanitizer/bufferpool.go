package sanitizer

import "github.com/gpuprof/gpuprof/internal/model"

// BufferPool is the host-side buffer pool used on the non-analysis
// drain path: a fixed set of capacity-sized record slices, reused
// across drains and shared by every context of a Manager. Acquire
// blocks until a buffer is released instead of growing unbounded; the
// pool itself drains nothing, and the drain path releases each buffer
// as soon as its records have been handed to the sink.
type BufferPool struct {
	free chan []model.MemAccessRecord
}

// NewBufferPool creates a pool of n buffers, each pre-allocated to
// capacity records.
func NewBufferPool(n int, capacity uint32) *BufferPool {
	ch := make(chan []model.MemAccessRecord, n)
	for i := 0; i < n; i++ {
		ch <- make([]model.MemAccessRecord, 0, capacity)
	}
	return &BufferPool{free: ch}
}

// Acquire returns a zero-length buffer from the pool, blocking if none
// is currently free.
func (p *BufferPool) Acquire() []model.MemAccessRecord {
	return <-p.free
}

// Release returns buf to the pool, truncated to zero length.
func (p *BufferPool) Release(buf []model.MemAccessRecord) {
	p.free <- buf[:0]
}

package channel

import (
	"sync"

	"github.com/gpuprof/gpuprof/internal/model"
)

// ActivityRecord is the payload of an activity channel: a raw vendor
// activity paired with the calling-context node it was attributed to at
// the time the correlation was resolved.
type ActivityRecord struct {
	Activity model.Activity
	CCTNode  model.CCTNode
}

// ActivityChannel carries finished activity records from the monitor
// thread (or an application thread flushing synchronously) to the
// thread that attributes and emits them.
type ActivityChannel = Bichannel[ActivityRecord]

// CorrelationRecord is the payload of a correlation channel: the
// bookkeeping an application thread hands off at API-enter so the
// monitor thread can later pair a vendor activity back to the calling
// context that produced it.
type CorrelationRecord struct {
	HostOpID       uint64
	ThreadID       uint64
	OpKind         model.OpKind
	CallingContext model.CCTNode
	KernelIP       model.NormalizedIP
	HasKernelIP    bool
}

// CorrelationChannel carries pending correlation records from an
// application thread to the monitor thread, which sweeps every live
// correlation channel before translating a freshly completed buffer,
// so a correlation published before a buffer arrives is always visible
// by the time that buffer is translated.
type CorrelationChannel = Bichannel[CorrelationRecord]

// TraceChannel carries per-stream trace intervals from the monitor
// thread to that stream's dedicated trace worker.
type TraceChannel = Bichannel[model.TraceEvent]

// CorrelationRegistry tracks every live per-thread correlation channel
// so the monitor thread can sweep all of them before attributing a
// buffer, without needing thread-local storage (Go has none): each
// application thread registers its channel once, by goroutine-scoped
// owner key, and deregisters it on exit.
type CorrelationRegistry struct {
	mu       sync.Mutex
	channels map[uint64]*CorrelationChannel
}

// NewCorrelationRegistry creates an empty registry.
func NewCorrelationRegistry() *CorrelationRegistry {
	return &CorrelationRegistry{channels: make(map[uint64]*CorrelationChannel)}
}

// Register associates a correlation channel with ownerID (typically a
// dispatcher-assigned thread id), creating a fresh channel if one is not
// already registered, and returns it.
func (r *CorrelationRegistry) Register(ownerID uint64) *CorrelationChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[ownerID]; ok {
		return ch
	}
	ch := &CorrelationChannel{}
	r.channels[ownerID] = ch
	return ch
}

// Deregister removes ownerID's channel once its owning thread has
// cooperatively shut down and its channel is known to be drained.
func (r *CorrelationRegistry) Deregister(ownerID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, ownerID)
}

// Sweep invokes handle on every record currently queued across every
// registered correlation channel. Called by the monitor thread ahead of
// every buffer translation.
func (r *CorrelationRegistry) Sweep(handle func(CorrelationRecord)) int {
	r.mu.Lock()
	snapshot := make([]*CorrelationChannel, 0, len(r.channels))
	for _, ch := range r.channels {
		snapshot = append(snapshot, ch)
	}
	r.mu.Unlock()

	total := 0
	for _, ch := range snapshot {
		total += ch.Consume(handle)
	}
	return total
}

// ActivityChannelRegistry tracks every live per-thread activity channel,
// lazily allocated on first use, so the monitor thread can push a
// translated activity onto the channel of the thread that produced the
// correlation record it was paired with.
type ActivityChannelRegistry struct {
	mu       sync.Mutex
	channels map[uint64]*ActivityChannel
}

// NewActivityChannelRegistry creates an empty registry.
func NewActivityChannelRegistry() *ActivityChannelRegistry {
	return &ActivityChannelRegistry{channels: make(map[uint64]*ActivityChannel)}
}

// Register returns ownerID's activity channel, creating it if this is
// the first reference.
func (r *ActivityChannelRegistry) Register(ownerID uint64) *ActivityChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[ownerID]; ok {
		return ch
	}
	ch := &ActivityChannel{}
	r.channels[ownerID] = ch
	return ch
}

// Deregister removes ownerID's channel.
func (r *ActivityChannelRegistry) Deregister(ownerID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, ownerID)
}

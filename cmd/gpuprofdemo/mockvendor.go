package main

import (
	"fmt"
	"sync"

	"github.com/gpuprof/gpuprof/internal/activity"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// mockVendor stands in for the vendor tracing library and device API:
// the demo harness fires its callbacks directly instead of a real CUDA
// context doing so, but every other component in the pipeline is wired
// exactly as a real deployment would wire it.
type mockVendor struct {
	mu       sync.Mutex
	handlers map[vendorapi.CallbackDomain]func(vendorapi.CallbackInfo)
	stack    []uint64

	dropped map[uint32]uint64
}

func newMockVendor() *mockVendor {
	return &mockVendor{
		handlers: make(map[vendorapi.CallbackDomain]func(vendorapi.CallbackInfo)),
		dropped:  make(map[uint32]uint64),
	}
}

// Subscribe, EnableDomain and Unsubscribe implement vendorapi.CallbackSubscriber.
func (v *mockVendor) Subscribe(domain vendorapi.CallbackDomain, cb func(vendorapi.CallbackInfo)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.handlers[domain] = cb
	return nil
}

func (v *mockVendor) EnableDomain(vendorapi.CallbackDomain, bool) error { return nil }
func (v *mockVendor) Unsubscribe() error                                { return nil }

// fire delivers info to whatever handler subscribed to its domain. The
// scripted scenario calls this directly in place of a real vendor
// library invoking the callback from its own monitor thread.
func (v *mockVendor) fire(info vendorapi.CallbackInfo) {
	v.mu.Lock()
	h := v.handlers[info.Domain]
	v.mu.Unlock()
	if h != nil {
		h(info)
	}
}

// Push and Pop implement vendorapi.ExternalCorrelationStack. The demo
// drives every scenario from a single goroutine, so a plain LIFO slice
// is sufficient; a real vendor library keeps this balanced per native
// thread, invisible to the dispatcher.
func (v *mockVendor) Push(_ vendorapi.ExternalCorrelationKind, id uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stack = append(v.stack, id)
	return nil
}

func (v *mockVendor) Pop(_ vendorapi.ExternalCorrelationKind) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.stack) == 0 {
		return 0, fmt.Errorf("mockvendor: external correlation stack empty")
	}
	id := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return id, nil
}

// ConfigurePCSampling implements vendorapi.PCSamplingConfigurator.
func (v *mockVendor) ConfigurePCSampling(any, vendorapi.PCSamplingConfig) error { return nil }

// DeviceProperties and ResolveLaunchedFunction implement vendorapi.DeviceAPI.
// The constants mirror an Ampere-class SM the way internal/nvmldevice
// would report it, without requiring NVML hardware for the demo.
func (v *mockVendor) DeviceProperties(uint32) (vendorapi.DeviceProperties, error) {
	return vendorapi.DeviceProperties{
		CoreClockRateHz:   1410 * 1_000_000,
		SMCount:           108,
		MaxThreadsPerSM:   2048,
		MaxBlocksPerSM:    32,
		MaxSharedMemPerSM: 164 * 1024,
		MaxRegistersPerSM: 65536,
		WarpSize:          32,
	}, nil
}

type launchHandle struct {
	cubinID       uint32
	functionIndex int
}

func (v *mockVendor) ResolveLaunchedFunction(handle any) (uint32, int, bool) {
	lh, ok := handle.(launchHandle)
	if !ok {
		return 0, 0, false
	}
	return lh.cubinID, lh.functionIndex, true
}

// setDropped configures the drop count GetNumDroppedRecords reports for
// streamID on its next call, then resets it to zero.
func (v *mockVendor) setDropped(streamID uint32, n uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropped[streamID] = n
}

// mockBufferSource implements vendorapi.ActivityBufferSource over an
// in-memory batch queue instead of a real scratch-buffer wire format:
// LoadBatch stores a slice of pre-built activity.RawActivity records
// and returns an opaque buf identifying that batch, which GetNextRecord
// and the paired Decode function use to hand records back one at a
// time, mirroring the real cursor-scan protocol without needing a real
// vendor binary record layout.
type mockBufferSource struct {
	mu      sync.Mutex
	nextID  byte
	batches map[byte][]activity.RawActivity
	vendor  *mockVendor
}

func newMockBufferSource(vendor *mockVendor) *mockBufferSource {
	return &mockBufferSource{batches: make(map[byte][]activity.RawActivity), vendor: vendor}
}

// LoadBatch registers records as a new batch and returns the (buf,
// validSize) pair to pass to monitor.CompleteBuffer.
func (s *mockBufferSource) LoadBatch(records []activity.RawActivity) ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.batches[id] = records
	return []byte{id}, 1
}

func (s *mockBufferSource) RegisterCallbacks(func() []byte, func([]byte, int, uint32)) error {
	return nil
}

func (s *mockBufferSource) ActivityEnable(string) error             { return nil }
func (s *mockBufferSource) ActivityEnableContext(any, string) error { return nil }

func (s *mockBufferSource) GetNextRecord(buf []byte, validSize int, cursor int) ([]byte, int, bool) {
	if len(buf) == 0 {
		return nil, 0, false
	}
	s.mu.Lock()
	records := s.batches[buf[0]]
	s.mu.Unlock()
	if cursor >= len(records) {
		return nil, 0, false
	}
	return []byte{buf[0], byte(cursor)}, cursor + 1, true
}

func (s *mockBufferSource) GetNumDroppedRecords(streamID uint32) uint64 {
	s.vendor.mu.Lock()
	defer s.vendor.mu.Unlock()
	n := s.vendor.dropped[streamID]
	s.vendor.dropped[streamID] = 0
	return n
}

func (s *mockBufferSource) FlushAll() error { return nil }

// decode recovers the activity.RawActivity a GetNextRecord call encoded
// into rec.
func (s *mockBufferSource) decode(rec []byte) activity.RawActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.batches[rec[0]]
	idx := int(rec[1])
	if idx >= len(records) {
		return activity.RawActivity{}
	}
	return records[idx]
}

// mockCCTSink implements vendorapi.CallingContextSink with a flat
// incrementing-id tree; the demo never inspects node identity beyond
// using it as a map key for display.
type mockCCTSink struct {
	mu   sync.Mutex
	next int
}

func (s *mockCCTSink) InsertPlaceholder(parent model.CCTNode, kind model.OpKind) model.CCTNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("%v>%s#%d", parent, kind, s.next)
}

func (s *mockCCTSink) InsertNormalizedIP(node model.CCTNode, nip model.NormalizedIP) model.CCTNode {
	return fmt.Sprintf("%v@lm%d+0x%x", node, nip.LoadModuleID, nip.Offset)
}

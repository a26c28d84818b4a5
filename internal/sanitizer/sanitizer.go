// Package sanitizer implements the GPU-resident sanitizer ring-buffer
// protocol: per-context device buffer initialization, the launch-begin
// reset/launch-end drain sequence, and the optional on-device
// address-diff analysis path.
package sanitizer

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/gpuprof/gpuprof/internal/channel"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/patchmodule"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// defaultCapacity is the device-side record array's fixed capacity.
const defaultCapacity = 1024

// RecordsChannel carries drained host-side record buffers from the
// application thread that observed the kernel-launch end to whichever
// thread consumes them.
type RecordsChannel = channel.Bichannel[[]model.MemAccessRecord]

// AnalysisSink receives address-diff records produced by the on-device
// analysis kernel.
type AnalysisSink interface {
	Analyze(ctxID uint32, records []model.AddressDiffRecord)
}

// RecordSink receives drained memory-access record buffers from the
// non-analysis drain path.
type RecordSink interface {
	Records(ctxID uint32, records []model.MemAccessRecord)
}

// context holds one GPU context's sanitizer state.
type context struct {
	id                uint32
	handle            any
	bufHandle         any
	readDiffHandle    any
	writeDiffHandle   any
	analysisMode      bool
	capacity          uint32
	samplingFrequency uint32
	samplingOffset    uint32
	channel           RecordsChannel
}

// Config wires a Manager to its collaborators.
type Config struct {
	Device   vendorapi.PatchDeviceAPI
	Resolver *patchmodule.Resolver
	Pool     *BufferPool
	Analysis AnalysisSink
	Records  RecordSink
	// Filter reports whether functionID should be instrumented; nil
	// instruments every kernel launch.
	Filter func(functionID uint32) bool
	// Fatal is invoked for device allocation failures, which are
	// unrecoverable (unlike a missing patch fatbin, which only disables
	// sanitization for the offending context).
	Fatal func(format string, args ...any)
}

// Manager coordinates sanitizer state across every instrumented
// context.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	contexts map[uint32]*context
}

// New creates a Manager from cfg.
func New(cfg Config) *Manager {
	if cfg.Fatal == nil {
		cfg.Fatal = func(format string, args ...any) {
			log.Printf(format, args...)
			os.Exit(1)
		}
	}
	return &Manager{cfg: cfg, contexts: make(map[uint32]*context)}
}

// InitContext allocates ctxID's device-resident buffer (and, in
// analysis mode, its two address-diff buffers) on a dedicated priority
// stream. A patch-fatbin resolution failure disables sanitization for
// this context only, returning a non-fatal error; a device allocation
// failure invokes cfg.Fatal, since the rest of the pipeline cannot
// proceed without it.
func (m *Manager) InitContext(ctxID uint32, ctxHandle any, patchName string, analysisMode bool) error {
	if m.cfg.Resolver != nil {
		if _, err := m.cfg.Resolver.Resolve(patchName); err != nil {
			return fmt.Errorf("sanitizer: context %d disabled: %w", ctxID, err)
		}
	}

	capacity := uint32(defaultCapacity)
	bufHandle, err := m.cfg.Device.AllocateBuffer(ctxHandle, capacity)
	if err != nil {
		m.cfg.Fatal("sanitizer: allocate buffer for context %d: %v", ctxID, err)
		return err
	}

	ctx := &context{id: ctxID, handle: ctxHandle, bufHandle: bufHandle, analysisMode: analysisMode, capacity: capacity}

	if analysisMode {
		readHandle, writeHandle, err := m.cfg.Device.AllocateAddrDiffBuffers(ctxHandle, capacity)
		if err != nil {
			m.cfg.Fatal("sanitizer: allocate address-diff buffers for context %d: %v", ctxID, err)
			return err
		}
		ctx.readDiffHandle, ctx.writeDiffHandle = readHandle, writeHandle
	}

	m.mu.Lock()
	m.contexts[ctxID] = ctx
	m.mu.Unlock()
	return nil
}

// OnLaunchBegin resets ctxID's buffer header for a new kernel launch
// and binds the device callback data pointer to it. instrumented is
// false when the launch is filtered out or the context was never
// successfully initialized; neither case is an error.
func (m *Manager) OnLaunchBegin(ctxID, functionID uint32, launchFunction any, gridDim, blockDim [3]uint32) (instrumented bool, err error) {
	if m.cfg.Filter != nil && !m.cfg.Filter(functionID) {
		return false, nil
	}

	ctx := m.context(ctxID)
	if ctx == nil {
		return false, nil
	}

	numThreads := uint64(gridDim[0]) * uint64(gridDim[1]) * uint64(gridDim[2]) *
		uint64(blockDim[0]) * uint64(blockDim[1]) * uint64(blockDim[2])

	header := model.SanitizerBufferHeader{
		Size:              ctx.capacity,
		NumThreads:        numThreads,
		SamplingFrequency: ctx.samplingFrequency,
		SamplingOffset:    ctx.samplingOffset,
	}
	if err := m.cfg.Device.ResetHeader(ctx.bufHandle, header); err != nil {
		return false, fmt.Errorf("sanitizer: reset header for context %d: %w", ctxID, err)
	}
	if err := m.cfg.Device.SetCallbackData(launchFunction, ctx.bufHandle); err != nil {
		return false, fmt.Errorf("sanitizer: set callback data for context %d: %w", ctxID, err)
	}
	return true, nil
}

// OnLaunchEnd drains ctxID's buffer: poll the header, drain whichever
// buffer(s) are full, and repeat until every thread has reported (or,
// failing that, is known never to sample). In analysis mode a final
// pass hands the on-device analysis kernel the producer-done signal
// before synchronizing the priority stream.
func (m *Manager) OnLaunchEnd(ctxID uint32) error {
	ctx := m.context(ctxID)
	if ctx == nil {
		return nil
	}

	for {
		header, err := m.cfg.Device.ReadHeader(ctx.bufHandle) // step 1
		if err != nil {
			return fmt.Errorf("sanitizer: read header for context %d: %w", ctxID, err)
		}

		if ctx.analysisMode {
			if err := m.drainAnalysisBuffers(ctx); err != nil { // step 2
				return err
			}
		} else if header.Full != 0 {
			if err := m.drainRecordBuffer(ctx, header); err != nil { // step 3
				return err
			}
		}

		if header.NumThreads == header.NumLeftThreads {
			break
		}
	}

	if ctx.analysisMode {
		return m.finishAnalysis(ctx)
	}
	return nil
}

// drainAnalysisBuffers implements step 2: copy both address-diff
// headers, and for whichever is full, copy its records to the host,
// clear full, write it back, and hand the records to the sink.
func (m *Manager) drainAnalysisBuffers(ctx *context) error {
	for _, handle := range []any{ctx.readDiffHandle, ctx.writeDiffHandle} {
		h, err := m.cfg.Device.ReadHeader(handle)
		if err != nil {
			return fmt.Errorf("sanitizer: read address-diff header for context %d: %w", ctx.id, err)
		}
		if h.Full == 0 {
			continue
		}
		recs, err := m.cfg.Device.ReadAddrDiffRecords(handle, h.Head, h.Tail)
		if err != nil {
			return fmt.Errorf("sanitizer: read address-diff records for context %d: %w", ctx.id, err)
		}
		if err := m.cfg.Device.WriteBackFull(handle, 0); err != nil {
			return fmt.Errorf("sanitizer: write back address-diff header for context %d: %w", ctx.id, err)
		}
		if m.cfg.Analysis != nil {
			m.cfg.Analysis.Analyze(ctx.id, recs)
		}
	}
	return nil
}

// drainRecordBuffer implements step 3: acquire a pooled host buffer,
// copy the device records into it, clear (and write back only) full —
// leaving head_index untouched so the device sees continuous indexing
// — and push the filled buffer onto the context's records channel. In
// non-async mode the host immediately consumes its own channel.
func (m *Manager) drainRecordBuffer(ctx *context, header model.SanitizerBufferHeader) error {
	recs, err := m.cfg.Device.ReadRecords(ctx.bufHandle, header.Head, header.Tail)
	if err != nil {
		return fmt.Errorf("sanitizer: read records for context %d: %w", ctx.id, err)
	}

	buf := m.cfg.Pool.Acquire()
	buf = append(buf, recs...)

	if err := m.cfg.Device.WriteBackFull(ctx.bufHandle, 0); err != nil {
		return fmt.Errorf("sanitizer: write back header for context %d: %w", ctx.id, err)
	}

	ctx.channel.Produce(buf)
	ctx.channel.Consume(func(drained []model.MemAccessRecord) {
		if m.cfg.Records != nil {
			m.cfg.Records.Records(ctx.id, drained)
		}
		m.cfg.Pool.Release(drained)
	})
	return nil
}

// finishAnalysis implements the final analysis-mode pass: tell the
// on-device analysis kernel the producer is done (analysis=0, full=0),
// hand any remaining records to the sink, and synchronize the
// priority stream.
func (m *Manager) finishAnalysis(ctx *context) error {
	for _, handle := range []any{ctx.readDiffHandle, ctx.writeDiffHandle} {
		h, err := m.cfg.Device.ReadHeader(handle)
		if err != nil {
			return fmt.Errorf("sanitizer: final read of address-diff header for context %d: %w", ctx.id, err)
		}
		recs, err := m.cfg.Device.ReadAddrDiffRecords(handle, h.Head, h.Tail)
		if err != nil {
			return fmt.Errorf("sanitizer: final read of address-diff records for context %d: %w", ctx.id, err)
		}
		if err := m.cfg.Device.WriteBackFull(handle, 0); err != nil {
			return fmt.Errorf("sanitizer: final write back for context %d: %w", ctx.id, err)
		}
		if m.cfg.Analysis != nil && len(recs) > 0 {
			m.cfg.Analysis.Analyze(ctx.id, recs)
		}
	}
	return m.cfg.Device.SynchronizeStream(ctx.handle)
}

func (m *Manager) context(ctxID uint32) *context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[ctxID]
}

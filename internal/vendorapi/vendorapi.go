// Package vendorapi declares the boundary between the activity pipeline
// and its external collaborators: the vendor tracing library, the GPU
// device API, and the embedding tool's own calling-context and metric
// sinks. None of these are implemented here — the core depends only on
// these interfaces, injected at startup, rather than on weak-dlsym-
// style late binding and file-scope globals.
package vendorapi

import "github.com/gpuprof/gpuprof/internal/model"

// CallbackDomain names one of the three vendor callback domains the
// dispatcher subscribes to.
type CallbackDomain int

const (
	DomainResource CallbackDomain = iota
	DomainDriverAPI
	DomainRuntimeAPI
)

// CallbackSubscriber is the vendor tracing library's callback
// subscription surface.
type CallbackSubscriber interface {
	Subscribe(domain CallbackDomain, cb func(CallbackInfo)) error
	EnableDomain(domain CallbackDomain, enabled bool) error
	Unsubscribe() error
}

// CallbackInfo is the information the vendor callback delivers on API
// enter/exit and resource events. Fields not relevant to the event kind
// are left zero.
type CallbackInfo struct {
	Domain     CallbackDomain
	IsEnter    bool
	FunctionID uint32
	ThreadID   uint64

	// Resource-domain fields.
	ModuleLoaded   bool
	ModuleUnloaded bool
	ContextCreated bool
	CubinID        uint32
	ModuleID       uint32
	ContextID      uint32
	CubinBytes     []byte

	// Kernel-launch fields, populated only for kernel-launch driver
	// APIs; LaunchFunction is an opaque vendor handle passed through to
	// DeviceAPI.ResolveLaunchedFunction.
	LaunchFunction any
	GridDim        [3]uint32
	BlockDim       [3]uint32
}

// ActivityBufferSource is the vendor's buffer-request/buffer-complete
// protocol.
type ActivityBufferSource interface {
	// RegisterCallbacks installs request/complete handlers the vendor
	// invokes on its own monitor thread.
	RegisterCallbacks(request func() []byte, complete func(buf []byte, validSize int, streamID uint32)) error
	ActivityEnable(kind string) error
	ActivityEnableContext(ctxHandle any, kind string) error
	// GetNextRecord advances the cursor in buf (whose valid prefix is
	// validSize bytes) and returns the next raw vendor record, or ok ==
	// false once the buffer is exhausted.
	GetNextRecord(buf []byte, validSize int, cursor int) (rec []byte, next int, ok bool)
	GetNumDroppedRecords(streamID uint32) uint64
	FlushAll() error
}

// ExternalCorrelationKind tags what a pushed external-correlation id
// refers to; UNKNOWN is used for the dispatcher's own bookkeeping push.
type ExternalCorrelationKind int

const (
	CorrelationKindUnknown ExternalCorrelationKind = iota
)

// ExternalCorrelationStack is the vendor's per-thread external
// correlation id stack.
type ExternalCorrelationStack interface {
	Push(kind ExternalCorrelationKind, id uint64) error
	Pop(kind ExternalCorrelationKind) (uint64, error)
}

// PCSamplingConfig configures the vendor's PC-sampling collection.
type PCSamplingConfig struct {
	Period  uint32
	Period2 uint32
}

// PCSamplingConfigurator lets the dispatcher enable PC sampling for a
// newly created context.
type PCSamplingConfigurator interface {
	ConfigurePCSampling(ctxHandle any, cfg PCSamplingConfig) error
}

// ResourceCallbackSource is the vendor's device-clock query. Module and
// cubin resource deliveries do not go through it: they arrive on
// CallbackSubscriber's resource domain as CallbackInfo fields.
type ResourceCallbackSource interface {
	DeviceClock(deviceID uint32) (uint64, error)
}

// DeviceProperties holds the per-device constants G's occupancy math
// needs, queried once per device and cached.
type DeviceProperties struct {
	CoreClockRateHz    uint64
	SMCount            uint32
	MaxThreadsPerSM    uint32
	MaxBlocksPerSM     uint32
	MaxSharedMemPerSM  uint32
	MaxRegistersPerSM  uint32
	WarpSize           uint32
}

// DeviceAPI is the read-only slice of the GPU device API the core
// queries: device properties for occupancy math, and resolution of an
// opaque vendor function handle to a normalized ip. The sanitizer's
// device-side operations (buffer allocation, header and record copies,
// write-back, stream synchronize) go through PatchDeviceAPI instead; no
// interface in this package covers context enumeration, module load,
// kernel launch or memset.
type DeviceAPI interface {
	DeviceProperties(deviceID uint32) (DeviceProperties, error)
	// ResolveLaunchedFunction inspects the vendor's opaque function
	// handle to recover (cubinID, functionIndex). This reverse-engineers
	// vendor-internal struct layout and must degrade gracefully: ok is
	// false (never an error) on any layout mismatch, which disables
	// kernel-ip resolution rather than failing the launch.
	ResolveLaunchedFunction(handle any) (cubinID uint32, functionIndex int, ok bool)
}

// CallingContextSink is the embedding tool's calling-context tree,
// exposed only through the two operations the core needs. The core
// never inspects tree internals.
type CallingContextSink interface {
	InsertPlaceholder(parent model.CCTNode, kind model.OpKind) model.CCTNode
	InsertNormalizedIP(node model.CCTNode, nip model.NormalizedIP) model.CCTNode
}

// MetricSink receives fully translated activities for attribution.
type MetricSink interface {
	Attribute(activity model.Activity, node model.CCTNode)
}

// CapabilityProbe reports whether an optional vendor feature is present
// before the dispatcher relies on it, so a layout or API-version
// mismatch degrades a single feature instead of crashing the pipeline.
type CapabilityProbe interface {
	// Supports reports whether feature is usable on the currently
	// loaded vendor library.
	Supports(feature Feature) bool
}

// Feature names an optional vendor capability a CapabilityProbe can be
// asked about.
type Feature string

const (
	FeatureKernelIPResolution Feature = "kernel_ip_resolution"
	FeaturePCSampling         Feature = "pc_sampling"
	FeatureSanitizer          Feature = "sanitizer"
)

// PatchDeviceAPI is the narrow device-side surface the sanitizer
// subsystem (J) needs: allocating the device-resident gpu_patch_buffer
// and optional address-diff buffers on a priority stream, resetting and
// reading their headers, and copying records back to the host. It is
// deliberately disjoint from DeviceAPI, which only the translator and
// dispatcher use.
type PatchDeviceAPI interface {
	AllocateBuffer(ctxHandle any, capacity uint32) (bufHandle any, err error)
	AllocateAddrDiffBuffers(ctxHandle any, capacity uint32) (readHandle, writeHandle any, err error)
	ResetHeader(bufHandle any, header model.SanitizerBufferHeader) error
	ReadHeader(bufHandle any) (model.SanitizerBufferHeader, error)
	ReadRecords(bufHandle any, head, tail uint32) ([]model.MemAccessRecord, error)
	ReadAddrDiffRecords(bufHandle any, head, tail uint32) ([]model.AddressDiffRecord, error)
	WriteBackFull(bufHandle any, full uint32) error
	SetCallbackData(launchFunction any, bufHandle any) error
	SynchronizeStream(ctxHandle any) error
}

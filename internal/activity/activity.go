// Package activity implements the activity translator: it converts
// one already-decoded vendor activity record into the tool's internal
// activity schema, resolving the calling context via the correlation
// index and computing occupancy/SM-efficiency metrics for kernel
// activities.
//
// Decoding the vendor's wire-format buffer into a RawActivity is
// outside this package's scope; the monitor thread's cursor-scan is
// responsible for handing Translate an already-typed record.
package activity

import (
	"sync"

	"github.com/gpuprof/gpuprof/internal/corrindex"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/relocate"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// RawKind tags which variant a RawActivity carries.
type RawKind int

const (
	RawPCSample RawKind = iota
	RawPCSampleInfo
	RawMemcpy
	RawKernel
	RawGlobalAccess
	RawSharedAccess
	RawBranch
	RawSync
	RawMemory
	RawMemset
	RawFunction
	RawExternalCorrelation
	RawCDPKernel
	RawEvent
	RawUnknown
)

// RawActivity is the pre-decoded input to Translate: one vendor
// activity record, typed but not yet correlated or (for kernels)
// dimensioned into occupancy.
type RawActivity struct {
	Kind                RawKind
	VendorCorrelationID uint64

	// PC sample.
	FunctionID     uint32
	PCOffset       uint64
	StallReason    model.StallReason
	Samples        uint32
	LatencySamples uint32

	// PC sample info.
	TotalSamples     uint64
	DroppedSamples   uint64
	PeriodCycles     uint64
	KernelDurationNs uint64
	DeviceID         uint32

	// Memcpy / sync / memory / memset / function / cdp-kernel / event
	// pass through to the matching model type nearly unchanged.
	Memcpy      model.Memcpy
	Sync        model.Sync
	Memory      model.Memory
	Memset      model.Memset
	Function    model.Function
	CDPKernel   model.CDPKernel
	Event       model.Event
	Global      model.GlobalAccess
	Shared      model.SharedAccess
	Branch      model.Branch

	// Kernel (raw dimensions; occupancy is computed by Translate).
	Blocks          uint32
	ThreadsPerBlock uint32
	SharedMemBytes  uint32
	Registers       uint32
	Interval        model.Interval
	IDs             model.IDs

	// External correlation.
	HostCorrelationID uint64

	VendorKindTag int
}

// Translator converts RawActivity records into model.Activity values,
// consulting the shared correlation index for context resolution and
// caching per-device properties on first use.
type Translator struct {
	index    *corrindex.Index
	relocate *relocate.Map
	device   vendorapi.DeviceAPI

	mu         sync.Mutex
	deviceProp map[uint32]vendorapi.DeviceProperties
}

// New creates a Translator.
func New(index *corrindex.Index, relocate *relocate.Map, device vendorapi.DeviceAPI) *Translator {
	return &Translator{index: index, relocate: relocate, device: device, deviceProp: make(map[uint32]vendorapi.DeviceProperties)}
}

// Translate converts raw into an internal activity, and resolves the
// correlation record it pairs with when raw carries a vendor
// correlation id. attributed is false when no correlation record could
// be resolved; the activity is still returned so the caller can count
// it, just without a calling-context attribution.
func (t *Translator) Translate(raw RawActivity) (activity model.Activity, rec model.CorrelationRecord, attributed bool) {
	switch raw.Kind {
	case RawExternalCorrelation:
		t.index.Binding.Insert(raw.VendorCorrelationID, raw.HostCorrelationID)
		return model.ExternalCorrelation{
			VendorCorrelationID: raw.VendorCorrelationID,
			HostCorrelationID:   raw.HostCorrelationID,
		}, model.CorrelationRecord{}, false

	case RawPCSample:
		a := model.PCSample{StallReason: raw.StallReason, Samples: raw.Samples, LatencySamples: raw.LatencySamples}
		if binding, ok := t.index.Functions.Lookup(raw.FunctionID); ok {
			if nip, ok := t.relocate.Transform(binding.CubinID, binding.FunctionIndex, raw.PCOffset); ok {
				a.PC = nip
			}
		}
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return a, rec, attributed

	case RawPCSampleInfo:
		props := t.deviceProperties(raw.DeviceID)
		a := model.PCSampleInfo{
			TotalSamples:   raw.TotalSamples,
			DroppedSamples: raw.DroppedSamples,
			PeriodCycles:   raw.PeriodCycles,
		}
		if raw.PeriodCycles > 0 {
			a.FullSMSamples = fullSMSamples(props, raw.KernelDurationNs, raw.PeriodCycles)
		}
		return a, model.CorrelationRecord{}, false

	case RawKernel:
		props := t.deviceProperties(raw.IDs.DeviceID)
		active, max := occupancy(props, raw.ThreadsPerBlock, raw.Registers, raw.SharedMemBytes)
		a := model.Kernel{
			Blocks: raw.Blocks, SharedMemBytes: raw.SharedMemBytes, Registers: raw.Registers,
			ActiveWarpsPerSM: active, MaxActiveWarpsPerSM: max,
			Interval: raw.Interval, IDs: raw.IDs,
		}
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return a, rec, attributed

	case RawMemcpy:
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return raw.Memcpy, rec, attributed

	case RawGlobalAccess:
		return raw.Global, model.CorrelationRecord{}, false
	case RawSharedAccess:
		return raw.Shared, model.CorrelationRecord{}, false
	case RawBranch:
		return raw.Branch, model.CorrelationRecord{}, false
	case RawSync:
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return raw.Sync, rec, attributed
	case RawMemory:
		return raw.Memory, model.CorrelationRecord{}, false
	case RawMemset:
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return raw.Memset, rec, attributed
	case RawFunction:
		return raw.Function, model.CorrelationRecord{}, false
	case RawCDPKernel:
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return raw.CDPKernel, rec, attributed
	case RawEvent:
		rec, attributed = t.index.ResolveHostID(raw.VendorCorrelationID)
		if attributed {
			t.index.Consume(rec.HostCorrelationID)
		}
		return raw.Event, rec, attributed
	default:
		return model.Unknown{VendorKind: raw.VendorKindTag}, model.CorrelationRecord{}, false
	}
}

// deviceProperties returns cached properties for deviceID, querying and
// inserting them on first reference: a lazy insert with a one-time
// property query.
func (t *Translator) deviceProperties(deviceID uint32) vendorapi.DeviceProperties {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.deviceProp[deviceID]; ok {
		return p
	}
	p, _ := t.device.DeviceProperties(deviceID)
	t.deviceProp[deviceID] = p
	return p
}

// occupancy computes theoretical active-warps-per-SM: active is the
// minimum of the per-block limits implied by thread count, register
// count, and shared-memory bytes against the hardware maximum blocks
// per SM, times warps-per-block. max is the hardware ceiling
// (MaxThreadsPerSM/WarpSize), independent of how many blocks this
// particular kernel launch occupies.
func occupancy(props vendorapi.DeviceProperties, threadsPerBlock, registers, sharedMemBytes uint32) (active, max float64) {
	if props.WarpSize == 0 || props.MaxBlocksPerSM == 0 {
		return 0, 0
	}
	warpsPerBlock := ceilDiv(threadsPerBlock, props.WarpSize)

	blocksByThreads := props.MaxBlocksPerSM
	if props.MaxThreadsPerSM > 0 && threadsPerBlock > 0 {
		blocksByThreads = props.MaxThreadsPerSM / threadsPerBlock
	}
	blocksByRegs := props.MaxBlocksPerSM
	if props.MaxRegistersPerSM > 0 && registers > 0 {
		blocksByRegs = props.MaxRegistersPerSM / (registers * threadsPerBlock)
	}
	blocksByShared := props.MaxBlocksPerSM
	if props.MaxSharedMemPerSM > 0 && sharedMemBytes > 0 {
		blocksByShared = props.MaxSharedMemPerSM / sharedMemBytes
	}

	blocks := min3(props.MaxBlocksPerSM, blocksByThreads, blocksByRegs, blocksByShared)

	active = float64(blocks) * float64(warpsPerBlock)
	max = float64(props.MaxThreadsPerSM / props.WarpSize)
	return active, max
}

// fullSMSamples computes the PC-sample-info full-SM sample count:
// core_clock_rate × kernel_duration / sampling_period × sm_count.
func fullSMSamples(props vendorapi.DeviceProperties, kernelDurationNs uint64, periodCycles uint64) uint64 {
	durationCycles := props.CoreClockRateHz * kernelDurationNs / 1e9
	return durationCycles / periodCycles * uint64(props.SMCount)
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func min3(a uint32, rest ...uint32) uint32 {
	m := a
	for _, v := range rest {
		if v < m {
			m = v
		}
	}
	return m
}


// Package nvmldevice implements vendorapi.DeviceAPI's read-only device
// property query against the real driver via
// github.com/NVIDIA/go-nvml/pkg/nvml.
//
// NVML exposes clock rates, memory bus width, and (via
// DeviceGetAttributes, the MIG-instance-accounting call) a device's
// streaming-multiprocessor count, but it has no equivalent of a CUDA
// occupancy calculator's per-architecture constants (max threads per
// SM, max resident blocks per SM, max shared memory per SM, warp size).
// Those are looked up from a small static table keyed by the
// nvml.DeviceArchitecture NVML itself reports.
package nvmldevice

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// archLimits are the per-architecture occupancy constants NVML itself
// does not report. Values are the documented CUDA occupancy-calculator
// defaults for one streaming multiprocessor of the named architecture.
type archLimits struct {
	maxThreadsPerSM   uint32
	maxBlocksPerSM    uint32
	maxSharedMemPerSM uint32
	maxRegistersPerSM uint32
	warpSize          uint32
}

var knownArch = map[nvml.DeviceArchitecture]archLimits{
	nvml.DEVICE_ARCH_PASCAL:  {maxThreadsPerSM: 2048, maxBlocksPerSM: 32, maxSharedMemPerSM: 65536 + 16384, maxRegistersPerSM: 65536, warpSize: 32},
	nvml.DEVICE_ARCH_VOLTA:   {maxThreadsPerSM: 2048, maxBlocksPerSM: 32, maxSharedMemPerSM: 98304, maxRegistersPerSM: 65536, warpSize: 32},
	nvml.DEVICE_ARCH_TURING:  {maxThreadsPerSM: 1024, maxBlocksPerSM: 16, maxSharedMemPerSM: 65536, maxRegistersPerSM: 65536, warpSize: 32},
	nvml.DEVICE_ARCH_AMPERE:  {maxThreadsPerSM: 2048, maxBlocksPerSM: 32, maxSharedMemPerSM: 166912, maxRegistersPerSM: 65536, warpSize: 32},
	nvml.DEVICE_ARCH_HOPPER:  {maxThreadsPerSM: 2048, maxBlocksPerSM: 32, maxSharedMemPerSM: 233472, maxRegistersPerSM: 65536, warpSize: 32},
}

// defaultLimits is used when NVML reports an architecture this table
// does not carry (an unreleased or unrecognized GPU generation), so
// occupancy math degrades to a conservative estimate rather than
// dividing by zero.
var defaultLimits = archLimits{maxThreadsPerSM: 2048, maxBlocksPerSM: 32, maxSharedMemPerSM: 65536, maxRegistersPerSM: 65536, warpSize: 32}

// limitsFor returns the occupancy constants for arch, falling back to
// defaultLimits for an architecture this table does not carry.
func limitsFor(arch nvml.DeviceArchitecture) archLimits {
	if l, ok := knownArch[arch]; ok {
		return l
	}
	return defaultLimits
}

// Source queries live device properties through NVML. A process may
// hold at most one initialized Source at a time (NVML's own
// restriction); callers create one via Open and Close it on shutdown.
type Source struct {
	mu      sync.Mutex
	devices map[uint32]nvml.Device
}

// Open initializes the NVML library. Callers must call Close exactly
// once when the pipeline shuts down.
func Open() (*Source, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvmldevice: nvml.Init: %v", nvml.ErrorString(ret))
	}
	return &Source{devices: make(map[uint32]nvml.Device)}, nil
}

// Close shuts down the NVML library.
func (s *Source) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvmldevice: nvml.Shutdown: %v", nvml.ErrorString(ret))
	}
	return nil
}

func (s *Source) handle(deviceID uint32) (nvml.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[deviceID]; ok {
		return d, nil
	}
	d, ret := nvml.DeviceGetHandleByIndex(int(deviceID))
	if ret != nvml.SUCCESS {
		return nvml.Device{}, fmt.Errorf("nvmldevice: DeviceGetHandleByIndex(%d): %v", deviceID, nvml.ErrorString(ret))
	}
	s.devices[deviceID] = d
	return d, nil
}

// DeviceProperties implements vendorapi.DeviceAPI. It is queried once
// per device and cached by the caller (internal/activity's
// Translator); Source itself performs no caching beyond the device
// handle lookup.
func (s *Source) DeviceProperties(deviceID uint32) (vendorapi.DeviceProperties, error) {
	dev, err := s.handle(deviceID)
	if err != nil {
		return vendorapi.DeviceProperties{}, err
	}

	clockMHz, ret := dev.GetClockInfo(nvml.CLOCK_SM)
	if ret != nvml.SUCCESS {
		return vendorapi.DeviceProperties{}, fmt.Errorf("nvmldevice: GetClockInfo: %v", nvml.ErrorString(ret))
	}

	attrs, ret := dev.GetAttributes()
	var smCount uint32
	if ret == nvml.SUCCESS {
		smCount = attrs.MultiprocessorCount
	}

	arch, ret := dev.GetArchitecture()
	limits := defaultLimits
	if ret == nvml.SUCCESS {
		limits = limitsFor(arch)
	}

	return vendorapi.DeviceProperties{
		CoreClockRateHz:   uint64(clockMHz) * 1_000_000,
		SMCount:           smCount,
		MaxThreadsPerSM:   limits.maxThreadsPerSM,
		MaxBlocksPerSM:    limits.maxBlocksPerSM,
		MaxSharedMemPerSM: limits.maxSharedMemPerSM,
		MaxRegistersPerSM: limits.maxRegistersPerSM,
		WarpSize:          limits.warpSize,
	}, nil
}

// ResolveLaunchedFunction has no NVML equivalent — recovering a launched
// kernel's (cubinID, functionIndex) from its opaque driver-API handle
// requires the CUDA driver API's internal struct layout, not anything
// NVML exposes. This always degrades gracefully: ok is false, never an
// error, so kernel-ip resolution is simply disabled when only an
// nvmldevice.Source backs vendorapi.DeviceAPI. A deployment that needs
// kernel-ip resolution composes a CUDA-driver-backed implementation
// ahead of this one; see vendorapi.CapabilityProbe.
func (s *Source) ResolveLaunchedFunction(handle any) (cubinID uint32, functionIndex int, ok bool) {
	return 0, 0, false
}

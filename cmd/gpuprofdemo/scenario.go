package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/gpuprof/gpuprof/internal/activity"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// streamBatch is one device stream's worth of scripted raw activity,
// ready to hand to monitor.CompleteBuffer via the mockBufferSource.
type streamBatch struct {
	streamID uint32
	records  []activity.RawActivity
}

// kernelFuncID and memcpyFuncID are the demo's vendor driver-API
// function ids, bound to their categories in runDemo's dispatch.APIs
// table.
const (
	kernelFuncID uint32 = 1
	memcpyFuncID uint32 = 2
)

// runScenario drives the scripted two-stream workload through the
// pipeline's dispatcher, one kernel launch on stream 0 and one
// host-to-device copy on stream 1, firing the mock vendor's driver-API
// enter/exit callbacks the way a real CUDA context's tracing callbacks
// would. It returns the host correlation ids the dispatcher pushed onto
// the external-correlation stack, in launch order, so the caller can
// build matching RawActivity batches (which reuse each one as the
// record's vendor correlation id).
func runScenario(vendor *mockVendor, cubinID uint32) (kernelCorrID, memcpyCorrID uint64) {
	vendor.fire(vendorapi.CallbackInfo{
		Domain: vendorapi.DomainDriverAPI, IsEnter: true, FunctionID: kernelFuncID, ThreadID: 1,
		LaunchFunction: launchHandle{cubinID: cubinID, functionIndex: 0},
		GridDim:        [3]uint32{4, 1, 1}, BlockDim: [3]uint32{256, 1, 1},
	})
	kernelCorrID = vendor.stack[len(vendor.stack)-1]
	vendor.fire(vendorapi.CallbackInfo{Domain: vendorapi.DomainDriverAPI, IsEnter: false, FunctionID: kernelFuncID, ThreadID: 1})

	vendor.fire(vendorapi.CallbackInfo{Domain: vendorapi.DomainDriverAPI, IsEnter: true, FunctionID: memcpyFuncID, ThreadID: 1})
	memcpyCorrID = vendor.stack[len(vendor.stack)-1]
	vendor.fire(vendorapi.CallbackInfo{Domain: vendorapi.DomainDriverAPI, IsEnter: false, FunctionID: memcpyFuncID, ThreadID: 1})

	return kernelCorrID, memcpyCorrID
}

// buildBatches assembles the two streams' completed-buffer payloads
// concurrently: each stream's RawActivity slice is built independently
// of the other from the already-assigned correlation ids, so there is
// no shared state between the two goroutines beyond their own slice.
func buildBatches(kernelCorrID, memcpyCorrID uint64) ([]streamBatch, error) {
	var (
		kernelBatch, memcpyBatch streamBatch
	)
	g, _ := errgroup.WithContext(context.Background())

	g.Go(func() error {
		kernelBatch = streamBatch{
			streamID: 0,
			records: []activity.RawActivity{
				{Kind: activity.RawExternalCorrelation, VendorCorrelationID: kernelCorrID, HostCorrelationID: kernelCorrID},
				{
					Kind: activity.RawKernel, VendorCorrelationID: kernelCorrID,
					Blocks: 4, ThreadsPerBlock: 256, SharedMemBytes: 0, Registers: 32,
					Interval: model.Interval{Start: 1_000_000, End: 1_250_000},
					IDs:      model.IDs{CorrelationID: uint32(kernelCorrID), DeviceID: 0, ContextID: 1, StreamID: 0},
				},
			},
		}
		return nil
	})

	g.Go(func() error {
		memcpyBatch = streamBatch{
			streamID: 1,
			records: []activity.RawActivity{
				{Kind: activity.RawExternalCorrelation, VendorCorrelationID: memcpyCorrID, HostCorrelationID: memcpyCorrID},
				{
					Kind: activity.RawMemcpy, VendorCorrelationID: memcpyCorrID,
					Memcpy: model.Memcpy{
						Kind: model.MemcpyHtoD, Bytes: 4 << 20,
						Interval: model.Interval{Start: 1_300_000, End: 1_420_000},
						IDs:      model.IDs{CorrelationID: uint32(memcpyCorrID), DeviceID: 0, ContextID: 1, StreamID: 1},
					},
				},
			},
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return []streamBatch{kernelBatch, memcpyBatch}, nil
}

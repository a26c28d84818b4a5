package main

import (
	"fmt"
	"io"
	"os"

	"github.com/gpuprof/gpuprof/internal/channel"
	"github.com/gpuprof/gpuprof/internal/corrindex"
	"github.com/gpuprof/gpuprof/internal/cubin"
	"github.com/gpuprof/gpuprof/internal/dispatch"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/pipeline"
	"github.com/gpuprof/gpuprof/internal/relocate"
	"github.com/gpuprof/gpuprof/internal/sink"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// demoCubinID is the vendor module id the scripted scenario loads
// before launching its kernel.
const demoCubinID uint32 = 42

// runDemo wires a full Pipeline against the mock vendor backend, drives
// the scripted two-stream workload through it, writes a JSON export of
// every attributed activity to out, and writes a folded-stack rendering
// of the trace subsystem's output to os.Stderr. It returns the pipeline so the
// caller can inspect post-run stats (and, for the mcp subcommand, keep
// serving them).
func runDemo(profileName string, out io.Writer) (*pipeline.Pipeline, error) {
	dataDir, err := os.MkdirTemp("", "gpuprofdemo-")
	if err != nil {
		return nil, fmt.Errorf("gpuprofdemo: create scratch dir: %w", err)
	}

	vendor := newMockVendor()
	bufferSource := newMockBufferSource(vendor)

	cubins := cubin.New(dataDir, nil)
	reloc := relocate.New(cubins)
	index := corrindex.New()

	jsonSink := sink.NewJSONSink(out)
	folded := sink.NewFoldedStackWriter()

	p := pipeline.New(pipeline.Config{
		Profile:      pipeline.GetProfile(profileName),
		Cubins:       cubins,
		Relocate:     reloc,
		Index:        index,
		Correlations: channel.NewCorrelationRegistry(),
		Activities:   channel.NewActivityChannelRegistry(),

		Subscriber: vendor,
		External:   vendor,
		PCSampling: vendor,
		Device:     vendor,
		Sink:       &mockCCTSink{},
		Capability: vendorapi.NewStaticProbe(map[vendorapi.Feature]bool{
			vendorapi.FeatureKernelIPResolution: true,
		}),
		APIs: map[uint32]dispatch.APIBinding{
			kernelFuncID: {Category: dispatch.CategoryKernelLaunch},
			memcpyFuncID: {Category: dispatch.CategoryMemcpy, MemcpyKind: 0},
		},
		CurrentNode: func(uint64) model.CCTNode { return "root" },

		BufferSource: bufferSource,
		Decode:       bufferSource.decode,
		MetricSink:   jsonSink,

		TraceWriter: folded,
	})

	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("gpuprofdemo: start pipeline: %w", err)
	}

	vendor.fire(vendorapi.CallbackInfo{
		Domain: vendorapi.DomainResource, ModuleLoaded: true,
		CubinID: demoCubinID, ModuleID: demoCubinID,
		CubinBytes: []byte("gpuprofdemo-scripted-cubin-image-not-a-real-elf"),
	})
	vendor.fire(vendorapi.CallbackInfo{Domain: vendorapi.DomainResource, ContextCreated: true, ContextID: 1})

	kernelCorrID, memcpyCorrID := runScenario(vendor, demoCubinID)

	batches, err := buildBatches(kernelCorrID, memcpyCorrID)
	if err != nil {
		return nil, fmt.Errorf("gpuprofdemo: build scenario batches: %w", err)
	}
	for _, b := range batches {
		buf, validSize := bufferSource.LoadBatch(b.records)
		p.CompleteBuffer(buf, validSize, b.streamID)
	}

	vendor.setDropped(0, 3)
	p.CompleteBuffer(nil, 0, 0)

	if err := p.Shutdown(); err != nil {
		return nil, fmt.Errorf("gpuprofdemo: shutdown pipeline: %w", err)
	}

	fmt.Fprintln(os.Stderr, "--- folded stack ---")
	_ = folded.Render(os.Stderr)

	return p, nil
}

// Package pipeline wires the activity pipeline's components (dispatch,
// activity translation, buffer monitoring, per-stream tracing, and the
// optional sanitizer) into one object that drives a continuous GPU
// activity stream rather than a one-shot batch.
package pipeline

import (
	"fmt"

	"github.com/gpuprof/gpuprof/internal/activity"
	"github.com/gpuprof/gpuprof/internal/channel"
	"github.com/gpuprof/gpuprof/internal/corrindex"
	"github.com/gpuprof/gpuprof/internal/cubin"
	"github.com/gpuprof/gpuprof/internal/dispatch"
	"github.com/gpuprof/gpuprof/internal/lifecycle"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/monitor"
	"github.com/gpuprof/gpuprof/internal/relocate"
	"github.com/gpuprof/gpuprof/internal/sanitizer"
	"github.com/gpuprof/gpuprof/internal/trace"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// Profile bundles the sampling knobs left as tunable parameters into
// one named preset.
type Profile struct {
	Name                  string
	TraceFrequencyNs      uint64
	PCSamplingPeriod      uint32
	SanitizerEnabled      bool
	SanitizerAnalysisMode bool
}

// profiles are the built-in presets. "fast" favors low overhead,
// "balanced" is the default, and "deep" enables the sanitizer at the
// cost of significant per-kernel overhead.
var profiles = map[string]Profile{
	"fast": {
		Name:             "fast",
		TraceFrequencyNs: 10_000_000,
	},
	"balanced": {
		Name:             "balanced",
		TraceFrequencyNs: 1_000_000,
		PCSamplingPeriod: 1000,
	},
	"deep": {
		Name:                  "deep",
		TraceFrequencyNs:      100_000,
		PCSamplingPeriod:      100,
		SanitizerEnabled:      true,
		SanitizerAnalysisMode: true,
	},
}

// GetProfile returns the named preset, falling back to "balanced" for
// an unrecognized name.
func GetProfile(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles["balanced"]
}

// ProfileNames returns the built-in preset names.
func ProfileNames() []string {
	return []string{"fast", "balanced", "deep"}
}

// Config wires a Pipeline to every external collaborator and shared
// state component.
type Config struct {
	Profile Profile

	Cubins       *cubin.Registry
	Relocate     *relocate.Map
	Index        *corrindex.Index
	Correlations *channel.CorrelationRegistry
	Activities   *channel.ActivityChannelRegistry

	Subscriber vendorapi.CallbackSubscriber
	External   vendorapi.ExternalCorrelationStack
	PCSampling vendorapi.PCSamplingConfigurator
	Device     vendorapi.DeviceAPI
	Sink       vendorapi.CallingContextSink
	Capability vendorapi.CapabilityProbe
	APIs       map[uint32]dispatch.APIBinding

	CurrentNode func(threadID uint64) model.CCTNode

	BufferSource vendorapi.ActivityBufferSource
	Decode       monitor.Decoder
	MetricSink   vendorapi.MetricSink

	TraceWriter trace.Writer

	Sanitizer *sanitizer.Manager

	Fatal func(format string, args ...any)
}

// Pipeline is the fully wired activity pipeline.
type Pipeline struct {
	cfg        Config
	lifecycle  *lifecycle.Tracker
	dispatcher *dispatch.Dispatcher
	translator *activity.Translator
	monitor    *monitor.Monitor
	trace      *trace.Subsystem
}

// New wires a Pipeline from cfg. The dispatcher is constructed but not
// yet subscribed to vendor callbacks — call Start for that.
func New(cfg Config) *Pipeline {
	lc := lifecycle.NewTracker()
	translator := activity.New(cfg.Index, cfg.Relocate, cfg.Device)
	traceSub := trace.New(cfg.Profile.TraceFrequencyNs, cfg.TraceWriter, lc)

	p := &Pipeline{cfg: cfg, lifecycle: lc, translator: translator, trace: traceSub}

	sink := &traceForwardingSink{inner: cfg.MetricSink, trace: traceSub}
	p.monitor = monitor.New(monitor.Config{
		Correlations: cfg.Correlations,
		Activities:   cfg.Activities,
		Index:        cfg.Index,
		Translator:   translator,
		BufferSource: cfg.BufferSource,
		Sink:         sink,
		Decode:       cfg.Decode,
		Lifecycle:    lc,
	})

	p.dispatcher = dispatch.New(dispatch.Config{
		Cubins:       cfg.Cubins,
		Relocate:     cfg.Relocate,
		Index:        cfg.Index,
		Correlations: cfg.Correlations,
		Subscriber:   cfg.Subscriber,
		External:     cfg.External,
		PCSampling:   cfg.PCSampling,
		Device:       cfg.Device,
		Sink:         cfg.Sink,
		Capability:   cfg.Capability,
		APIs:         cfg.APIs,
		CurrentNode:  cfg.CurrentNode,
		Fatal:        cfg.Fatal,
	})

	return p
}

// Start subscribes the dispatcher to vendor callbacks. The caller is
// responsible for also calling RegisterCallbacks on its
// vendorapi.ActivityBufferSource and routing them to CompleteBuffer.
func (p *Pipeline) Start() error {
	return p.dispatcher.Start()
}

// RequestBuffer implements the vendor's buffer-request callback.
func (p *Pipeline) RequestBuffer() []byte {
	return p.monitor.RequestBuffer()
}

// CompleteBuffer implements the vendor's buffer-complete callback.
func (p *Pipeline) CompleteBuffer(buf []byte, validSize int, streamID uint32) {
	p.monitor.CompleteBuffer(buf, validSize, streamID)
}

// DroppedRecords returns the cumulative dropped-activity-record count.
func (p *Pipeline) DroppedRecords() uint64 {
	return p.monitor.DroppedRecords()
}

// SessionID returns the dispatcher's session identifier.
func (p *Pipeline) SessionID() fmt.Stringer {
	return p.dispatcher.SessionID()
}

// Lifecycle exposes the worker-liveness tracker for shutdown
// coordination and introspection (e.g. by internal/mcpsurface).
func (p *Pipeline) Lifecycle() *lifecycle.Tracker {
	return p.lifecycle
}

// CubinCount reports the number of vendor cubin ids currently registered
// and the number of distinct content-addressed images backing them, for
// operational introspection.
func (p *Pipeline) CubinCount() (ids int, distinctContent int) {
	return p.cfg.Cubins.Count()
}

// TraceBacklog reports, per device stream, the number of trace events
// pushed but not yet drained by that stream's worker.
func (p *Pipeline) TraceBacklog() map[uint32]int {
	return p.trace.Backlog()
}

// Sanitizer returns the configured sanitizer manager, or nil if the
// active profile does not enable it. Driving OnLaunchBegin/OnLaunchEnd
// around an instrumented kernel launch is the embedding tool's
// responsibility, the same way CurrentNode is — native-call-stack
// walking stays out of scope here; the pipeline only owns the
// sanitizer's lifecycle, not the driver-API callback site.
func (p *Pipeline) Sanitizer() *sanitizer.Manager {
	if !p.cfg.Profile.SanitizerEnabled {
		return nil
	}
	return p.cfg.Sanitizer
}

// Shutdown flushes any outstanding vendor buffers, then drains and
// terminates every per-stream trace worker.
func (p *Pipeline) Shutdown() error {
	if err := p.monitor.Shutdown(); err != nil {
		return fmt.Errorf("pipeline: shutdown monitor: %w", err)
	}
	p.trace.Shutdown()
	return nil
}

// traceForwardingSink wraps the caller's MetricSink, additionally
// pushing a trace event for interval-bearing activities (kernels,
// memcpys, memsets and syncs) onto the owning stream's trace channel.
type traceForwardingSink struct {
	inner vendorapi.MetricSink
	trace *trace.Subsystem
}

func (s *traceForwardingSink) Attribute(act model.Activity, node model.CCTNode) {
	if s.inner != nil {
		s.inner.Attribute(act, node)
	}
	if interval, streamID, ok := traceInterval(act); ok {
		s.trace.Push(streamID, model.TraceEvent{Start: interval.Start, End: interval.End, CCTNode: node})
	}
}

// traceInterval extracts the device-clock interval and owning stream id
// from activity variants the trace subsystem records; other variants
// are not traced.
func traceInterval(act model.Activity) (model.Interval, uint32, bool) {
	switch a := act.(type) {
	case model.Kernel:
		return a.Interval, a.IDs.StreamID, true
	case model.Memcpy:
		return a.Interval, a.IDs.StreamID, true
	case model.Memset:
		return a.Interval, a.IDs.StreamID, true
	case model.Sync:
		return a.Interval, a.IDs.StreamID, true
	default:
		return model.Interval{}, 0, false
	}
}

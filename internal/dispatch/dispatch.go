// Package dispatch implements the host-side callback dispatcher: it
// subscribes to the vendor's resource, driver-API, and runtime-API
// callback domains, maintains the external correlation protocol on
// API enter/exit, and publishes correlation records onto
// each thread's correlation channel.
//
// Per-thread state (the runtime-API suppression flag) is modeled as an explicit dispatcher context keyed
// by thread id rather than as package-level globals threaded through
// thread-local storage — Go has none, and an explicit context object
// is the clearer design regardless.
package dispatch

import (
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gpuprof/gpuprof/internal/channel"
	"github.com/gpuprof/gpuprof/internal/corrindex"
	"github.com/gpuprof/gpuprof/internal/cubin"
	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/relocate"
	"github.com/gpuprof/gpuprof/internal/vendorapi"
)

// APICategory names one of the instrumented driver-API categories.
type APICategory int

const (
	CategorySync APICategory = iota
	CategoryMemcpy
	CategoryKernelLaunch
	CategoryAlloc
	CategoryFree
)

func (c APICategory) opKind(memcpyKind model.MemcpyKind) model.OpKind {
	switch c {
	case CategorySync:
		return model.OpSync
	case CategoryMemcpy:
		switch memcpyKind {
		case model.MemcpyHtoD:
			return model.OpCopyIn
		case model.MemcpyDtoH:
			return model.OpCopyOut
		default:
			return model.OpCopy
		}
	case CategoryKernelLaunch:
		return model.OpKernel
	case CategoryAlloc:
		return model.OpAlloc
	case CategoryFree:
		return model.OpFree
	default:
		return model.OpUnknown
	}
}

// APIBinding tells the dispatcher which category a given vendor
// function-id belongs to, and whether it is a runtime-API wrapper that
// decomposes into (and therefore should suppress) driver-API calls.
type APIBinding struct {
	Category      APICategory
	MemcpyKind    model.MemcpyKind
	RuntimeWrapper bool
}

// Config wires the dispatcher to its collaborators. Capability,
// PCSampling and CurrentNode are optional (nil disables what they
// drive; a nil Capability leaves kernel-ip resolution on), Fatal
// defaults to a log-and-exit handler, and every other field is
// required.
type Config struct {
	Cubins       *cubin.Registry
	Relocate     *relocate.Map
	Index        *corrindex.Index
	Correlations *channel.CorrelationRegistry
	Subscriber   vendorapi.CallbackSubscriber
	External     vendorapi.ExternalCorrelationStack
	PCSampling   vendorapi.PCSamplingConfigurator
	Device       vendorapi.DeviceAPI
	Sink         vendorapi.CallingContextSink
	Capability   vendorapi.CapabilityProbe

	// APIs maps a vendor function-id to its instrumented category. A
	// function-id absent from this table is not instrumented: the
	// dispatcher ignores its enter/exit callbacks entirely.
	APIs map[uint32]APIBinding

	// CurrentNode returns the calling-context node currently active on
	// threadID. Walking the native call stack to produce this node is
	// explicitly out of scope here: it is supplied by the embedding
	// tool's own sample source.
	CurrentNode func(threadID uint64) model.CCTNode

	// Fatal reports an unrecoverable error. Defaults to a handler that
	// logs the message to stderr and exits the process with status 1.
	Fatal func(format string, args ...any)
}

// threadState is the per-thread dispatcher context used in place of
// thread-local globals.
type threadState struct {
	suppressDriver bool
}

// Dispatcher is the host-side callback dispatcher.
type Dispatcher struct {
	cfg Config

	nextCorrelationID atomic.Uint64
	sessionID         uuid.UUID

	threads sync.Map // uint64 -> *threadState
}

// New creates a Dispatcher from cfg, assigning it a fresh session id.
func New(cfg Config) *Dispatcher {
	if cfg.Fatal == nil {
		cfg.Fatal = func(format string, args ...any) {
			log.Printf(format, args...)
			os.Exit(1)
		}
	}
	return &Dispatcher{cfg: cfg, sessionID: uuid.New()}
}

// SessionID identifies this dispatcher instance, useful for tagging
// sink output across process restarts.
func (d *Dispatcher) SessionID() uuid.UUID {
	return d.sessionID
}

// Start subscribes to the vendor's callback domains. It returns once
// subscription succeeds; callbacks arrive asynchronously thereafter on
// whatever thread the vendor chooses to invoke them from.
func (d *Dispatcher) Start() error {
	if err := d.cfg.Subscriber.Subscribe(vendorapi.DomainResource, d.handleResource); err != nil {
		return fmt.Errorf("dispatch: subscribe resource domain: %w", err)
	}
	if err := d.cfg.Subscriber.Subscribe(vendorapi.DomainDriverAPI, d.handleDriver); err != nil {
		return fmt.Errorf("dispatch: subscribe driver domain: %w", err)
	}
	if err := d.cfg.Subscriber.Subscribe(vendorapi.DomainRuntimeAPI, d.handleRuntime); err != nil {
		return fmt.Errorf("dispatch: subscribe runtime domain: %w", err)
	}
	for _, dom := range []vendorapi.CallbackDomain{vendorapi.DomainResource, vendorapi.DomainDriverAPI, vendorapi.DomainRuntimeAPI} {
		if err := d.cfg.Subscriber.EnableDomain(dom, true); err != nil {
			return fmt.Errorf("dispatch: enable domain %v: %w", dom, err)
		}
	}
	return nil
}

func (d *Dispatcher) state(threadID uint64) *threadState {
	v, _ := d.threads.LoadOrStore(threadID, &threadState{})
	return v.(*threadState)
}

// handleResource processes module-load/unload and context-create
// resource callbacks.
func (d *Dispatcher) handleResource(info vendorapi.CallbackInfo) {
	switch {
	case info.ModuleLoaded:
		if _, err := d.cfg.Cubins.Insert(info.CubinID, info.CubinBytes); err != nil {
			d.cfg.Fatal("dispatch: cubin insert failed: %v", err)
		}
	case info.ModuleUnloaded:
		// Deliberately a no-op: the cubin registry retains unloaded
		// cubins for the process lifetime because late-arriving
		// activity records may still reference their symbols.
	case info.ContextCreated:
		d.cfg.Index.Contexts.Insert(info.ContextID, corrindex.ContextState{})
		if d.cfg.Capability != nil && d.cfg.Capability.Supports(vendorapi.FeaturePCSampling) && d.cfg.PCSampling != nil {
			if err := d.cfg.PCSampling.ConfigurePCSampling(info.ContextID, vendorapi.PCSamplingConfig{}); err != nil {
				d.cfg.Fatal("dispatch: configure pc sampling: %v", err)
			}
		}
	}
}

func (d *Dispatcher) handleRuntime(info vendorapi.CallbackInfo) {
	binding, ok := d.cfg.APIs[info.FunctionID]
	if !ok {
		return
	}
	st := d.state(info.ThreadID)
	if info.IsEnter {
		if binding.RuntimeWrapper {
			st.suppressDriver = true
		}
		d.enter(info, binding)
	} else {
		d.exit(info, binding)
		if binding.RuntimeWrapper {
			st.suppressDriver = false
		}
	}
}

func (d *Dispatcher) handleDriver(info vendorapi.CallbackInfo) {
	binding, ok := d.cfg.APIs[info.FunctionID]
	if !ok {
		return
	}
	if d.state(info.ThreadID).suppressDriver {
		// This driver call is the decomposition of a runtime API
		// already handled at runtime-enter; do not double-count.
		return
	}
	if info.IsEnter {
		d.enter(info, binding)
	} else {
		d.exit(info, binding)
	}
}

// enter implements the driver-enter protocol: assign a host
// correlation id, push it onto the vendor's external-correlation
// stack, insert a calling-context placeholder, resolve the launched
// kernel's normalized ip if this is a kernel launch, and publish the
// correlation record.
func (d *Dispatcher) enter(info vendorapi.CallbackInfo, binding APIBinding) {
	id := d.nextCorrelationID.Add(1)

	if err := d.cfg.External.Push(vendorapi.CorrelationKindUnknown, id); err != nil {
		d.cfg.Fatal("dispatch: push external correlation: %v", err)
	}

	opKind := binding.Category.opKind(binding.MemcpyKind)

	var parent model.CCTNode
	if d.cfg.CurrentNode != nil {
		parent = d.cfg.CurrentNode(info.ThreadID)
	}
	placeholder := d.cfg.Sink.InsertPlaceholder(parent, opKind)

	rec := channel.CorrelationRecord{
		HostOpID:       id,
		ThreadID:       info.ThreadID,
		OpKind:         opKind,
		CallingContext: placeholder,
	}

	kernelIPEnabled := d.cfg.Capability == nil || d.cfg.Capability.Supports(vendorapi.FeatureKernelIPResolution)
	if binding.Category == CategoryKernelLaunch && kernelIPEnabled {
		if cubinID, functionIndex, ok := d.cfg.Device.ResolveLaunchedFunction(info.LaunchFunction); ok {
			if _, bound := d.cfg.Index.Functions.Lookup(info.FunctionID); !bound {
				d.cfg.Index.Functions.Insert(info.FunctionID, corrindex.FunctionBinding{
					CubinID: cubinID, FunctionIndex: functionIndex,
				})
			}
			if nip, ok := d.cfg.Relocate.Transform(cubinID, functionIndex, 0); ok {
				rec.KernelIP = nip
				rec.HasKernelIP = true
				d.cfg.Sink.InsertNormalizedIP(placeholder, nip)
			}
		}
		// A failed resolution disables kernel-ip attachment for this
		// launch only; it is not a dispatcher error. A probe reporting
		// FeatureKernelIPResolution as unsupported skips resolution for
		// every launch.
	}

	d.cfg.Correlations.Register(info.ThreadID).Produce(rec)
}

// exit implements the driver-exit protocol: pop the
// external-correlation stack to keep it balanced.
func (d *Dispatcher) exit(info vendorapi.CallbackInfo, _ APIBinding) {
	if _, err := d.cfg.External.Pop(vendorapi.CorrelationKindUnknown); err != nil {
		d.cfg.Fatal("dispatch: pop external correlation: %v", err)
	}
}

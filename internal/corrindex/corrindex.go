// Package corrindex instantiates the concurrent ordered maps the
// pipeline needs to pair vendor activity records back to the
// host-side state that produced them: a host-correlation table
// bridging the callback dispatcher to the activity translator, a
// vendor-to-host correlation binding table populated as
// external-correlation activities arrive, a function-id table recording
// which (cubin, function-index) a launched kernel resolved to, and a
// per-context state table. These are split out from both the dispatcher
// and the translator because both depend on them without depending on
// each other.
package corrindex

import (
	"github.com/gpuprof/gpuprof/internal/cctmap"
	"github.com/gpuprof/gpuprof/internal/model"
)

// FunctionBinding records which cubin and function-index a vendor
// function-id resolved to at kernel-launch time, so a later PC-sample
// activity — which carries only the function-id — can be relocated.
type FunctionBinding struct {
	CubinID       uint32
	FunctionIndex int
}

// ContextState is the per-context bookkeeping the dispatcher and
// sanitizer subsystem attach to a vendor context handle.
type ContextState struct {
	PCSamplingEnabled bool
	SanitizerEnabled  bool
}

// Index bundles the four concurrent maps the pipeline shares.
type Index struct {
	// Pending maps a host-generated correlation id to the correlation
	// record published at API-enter, consumed exactly once at
	// attribution time.
	Pending *cctmap.Map[uint64, model.CorrelationRecord]

	// Binding maps a vendor-issued correlation id to the host
	// correlation id, populated when G translates an
	// external-correlation activity.
	Binding *cctmap.Map[uint64, uint64]

	// Functions maps a vendor function-id to the cubin/function-index
	// it was resolved to at launch time.
	Functions *cctmap.Map[uint32, FunctionBinding]

	// Contexts maps a vendor context-id to its per-context state.
	Contexts *cctmap.Map[uint32, ContextState]
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		Pending:   cctmap.New[uint64, model.CorrelationRecord](),
		Binding:   cctmap.New[uint64, uint64](),
		Functions: cctmap.New[uint32, FunctionBinding](),
		Contexts:  cctmap.New[uint32, ContextState](),
	}
}

// ResolveHostID follows a vendor correlation id to the correlation
// record published for it, if the binding and the pending record are
// both present. A missing correlation record is swallowed, not an
// error: the activity is still counted by the caller, just not
// attributed.
func (idx *Index) ResolveHostID(vendorCorrID uint64) (model.CorrelationRecord, bool) {
	hostID, ok := idx.Binding.Lookup(vendorCorrID)
	if !ok {
		return model.CorrelationRecord{}, false
	}
	return idx.Pending.Lookup(hostID)
}

// Consume removes the pending correlation record for hostID once it has
// been attributed — it lives only until then.
func (idx *Index) Consume(hostID uint64) {
	idx.Pending.Delete(hostID)
}

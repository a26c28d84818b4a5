// Package model defines the data types shared across the GPU activity
// pipeline: normalized instruction pointers, cubin descriptors, symbol
// vectors, correlation records, the activity-record tagged union, trace
// events, and the sanitizer's device-resident buffer layout.
package model

// NormalizedIP is a (load-module-id, offset) pair the pipeline uses in
// place of absolute device addresses. It is immutable once produced.
type NormalizedIP struct {
	LoadModuleID uint16 `json:"lm_id"`
	Offset       uint64 `json:"offset"`
}

// Zero reports whether nip is the zero-valued normalized IP, which C
// (the relocation map) returns for an unknown cubin.
func (nip NormalizedIP) Zero() bool {
	return nip.LoadModuleID == 0 && nip.Offset == 0
}

// SymbolVector is a dense array indexed by function-index; each entry is
// the absolute PC of the function entry within a cubin, or zero if the
// symbol was SHN_UNDEF or not STT_FUNC.
type SymbolVector []uint64

// CubinDescriptor is created on a module-load callback and retained for
// the process lifetime. Module-unload deliberately does not evict it:
// late-arriving activity records may still reference its symbols.
type CubinDescriptor struct {
	CubinID      uint32       `json:"cubin_id"`
	LoadModuleID uint32       `json:"load_module_id"`
	ContentHash  [32]byte     `json:"-"`
	Symbols      SymbolVector `json:"-"`
}

// OpKind classifies the GPU operation a calling-context placeholder
// represents.
type OpKind int

const (
	OpUnknown OpKind = iota
	OpSync
	OpCopy
	OpCopyIn
	OpCopyOut
	OpKernel
	OpTrace
	OpAlloc
	OpFree
)

func (k OpKind) String() string {
	switch k {
	case OpSync:
		return "sync"
	case OpCopy:
		return "copy"
	case OpCopyIn:
		return "copyin"
	case OpCopyOut:
		return "copyout"
	case OpKernel:
		return "kernel"
	case OpTrace:
		return "trace"
	case OpAlloc:
		return "alloc"
	case OpFree:
		return "free"
	default:
		return "unknown"
	}
}

// CCTNode is the opaque calling-context-tree node handle the embedding
// tool's sink returns from insert_placeholder/insert_normalized_ip. The
// pipeline core never dereferences it.
type CCTNode any

// CorrelationRecord is produced on host-API entry and kept in
// corrindex's Pending map keyed by host correlation id; a vendor
// correlation id reaches it through the Binding map once the vendor
// binds one.
type CorrelationRecord struct {
	HostCorrelationID uint64
	CallingContext     CCTNode
	OpKind             OpKind
	KernelIP           NormalizedIP
	HasKernelIP        bool
	ThreadID           uint64 // owning application thread, for activity-channel routing
}

// TraceEvent is one (start, end, cct-node) sample ordered per-stream by
// monotonically nondecreasing start.
type TraceEvent struct {
	Start   uint64 `json:"start_ns"`
	End     uint64 `json:"end_ns"`
	CCTNode CCTNode
}

// Package relocate turns a vendor-reported (cubin id, function index,
// in-function offset) triple into the tool-internal NormalizedIP used
// everywhere else in the pipeline as a calling-context key. It is a
// thin transform layered on top of the cubin registry's resolved
// symbol tables.
package relocate

import (
	"github.com/gpuprof/gpuprof/internal/cubin"
	"github.com/gpuprof/gpuprof/internal/model"
)

// Map resolves (cubinID, functionIndex, offset) triples to normalized
// instruction pointers. It holds no state of its own beyond a reference
// to the registry that owns the symbol tables.
type Map struct {
	registry *cubin.Registry
}

// New creates a Map backed by registry.
func New(registry *cubin.Registry) *Map {
	return &Map{registry: registry}
}

// Transform computes the normalized IP for a PC within functionIndex of
// cubinID, or the zero value and false if the cubin or the function
// symbol is unknown. offset is the byte offset into the function as
// reported by the vendor activity record.
func (m *Map) Transform(cubinID uint32, functionIndex int, offset uint64) (model.NormalizedIP, bool) {
	d, ok := m.registry.Lookup(cubinID)
	if !ok {
		return model.NormalizedIP{}, false
	}

	sym := m.registry.Symbols(cubinID)
	pc, ok := sym.GetSymbol(functionIndex)
	if !ok {
		return model.NormalizedIP{}, false
	}

	return model.NormalizedIP{
		LoadModuleID: uint16(d.LoadModuleID),
		Offset:       pc + offset,
	}, true
}

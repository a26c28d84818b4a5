// Package elfsym resolves STT_FUNC symbols in an in-memory device binary
// ("cubin") to a dense function-index -> absolute-PC vector.
//
// It is deliberately narrow: a cubin is treated as an ELF image only far
// enough to walk its symbol table — load-bearing for device-symbol
// relocation only, never a general ELF parser. Failure is always
// silent: a malformed or missing symbol table yields an empty vector
// rather than an error.
package elfsym

import (
	"bytes"
	"debug/elf"

	"github.com/gpuprof/gpuprof/internal/model"
)

// Handle wraps a parsed cubin image. Obtained via Initialize.
type Handle struct {
	symbols []symEntry
}

type symEntry struct {
	pc      uint64
	defined bool
}

// Initialize parses image and locates its symbol table (and, if present,
// its extended-section-index table). A missing symbol table, an
// unreadable header, or a zero section-entry-size all short-circuit to an
// empty handle instead of returning an error — callers treat "no symbols
// resolved" as the normal degraded case, not a fault.
func Initialize(image []byte) *Handle {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return &Handle{}
	}
	defer f.Close()

	symtab := findSection(f, elf.SHT_SYMTAB)
	if symtab == nil || symtab.Entsize == 0 {
		return &Handle{}
	}

	xindex := findSection(f, elf.SHT_SYMTAB_SHNDX)
	var extended []uint32
	if xindex != nil {
		extended = readXindex(xindex, f.ByteOrder)
	}

	symbols, err := readSymbols(f, symtab, extended)
	if err != nil {
		return &Handle{}
	}
	return &Handle{symbols: symbols}
}

// GetSymbol returns the resolved absolute PC for the function at index,
// and whether that symbol was defined (STT_FUNC with a non-SHN_UNDEF
// section). function_index is trusted — callers pass it through from
// the vendor, which is responsible for validating it — so an
// out-of-range index returns the zero value rather than panicking.
func (h *Handle) GetSymbol(index int) (pc uint64, ok bool) {
	if h == nil || index < 0 || index >= len(h.symbols) {
		return 0, false
	}
	e := h.symbols[index]
	return e.pc, e.defined
}

// Len returns the number of resolved symbol-table entries.
func (h *Handle) Len() int {
	if h == nil {
		return 0
	}
	return len(h.symbols)
}

// ToVector exports the handle as a model.SymbolVector for storage in a
// CubinDescriptor.
func (h *Handle) ToVector() model.SymbolVector {
	if h == nil {
		return nil
	}
	out := make(model.SymbolVector, len(h.symbols))
	for i, e := range h.symbols {
		out[i] = e.pc
	}
	return out
}

func findSection(f *elf.File, typ elf.SectionType) *elf.Section {
	for _, s := range f.Sections {
		if s.Type == typ {
			return s
		}
	}
	return nil
}

// readXindex decodes the SHT_SYMTAB_SHNDX section: one uint32 extended
// section index per symbol-table entry, used only when a symbol's
// st_shndx field is the sentinel SHN_XINDEX.
func readXindex(s *elf.Section, order elfByteOrder) []uint32 {
	data, err := s.Data()
	if err != nil || len(data)%4 != 0 {
		return nil
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = order.Uint32(data[i*4 : i*4+4])
	}
	return out
}

// elfByteOrder is the subset of binary.ByteOrder that elf.File.ByteOrder
// satisfies.
type elfByteOrder interface {
	Uint32([]byte) uint32
}

// readSymbols walks f's symbol table, computing each STT_FUNC symbol's
// absolute PC as st_value + section.sh_offset, applying extended
// section indices where st_shndx == SHN_XINDEX, and recording a
// zero/undefined entry for everything else (SHN_UNDEF, non-STT_FUNC).
func readSymbols(f *elf.File, symtab *elf.Section, extended []uint32) ([]symEntry, error) {
	syms, err := f.Symbols()
	if err != nil {
		// An error here (e.g. truncated table) degrades to empty rather
		// than propagating.
		return nil, err
	}

	// f.Symbols() omits the null symbol at symbol-table index 0, so
	// syms[i] is symbol-table entry i+1; out keeps slot 0 as the
	// undefined null entry so that out is indexed by symbol-table index.
	out := make([]symEntry, len(syms)+1)
	for i, sym := range syms {
		idx := i + 1
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}

		shndx := sym.Section
		if sym.Section == elf.SHN_XINDEX && idx < len(extended) {
			shndx = elf.SectionIndex(extended[idx])
		}
		if shndx == elf.SHN_UNDEF || int(shndx) >= len(f.Sections) {
			continue
		}

		section := f.Sections[shndx]
		out[idx] = symEntry{pc: sym.Value + section.Offset, defined: true}
	}
	return out, nil
}

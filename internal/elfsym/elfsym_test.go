package elfsym

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// --- minimal ELF64 little-endian encoder for test fixtures only ---
//
// debug/elf can only read; these tests need a cubin-shaped image to
// read back, so we hand-encode the handful of structures the resolver
// actually touches: the ELF header, a SHT_SYMTAB section, its linked
// SHT_STRTAB, and Elf64_Sym entries. This mirrors the scope of the
// resolver itself — not a general ELF writer.

const (
	etRel        = 1
	emX8664      = 62
	shtNull      = 0
	shtProgbits  = 1
	shtSymtab    = 2
	shtStrtab    = 3
	sttFunc      = 2
	sttNotype    = 0
	shnUndef     = 0
)

type elf64Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf64Shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type elf64Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// buildCubin assembles a minimal ELF64 image with one .text section at
// sh_offset=textOffset, a symtab with the given symbols, and a strtab.
func buildCubin(t *testing.T, textOffset uint64, syms []elf64Sym) []byte {
	t.Helper()

	const ehdrSize = 64
	const shdrSize = 64

	// Section layout: [0]=NULL [1]=.text [2]=.symtab [3]=.strtab
	strtab := []byte{0x00, 't', 'e', 's', 't', 0x00}

	shoff := uint64(ehdrSize)
	textShdr := elf64Shdr{Type: shtProgbits, Off: textOffset, Size: 0x1000, Addralign: 1}
	symtabOff := shoff + 4*shdrSize
	symtabData := new(bytes.Buffer)
	for _, s := range syms {
		binary.Write(symtabData, binary.LittleEndian, s)
	}
	symtabShdr := elf64Shdr{
		Type: shtSymtab, Off: symtabOff + uint64(len(strtab)),
		Size: uint64(symtabData.Len()), Link: 3, Entsize: 24, Addralign: 8,
	}
	strtabShdr := elf64Shdr{Type: shtStrtab, Off: symtabOff, Size: uint64(len(strtab)), Addralign: 1}

	ehdr := elf64Ehdr{
		Type: etRel, Machine: emX8664, Version: 1,
		Shoff: shoff, Ehsize: ehdrSize, Shentsize: shdrSize, Shnum: 4, Shstrndx: 3,
	}
	copy(ehdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, ehdr)
	binary.Write(buf, binary.LittleEndian, elf64Shdr{}) // NULL section
	binary.Write(buf, binary.LittleEndian, textShdr)
	binary.Write(buf, binary.LittleEndian, symtabShdr)
	binary.Write(buf, binary.LittleEndian, strtabShdr)
	buf.Write(strtab)
	buf.Write(symtabData.Bytes())

	return buf.Bytes()
}

func TestInitializeResolvesFuncSymbols(t *testing.T) {
	syms := []elf64Sym{
		{}, // index 0 is always the null symbol per ELF convention
		{Name: 1, Info: sttFunc, Shndx: 1, Value: 0x100}, // function-index 1
		{Name: 1, Info: sttFunc, Shndx: shnUndef, Value: 0},    // SHN_UNDEF
		{Name: 1, Info: sttNotype, Shndx: 1, Value: 0x200}, // not STT_FUNC
	}
	image := buildCubin(t, 0x1000, syms)

	h := Initialize(image)
	if h.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", h.Len())
	}

	pc, ok := h.GetSymbol(1)
	if !ok || pc != 0x1000+0x100 {
		t.Errorf("GetSymbol(1) = (%#x, %v), want (%#x, true)", pc, ok, 0x1000+0x100)
	}

	if _, ok := h.GetSymbol(2); ok {
		t.Errorf("GetSymbol(2) for SHN_UNDEF should not be ok")
	}
	if _, ok := h.GetSymbol(3); ok {
		t.Errorf("GetSymbol(3) for non-STT_FUNC should not be ok")
	}
}

func TestInitializeOutOfRangeIndex(t *testing.T) {
	image := buildCubin(t, 0, nil)
	h := Initialize(image)
	if _, ok := h.GetSymbol(50); ok {
		t.Errorf("GetSymbol for out-of-range index should not be ok")
	}
}

func TestInitializeMalformedImage(t *testing.T) {
	h := Initialize([]byte("not an elf file"))
	if h.Len() != 0 {
		t.Errorf("Len() = %d for malformed image, want 0", h.Len())
	}
	if _, ok := h.GetSymbol(0); ok {
		t.Errorf("GetSymbol on malformed image should not be ok")
	}
}

func TestToVector(t *testing.T) {
	syms := []elf64Sym{
		{},
		{Name: 1, Info: sttFunc, Shndx: 1, Value: 0x40},
	}
	image := buildCubin(t, 0x400, syms)
	h := Initialize(image)
	vec := h.ToVector()
	if len(vec) != 2 {
		t.Fatalf("len(vec) = %d, want 2", len(vec))
	}
	if vec[1] != 0x440 {
		t.Errorf("vec[1] = %#x, want 0x440", vec[1])
	}
}

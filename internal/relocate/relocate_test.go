package relocate

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gpuprof/gpuprof/internal/cubin"
)

// buildCubin constructs a tiny valid ELF64 image with one STT_FUNC
// symbol at the given value, sufficient for elfsym to resolve.
func buildCubin(value uint64) []byte {
	const ehdrSize, shdrSize = 64, 64
	strtab := []byte{0x00, 'f', 0x00}

	shoff := uint64(ehdrSize)
	symtabOff := shoff + 4*shdrSize

	symtabData := new(bytes.Buffer)
	binary.Write(symtabData, binary.LittleEndian, struct {
		Name  uint32
		Info  uint8
		Other uint8
		Shndx uint16
		Value uint64
		Size  uint64
	}{}) // null symbol
	binary.Write(symtabData, binary.LittleEndian, struct {
		Name  uint32
		Info  uint8
		Other uint8
		Shndx uint16
		Value uint64
		Size  uint64
	}{Name: 1, Info: 2, Shndx: 1, Value: value})

	type shdr struct {
		Name, Type               uint32
		Flags, Addr, Off, Size   uint64
		Link, Info               uint32
		Addralign, Entsize       uint64
	}
	textShdr := shdr{Type: 1, Off: 0, Size: 0x1000, Addralign: 1}
	symtabShdr := shdr{Type: 2, Off: symtabOff + uint64(len(strtab)), Size: uint64(symtabData.Len()), Link: 3, Entsize: 24, Addralign: 8}
	strtabShdr := shdr{Type: 3, Off: symtabOff, Size: uint64(len(strtab)), Addralign: 1}

	type ehdr struct {
		Ident                          [16]byte
		Type, Machine                  uint16
		Version                        uint32
		Entry, Phoff, Shoff            uint64
		Flags                          uint32
		Ehsize, Phentsize, Phnum       uint16
		Shentsize, Shnum, Shstrndx     uint16
	}
	h := ehdr{Type: 1, Machine: 62, Version: 1, Shoff: shoff, Ehsize: ehdrSize, Shentsize: shdrSize, Shnum: 4, Shstrndx: 3}
	copy(h.Ident[:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h)
	binary.Write(buf, binary.LittleEndian, shdr{}) // NULL
	binary.Write(buf, binary.LittleEndian, textShdr)
	binary.Write(buf, binary.LittleEndian, symtabShdr)
	binary.Write(buf, binary.LittleEndian, strtabShdr)
	buf.Write(strtab)
	buf.Write(symtabData.Bytes())
	return buf.Bytes()
}

func TestTransformResolvesKnownSymbol(t *testing.T) {
	reg := cubin.New(t.TempDir(), nil)
	if _, err := reg.Insert(42, buildCubin(0x200)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	m := New(reg)
	ip, ok := m.Transform(42, 1, 0x10)
	if !ok {
		t.Fatalf("Transform reported not-ok for a known symbol")
	}
	if ip.Offset != 0x210 {
		t.Errorf("Offset = %#x, want 0x210", ip.Offset)
	}
}

func TestTransformUnknownCubin(t *testing.T) {
	reg := cubin.New(t.TempDir(), nil)
	m := New(reg)
	if _, ok := m.Transform(99, 0, 0); ok {
		t.Errorf("Transform on unregistered cubin should report not-ok")
	}
}

func TestTransformUnknownFunction(t *testing.T) {
	reg := cubin.New(t.TempDir(), nil)
	reg.Insert(1, buildCubin(0x200))
	m := New(reg)
	if _, ok := m.Transform(1, 50, 0); ok {
		t.Errorf("Transform on out-of-range function index should report not-ok")
	}
}

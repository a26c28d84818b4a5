package cubin

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// minimal valid-enough image for elfsym to fail gracefully on; this
// package does not re-test ELF parsing, only registry bookkeeping.
var fakeImage = []byte("not a real cubin, but unique: ")

func TestInsertLookupRoundtrip(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	d, err := r.Insert(1, append(fakeImage, 'a'))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if d.CubinID != 1 || d.LoadModuleID == 0 {
		t.Fatalf("unexpected descriptor: %+v", d)
	}

	got, ok := r.Lookup(1)
	if !ok || !reflect.DeepEqual(got, d) {
		t.Fatalf("Lookup(1) = (%+v, %v), want (%+v, true)", got, ok, d)
	}

	if _, ok := r.Lookup(2); ok {
		t.Errorf("Lookup(2) found something never inserted")
	}
}

func TestInsertDeduplicatesByContent(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	image := append(fakeImage, 'b')
	d1, err := r.Insert(10, image)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	d2, err := r.Insert(11, image)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if d1.LoadModuleID != d2.LoadModuleID {
		t.Errorf("expected shared load module id, got %d and %d", d1.LoadModuleID, d2.LoadModuleID)
	}
	if d1.CubinID == d2.CubinID {
		t.Errorf("descriptors should keep their own cubin id: %d == %d", d1.CubinID, d2.CubinID)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "cubins"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one persisted cubin file, got %d", len(entries))
	}
}

func TestInsertIsIdempotentPerID(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	image := append(fakeImage, 'c')
	d1, err := r.Insert(5, image)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	d2, err := r.Insert(5, []byte("completely different bytes"))
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if !reflect.DeepEqual(d1, d2) {
		t.Errorf("re-Insert under the same cubin id should be a no-op: %+v != %+v", d1, d2)
	}
}

func TestRemoveDropsIDBindingOnly(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	image := append(fakeImage, 'd')
	d1, _ := r.Insert(7, image)
	r.Remove(7)

	if _, ok := r.Lookup(7); ok {
		t.Errorf("Lookup(7) should fail after Remove")
	}

	d2, err := r.Insert(8, image)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if d2.LoadModuleID != d1.LoadModuleID {
		t.Errorf("content already on disk should still be deduplicated after Remove")
	}
}

func TestBadgerIndexAccelerates(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenBadgerIndex(filepath.Join(dir, "index"))
	if err != nil {
		t.Fatalf("OpenBadgerIndex: %v", err)
	}
	defer idx.Close()

	r := New(dir, idx)
	image := append(fakeImage, 'e')
	if _, err := r.Insert(1, image); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	hash := sha256.Sum256(image)
	has, err := idx.Has(hash)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Errorf("expected badger index to record the persisted hash")
	}
}

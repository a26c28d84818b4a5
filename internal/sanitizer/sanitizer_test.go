package sanitizer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gpuprof/gpuprof/internal/model"
	"github.com/gpuprof/gpuprof/internal/patchmodule"
)

// fakeDevice simulates one context's device-resident buffer: the first
// ReadHeader after a drain reports num_left_threads == num_threads so
// OnLaunchEnd terminates after a single iteration.
type fakeDevice struct {
	mu       sync.Mutex
	header   model.SanitizerBufferHeader
	records  []model.MemAccessRecord
	readDiff model.SanitizerBufferHeader
	writDiff model.SanitizerBufferHeader
}

func (d *fakeDevice) AllocateBuffer(any, uint32) (any, error)      { return d, nil }
func (d *fakeDevice) AllocateAddrDiffBuffers(any, uint32) (any, any, error) {
	return "read", "write", nil
}
func (d *fakeDevice) ResetHeader(bufHandle any, h model.SanitizerBufferHeader) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.header = h
	return nil
}
func (d *fakeDevice) ReadHeader(bufHandle any) (model.SanitizerBufferHeader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch bufHandle {
	case "read":
		return d.readDiff, nil
	case "write":
		return d.writDiff, nil
	default:
		return d.header, nil
	}
}
func (d *fakeDevice) ReadRecords(bufHandle any, head, tail uint32) ([]model.MemAccessRecord, error) {
	return d.records, nil
}
func (d *fakeDevice) ReadAddrDiffRecords(bufHandle any, head, tail uint32) ([]model.AddressDiffRecord, error) {
	return nil, nil
}
func (d *fakeDevice) WriteBackFull(bufHandle any, full uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch bufHandle {
	case "read":
		d.readDiff.Full = full
	case "write":
		d.writDiff.Full = full
	default:
		d.header.Full = full
	}
	return nil
}
func (d *fakeDevice) SetCallbackData(launchFunction any, bufHandle any) error { return nil }
func (d *fakeDevice) SynchronizeStream(ctxHandle any) error                  { return nil }

type recordingSink struct {
	mu      sync.Mutex
	records [][]model.MemAccessRecord
}

func (s *recordingSink) Records(ctxID uint32, records []model.MemAccessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]model.MemAccessRecord, len(records))
	copy(cp, records)
	s.records = append(s.records, cp)
}

func writeFatbin(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("fatbin"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestInitContextFailsWithoutPatchFatbin(t *testing.T) {
	dev := &fakeDevice{}
	resolver := patchmodule.NewResolver([]string{t.TempDir()})
	m := New(Config{Device: dev, Resolver: resolver, Pool: NewBufferPool(2, 16)})

	if err := m.InitContext(1, "ctx", "mem_access.fatbin", false); err == nil {
		t.Fatal("expected an error when the patch fatbin is missing")
	}
}

func TestLaunchBeginEndDrainsFullBuffer(t *testing.T) {
	dir := t.TempDir()
	writeFatbin(t, dir, "mem_access.fatbin")

	dev := &fakeDevice{}
	sink := &recordingSink{}
	m := New(Config{
		Device:   dev,
		Resolver: patchmodule.NewResolver([]string{dir}),
		Pool:     NewBufferPool(2, 16),
		Records:  sink,
	})

	if err := m.InitContext(1, "ctx", "mem_access.fatbin", false); err != nil {
		t.Fatalf("InitContext: %v", err)
	}

	instrumented, err := m.OnLaunchBegin(1, 42, "launch-fn", [3]uint32{1, 1, 1}, [3]uint32{32, 1, 1})
	if err != nil {
		t.Fatalf("OnLaunchBegin: %v", err)
	}
	if !instrumented {
		t.Fatal("expected the launch to be instrumented")
	}
	if dev.header.NumThreads != 32 {
		t.Errorf("NumThreads = %d, want 32", dev.header.NumThreads)
	}

	// Simulate the device having filled the buffer and reported all
	// threads accounted for.
	dev.header.Full = 1
	dev.header.NumLeftThreads = dev.header.NumThreads
	dev.records = []model.MemAccessRecord{{ThreadID: 1, Address: 0x1000}}

	if err := m.OnLaunchEnd(1); err != nil {
		t.Fatalf("OnLaunchEnd: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) != 1 || len(sink.records[0]) != 1 {
		t.Fatalf("sink.records = %+v, want exactly one drained buffer of one record", sink.records)
	}
	if dev.header.Full != 0 {
		t.Errorf("Full should have been cleared after drain, got %d", dev.header.Full)
	}
}

func TestLaunchBeginFilteredOutIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeFatbin(t, dir, "mem_access.fatbin")

	dev := &fakeDevice{}
	m := New(Config{
		Device:   dev,
		Resolver: patchmodule.NewResolver([]string{dir}),
		Pool:     NewBufferPool(1, 16),
		Filter:   func(functionID uint32) bool { return false },
	})
	if err := m.InitContext(1, "ctx", "mem_access.fatbin", false); err != nil {
		t.Fatalf("InitContext: %v", err)
	}

	instrumented, err := m.OnLaunchBegin(1, 42, "launch-fn", [3]uint32{1, 1, 1}, [3]uint32{1, 1, 1})
	if err != nil {
		t.Fatalf("OnLaunchBegin: %v", err)
	}
	if instrumented {
		t.Fatal("filtered-out launch should not be instrumented")
	}
}

func TestSummarizeAddrDiffClassifiesDivergence(t *testing.T) {
	recs := []model.AddressDiffRecord{{Delta: 5}, {Delta: -200}, {Delta: 1}}
	s := SummarizeAddrDiff(1, recs, 100)
	if s.Count != 3 {
		t.Errorf("Count = %d, want 3", s.Count)
	}
	if s.MaxAbsDelta != 200 {
		t.Errorf("MaxAbsDelta = %d, want 200", s.MaxAbsDelta)
	}
	if s.Divergent != 1 {
		t.Errorf("Divergent = %d, want 1", s.Divergent)
	}
}

// Package cubin implements the content-addressed device-binary
// registry: vendor cubins are hashed, written once to disk under a
// content-addressed name, and deduplicated so that two contexts loading
// byte-identical device code share one on-disk copy and one symbol
// table. It is the one component allowed to touch the filesystem.
package cubin

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gpuprof/gpuprof/internal/elfsym"
	"github.com/gpuprof/gpuprof/internal/model"
)

// Registry maps vendor-issued cubin ids to their resolved descriptor and
// symbol table, deduplicating by content hash. All methods are safe for
// concurrent use; the backing map is guarded by a single mutex standing
// in for the original's global spinlock.
type Registry struct {
	outputDir string

	mu       sync.Mutex
	byID     map[uint32]*entry
	byHash   map[[32]byte]*entry
	nextLoad uint32

	// index, when non-nil, records which content hashes were persisted
	// by earlier runs, so persist can skip rewriting their files. It is
	// consulted only as a hint; the in-memory maps above remain the
	// single source of truth for a live process.
	index DedupIndex
}

// entry is the registry's internal bookkeeping for one resolved cubin.
type entry struct {
	descriptor model.CubinDescriptor
	symbols    *elfsym.Handle
	path       string
}

// DedupIndex is an optional, pluggable accelerator that remembers which
// content hashes have already been written to outputDir across process
// restarts. A nil DedupIndex disables the optimization without changing
// correctness: every cubin is still content-hashed and deduplicated
// in-memory for the lifetime of a Registry.
type DedupIndex interface {
	// Has reports whether hash has previously been persisted.
	Has(hash [32]byte) (bool, error)
	// Put records that hash has been persisted.
	Put(hash [32]byte) error
}

// New creates a Registry that writes deduplicated cubin images under
// outputDir/cubins. index may be nil.
func New(outputDir string, index DedupIndex) *Registry {
	return &Registry{
		outputDir: outputDir,
		byID:      make(map[uint32]*entry),
		byHash:    make(map[[32]byte]*entry),
		index:     index,
	}
}

// Insert registers a cubin image under the vendor's cubinID. If an
// image with identical content has already been registered under a
// different vendor id (possible across contexts, or after a module
// reload), the existing load-module id and symbol table are reused and
// no new file is written. Insert is idempotent for a given cubinID.
func (r *Registry) Insert(cubinID uint32, image []byte) (model.CubinDescriptor, error) {
	hash := sha256.Sum256(image)

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[cubinID]; ok {
		return e.descriptor, nil
	}
	if e, ok := r.byHash[hash]; ok {
		d := e.descriptor
		d.CubinID = cubinID
		r.byID[cubinID] = &entry{descriptor: d, symbols: e.symbols, path: e.path}
		return d, nil
	}

	path, err := r.persist(hash, image)
	if err != nil {
		return model.CubinDescriptor{}, fmt.Errorf("cubin: persist %x: %w", hash, err)
	}

	r.nextLoad++
	sym := elfsym.Initialize(image)
	d := model.CubinDescriptor{
		CubinID:      cubinID,
		LoadModuleID: r.nextLoad,
		ContentHash:  hash,
		Symbols:      sym.ToVector(),
	}
	e := &entry{descriptor: d, symbols: sym, path: path}
	r.byID[cubinID] = e
	r.byHash[hash] = e
	return d, nil
}

// Lookup returns the descriptor previously registered for cubinID.
func (r *Registry) Lookup(cubinID uint32) (model.CubinDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[cubinID]
	if !ok {
		return model.CubinDescriptor{}, false
	}
	return e.descriptor, true
}

// Symbols returns the resolved symbol handle for cubinID, or nil if
// cubinID is unknown.
func (r *Registry) Symbols(cubinID uint32) *elfsym.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[cubinID]
	if !ok {
		return nil
	}
	return e.symbols
}

// Remove drops the vendor-id binding for cubinID. The dispatcher does
// not call it on module unload; it keeps every cubin bound. The on-disk
// image and any cross-referenced hash entry are
// left in place, since another still-loaded module may share it.
func (r *Registry) Remove(cubinID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, cubinID)
}

// Count returns the number of vendor cubin ids currently bound to a
// descriptor and the number of distinct content hashes backing them
// (the latter is ≤ the former whenever two module ids share one
// content-addressed image). Exposed for operational introspection, e.g.
// internal/mcpsurface.
func (r *Registry) Count() (ids int, distinctContent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID), len(r.byHash)
}

// persist writes image to outputDir/cubins/<hex-hash>.cubin. A
// concurrent writer racing to create the same content-addressed path is
// not an error: os.O_EXCL failing with os.IsExist is the expected,
// benign outcome of deduplication across processes.
func (r *Registry) persist(hash [32]byte, image []byte) (string, error) {
	if r.index != nil {
		if has, err := r.index.Has(hash); err == nil && has {
			return r.cubinPath(hash), nil
		}
	}

	dir := filepath.Join(r.outputDir, "cubins")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := r.cubinPath(hash)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	switch {
	case err == nil:
		defer f.Close()
		if _, werr := f.Write(image); werr != nil {
			return "", werr
		}
	case os.IsExist(err):
		// Another goroutine or process already wrote this content.
	default:
		return "", err
	}

	if r.index != nil {
		_ = r.index.Put(hash)
	}
	return path, nil
}

func (r *Registry) cubinPath(hash [32]byte) string {
	return filepath.Join(r.outputDir, "cubins", fmt.Sprintf("%x.cubin", hash))
}

// Package patchmodule resolves and verifies the sanitizer patch fatbin
// on disk: the device-side instrumentation module the sanitizer
// subsystem injects into an instrumented kernel's module. A missing or
// unreadable fatbin disables sanitization for that context; it is
// never treated as fatal to the rest of the pipeline.
package patchmodule

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSearchPaths are the directories searched for a named patch
// fatbin, in order.
var DefaultSearchPaths = []string{
	"/usr/local/share/gpuprof/patches",
	"/usr/share/gpuprof/patches",
	".",
}

// Resolver locates and verifies patch fatbins.
type Resolver struct {
	searchPaths []string
}

// NewResolver creates a Resolver searching the given paths, in order.
// A nil or empty paths falls back to DefaultSearchPaths.
func NewResolver(paths []string) *Resolver {
	if len(paths) == 0 {
		paths = DefaultSearchPaths
	}
	return &Resolver{searchPaths: paths}
}

// Resolve finds name (e.g. "mem_access.fatbin") in the resolver's
// search paths and verifies it looks like a usable fatbin file.
func (r *Resolver) Resolve(name string) (string, error) {
	for _, dir := range r.searchPaths {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			if err := r.Verify(path); err != nil {
				return "", err
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("patchmodule: %q not found in search paths: %v", name, r.searchPaths)
}

// Verify checks that path is a regular, non-empty, readable file.
// It does not attempt to parse the fatbin container format — only the
// vendor loader does that, at module-insert time.
func (r *Resolver) Verify(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("patchmodule: stat %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("patchmodule: %q is a directory", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("patchmodule: %q is empty", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("patchmodule: open %q: %w", path, err)
	}
	f.Close()
	return nil
}

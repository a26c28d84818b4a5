package patchmodule

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveFindsFileInSearchPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mem_access.fatbin")
	if err := os.WriteFile(path, []byte("fatbin-bytes"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewResolver([]string{dir})
	got, err := r.Resolve("mem_access.fatbin")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != path {
		t.Errorf("Resolve() = %q, want %q", got, path)
	}
}

func TestResolveMissingFileFails(t *testing.T) {
	r := NewResolver([]string{t.TempDir()})
	if _, err := r.Resolve("nonexistent.fatbin"); err == nil {
		t.Fatal("expected an error for a missing fatbin")
	}
}

func TestVerifyRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.fatbin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewResolver(nil)
	if err := r.Verify(path); err == nil {
		t.Fatal("expected an error for an empty fatbin")
	}
}

func TestVerifyRejectsDirectory(t *testing.T) {
	r := NewResolver(nil)
	if err := r.Verify(t.TempDir()); err == nil {
		t.Fatal("expected an error when verifying a directory")
	}
}

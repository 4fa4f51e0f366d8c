package workdir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindRoot_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, StateDir), 0755); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	want, _ := filepath.Abs(root)
	if got := FindRoot(sub); got != want {
		t.Errorf("FindRoot(%q) = %q, want %q", sub, got, want)
	}
	if got := FindRoot(root); got != want {
		t.Errorf("FindRoot(root) = %q, want %q", got, want)
	}
}

func TestFindRoot_NoStoreReturnsStart(t *testing.T) {
	start := filepath.Join(t.TempDir(), "fresh")
	if err := os.Mkdir(start, 0755); err != nil {
		t.Fatal(err)
	}
	if got := FindRoot(start); got != start {
		t.Errorf("FindRoot = %q, want %q", got, start)
	}
}

func TestFindRoot_IgnoresStateFile(t *testing.T) {
	root := t.TempDir()
	// a plain file named .labsync is not a store
	if err := os.WriteFile(filepath.Join(root, StateDir), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if got := FindRoot(root); got != root {
		t.Errorf("FindRoot = %q, want %q", got, root)
	}
}

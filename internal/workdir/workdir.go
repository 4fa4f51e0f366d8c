// Package workdir finds the directory whose .labsync/ holds the local store,
// so commands run from a subdirectory share the same cache and queues.
package workdir

import (
	"os"
	"path/filepath"
)

// StateDir is the directory name marking a store root.
const StateDir = ".labsync"

// FindRoot walks up from start to the nearest directory containing
// StateDir. When none exists it returns start, where the store will be
// created on first use.
func FindRoot(start string) string {
	dir, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, StateDir)); err == nil && fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

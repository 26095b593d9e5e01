package store

import (
	"fmt"
	"os"
	"sync/atomic"
)

// Dir is a media volume backed by a host directory, standing in for the
// printer's removable card.
type Dir struct {
	path    string
	mounted atomic.Bool
}

// NewDir returns an unmounted volume rooted at path
func NewDir(path string) *Dir {
	return &Dir{path: path}
}

// Path returns the volume root
func (d *Dir) Path() string {
	return d.path
}

// Mounted reports whether Mount succeeded
func (d *Dir) Mounted() bool {
	return d.mounted.Load()
}

// Mount checks that the directory is present
func (d *Dir) Mount() error {
	fi, err := os.Stat(d.path)
	if err != nil {
		return fmt.Errorf("mount %s: %w", d.path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("mount %s: not a directory", d.path)
	}
	d.mounted.Store(true)
	return nil
}

// Unmount marks the volume as removed
func (d *Dir) Unmount() {
	d.mounted.Store(false)
}

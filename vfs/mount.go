package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/aos-project/aos-core/errors"
)

// MaxMounts bounds the mount table (spec §3 "a bounded mount table").
const MaxMounts = 32

// Mount is an entry in the mount table (spec §3).
type Mount struct {
	Point string
	FS    *MountedFilesystem
	Root  *Vnode
	Flags MountFlags
}

// MountTable is the bounded, longest-prefix-matched mount table (spec §3,
// §4.D, and the "Mount-prefix longest-match" testable property in §8).
type MountTable struct {
	mu     sync.RWMutex
	mounts []*Mount
}

// NewMountTable creates an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{}
}

// Mount occupies the next free mount-table slot for `point`, calling the
// backend's Mount and GetRoot. No two mounts may share the same mountpoint.
func (t *MountTable) Mount(point string, backend Filesystem, source string, flags MountFlags) (*Mount, error) {
	point = normalizeMountPoint(point)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.mounts) >= MaxMounts {
		return nil, errors.NoSpace.WithMessage("mount table is full")
	}
	for _, m := range t.mounts {
		if m.Point == point {
			return nil, errors.Exists.WithMessagef("a filesystem is already mounted at %q", point)
		}
	}

	if err := backend.Mount(source, flags); err != nil {
		return nil, err
	}
	root, err := backend.GetRoot()
	if err != nil {
		backend.Unmount()
		return nil, err
	}

	mount := &Mount{
		Point: point,
		FS:    &MountedFilesystem{Backend: backend, Flags: flags},
		Root:  root,
		Flags: flags,
	}
	t.mounts = append(t.mounts, mount)
	t.sortByPointDescending()
	return mount, nil
}

// Unmount removes the mount at `point`, calling the backend's Unmount.
func (t *MountTable) Unmount(point string) error {
	point = normalizeMountPoint(point)

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.mounts {
		if m.Point == point {
			if err := m.FS.Backend.Unmount(); err != nil {
				return err
			}
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			return nil
		}
	}
	return errors.NotFound.WithMessagef("nothing mounted at %q", point)
}

// Resolve returns the mount whose point is the longest prefix of `path`.
// `path` must already be normalized. There is always at least a "/" mount
// once the table has been initialized, so this only fails on an empty table.
func (t *MountTable) Resolve(path string) (*Mount, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// t.mounts is kept sorted by descending point length, so the first match
	// is the longest-prefix match.
	for _, m := range t.mounts {
		if isPathPrefix(m.Point, path) {
			return m, true
		}
	}
	return nil, false
}

// All returns a snapshot of the current mount list, longest-prefix first.
func (t *MountTable) All() []*Mount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Mount, len(t.mounts))
	copy(out, t.mounts)
	return out
}

func (t *MountTable) sortByPointDescending() {
	sort.SliceStable(t.mounts, func(i, j int) bool {
		return len(t.mounts[i].Point) > len(t.mounts[j].Point)
	})
}

func normalizeMountPoint(point string) string {
	if point != "/" {
		point = strings.TrimSuffix(point, "/")
	}
	if point == "" {
		point = "/"
	}
	return point
}

// isPathPrefix reports whether mountPoint is a path-component-aligned prefix
// of path, so that "/disk2" does not spuriously match "/disk20/foo".
func isPathPrefix(mountPoint, path string) bool {
	if mountPoint == "/" {
		return true
	}
	if !strings.HasPrefix(path, mountPoint) {
		return false
	}
	rest := path[len(mountPoint):]
	return rest == "" || rest[0] == '/'
}

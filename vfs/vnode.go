// Package vfs implements the virtual-filesystem dispatch layer from spec
// §3/§4.D: pluggable filesystem backends, path resolution across mount
// points, file-descriptor lifecycle, and an access-check hook. It is
// grounded on the dargueta-disko driver library's ObjectHandle/
// DriverImplementation split (api.go, driver/driver.go), generalized from a
// single-backend driver into a mount-aware dispatcher over a backend
// registry, per spec §4.D and §9's notes on vtables/backends.
package vfs

import (
	"sync"

	"github.com/aos-project/aos-core/errors"
)

// VnodeType is the type tag on a Vnode (spec §3).
type VnodeType uint8

const (
	TypeFile VnodeType = iota
	TypeDirectory
	TypeDevice
	TypeSymlink
)

// VnodeFlags are backend-private flag bits carried alongside a Vnode.
type VnodeFlags uint32

// VnodeOps is the per-backend operation vtable a Vnode dispatches through.
// Backends are not required to implement every method meaningfully; those
// that don't apply (e.g. Mkdir on a plain file) return errors.NotDir/IsDir
// as appropriate.
type VnodeOps interface {
	// FindDir looks up a single path component inside a directory vnode.
	FindDir(dir *Vnode, name string) (*Vnode, error)
	// Create makes a new non-directory object named `name` inside `dir`.
	Create(dir *Vnode, name string, perm AccessRecord) (*Vnode, error)
	// Mkdir makes a new directory named `name` inside `dir`.
	Mkdir(dir *Vnode, name string, perm AccessRecord) (*Vnode, error)
	// Unlink removes the directory entry `name` from `dir`. The backend may
	// assume the target is not a non-empty directory; the dispatcher checks
	// that first.
	Unlink(dir *Vnode, name string) error
	// Read copies up to len(buf) bytes starting at `offset` into buf,
	// returning the number of bytes copied (0 signals EOF).
	Read(node *Vnode, offset int64, buf []byte) (int, error)
	// Write stores len(buf) bytes (or as many as the backend can persist)
	// starting at `offset`, returning the number of bytes actually written.
	Write(node *Vnode, offset int64, buf []byte) (int, error)
	// Readdir returns the name of the `index`-th directory entry (0-based).
	// It returns errors.NotFound once index is past the last entry.
	Readdir(dir *Vnode, index int) (string, error)
	// Truncate resizes a file's backing storage to exactly `size` bytes.
	Truncate(node *Vnode, size int64) error
	// Sync flushes a vnode's writes to stable storage, if the backend
	// buffers them. Backends that write through may no-op.
	Sync(node *Vnode) error
}

// Vnode is the in-memory, backend-agnostic handle for a filesystem object
// (spec §3).
type Vnode struct {
	mu sync.Mutex

	Name   string
	Inode  uint64
	Type   VnodeType
	Size   int64
	Flags  VnodeFlags
	Access AccessRecord

	// FS is the filesystem instance that owns this vnode. NewVnode leaves it
	// nil and neither backend in this module fills it in.
	FS *MountedFilesystem
	// Ops is the operation vtable backing this vnode.
	Ops VnodeOps
	// Private is backend-owned data (e.g. a FAT32 first-cluster + dirent
	// location, or a ramfs record slot index). The dispatcher never inspects it.
	Private any

	refcount int
	// OnReclaim, if set by the backend, is invoked when the reference count
	// drops to zero. Neither backend in this module sets it: fat32 and ramfs
	// both accept the documented leak, and ramfs returns a pool slot only when
	// the entry is unlinked.
	OnReclaim func(*Vnode)
}

// NewVnode constructs a Vnode with an initial reference count of 1.
func NewVnode(name string, typ VnodeType, ops VnodeOps) *Vnode {
	return &Vnode{Name: name, Type: typ, Ops: ops, refcount: 1}
}

// Acquire increments the reference count and returns the same vnode, for
// call sites that want to chain (e.g. `return node.Acquire(), nil`).
func (v *Vnode) Acquire() *Vnode {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refcount++
	return v
}

// Release decrements the reference count. When it reaches zero, OnReclaim is
// invoked if the backend supplied one; otherwise the vnode is intentionally
// leaked (spec §3, §9 — reclamation is documented as an open question the
// reference implementation never resolves, and neither does this one beyond
// giving backends an opt-in hook).
func (v *Vnode) Release() {
	v.mu.Lock()
	v.refcount--
	reclaim := v.refcount <= 0
	hook := v.OnReclaim
	v.mu.Unlock()

	if reclaim && hook != nil {
		hook(v)
	}
}

// RefCount reports the current reference count, mostly for tests.
func (v *Vnode) RefCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refcount
}

func (v *Vnode) IsDir() bool     { return v.Type == TypeDirectory }
func (v *Vnode) IsSymlink() bool { return v.Type == TypeSymlink }

// requireDir is a convenience guard used throughout the dispatcher.
func requireDir(v *Vnode) error {
	if !v.IsDir() {
		return errors.NotDir.WithMessagef("%q is not a directory", v.Name)
	}
	return nil
}

// Package ramfs implements the in-memory filesystem backend from spec §4.C:
// a bounded static pool of file records used as the default root when no
// disk filesystem is available.
package ramfs

import (
	"sync"

	"github.com/boljen/go-bitmap"

	"github.com/aos-project/aos-core/errors"
	"github.com/aos-project/aos-core/vfs"
)

// GrowthUnit is the rounding granularity for data-buffer growth ("4
// KiB-rounded allocations").
const GrowthUnit = 4096

// DefaultMaxFileSize is the hard per-file cap applied when a filesystem is
// created via New without an explicit override.
const DefaultMaxFileSize = 16 * 1024 * 1024

// DefaultMaxRecords bounds the static pool of file records.
const DefaultMaxRecords = 4096

type record struct {
	name     string
	inode    uint64
	isDir    bool
	data     []byte
	size     int64
	parent   int
	children []int
	access   vfs.AccessRecord
	vnode    *vfs.Vnode
}

// Filesystem is the ramfs backend. It satisfies both vfs.Filesystem (for
// mounting) and vfs.VnodeOps (vnodes it hands out reference back into it).
type Filesystem struct {
	mu sync.Mutex

	slots       []record
	slotBitmap  bitmap.Bitmap
	maxFileSize int64
	nextInode   uint64
	rootSlot    int
}

var _ vfs.Filesystem = (*Filesystem)(nil)
var _ vfs.VnodeOps = (*Filesystem)(nil)

// New creates a ramfs backend with the default record-pool size and
// per-file cap.
func New() *Filesystem {
	return NewSized(DefaultMaxRecords, DefaultMaxFileSize)
}

// NewSized creates a ramfs backend with the given bounded record-pool size
// and hard per-file capacity.
func NewSized(maxRecords int, maxFileSize int64) *Filesystem {
	return &Filesystem{
		slots:       make([]record, maxRecords),
		slotBitmap:  bitmap.New(maxRecords),
		maxFileSize: maxFileSize,
	}
}

func (fs *Filesystem) Name() string { return "ramfs" }

// Mount resets the pool (spec §4.C: "`mount` is a no-op reset of the
// pool") and creates a fresh root directory.
func (fs *Filesystem) Mount(source string, flags vfs.MountFlags) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.slots {
		fs.slots[i] = record{}
		fs.slotBitmap.Set(i, false)
	}
	fs.nextInode = 1

	rootSlot, err := fs.allocSlotLocked()
	if err != nil {
		return err
	}
	fs.slots[rootSlot] = record{
		name:   "/",
		inode:  fs.allocInodeLocked(),
		isDir:  true,
		parent: rootSlot,
		access: vfs.AccessRecord{OwnerBits: vfs.AccessView | vfs.AccessModify, OtherBits: vfs.AccessView},
	}
	fs.rootSlot = rootSlot
	return nil
}

// Unmount is a no-op; the pool is discarded along with the Filesystem value.
func (fs *Filesystem) Unmount() error { return nil }

// GetRoot returns the root vnode, minting it lazily on first call after
// Mount.
func (fs *Filesystem) GetRoot() (*vfs.Vnode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.vnodeForLocked(fs.rootSlot), nil
}

func (fs *Filesystem) allocInodeLocked() uint64 {
	fs.nextInode++
	return fs.nextInode - 1
}

func (fs *Filesystem) allocSlotLocked() (int, error) {
	for i := 0; i < len(fs.slots); i++ {
		if !fs.slotBitmap.Get(i) {
			fs.slotBitmap.Set(i, true)
			return i, nil
		}
	}
	return -1, errors.NoSpace.WithMessage("ramfs record pool exhausted")
}

func (fs *Filesystem) vnodeForLocked(slot int) *vfs.Vnode {
	rec := &fs.slots[slot]
	if rec.vnode != nil {
		return rec.vnode
	}

	typ := vfs.TypeFile
	if rec.isDir {
		typ = vfs.TypeDirectory
	}
	node := vfs.NewVnode(rec.name, typ, fs)
	node.Inode = rec.inode
	node.Size = rec.size
	node.Access = rec.access
	node.Private = slot
	rec.vnode = node
	return node
}

func slotOf(node *vfs.Vnode) int {
	return node.Private.(int)
}

// FindDir implements vfs.VnodeOps.FindDir via a linear scan of children
// (spec §4.C: "`finddir` is a linear scan of children").
func (fs *Filesystem) FindDir(dir *vfs.Vnode, name string) (*vfs.Vnode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentSlot := slotOf(dir)
	for _, childSlot := range fs.slots[parentSlot].children {
		if fs.slots[childSlot].name == name {
			return fs.vnodeForLocked(childSlot), nil
		}
	}
	return nil, errors.NotFound.WithMessagef("%q not found", name)
}

func (fs *Filesystem) createLocked(dir *vfs.Vnode, name string, perm vfs.AccessRecord, isDir bool) (*vfs.Vnode, error) {
	parentSlot := slotOf(dir)
	for _, childSlot := range fs.slots[parentSlot].children {
		if fs.slots[childSlot].name == name {
			return nil, errors.Exists.WithMessagef("%q already exists", name)
		}
	}

	slot, err := fs.allocSlotLocked()
	if err != nil {
		return nil, err
	}

	fs.slots[slot] = record{
		name:   name,
		inode:  fs.allocInodeLocked(),
		isDir:  isDir,
		parent: parentSlot,
		access: perm,
	}
	fs.slots[parentSlot].children = append(fs.slots[parentSlot].children, slot)
	return fs.vnodeForLocked(slot), nil
}

// Create implements vfs.VnodeOps.Create.
func (fs *Filesystem) Create(dir *vfs.Vnode, name string, perm vfs.AccessRecord) (*vfs.Vnode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.createLocked(dir, name, perm, false)
}

// Mkdir implements vfs.VnodeOps.Mkdir.
func (fs *Filesystem) Mkdir(dir *vfs.Vnode, name string, perm vfs.AccessRecord) (*vfs.Vnode, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.createLocked(dir, name, perm, true)
}

// Unlink implements vfs.VnodeOps.Unlink. Removing a non-empty directory
// returns errors.NotEmpty (spec §4.C: "`unlink` on a non-empty directory
// returns `ERR_NOTEMPTY`").
func (fs *Filesystem) Unlink(dir *vfs.Vnode, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parentSlot := slotOf(dir)
	children := fs.slots[parentSlot].children

	for i, childSlot := range children {
		if fs.slots[childSlot].name != name {
			continue
		}
		if fs.slots[childSlot].isDir && len(fs.slots[childSlot].children) > 0 {
			return errors.NotEmpty.WithMessagef("%q is not empty", name)
		}

		fs.slots[parentSlot].children = append(children[:i], children[i+1:]...)
		fs.slotBitmap.Set(childSlot, false)
		fs.slots[childSlot] = record{}
		return nil
	}
	return errors.NotFound.WithMessagef("%q not found", name)
}

// Read implements vfs.VnodeOps.Read.
func (fs *Filesystem) Read(node *vfs.Vnode, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := &fs.slots[slotOf(node)]
	if offset >= rec.size {
		return 0, nil
	}
	n := copy(buf, rec.data[offset:rec.size])
	return n, nil
}

// Write implements vfs.VnodeOps.Write, growing the backing buffer in
// GrowthUnit-rounded increments up to the per-file cap.
func (fs *Filesystem) Write(node *vfs.Vnode, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec := &fs.slots[slotOf(node)]
	end := offset + int64(len(buf))
	if end > fs.maxFileSize {
		return 0, errors.NoSpace.WithMessagef("write would exceed per-file cap of %d bytes", fs.maxFileSize)
	}

	if end > int64(len(rec.data)) {
		newCap := roundUp(end, GrowthUnit)
		if newCap > fs.maxFileSize {
			newCap = fs.maxFileSize
		}
		grown := make([]byte, newCap)
		copy(grown, rec.data)
		rec.data = grown
	}

	n := copy(rec.data[offset:end], buf)
	if end > rec.size {
		rec.size = end
		node.Size = end
	}
	return n, nil
}

func roundUp(size int64, unit int64) int64 {
	if size%unit == 0 {
		return size
	}
	return (size/unit + 1) * unit
}

// Readdir implements vfs.VnodeOps.Readdir.
func (fs *Filesystem) Readdir(dir *vfs.Vnode, index int) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	children := fs.slots[slotOf(dir)].children
	if index < 0 || index >= len(children) {
		return "", errors.NotFound.WithMessage("end of directory")
	}
	return fs.slots[children[index]].name, nil
}

// Truncate implements vfs.VnodeOps.Truncate.
func (fs *Filesystem) Truncate(node *vfs.Vnode, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if size > fs.maxFileSize {
		return errors.NoSpace.WithMessagef("truncate target exceeds per-file cap of %d bytes", fs.maxFileSize)
	}

	rec := &fs.slots[slotOf(node)]
	if size <= int64(len(rec.data)) {
		for i := size; i < rec.size && i < int64(len(rec.data)); i++ {
			rec.data[i] = 0
		}
	} else {
		grown := make([]byte, roundUp(size, GrowthUnit))
		copy(grown, rec.data)
		rec.data = grown
	}
	rec.size = size
	node.Size = size
	return nil
}

// Sync is a no-op: ramfs has no backing store to flush.
func (fs *Filesystem) Sync(node *vfs.Vnode) error { return nil }

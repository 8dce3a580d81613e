package vfs

import (
	"sync"

	"github.com/aos-project/aos-core/errors"
)

// OpenFlags mirror the POSIX O_* constants closely enough for the syscall
// layer to pass them through unchanged.
type OpenFlags int

const (
	ORdOnly OpenFlags = 0
	OWrOnly OpenFlags = 1 << iota
	ORdWr
	OCreate
	OExcl
	OTrunc
	OAppend
	ODirectory
)

func (f OpenFlags) readable() bool  { return f&OWrOnly == 0 || f&ORdWr != 0 }
func (f OpenFlags) writable() bool  { return f&OWrOnly != 0 || f&ORdWr != 0 }
func (f OpenFlags) create() bool    { return f&OCreate != 0 }
func (f OpenFlags) exclusive() bool { return f&OExcl != 0 }
func (f OpenFlags) truncate() bool  { return f&OTrunc != 0 }
func (f OpenFlags) append() bool    { return f&OAppend != 0 }
func (f OpenFlags) directory() bool { return f&ODirectory != 0 }

// SeekWhence selects lseek's reference point (spec §4.D "lseek").
type SeekWhence int

const (
	SeekSet SeekWhence = iota
	SeekCur
	SeekEnd
)

// File is the open-file description from spec §3: a vnode reference, open
// flags, current byte offset, and a reference count.
type File struct {
	mu     sync.Mutex
	Node   *Vnode
	Flags  OpenFlags
	Offset int64

	refcount int
	// release, if set, gives back a per-process open-file charge taken by an
	// OpenFileLimiter at Open time (spec §3 Sandbox resource limits).
	release func()
}

func newFile(node *Vnode, flags OpenFlags, offset int64) *File {
	return &File{Node: node, Flags: flags, Offset: offset, refcount: 1}
}

// MaxOpenFiles bounds the per-process FD table (spec §3: "Bounded (e.g., 256
// entries)").
const MaxOpenFiles = 256

// FDTable is the process-scoped fd → File mapping (spec §3 "FD table").
// A given fd is either free or points to exactly one File (spec §8 "FD
// uniqueness"), enforced here by always handing back the lowest free index.
type FDTable struct {
	mu      sync.Mutex
	entries [MaxOpenFiles]*File
}

// NewFDTable creates an empty, fully-free descriptor table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// Alloc installs `file` at the lowest free index and returns that index.
func (t *FDTable) Alloc(file *File) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, entry := range t.entries {
		if entry == nil {
			t.entries[i] = file
			return i, nil
		}
	}
	return -1, errors.NoSpace.WithMessagef("file descriptor table is full (max %d)", MaxOpenFiles)
}

// Get returns the File at `fd`, or errors.Invalid if fd is out of range or
// unused.
func (t *FDTable) Get(fd int) (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.entries) || t.entries[fd] == nil {
		return nil, errors.Invalid.WithMessagef("bad file descriptor %d", fd)
	}
	return t.entries[fd], nil
}

// Close frees the entry at `fd`, releasing the underlying vnode reference.
func (t *FDTable) Close(fd int) error {
	t.mu.Lock()
	if fd < 0 || fd >= len(t.entries) || t.entries[fd] == nil {
		t.mu.Unlock()
		return errors.Invalid.WithMessagef("bad file descriptor %d", fd)
	}
	file := t.entries[fd]
	t.entries[fd] = nil
	t.mu.Unlock()

	file.Node.Release()
	return nil
}

// OpenCount reports how many descriptors are currently in use, for resource
// limit enforcement (SPEC_FULL.md §6).
func (t *FDTable) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, e := range t.entries {
		if e != nil {
			count++
		}
	}
	return count
}

package vfs

import (
	"github.com/aos-project/aos-core/errors"
)

// Dispatcher is the VFS entry point (spec §4.D): it owns the mount table and
// FD table for one process's view of the filesystem, consulting the
// access-check hook before admitting every operation. It is the aOS
// equivalent of dargueta-disko's BaseDriver/CommonDriver, generalized from a
// single backend to a mount table.
type Dispatcher struct {
	Mounts  *MountTable
	FDs     *FDTable
	Access  AccessChecker
	cwdPath string
}

// NewDispatcher creates a Dispatcher over an already-populated mount table.
// The working directory starts at "/".
func NewDispatcher(mounts *MountTable) *Dispatcher {
	return &Dispatcher{
		Mounts:  mounts,
		FDs:     NewFDTable(),
		Access:  DefaultAccessChecker{},
		cwdPath: "/",
	}
}

// resolve walks `path` component-by-component from the root vnode of the
// longest-prefix-matching mount, switching to a more specific mount's root
// whenever the growing prefix matches one (spec §4.D "Path resolution").
func (d *Dispatcher) resolve(path string) (*Vnode, error) {
	mount, ok := d.Mounts.Resolve(path)
	if !ok {
		return nil, errors.NotFound.WithMessage("no filesystem is mounted")
	}

	current := mount.Root
	if path == mount.Point {
		return current, nil
	}

	rest := path[len(mount.Point):]
	if len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	if rest == "" {
		return current, nil
	}

	prefix := mount.Point
	components := splitNonEmpty(rest)

	for _, component := range components {
		if prefix == "/" {
			prefix = "/" + component
		} else {
			prefix = prefix + "/" + component
		}

		if m, ok := d.Mounts.Resolve(prefix); ok && m.Point == prefix {
			current = m.Root
			continue
		}

		if err := requireDir(current); err != nil {
			return nil, err
		}
		next, err := current.Ops.FindDir(current, component)
		if err != nil {
			return nil, err
		}
		current = next
	}

	return current, nil
}

func splitNonEmpty(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Normalize resolves `path` against the dispatcher's current working
// directory.
func (d *Dispatcher) Normalize(path string) (string, error) {
	return Normalize(path, d.cwdPath)
}

// Open implements spec §4.D "open(path, flags)".
func (d *Dispatcher) Open(caller Caller, path string, flags OpenFlags) (int, error) {
	absPath, err := d.Normalize(path)
	if err != nil {
		return -1, err
	}

	node, err := d.resolve(absPath)
	if err != nil {
		if err == errors.NotFound || isNotFound(err) {
			if !flags.create() {
				return -1, err
			}
			node, err = d.create(caller, absPath)
			if err != nil {
				return -1, err
			}
		} else {
			return -1, err
		}
	} else if flags.create() && flags.exclusive() {
		return -1, errors.Exists.WithMessagef("%q already exists", absPath)
	}

	if node.IsDir() && !flags.directory() {
		return -1, errors.IsDir.WithMessagef("%q is a directory", absPath)
	}

	want := AccessView
	if flags.writable() {
		want = AccessModify
	}
	if err := d.Access.CheckAccess(caller, node.Access, want); err != nil {
		return -1, err
	}

	if flags.truncate() && !node.IsDir() {
		if err := node.Ops.Truncate(node, 0); err != nil {
			return -1, err
		}
		node.Size = 0
	}

	offset := int64(0)
	if flags.append() {
		offset = node.Size
	}

	if d.FDs.OpenCount() >= MaxOpenFiles {
		return -1, errors.NoSpace.WithMessage("too many open files")
	}

	var release func()
	if limiter, ok := caller.(OpenFileLimiter); ok {
		if err := limiter.ChargeOpenFile(); err != nil {
			return -1, err
		}
		release = limiter.ReleaseOpenFile
	}

	file := newFile(node.Acquire(), flags, offset)
	file.release = release
	fd, err := d.FDs.Alloc(file)
	if err != nil {
		if release != nil {
			release()
		}
		node.Release()
		return -1, err
	}
	return fd, nil
}

func isNotFound(err error) bool {
	type unwrapper interface{ Unwrap() []error }
	if u, ok := err.(unwrapper); ok {
		for _, e := range u.Unwrap() {
			if e == errors.NotFound {
				return true
			}
		}
	}
	return err == errors.NotFound
}

func (d *Dispatcher) create(caller Caller, absPath string) (*Vnode, error) {
	parentPath, name := SplitParent(absPath)
	if name == "" {
		return nil, errors.Invalid.WithMessage("cannot create the root directory")
	}

	parent, err := d.resolve(parentPath)
	if err != nil {
		return nil, err
	}
	if err := requireDir(parent); err != nil {
		return nil, err
	}
	if err := d.Access.CheckAccess(caller, parent.Access, AccessModify); err != nil {
		return nil, err
	}

	return parent.Ops.Create(parent, name, AccessRecord{OwnerID: caller.CallerOwnerID(), OwnerBits: AccessView | AccessModify | AccessDelete, OtherBits: AccessView})
}

// Read implements spec §4.D "read".
func (d *Dispatcher) Read(caller Caller, fd int, buf []byte) (int, error) {
	file, err := d.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	file.mu.Lock()
	defer file.mu.Unlock()

	if !file.Flags.readable() {
		return 0, errors.Invalid.WithMessage("file descriptor not open for reading")
	}
	if file.Node.IsDir() {
		return 0, errors.IsDir.WithMessage("cannot read a directory as a file")
	}
	if err := d.Access.CheckAccess(caller, file.Node.Access, AccessView); err != nil {
		return 0, err
	}

	n, err := file.Node.Ops.Read(file.Node, file.Offset, buf)
	file.Offset += int64(n)
	return n, err
}

// Write implements spec §4.D "write".
func (d *Dispatcher) Write(caller Caller, fd int, buf []byte) (int, error) {
	file, err := d.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	file.mu.Lock()
	defer file.mu.Unlock()

	if !file.Flags.writable() {
		return 0, errors.Invalid.WithMessage("file descriptor not open for writing")
	}
	if file.Node.IsDir() {
		return 0, errors.IsDir.WithMessage("cannot write to a directory")
	}
	if err := d.Access.CheckAccess(caller, file.Node.Access, AccessModify); err != nil {
		return 0, err
	}

	n, err := file.Node.Ops.Write(file.Node, file.Offset, buf)
	file.Offset += int64(n)
	if file.Offset > file.Node.Size {
		file.Node.Size = file.Offset
	}
	return n, err
}

// Lseek implements spec §4.D "lseek".
func (d *Dispatcher) Lseek(fd int, offset int64, whence SeekWhence) (int64, error) {
	file, err := d.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	file.mu.Lock()
	defer file.mu.Unlock()

	var newOffset int64
	switch whence {
	case SeekSet:
		newOffset = offset
	case SeekCur:
		newOffset = file.Offset + offset
	case SeekEnd:
		newOffset = file.Node.Size + offset
	default:
		return 0, errors.Invalid.WithMessage("bad whence")
	}

	if newOffset < 0 {
		return 0, errors.Invalid.WithMessage("resulting offset would be negative")
	}
	file.Offset = newOffset
	return newOffset, nil
}

// Close implements the fd-lifecycle half of spec §3 "File".
func (d *Dispatcher) Close(fd int) error {
	file, err := d.FDs.Get(fd)
	if err != nil {
		return err
	}
	if err := file.Node.Ops.Sync(file.Node); err != nil {
		return err
	}
	if err := d.FDs.Close(fd); err != nil {
		return err
	}
	if file.release != nil {
		file.release()
	}
	return nil
}

// Readdir implements spec §4.D "readdir".
func (d *Dispatcher) Readdir(caller Caller, fd int) (string, error) {
	file, err := d.FDs.Get(fd)
	if err != nil {
		return "", err
	}
	file.mu.Lock()
	defer file.mu.Unlock()

	if !file.Node.IsDir() {
		return "", errors.NotDir.WithMessage("readdir requires a directory fd")
	}
	if err := d.Access.CheckAccess(caller, file.Node.Access, AccessView); err != nil {
		return "", err
	}

	name, err := file.Node.Ops.Readdir(file.Node, int(file.Offset))
	if err != nil {
		return "", err
	}
	file.Offset++
	return name, nil
}

// Mkdir implements spec §4.D "mkdir".
func (d *Dispatcher) Mkdir(caller Caller, path string) error {
	absPath, err := d.Normalize(path)
	if err != nil {
		return err
	}
	parentPath, name := SplitParent(absPath)
	if name == "" {
		return errors.Exists.WithMessage("/ already exists")
	}

	parent, err := d.resolve(parentPath)
	if err != nil {
		return err
	}
	if err := requireDir(parent); err != nil {
		return err
	}
	if err := d.Access.CheckAccess(caller, parent.Access, AccessModify); err != nil {
		return err
	}

	_, err = parent.Ops.Mkdir(parent, name, AccessRecord{
		OwnerID:   caller.CallerOwnerID(),
		OwnerBits: AccessView | AccessModify | AccessDelete,
		OtherBits: AccessView,
	})
	return err
}

// Rmdir implements spec §4.D "rmdir". rmdir("/") is always rejected.
func (d *Dispatcher) Rmdir(caller Caller, path string) error {
	absPath, err := d.Normalize(path)
	if err != nil {
		return err
	}
	if absPath == "/" {
		return errors.Invalid.WithMessage("cannot remove the root directory")
	}

	parentPath, name := SplitParent(absPath)
	parent, err := d.resolve(parentPath)
	if err != nil {
		return err
	}
	if err := d.Access.CheckAccess(caller, parent.Access, AccessModify); err != nil {
		return err
	}

	target, err := parent.Ops.FindDir(parent, name)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return errors.NotDir.WithMessagef("%q is not a directory", absPath)
	}

	if err := d.requireEmptyDir(target); err != nil {
		return err
	}

	return parent.Ops.Unlink(parent, name)
}

func (d *Dispatcher) requireEmptyDir(dir *Vnode) error {
	for i := 0; ; i++ {
		name, err := dir.Ops.Readdir(dir, i)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if name != "." && name != ".." {
			return errors.NotEmpty.WithMessagef("%q is not empty", dir.Name)
		}
	}
}

// Unlink implements spec §4.D "unlink". It is permitted either when the
// caller has MODIFY on the parent, or DELETE on the file itself.
func (d *Dispatcher) Unlink(caller Caller, path string) error {
	absPath, err := d.Normalize(path)
	if err != nil {
		return err
	}
	parentPath, name := SplitParent(absPath)
	parent, err := d.resolve(parentPath)
	if err != nil {
		return err
	}

	target, err := parent.Ops.FindDir(parent, name)
	if err != nil {
		return err
	}
	if target.IsDir() {
		return errors.IsDir.WithMessagef("%q is a directory, use rmdir", absPath)
	}

	parentErr := d.Access.CheckAccess(caller, parent.Access, AccessModify)
	if parentErr != nil {
		if fileErr := d.Access.CheckAccess(caller, target.Access, AccessDelete); fileErr != nil {
			return parentErr
		}
	}

	return parent.Ops.Unlink(parent, name)
}

// Stat implements spec §4.D "stat".
func (d *Dispatcher) Stat(path string) (*Vnode, error) {
	absPath, err := d.Normalize(path)
	if err != nil {
		return nil, err
	}
	return d.resolve(absPath)
}

// Chdir implements spec §4.D "chdir".
func (d *Dispatcher) Chdir(path string) error {
	absPath, err := d.Normalize(path)
	if err != nil {
		return err
	}
	node, err := d.resolve(absPath)
	if err != nil {
		return err
	}
	if err := requireDir(node); err != nil {
		return err
	}
	d.cwdPath = absPath
	return nil
}

// Getwd returns the dispatcher's current working directory.
func (d *Dispatcher) Getwd() string {
	return d.cwdPath
}

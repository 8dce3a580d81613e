// Package process implements the per-process descriptors the trap demux and
// VFS dispatcher consult: owner identity, sandbox/cage descriptor, and
// resource limits (spec §3 "Process").
package process

import (
	"sync"

	"github.com/aos-project/aos-core/errors"
	"github.com/aos-project/aos-core/vfs"
)

// SyscallClass groups syscalls into the coarse capability classes a sandbox
// can allow or deny (spec §4.F "`syscall_filter` against the syscall's
// capability class").
type SyscallClass uint32

const (
	ClassFileRead SyscallClass = 1 << iota
	ClassFileWrite
	ClassFileAdmin
	ClassProcessControl
	ClassConsole
)

// CageLevel is the coarse confinement tier a process runs under (spec §3
// "cage level").
type CageLevel uint8

const (
	CageNone CageLevel = iota
	CageLight
	CageStandard
	CageStrict
	CageLocked
)

// SandboxFlags are the boolean cage properties spec §3 lists alongside the
// cage level and resource limits.
type SandboxFlags uint32

const (
	FlagReadOnly SandboxFlags = 1 << iota
	FlagNoExec
	FlagNoNet
	FlagImmutable
)

// ResourceLimits bounds what a caged process may consume (spec §3: "max
// memory, max open files, max child processes, max cpu-time"). A zero value
// in any field means unlimited.
type ResourceLimits struct {
	MaxMemory         uint64
	MaxOpenFiles      uint32
	MaxChildProcesses uint32
	MaxCPUTime        uint64
}

// Sandbox is the cage descriptor consulted by the trap demux before a
// syscall is admitted (spec §4.F step 3) and by Dispatcher/Table for
// resource-limit enforcement.
type Sandbox struct {
	AllowedClasses SyscallClass
	CageLevel      CageLevel
	CageRoot       string
	Limits         ResourceLimits
	Flags          SandboxFlags
}

// Allows reports whether the sandbox's filter admits `class`.
func (s Sandbox) Allows(class SyscallClass) bool {
	return s.AllowedClasses&class == class
}

// UnrestrictedSandbox allows every syscall class, sets no cage, and carries
// no resource limits; used for the kernel's own privileged process and in
// tests.
func UnrestrictedSandbox() Sandbox {
	return Sandbox{
		AllowedClasses: ClassFileRead | ClassFileWrite | ClassFileAdmin | ClassProcessControl | ClassConsole,
		CageLevel:      CageNone,
	}
}

// Pid identifies a process.
type Pid uint32

// Descriptor is one process's kernel-visible state. It implements
// vfs.Caller so it can be passed directly to Dispatcher operations.
type Descriptor struct {
	mu sync.Mutex

	Pid         Pid
	OwnerID     uint32
	OwnerClass  vfs.OwnerClass
	Sandbox     Sandbox
	FDs         *vfs.FDTable
	Cwd         string
	CPUBudget   uint64
	cpuConsumed uint64
	cancelled   bool
	openFiles   uint32
	children    uint32
}

var _ vfs.Caller = (*Descriptor)(nil)
var _ vfs.OpenFileLimiter = (*Descriptor)(nil)

func (d *Descriptor) CallerOwnerID() uint32            { return d.OwnerID }
func (d *Descriptor) CallerOwnerClass() vfs.OwnerClass { return d.OwnerClass }

// ChargeOpenFile admits one more open file descriptor against
// Sandbox.Limits.MaxOpenFiles (spec §3 resource limits), satisfying
// vfs.OpenFileLimiter so Dispatcher.Open can enforce a per-process ceiling
// on top of its own table-wide bound.
func (d *Descriptor) ChargeOpenFile() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Sandbox.Limits.MaxOpenFiles != 0 && d.openFiles >= d.Sandbox.Limits.MaxOpenFiles {
		return errors.NoSpace.WithMessagef("process %d exceeded its open-file limit (%d)", d.Pid, d.Sandbox.Limits.MaxOpenFiles)
	}
	d.openFiles++
	return nil
}

// ReleaseOpenFile gives back one charge taken by ChargeOpenFile.
func (d *Descriptor) ReleaseOpenFile() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.openFiles > 0 {
		d.openFiles--
	}
}

// ChargeCPU adds `ticks` to the process's consumed CPU budget and reports
// whether the process has overrun it (spec §4.F step 4: "Checks CPU-time
// budget; on overrun, terminates the calling process").
func (d *Descriptor) ChargeCPU(ticks uint64) (overrun bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cpuConsumed += ticks
	return d.CPUBudget != 0 && d.cpuConsumed > d.CPUBudget
}

// Cancel marks the process for termination. The scheduler/demux is
// responsible for actually tearing it down; this is just the flag.
func (d *Descriptor) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = true
}

// Cancelled reports whether Cancel has been called.
func (d *Descriptor) Cancelled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelled
}

// MaxProcesses bounds the process table, mirroring the fixed-capacity idiom
// the vfs package uses for its mount and FD tables.
const MaxProcesses = 128

// Table is the bounded process table.
type Table struct {
	mu      sync.Mutex
	entries [MaxProcesses]*Descriptor
	nextPid Pid
}

// NewTable creates an empty process table.
func NewTable() *Table {
	return &Table{nextPid: 1}
}

// Spawn installs a new Descriptor at the lowest free slot.
func (t *Table) Spawn(ownerID uint32, ownerClass vfs.OwnerClass, sandbox Sandbox) (*Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, entry := range t.entries {
		if entry == nil {
			desc := &Descriptor{
				Pid:        t.nextPid,
				OwnerID:    ownerID,
				OwnerClass: ownerClass,
				Sandbox:    sandbox,
				FDs:        vfs.NewFDTable(),
				Cwd:        "/",
			}
			t.nextPid++
			t.entries[i] = desc
			return desc, nil
		}
	}
	return nil, errors.NoSpace.WithMessagef("process table is full (max %d)", MaxProcesses)
}

// Fork spawns a child of `parent` sharing its owner identity and sandbox,
// enforcing Sandbox.Limits.MaxChildProcesses (spec §3 resource limits). The
// child starts in the parent's working directory with an empty FD table.
func (t *Table) Fork(parent *Descriptor) (*Descriptor, error) {
	parent.mu.Lock()
	if parent.Sandbox.Limits.MaxChildProcesses != 0 && parent.children >= parent.Sandbox.Limits.MaxChildProcesses {
		parent.mu.Unlock()
		return nil, errors.NoSpace.WithMessagef("process %d exceeded its child-process limit (%d)", parent.Pid, parent.Sandbox.Limits.MaxChildProcesses)
	}
	parent.children++
	parent.mu.Unlock()

	child, err := t.Spawn(parent.OwnerID, parent.OwnerClass, parent.Sandbox)
	if err != nil {
		parent.mu.Lock()
		parent.children--
		parent.mu.Unlock()
		return nil, err
	}

	parent.mu.Lock()
	child.Cwd = parent.Cwd
	parent.mu.Unlock()
	return child, nil
}

// Get finds a process by pid.
func (t *Table) Get(pid Pid) (*Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		if entry != nil && entry.Pid == pid {
			return entry, nil
		}
	}
	return nil, errors.NotFound.WithMessagef("no process with pid %d", pid)
}

// Remove deletes a process from the table.
func (t *Table) Remove(pid Pid) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, entry := range t.entries {
		if entry != nil && entry.Pid == pid {
			t.entries[i] = nil
			return nil
		}
	}
	return errors.NotFound.WithMessagef("no process with pid %d", pid)
}

// Package syscalltrap implements the trap-frame demux described in spec
// §4.F: a single interrupt vector is the sole syscall gate, and the demux
// bounds-checks the syscall index, applies the sandbox filter and CPU
// budget, marshals register-sourced arguments, and dispatches to a thin
// handler.
package syscalltrap

import (
	"github.com/aos-project/aos-core/errors"
	"github.com/aos-project/aos-core/process"
)

// TrapFrame is the documented layout the assembly stub saves before
// invoking the demux (spec §4.F: "the assembly stub saves a trap frame in
// the documented layout").
type TrapFrame struct {
	SyscallIndex uint32
	Args         [5]uintptr
	ReturnValue  uintptr
	Vector       uint32
	ErrorCode    uint32
}

// Handler is a single syscall's implementation. It receives the raw
// register-sourced argument slots and the calling process, and returns the
// value to be written into the trap frame's return-value register.
type Handler func(proc *process.Descriptor, args [5]uintptr) (uintptr, error)

// Entry binds a handler to the capability class the sandbox filter checks
// it against.
type Entry struct {
	Name    string
	Class   process.SyscallClass
	Handler Handler
}

// MaxSyscalls bounds the syscall table the way the VFS packages bound
// their own tables.
const MaxSyscalls = 64

// Table is the fixed, numbered syscall table.
type Table struct {
	entries [MaxSyscalls]*Entry
}

// NewTable creates an empty syscall table.
func NewTable() *Table {
	return &Table{}
}

// Register installs `entry` at `index`. Registering twice at the same index
// is an error, preventing accidental overwrite of a syscall number already
// in use.
func (t *Table) Register(index uint32, entry Entry) error {
	if index >= MaxSyscalls {
		return errors.Invalid.WithMessagef("syscall index %d out of range [0, %d)", index, MaxSyscalls)
	}
	if t.entries[index] != nil {
		return errors.Exists.WithMessagef("syscall index %d is already registered to %q", index, t.entries[index].Name)
	}
	t.entries[index] = &entry
	return nil
}

// PreemptController lets the demux disable/enable scheduler preemption
// around a syscall (spec §4.F steps 1 and 6) without this package owning
// the scheduler itself.
type PreemptController interface {
	DisablePreemption()
	EnablePreemption()
}

// Demux implements the trap handler body from spec §4.F.
type Demux struct {
	Table    *Table
	Preempt  PreemptController
	OnDenied func(proc *process.Descriptor, index uint32)
}

// NewDemux creates a Demux bound to a syscall table and preemption
// controller.
func NewDemux(table *Table, preempt PreemptController) *Demux {
	return &Demux{Table: table, Preempt: preempt}
}

// Handle runs the full demux sequence for one trap. On any admission
// failure it writes -1 into the trap frame's return value and returns nil
// (no error escapes to the assembly stub; spec §4.F says handlers "fail
// fast with -1", not that the kernel panics), except a CPU-budget overrun,
// which additionally cancels the process.
func (d *Demux) Handle(proc *process.Descriptor, frame *TrapFrame) error {
	d.Preempt.DisablePreemption()
	defer d.Preempt.EnablePreemption()

	if frame.SyscallIndex >= MaxSyscalls {
		frame.ReturnValue = invalidReturn
		return nil
	}

	entry := d.Table.entries[frame.SyscallIndex]
	if entry == nil {
		frame.ReturnValue = invalidReturn
		return nil
	}

	if !proc.Sandbox.Allows(entry.Class) {
		if d.OnDenied != nil {
			d.OnDenied(proc, frame.SyscallIndex)
		}
		frame.ReturnValue = invalidReturn
		return nil
	}

	if proc.ChargeCPU(1) {
		proc.Cancel()
		frame.ReturnValue = invalidReturn
		return nil
	}

	result, err := entry.Handler(proc, frame.Args)
	if err != nil {
		frame.ReturnValue = invalidReturn
		return nil
	}

	frame.ReturnValue = result
	return nil
}

const invalidReturn = ^uintptr(0) // all bits set, i.e. -1 reinterpreted as uintptr

// Package context describes the cooperative context-switch ABI (spec
// §4.E): a published table of register offsets shared between the
// assembly switch stub and the scheduler, plus contract checks the
// scheduler runs before invoking it. It owns raw register-file layout and
// nothing else in the core reaches into it directly.
package context

import "github.com/aos-project/aos-core/errors"

// Frame is the saved register file for one task, laid out in the fixed
// offsets the assembly switch stub expects (spec §4.E/§9: "published ABI
// between C and assembly... specified as a table of offsets, not
// re-derived").
type Frame struct {
	EAX, EBX, ECX, EDX uint32
	ESI, EDI           uint32
	EBP, ESP           uint32
	EIP                uint32
	EFlags             uint32
	CR3                uint32 // page-table root
}

// Offset identifies a field of Frame by its byte offset, matching the
// layout the assembly stub indexes into.
type Offset uint32

const (
	OffsetEAX Offset = 0 * 4
	OffsetEBX Offset = 1 * 4
	OffsetECX Offset = 2 * 4
	OffsetEDX Offset = 3 * 4
	OffsetESI Offset = 4 * 4
	OffsetEDI Offset = 5 * 4
	OffsetEBP Offset = 6 * 4
	OffsetESP Offset = 7 * 4
	OffsetEIP Offset = 8 * 4
	OffsetEFlags Offset = 9 * 4
	OffsetCR3  Offset = 10 * 4
)

// FrameSize is the total byte size of a Frame as laid out above.
const FrameSize = 11 * 4

// Task is the minimal scheduler-visible view of a task needed to validate a
// switch's preconditions.
type Task struct {
	Frame        Frame
	StackTop     uint32
	StackBottom  uint32
	PageTableSet bool
}

// CheckSwitchPreconditions validates the contract spec §4.E documents for
// switch(old_ctx, new_ctx): the destination must have a stack configured,
// its page-table root marked as loaded (PageTableSet), and its saved ESP
// inside that stack before the switch is permitted to proceed. It does not perform the switch itself — that is exactly the
// one piece of raw-register-layout code this package leaves to assembly.
func CheckSwitchPreconditions(next *Task) error {
	if next == nil {
		return errors.Invalid.WithMessage("destination task is nil")
	}
	if next.StackTop == 0 || next.StackBottom == 0 || next.StackTop <= next.StackBottom {
		return errors.Invalid.WithMessage("destination task has no valid stack configured")
	}
	if !next.PageTableSet {
		return errors.Invalid.WithMessage("destination task's page-table root is not loaded")
	}
	if next.Frame.ESP < next.StackBottom || next.Frame.ESP > next.StackTop {
		return errors.Invalid.WithMessage("destination stack pointer lies outside its own stack")
	}
	return nil
}

// Switcher is implemented by the assembly-backed switch routine; the
// scheduler depends on this interface rather than calling into assembly
// directly, so it can be faked in tests.
type Switcher interface {
	// Switch transfers control from the current task to next. On a real
	// implementation this never returns to its caller in the conventional
	// sense: the destination resumes as if this call had returned for it,
	// with interrupts disabled and its page-table root already loaded.
	Switch(old, next *Task) error
}

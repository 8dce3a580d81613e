package syscalltrap

import (
	"github.com/aos-project/aos-core/errors"
	"github.com/aos-project/aos-core/process"
	"github.com/aos-project/aos-core/vfs"
)

// KeyboardPort is the normal (non-panic-path) keyboard input port getchar
// polls. It is distinct from krm's own port interfaces, which re-initialize
// the controller from scratch during a panic and must not share state with
// this one.
type KeyboardPort interface {
	// PollScancode returns (scancode, true) if a key event is pending, or
	// (0, false) if none is available yet.
	PollScancode() (scancode uint8, ok bool)
}

// IdleWaiter lets getchar halt the CPU between polls (spec §4.F: "uses
// `hlt` between polls") without this package depending on a specific CPU
// primitive.
type IdleWaiter interface {
	HaltUntilInterrupt()
}

// MouseScrollPort is the second input source getchar polls (spec §4.F:
// "polls the keyboard and mouse-scroll-wheel events"). delta is positive for
// a scroll-up notch, negative for scroll-down. A nil Handlers.Mouse just
// skips this source.
type MouseScrollPort interface {
	PollScroll() (delta int8, ok bool)
}

// Pseudo-scancodes getchar reports for a scroll-wheel notch, since the
// keyboard controller has no scancode of its own for one.
const (
	scrollUpScancode   uint8 = 0xF0
	scrollDownScancode uint8 = 0xF1
)

func scrollScancode(delta int8) uint8 {
	if delta < 0 {
		return scrollDownScancode
	}
	return scrollUpScancode
}

// decodeKey turns a raw scancode into the getchar return value. The value is
// the scancode itself: no scancode-to-character translation is done and no
// modifier-key state is encoded in the high bits.
func decodeKey(scancode uint8) uintptr {
	return uintptr(scancode)
}

// UserMemory translates the (pointer, length) pairs a trap frame carries
// into addressable Go byte slices. Individual handlers never touch raw
// memory themselves; this indirection is where pointer-bounds validation
// (spec §4.F: "validate pointers coming from user space (null and
// bounds)") actually happens.
type UserMemory interface {
	ReadBytes(ptr, length uintptr) ([]byte, error)
	WriteBytes(ptr uintptr, data []byte) error
}

// Handlers bundles everything the registered syscall handlers need to reach
// into the VFS and console layers.
type Handlers struct {
	VFS      *vfs.Dispatcher
	Keyboard KeyboardPort
	Mouse    MouseScrollPort
	Idle     IdleWaiter
	Mem      UserMemory
}

func checkUserPointer(ptr uintptr) error {
	if ptr == 0 {
		return errors.Invalid.WithMessage("null pointer from user space")
	}
	return nil
}

// RegisterDefaults installs the VFS- and console-backed syscalls at fixed
// indices 0 (open) through 7 (getchar).
func (h *Handlers) RegisterDefaults(table *Table) error {
	type reg struct {
		index uint32
		entry Entry
	}

	regs := []reg{
		{0, Entry{Name: "open", Class: process.ClassFileRead, Handler: h.sysOpen}},
		{1, Entry{Name: "read", Class: process.ClassFileRead, Handler: h.sysRead}},
		{2, Entry{Name: "write", Class: process.ClassFileWrite, Handler: h.sysWrite}},
		{3, Entry{Name: "close", Class: process.ClassFileRead, Handler: h.sysClose}},
		{4, Entry{Name: "lseek", Class: process.ClassFileRead, Handler: h.sysLseek}},
		{5, Entry{Name: "mkdir", Class: process.ClassFileAdmin, Handler: h.sysMkdir}},
		{6, Entry{Name: "unlink", Class: process.ClassFileAdmin, Handler: h.sysUnlink}},
		{7, Entry{Name: "getchar", Class: process.ClassConsole, Handler: h.sysGetchar}},
	}

	for _, r := range regs {
		if err := table.Register(r.index, r.entry); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) sysOpen(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	if err := checkUserPointer(args[0]); err != nil {
		return 0, err
	}
	pathBytes, err := h.Mem.ReadBytes(args[0], args[1])
	if err != nil {
		return 0, err
	}
	flags := vfs.OpenFlags(args[2])

	fd, err := h.VFS.Open(proc, string(pathBytes), flags)
	if err != nil {
		return 0, err
	}
	return uintptr(fd), nil
}

func (h *Handlers) sysRead(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	if err := checkUserPointer(args[1]); err != nil {
		return 0, err
	}
	buf := make([]byte, args[2])
	n, err := h.VFS.Read(proc, int(args[0]), buf)
	if err != nil {
		return 0, err
	}
	if err := h.Mem.WriteBytes(args[1], buf[:n]); err != nil {
		return 0, err
	}
	return uintptr(n), nil
}

func (h *Handlers) sysWrite(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	if err := checkUserPointer(args[1]); err != nil {
		return 0, err
	}
	buf, err := h.Mem.ReadBytes(args[1], args[2])
	if err != nil {
		return 0, err
	}
	n, err := h.VFS.Write(proc, int(args[0]), buf)
	if err != nil {
		return 0, err
	}
	return uintptr(n), nil
}

func (h *Handlers) sysClose(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	if err := h.VFS.Close(int(args[0])); err != nil {
		return 0, err
	}
	return 0, nil
}

func (h *Handlers) sysLseek(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	offset, err := h.VFS.Lseek(int(args[0]), int64(args[1]), vfs.SeekWhence(args[2]))
	if err != nil {
		return 0, err
	}
	return uintptr(offset), nil
}

func (h *Handlers) sysMkdir(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	if err := checkUserPointer(args[0]); err != nil {
		return 0, err
	}
	pathBytes, err := h.Mem.ReadBytes(args[0], args[1])
	if err != nil {
		return 0, err
	}
	if err := h.VFS.Mkdir(proc, string(pathBytes)); err != nil {
		return 0, err
	}
	return 0, nil
}

func (h *Handlers) sysUnlink(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	if err := checkUserPointer(args[0]); err != nil {
		return 0, err
	}
	pathBytes, err := h.Mem.ReadBytes(args[0], args[1])
	if err != nil {
		return 0, err
	}
	if err := h.VFS.Unlink(proc, string(pathBytes)); err != nil {
		return 0, err
	}
	return 0, nil
}

// sysGetchar is the one blocking handler (spec §4.F): it polls the keyboard
// and mouse-scroll-wheel ports, halting between polls via
// Idle.HaltUntilInterrupt, and returns the decoded key once available. The
// demux has already disabled preemption around the call; this handler does
// not change the interrupt state itself. Each poll iteration is a suspension point, so it also checks the caller's
// cancellation flag there (spec §5: "cancellation only takes effect at the
// next poll point").
func (h *Handlers) sysGetchar(proc *process.Descriptor, args [5]uintptr) (uintptr, error) {
	for {
		if proc.Cancelled() {
			return 0, errors.Invalid.WithMessagef("getchar cancelled for process %d", proc.Pid)
		}
		if scancode, ok := h.Keyboard.PollScancode(); ok {
			return decodeKey(scancode), nil
		}
		if h.Mouse != nil {
			if delta, ok := h.Mouse.PollScroll(); ok {
				return decodeKey(scrollScancode(delta)), nil
			}
		}
		h.Idle.HaltUntilInterrupt()
	}
}


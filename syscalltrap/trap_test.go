package syscalltrap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/process"
	"github.com/aos-project/aos-core/syscalltrap"
	"github.com/aos-project/aos-core/vfs"
	"github.com/aos-project/aos-core/vfs/ramfs"
)

type noopPreempt struct{ disabled, enabled int }

func (p *noopPreempt) DisablePreemption() { p.disabled++ }
func (p *noopPreempt) EnablePreemption()  { p.enabled++ }

func newHandlers(t *testing.T) (*syscalltrap.Handlers, *process.Descriptor) {
	t.Helper()

	fs := ramfs.New()
	mounts := vfs.NewMountTable()
	_, err := mounts.Mount("/", fs, "", 0)
	require.NoError(t, err)

	d := vfs.NewDispatcher(mounts)
	table := process.NewTable()
	proc, err := table.Spawn(0, vfs.OwnerRoot, process.UnrestrictedSandbox())
	require.NoError(t, err)

	return &syscalltrap.Handlers{VFS: d, Mem: syscalltrap.NewFlatMemory(4096)}, proc
}

func TestDemuxRejectsOutOfRangeIndex(t *testing.T) {
	table := syscalltrap.NewTable()
	preempt := &noopPreempt{}
	demux := syscalltrap.NewDemux(table, preempt)

	frame := &syscalltrap.TrapFrame{SyscallIndex: 999}
	proc := &process.Descriptor{Sandbox: process.UnrestrictedSandbox()}

	require.NoError(t, demux.Handle(proc, frame))
	require.Equal(t, ^uintptr(0), frame.ReturnValue)
	require.Equal(t, 1, preempt.disabled)
	require.Equal(t, 1, preempt.enabled)
}

func TestDemuxDeniesSandboxedSyscall(t *testing.T) {
	handlers, proc := newHandlers(t)
	proc.Sandbox = process.Sandbox{AllowedClasses: process.ClassConsole}

	table := syscalltrap.NewTable()
	require.NoError(t, handlers.RegisterDefaults(table))

	var denied bool
	demux := syscalltrap.NewDemux(table, &noopPreempt{})
	demux.OnDenied = func(*process.Descriptor, uint32) { denied = true }

	mem := handlers.Mem.(*syscalltrap.FlatMemory)
	length, err := mem.PutString(0, "/etc/motd")
	require.NoError(t, err)

	frame := &syscalltrap.TrapFrame{SyscallIndex: 0, Args: [5]uintptr{0, length, uintptr(vfs.OCreate | vfs.OWrOnly)}}
	require.NoError(t, demux.Handle(proc, frame))

	require.True(t, denied)
	require.Equal(t, ^uintptr(0), frame.ReturnValue)
}

func TestDemuxOpenWriteCloseRoundTrip(t *testing.T) {
	handlers, proc := newHandlers(t)

	table := syscalltrap.NewTable()
	require.NoError(t, handlers.RegisterDefaults(table))
	demux := syscalltrap.NewDemux(table, &noopPreempt{})

	mem := handlers.Mem.(*syscalltrap.FlatMemory)
	pathLen, err := mem.PutString(0, "/greeting.txt")
	require.NoError(t, err)

	openFrame := &syscalltrap.TrapFrame{
		SyscallIndex: 0,
		Args:         [5]uintptr{0, pathLen, uintptr(vfs.OCreate | vfs.ORdWr)},
	}
	require.NoError(t, demux.Handle(proc, openFrame))
	fd := openFrame.ReturnValue
	require.NotEqual(t, ^uintptr(0), fd)

	payloadLen, err := mem.PutString(256, "Hello from aOS filesystem!")
	require.NoError(t, err)

	writeFrame := &syscalltrap.TrapFrame{
		SyscallIndex: 2,
		Args:         [5]uintptr{fd, 256, payloadLen},
	}
	require.NoError(t, demux.Handle(proc, writeFrame))
	require.Equal(t, payloadLen, writeFrame.ReturnValue)

	closeFrame := &syscalltrap.TrapFrame{SyscallIndex: 3, Args: [5]uintptr{fd}}
	require.NoError(t, demux.Handle(proc, closeFrame))
	require.Zero(t, closeFrame.ReturnValue)
}

func TestDemuxCPUBudgetOverrunCancelsProcess(t *testing.T) {
	handlers, proc := newHandlers(t)
	proc.CPUBudget = 1

	table := syscalltrap.NewTable()
	require.NoError(t, handlers.RegisterDefaults(table))
	demux := syscalltrap.NewDemux(table, &noopPreempt{})

	mem := handlers.Mem.(*syscalltrap.FlatMemory)
	pathLen, _ := mem.PutString(0, "/a")

	frame1 := &syscalltrap.TrapFrame{SyscallIndex: 0, Args: [5]uintptr{0, pathLen, uintptr(vfs.OCreate | vfs.OWrOnly)}}
	require.NoError(t, demux.Handle(proc, frame1))

	frame2 := &syscalltrap.TrapFrame{SyscallIndex: 0, Args: [5]uintptr{0, pathLen, uintptr(vfs.OCreate | vfs.OWrOnly)}}
	require.NoError(t, demux.Handle(proc, frame2))

	require.True(t, proc.Cancelled())
}

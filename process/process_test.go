package process_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/process"
	"github.com/aos-project/aos-core/vfs"
)

func TestSpawnAssignsIncreasingPids(t *testing.T) {
	table := process.NewTable()

	first, err := table.Spawn(0, vfs.OwnerRoot, process.UnrestrictedSandbox())
	require.NoError(t, err)

	second, err := table.Spawn(1, vfs.OwnerUser, process.Sandbox{})
	require.NoError(t, err)

	require.Less(t, first.Pid, second.Pid)
}

func TestSandboxDeniesUnlistedClass(t *testing.T) {
	sandbox := process.Sandbox{AllowedClasses: process.ClassFileRead}
	require.True(t, sandbox.Allows(process.ClassFileRead))
	require.False(t, sandbox.Allows(process.ClassFileWrite))
}

func TestChargeCPUReportsOverrun(t *testing.T) {
	desc := &process.Descriptor{CPUBudget: 100}
	require.False(t, desc.ChargeCPU(60))
	require.True(t, desc.ChargeCPU(60))
}

func TestTableGetAndRemove(t *testing.T) {
	table := process.NewTable()
	desc, err := table.Spawn(0, vfs.OwnerRoot, process.UnrestrictedSandbox())
	require.NoError(t, err)

	found, err := table.Get(desc.Pid)
	require.NoError(t, err)
	require.Same(t, desc, found)

	require.NoError(t, table.Remove(desc.Pid))
	_, err = table.Get(desc.Pid)
	require.Error(t, err)
}

package context_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/context"
)

func validTask() *context.Task {
	return &context.Task{
		Frame:        context.Frame{ESP: 0x2000},
		StackTop:     0x3000,
		StackBottom:  0x1000,
		PageTableSet: true,
	}
}

func TestCheckSwitchPreconditionsAccepts(t *testing.T) {
	require.NoError(t, context.CheckSwitchPreconditions(validTask()))
}

func TestCheckSwitchPreconditionsRejectsMissingPageTable(t *testing.T) {
	task := validTask()
	task.PageTableSet = false
	require.Error(t, context.CheckSwitchPreconditions(task))
}

func TestCheckSwitchPreconditionsRejectsStackPointerOutsideStack(t *testing.T) {
	task := validTask()
	task.Frame.ESP = 0x500
	require.Error(t, context.CheckSwitchPreconditions(task))
}

func TestCheckSwitchPreconditionsRejectsNilTask(t *testing.T) {
	require.Error(t, context.CheckSwitchPreconditions(nil))
}

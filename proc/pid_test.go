package proc

import (
	"testing"

	"github.com/Bariona/peaCore/vm"
	"github.com/stretchr/testify/require"
)

func TestPidAllocatorReusesFreedPid(t *testing.T) {
	a := newPidAllocator()
	first := a.alloc()
	second := a.alloc()
	require.NotEqual(t, first.PID, second.PID)

	a.dealloc(first.PID)
	third := a.alloc()
	require.Equal(t, first.PID, third.PID, "a freed pid should be reused before the counter advances")
}

func TestPidAllocatorDoubleFreePanics(t *testing.T) {
	a := newPidAllocator()
	h := a.alloc()
	a.dealloc(h.PID)
	require.Panics(t, func() { a.dealloc(h.PID) })
}

func TestKernelStackPositionLeavesGuardPage(t *testing.T) {
	bottom0, top0 := KernelStackPosition(0)
	bottom1, top1 := KernelStackPosition(1)

	require.Less(t, uint64(top1), uint64(bottom0), "stack 1 must sit entirely below stack 0")
	require.Equal(t, uint64(vm.PageSize), uint64(bottom0)-uint64(top1), "exactly one page must separate consecutive kernel stacks")
	_ = top0
	_ = bottom1
}

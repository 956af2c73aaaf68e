// Package proc implements the process and scheduling substrate: process
// control blocks forming a parent/child tree, PID and kernel-stack
// allocation, a FIFO ready queue, and the cooperative idle-loop
// scheduler.
package proc

import (
	"fmt"
	"sync"

	"github.com/Bariona/peaCore/vm"
)

// PidHandle owns one allocated PID; it is freed back to the allocator
// via Drop, never by a garbage-collector finalizer.
type PidHandle struct {
	PID int
}

// Drop recycles the PID. Calling it more than once is a program error.
func (h PidHandle) Drop() {
	globalPidAllocator.dealloc(h.PID)
}

// pidAllocator hands out PIDs with a bump counter, preferring a
// recycled PID over growing the counter.
type pidAllocator struct {
	mu       sync.Mutex
	current  int
	recycled []int
}

func newPidAllocator() *pidAllocator {
	return &pidAllocator{}
}

func (a *pidAllocator) alloc() PidHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return PidHandle{PID: pid}
	}
	pid := a.current
	a.current++
	return PidHandle{PID: pid}
}

func (a *pidAllocator) dealloc(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pid >= a.current {
		panic(fmt.Sprintf("proc: dealloc of pid %d never allocated", pid))
	}
	for _, p := range a.recycled {
		if p == pid {
			panic(fmt.Sprintf("proc: pid %d has already been deallocated", pid))
		}
	}
	a.recycled = append(a.recycled, pid)
}

var globalPidAllocator = newPidAllocator()

// PidAlloc allocates a fresh PID from the package-wide allocator.
func PidAlloc() PidHandle {
	return globalPidAllocator.alloc()
}

// KernelStackPosition returns the (bottom, top) virtual addresses of
// the kernel stack belonging to pid, with a one-page guard between
// consecutive stacks.
func KernelStackPosition(pid int) (bottom, top vm.VirtAddr) {
	t := vm.Trampoline - uint64(pid)*(vm.KernelStackSize+vm.PageSize)
	return vm.VirtAddr(t - vm.KernelStackSize), vm.VirtAddr(t)
}

// KernelStack is the per-task kernel stack, mapped as a framed area in
// the global kernel address space for the stack's lifetime.
type KernelStack struct {
	pid    int
	kernel *vm.MemorySet
}

// NewKernelStack maps pid's kernel stack into kernel.
func NewKernelStack(pid int, kernel *vm.MemorySet) *KernelStack {
	bottom, top := KernelStackPosition(pid)
	kernel.InsertFramedArea(bottom, top, vm.MapPermission(vm.PTERead|vm.PTEWrite))
	return &KernelStack{pid: pid, kernel: kernel}
}

// Top returns the virtual address of the top of this kernel stack.
func (k *KernelStack) Top() vm.VirtAddr {
	_, top := KernelStackPosition(k.pid)
	return top
}

// Drop unmaps this kernel stack from the global kernel address space.
func (k *KernelStack) Drop() {
	bottom, _ := KernelStackPosition(k.pid)
	k.kernel.RemoveAreaWithStartVPN(bottom.Floor())
}

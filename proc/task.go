package proc

import (
	"unsafe"

	"github.com/Bariona/peaCore/fs"
	"github.com/Bariona/peaCore/mem"
	"github.com/Bariona/peaCore/trap"
	"github.com/Bariona/peaCore/vm"
)

// TaskStatus is a task's position in its lifecycle.
type TaskStatus int

const (
	Ready TaskStatus = iota
	Running
	Zombie
)

// TrapHandlerAddr is the bookkeeping value stored in a fresh
// TrapContext's TrapHandler field and in a fresh TaskContext's RA field.
// A real trampoline would resolve these to the address of trap_handler
// and trap_return; here they are symbolic markers that are never
// dereferenced, since no hosted Go process executes raw RISC-V
// instructions.
const TrapHandlerAddr uint64 = 1

// TaskControlBlock is one process: its user address space, its trap
// and task contexts, its place in the parent/child tree, and its open
// files. Ownership of children is strong (a parent's children slice
// keeps them alive); the back-reference to the parent is a plain
// pointer that is never used to keep the parent alive.
type TaskControlBlock struct {
	Pid         PidHandle
	kernelStack *KernelStack

	Status      TaskStatus
	TaskCx      TaskContext
	MemorySet   *vm.MemorySet
	TrapCxPPN   mem.PhysPageNum
	BaseSize    uint64
	HeapBottom  uint64
	ProgramBrk  uint64

	Parent   *TaskControlBlock
	Children []*TaskControlBlock

	ExitCode int
	FdTable  []fs.File

	kernelSpace *vm.MemorySet
}

// TrapCx returns the task's saved user register image, resolved through
// its TrapContext physical page.
func (t *TaskControlBlock) TrapCx() *trap.TrapContext {
	return (*trap.TrapContext)(unsafe.Pointer(&mem.Bytes(t.TrapCxPPN)[0]))
}

// UserToken returns the satp value addressing this task's user page
// table.
func (t *TaskControlBlock) UserToken() uint64 {
	return t.MemorySet.Token()
}

// New builds a fresh task from an ELF image, the first construction
// path every process goes through (directly for the init process, via
// Fork+Exec for everything else in spirit, though this kernel's Exec
// rebuilds in place rather than forking first).
func New(elfData []byte, kernelSpace *vm.MemorySet) *TaskControlBlock {
	memorySet, _, userSP, entry, trapCxPPN, err := vm.FromELF(elfData)
	if err != nil {
		panic("proc: malformed ELF image: " + err.Error())
	}

	pid := PidAlloc()
	kernelStack := NewKernelStack(pid.PID, kernelSpace)
	kernelStackTop := kernelStack.Top()

	t := &TaskControlBlock{
		Pid:         pid,
		kernelStack: kernelStack,
		Status:      Ready,
		TaskCx:      GotoTrapReturn(uint64(kernelStackTop), TrapHandlerAddr),
		MemorySet:   memorySet,
		TrapCxPPN:   trapCxPPN,
		BaseSize:    userSP,
		HeapBottom:  memorySet.HeapBase(),
		ProgramBrk:  memorySet.HeapBase(),
		FdTable:     []fs.File{fs.Stdin, fs.Stdout, fs.Stdout},
		kernelSpace: kernelSpace,
	}

	*t.TrapCx() = trap.AppInitContext(entry, userSP, kernelSpace.Token(), uint64(kernelStackTop), TrapHandlerAddr)
	return t
}

// Exec replaces this task's memory image and trap context in place,
// preserving PID, kernel stack, parent/children, and the fd table.
func (t *TaskControlBlock) Exec(elfData []byte) error {
	memorySet, _, userSP, entry, trapCxPPN, err := vm.FromELF(elfData)
	if err != nil {
		return err
	}
	old := t.MemorySet
	t.MemorySet = memorySet
	old.RecycleDataPages()
	old.PageTable.Drop()
	t.TrapCxPPN = trapCxPPN
	t.BaseSize = userSP
	t.HeapBottom = memorySet.HeapBase()
	t.ProgramBrk = memorySet.HeapBase()

	kernelStackTop := t.kernelStack.Top()
	*t.TrapCx() = trap.AppInitContext(entry, userSP, t.kernelSpace.Token(), uint64(kernelStackTop), TrapHandlerAddr)
	return nil
}

// Fork clones this task's memory set (a full byte-copy, no COW), a
// fresh PID and kernel stack, and a duplicated fd table sharing the
// same underlying File objects. The zero return value expected in the
// child's a0 is the syscall layer's responsibility, not this method's.
func (t *TaskControlBlock) Fork() *TaskControlBlock {
	memorySet := vm.FromExistedUser(t.MemorySet)
	trapCxPPN := memorySet.TrapContextPPN()

	pid := PidAlloc()
	kernelStack := NewKernelStack(pid.PID, t.kernelSpace)
	kernelStackTop := kernelStack.Top()

	fdTable := make([]fs.File, len(t.FdTable))
	copy(fdTable, t.FdTable)

	child := &TaskControlBlock{
		Pid:         pid,
		kernelStack: kernelStack,
		Status:      Ready,
		TaskCx:      GotoTrapReturn(uint64(kernelStackTop), TrapHandlerAddr),
		MemorySet:   memorySet,
		TrapCxPPN:   trapCxPPN,
		BaseSize:    t.BaseSize,
		HeapBottom:  t.HeapBottom,
		ProgramBrk:  t.ProgramBrk,
		Parent:      t,
		FdTable:     fdTable,
		kernelSpace: t.kernelSpace,
	}
	t.Children = append(t.Children, child)

	childTrapCx := child.TrapCx()
	childTrapCx.KernelSP = uint64(kernelStackTop)
	return child
}

// ChangeProgramBrk grows or shrinks the heap by size bytes, returning
// the old break on success. It refuses to shrink the break below
// HeapBottom.
func (t *TaskControlBlock) ChangeProgramBrk(size int64) (oldBrk uint64, ok bool) {
	oldBrk = t.ProgramBrk
	newBrk := uint64(int64(t.ProgramBrk) + size)
	if int64(newBrk) < int64(t.HeapBottom) {
		return 0, false
	}
	var result bool
	if size < 0 {
		result = t.MemorySet.ShrinkTo(vm.VirtAddr(t.HeapBottom).Floor(), vm.VirtAddr(newBrk).Ceil())
	} else {
		result = t.MemorySet.AppendTo(vm.VirtAddr(t.HeapBottom).Floor(), vm.VirtAddr(newBrk).Ceil())
	}
	if !result {
		return 0, false
	}
	t.ProgramBrk = newBrk
	return oldBrk, true
}

// Release frees the resources a Zombie holds until its parent collects
// it: the PID, the kernel stack's slot in the kernel address space, the
// page-table frames (the data pages were already recycled on exit), and
// the fd table. Only the waitpid path calls this, as the sole remaining
// owner of the task.
func (t *TaskControlBlock) Release() {
	if t.Status != Zombie {
		panic("proc: release of a task that has not exited")
	}
	t.MemorySet.RecycleDataPages()
	t.MemorySet.PageTable.Drop()
	t.kernelStack.Drop()
	t.Pid.Drop()
	t.FdTable = nil
}

// AllocFd returns the lowest free file-descriptor slot, appending one
// if every existing slot is in use.
func (t *TaskControlBlock) AllocFd() int {
	for i, f := range t.FdTable {
		if f == nil {
			return i
		}
	}
	t.FdTable = append(t.FdTable, nil)
	return len(t.FdTable) - 1
}

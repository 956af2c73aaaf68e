// Package syscall implements the user/kernel syscall ABI: the id
// table, argument marshaling through the current task's page table,
// and the handlers that call into the proc and fs packages. It also
// owns trap dispatch's outer loop, the piece of trap handling that
// needs both the syscall table and the scheduler and so cannot live in
// the leaf trap package without creating an import cycle between trap
// and proc.
package syscall

import (
	"fmt"
	"log"

	"github.com/Bariona/peaCore/defs"
	"github.com/Bariona/peaCore/proc"
	"github.com/Bariona/peaCore/trap"
	"github.com/Bariona/peaCore/vm"
)

// Debug enables trace output for syscall failures.
var Debug bool

// fail reports a syscall failure. The numeric ABI collapses every
// failure to -1; the code argument names the cause for the trace log.
func fail(e defs.Err_t) int64 {
	if Debug {
		log.Printf("syscall: %v", e)
	}
	return -1
}

// Syscall identifiers, per the teaching kernel's ABI.
const (
	Read    = 63
	Write   = 64
	Exit    = 93
	Yield   = 124
	GetTime = 169
	Getpid  = 172
	Fork    = 220
	Exec    = 221
	Waitpid = 260
	Open    = 56
	Close   = 57
	Sbrk    = 214
)

// Dispatch routes a syscall id with its up-to-three arguments to the
// matching handler and returns the value to place in a0. Exit does not
// return a meaningful value: the task is gone by the time Dispatch
// would otherwise write one back, so callers must check id before
// using the result.
func Dispatch(task *proc.TaskControlBlock, id uint64, args [3]uint64) int64 {
	switch id {
	case Exit:
		SysExit(task, int32(args[0]))
		return 0
	case Yield:
		return SysYield()
	case GetTime:
		return SysGetTime()
	case Getpid:
		return SysGetpid(task)
	case Fork:
		return SysFork(task)
	case Exec:
		return SysExec(task, args[0])
	case Waitpid:
		return SysWaitpid(task, int(int64(args[0])), args[1])
	case Sbrk:
		return SysBrk(task, int32(args[0]))
	case Read:
		return SysRead(task, int(args[0]), args[1], int(args[2]))
	case Write:
		return SysWrite(task, int(args[0]), args[1], int(args[2]))
	case Open:
		return SysOpen(task, args[0], uint32(args[1]))
	case Close:
		return SysClose(task, int(args[0]))
	default:
		panic(fmt.Sprintf("syscall: unsupported syscall id %d", id))
	}
}

// HandleTrap is the outer half of trap_handler: it classifies the trap
// via the leaf trap package, then performs whichever of dispatch,
// stack growth, task teardown, or reschedule the classification calls
// for, advancing Sepc past the ecall instruction first as real hardware
// would leave it pointing at.
func HandleTrap(task *proc.TaskControlBlock, cause trap.Cause, stval uint64) {
	cx := task.TrapCx()
	switch trap.Classify(cause, stval, currentStackBottom(task)) {
	case trap.ActionSyscall:
		cx.Sepc += 4
		result := Dispatch(task, cx.X[17], [3]uint64{cx.X[10], cx.X[11], cx.X[12]})
		if cx.X[17] != Exit {
			// Exec may have swapped in a new TrapContext page;
			// re-resolve it before writing back the result.
			task.TrapCx().X[10] = uint64(result)
		}
	case trap.ActionGrowStack:
		growUserStack(task)
		proc.SuspendCurrentAndRunNext()
	case trap.ActionKillBadMemoryAccess:
		proc.ExitCurrentAndRunNext(trap.ExitCodeBadMemoryAccess)
	case trap.ActionKillIllegalInstruction:
		proc.ExitCurrentAndRunNext(trap.ExitCodeIllegalInstruction)
	case trap.ActionYield:
		proc.SuspendCurrentAndRunNext()
	default:
		panic(fmt.Sprintf("syscall: unhandled trap cause %v", cause))
	}
}

func currentStackBottom(task *proc.TaskControlBlock) uint64 {
	return task.MemorySet.StackBottom()
}

// growUserStack expands the user stack by two pages below its current
// bottom, the fixed increment every stack-growth fault is answered
// with.
func growUserStack(task *proc.TaskControlBlock) {
	oldBottom := task.MemorySet.StackBottom()
	newBottom := oldBottom - 2*vm.PageSize
	if !task.MemorySet.ExpandSP(oldBottom, newBottom) {
		panic("syscall: stack growth fault on a task with no stack area")
	}
}

package proc

import (
	"log"
	"sync"
)

// Debug enables trace output for scheduling events.
var Debug bool

// processor holds the state of the single core this kernel targets:
// the task currently running and the idle loop's own context, the
// destination every task switches back into when it suspends or exits.
type processor struct {
	mu         sync.Mutex
	current    *TaskControlBlock
	idleTaskCx TaskContext
}

var globalProcessor = &processor{}

// TakeCurrentTask returns the currently running task, leaving nil in
// its place. Used by suspend/exit paths, which own the task for the
// rest of their work and are responsible for putting it back on the
// ready queue (or letting it go, on exit).
func TakeCurrentTask() *TaskControlBlock {
	globalProcessor.mu.Lock()
	defer globalProcessor.mu.Unlock()
	t := globalProcessor.current
	globalProcessor.current = nil
	return t
}

// CurrentTask returns the currently running task without taking it.
func CurrentTask() *TaskControlBlock {
	globalProcessor.mu.Lock()
	defer globalProcessor.mu.Unlock()
	return globalProcessor.current
}

// Switch performs the bookkeeping side of a context switch: on real
// hardware, __switch is a small assembly routine that saves
// ra/sp/s0..s11 into *from and restores them from *to, and this call
// is where execution resumes inside whichever context becomes current.
// A hosted Go process has no register file to save mid-function-call
// this way, so here Switch exchanges the two saved images (*from takes
// what *to held and vice versa) in place of the save/restore; the
// actual resumed computation is represented by the scheduler's
// bookkeeping around it, not by a literal jump.
func Switch(from, to *TaskContext) {
	*from, *to = *to, *from
}

// Schedule switches out of switchedTaskCx and into the idle loop's
// context, the kernel-side counterpart of a task giving up the
// processor.
func Schedule(switchedTaskCx *TaskContext) {
	globalProcessor.mu.Lock()
	idle := &globalProcessor.idleTaskCx
	globalProcessor.mu.Unlock()
	Switch(switchedTaskCx, idle)
}

// RunTasks is the idle loop: repeatedly fetch a Ready task, mark it
// Running, and switch into it. Since no hosted interpreter executes the
// task's user instructions, a task's actual work happens via direct
// calls into the syscall layer (see the syscall package); RunTasks
// itself models only the fetch-mark-switch bookkeeping around that.
func RunTasks() {
	for {
		task := FetchTask()
		if task == nil {
			return
		}
		globalProcessor.mu.Lock()
		task.Status = Running
		globalProcessor.current = task
		idle := &globalProcessor.idleTaskCx
		globalProcessor.mu.Unlock()
		if Debug {
			log.Printf("proc: run pid %d", task.Pid.PID)
		}
		task.MemorySet.Activate()
		Switch(idle, &task.TaskCx)
	}
}

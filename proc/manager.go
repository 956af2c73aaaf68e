package proc

import (
	"container/list"
	"sync"
)

// taskManager is the FIFO ready queue: round-robin scheduling falls out
// of always fetching from the front and always adding at the back.
type taskManager struct {
	mu    sync.Mutex
	queue *list.List // of *TaskControlBlock
}

var globalTaskManager = &taskManager{queue: list.New()}

// AddTask pushes task onto the back of the ready queue.
func AddTask(task *TaskControlBlock) {
	globalTaskManager.mu.Lock()
	defer globalTaskManager.mu.Unlock()
	globalTaskManager.queue.PushBack(task)
}

// FetchTask pops the task at the front of the ready queue, or returns
// nil if the queue is empty.
func FetchTask() *TaskControlBlock {
	globalTaskManager.mu.Lock()
	defer globalTaskManager.mu.Unlock()
	el := globalTaskManager.queue.Front()
	if el == nil {
		return nil
	}
	globalTaskManager.queue.Remove(el)
	return el.Value.(*TaskControlBlock)
}

// IdlePID is the PID the allocator hands to the very first process.
// Nothing in this package checks for it: that process exits through
// ExitCurrentAndRunNext like any other.
const IdlePID = 0

var (
	initProcMu sync.Mutex
	initProc   *TaskControlBlock
)

// SetInitProc records the init process, the adoptive parent every
// orphaned Zombie's children are reparented to.
func SetInitProc(task *TaskControlBlock) {
	initProcMu.Lock()
	defer initProcMu.Unlock()
	initProc = task
}

// InitProc returns the recorded init process.
func InitProc() *TaskControlBlock {
	initProcMu.Lock()
	defer initProcMu.Unlock()
	return initProc
}

// SuspendCurrentAndRunNext marks the current task Ready, pushes it back
// onto the ready queue, and switches to the idle loop so the next Ready
// task (possibly this same one, if the queue was otherwise empty) can
// run.
func SuspendCurrentAndRunNext() {
	task := TakeCurrentTask()
	task.Status = Ready
	AddTask(task)
	Schedule(&task.TaskCx)
}

// ExitCurrentAndRunNext marks the current task Zombie with the given
// exit code, reparents its children to the init process, eagerly
// recycles its user memory, and switches to the idle loop. The task
// itself (PID, kernel stack, fd table) stays alive until its parent
// collects it via Waitpid.
func ExitCurrentAndRunNext(exitCode int) {
	task := TakeCurrentTask()
	task.Status = Zombie
	task.ExitCode = exitCode

	if init := InitProc(); init != nil && task != init {
		for _, child := range task.Children {
			child.Parent = init
			init.Children = append(init.Children, child)
		}
	}
	task.Children = nil
	task.MemorySet.RecycleDataPages()

	var unused TaskContext
	Schedule(&unused)
}

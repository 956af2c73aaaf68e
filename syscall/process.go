package syscall

import (
	"time"

	"github.com/Bariona/peaCore/defs"
	"github.com/Bariona/peaCore/fs"
	"github.com/Bariona/peaCore/proc"
	"github.com/Bariona/peaCore/util"
	"github.com/Bariona/peaCore/vm"
)

var bootTime = time.Now()

// SysExit terminates the current task with exitCode, reparenting its
// children to the init process and recycling its user memory.
func SysExit(task *proc.TaskControlBlock, exitCode int32) {
	proc.ExitCurrentAndRunNext(int(exitCode))
}

// SysYield cooperatively gives up the processor and returns 0.
func SysYield() int64 {
	proc.SuspendCurrentAndRunNext()
	return 0
}

// SysGetTime returns milliseconds elapsed since the kernel's boot time.
func SysGetTime() int64 {
	return time.Since(bootTime).Milliseconds()
}

// SysGetpid returns the current task's PID.
func SysGetpid(task *proc.TaskControlBlock) int64 {
	return int64(task.Pid.PID)
}

// SysFork clones the current task, zeroes the child's a0 so it observes
// a fork return value of 0, queues the child, and returns the child's
// PID to the parent.
func SysFork(task *proc.TaskControlBlock) int64 {
	child := task.Fork()
	child.TrapCx().X[10] = 0
	proc.AddTask(child)
	return int64(child.Pid.PID)
}

// SysExec loads the named file's content and replaces the current
// task's image with it, returning 0 on success or -1 if the path does
// not resolve to a file.
func SysExec(task *proc.TaskControlBlock, pathPtr uint64) int64 {
	path := vm.TranslatedStr(task.MemorySet.PageTable, pathPtr)
	inode, ok := rootInode.FindName(path)
	if !ok {
		return fail(defs.ENOENT)
	}
	data := readWholeFile(inode)
	if err := task.Exec(data); err != nil {
		return fail(defs.EINVAL)
	}
	return 0
}

func readWholeFile(inode *fs.Inode) []byte {
	var out []byte
	buf := make([]byte, 512)
	offset := 0
	for {
		n := inode.ReadAt(offset, buf)
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
		offset += n
	}
	return out
}

// SysWaitpid looks for a child matching pid (-1 means any child). It
// returns -1 if no such child exists, -2 if a match exists but has not
// yet exited, or the matched child's PID with its exit code written to
// status, after removing the child from the task's child list.
func SysWaitpid(task *proc.TaskControlBlock, pid int, statusPtr uint64) int64 {
	found := false
	idx := -1
	for i, child := range task.Children {
		if pid != -1 && child.Pid.PID != pid {
			continue
		}
		found = true
		if child.Status == proc.Zombie {
			idx = i
			break
		}
	}
	if !found {
		return fail(defs.ECHILD)
	}
	if idx < 0 {
		return -2
	}

	child := task.Children[idx]
	task.Children = append(task.Children[:idx], task.Children[idx+1:]...)
	childPid := child.Pid.PID

	if statusPtr != 0 {
		status := vm.TranslatedBytePtr(task.MemorySet.PageTable, statusPtr)
		writeExitCode(status, child.ExitCode)
	}
	child.Release()
	return int64(childPid)
}

func writeExitCode(dst []byte, code int) {
	util.Writen(dst, 4, 0, code)
}

// SysBrk grows or shrinks the current task's heap by size bytes,
// returning the old break on success or -1 on failure.
func SysBrk(task *proc.TaskControlBlock, size int32) int64 {
	old, ok := task.ChangeProgramBrk(int64(size))
	if !ok {
		return fail(defs.ENOMEM)
	}
	return int64(old)
}

package syscall

import (
	"strings"

	"github.com/Bariona/peaCore/defs"
	"github.com/Bariona/peaCore/fs"
	"github.com/Bariona/peaCore/proc"
	"github.com/Bariona/peaCore/vm"
)

// Open flag bits, per the syscall ABI.
const (
	FlagRDONLY = 0
	FlagWRONLY = 1 << 0
	FlagRDWR   = 1 << 1
	FlagCreate = 1 << 9
	FlagTrunc  = 1 << 10
)

var rootInode *fs.Inode

// SetFileSystem records fsys's root directory as the one every open
// call resolves names against. The kernel calls this once at startup
// after mounting the disk image.
func SetFileSystem(fsys *fs.FileSystem) {
	rootInode = fsys.RootInode()
}

// SysRead copies up to length bytes from fd into the user buffer at
// ptr, returning the byte count or -1 for an invalid or unreadable fd.
func SysRead(task *proc.TaskControlBlock, fd int, ptr uint64, length int) int64 {
	if fd < 0 || fd >= len(task.FdTable) || task.FdTable[fd] == nil {
		return fail(defs.EBADF)
	}
	file := task.FdTable[fd]
	if !file.Readable() {
		return fail(defs.EBADF)
	}
	buf := vm.NewUserBuffer(vm.TranslatedByteBuffer(task.MemorySet.PageTable, ptr, length))
	tmp := make([]byte, buf.Len())
	n := file.Read(tmp)
	buf.WriteFrom(tmp[:n])
	return int64(n)
}

// SysWrite copies up to length bytes from the user buffer at ptr into
// fd, returning the byte count or -1 for an invalid or unwritable fd.
func SysWrite(task *proc.TaskControlBlock, fd int, ptr uint64, length int) int64 {
	if fd < 0 || fd >= len(task.FdTable) || task.FdTable[fd] == nil {
		return fail(defs.EBADF)
	}
	file := task.FdTable[fd]
	if !file.Writable() {
		return fail(defs.EBADF)
	}
	buf := vm.NewUserBuffer(vm.TranslatedByteBuffer(task.MemorySet.PageTable, ptr, length))
	tmp := make([]byte, buf.Len())
	buf.ReadInto(tmp)
	n := file.Write(tmp)
	return int64(n)
}

// SysOpen resolves a NUL-terminated path against the filesystem root,
// optionally creating it, and installs the opened file at a fresh fd.
func SysOpen(task *proc.TaskControlBlock, pathPtr uint64, flags uint32) int64 {
	path := vm.TranslatedStr(task.MemorySet.PageTable, pathPtr)
	path = strings.TrimPrefix(path, "/")

	inode, ok := rootInode.FindName(path)
	if !ok {
		if flags&FlagCreate == 0 {
			return fail(defs.ENOENT)
		}
		inode, ok = rootInode.Create(path)
		if !ok {
			return fail(defs.EEXIST)
		}
	} else if flags&FlagTrunc != 0 {
		inode.Clear()
	}

	readable := flags&FlagWRONLY == 0
	writable := flags&FlagWRONLY != 0 || flags&FlagRDWR != 0
	fd := task.AllocFd()
	task.FdTable[fd] = fs.OpenInode(inode, readable, writable)
	return int64(fd)
}

// SysClose clears fd's slot, returning -1 if it was already empty or
// out of range.
func SysClose(task *proc.TaskControlBlock, fd int) int64 {
	if fd < 0 || fd >= len(task.FdTable) || task.FdTable[fd] == nil {
		return fail(defs.EBADF)
	}
	task.FdTable[fd] = nil
	return 0
}

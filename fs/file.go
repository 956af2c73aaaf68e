package fs

import (
	"fmt"
	"os"
)

// File is the kernel-facing handle syscalls read and write through,
// abstracting over inode-backed files and the console.
type File interface {
	Readable() bool
	Writable() bool
	Read(buf []byte) int
	Write(buf []byte) int
}

// stdin is the console input file: every read blocks for exactly one
// byte from the host's stdin, the same one-character-at-a-time shape a
// console getchar driver has.
type stdin struct{}

// Stdin is the single process-wide console input file.
var Stdin File = stdin{}

func (stdin) Readable() bool { return true }
func (stdin) Writable() bool { return false }

func (stdin) Read(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	n, err := os.Stdin.Read(buf[:1])
	if err != nil {
		return 0
	}
	return n
}

func (stdin) Write([]byte) int {
	panic("fs: stdin is not writable")
}

// stdout is the console output file.
type stdout struct{}

// Stdout is the single process-wide console output file.
var Stdout File = stdout{}

func (stdout) Readable() bool { return false }
func (stdout) Writable() bool { return true }

func (stdout) Read([]byte) int {
	panic("fs: stdout is not readable")
}

func (stdout) Write(buf []byte) int {
	n, err := os.Stdout.Write(buf)
	if err != nil {
		panic(fmt.Sprintf("fs: stdout write failed: %v", err))
	}
	return n
}

// InodeFile is a File backed by an on-disk inode, tracking its own read
// and write position across calls the way an open file description does.
type InodeFile struct {
	readable bool
	writable bool
	offset   int
	inode    *Inode
}

// OpenInode wraps inode as a File opened with the given permissions.
func OpenInode(inode *Inode, readable, writable bool) *InodeFile {
	return &InodeFile{readable: readable, writable: writable, inode: inode}
}

func (f *InodeFile) Readable() bool { return f.readable }
func (f *InodeFile) Writable() bool { return f.writable }

// Read fills buf from the file's current offset and advances it by the
// number of bytes actually read.
func (f *InodeFile) Read(buf []byte) int {
	n := f.inode.ReadAt(f.offset, buf)
	f.offset += n
	return n
}

// Write appends buf at the file's current offset and advances it by the
// number of bytes actually written.
func (f *InodeFile) Write(buf []byte) int {
	n := f.inode.WriteAt(f.offset, buf)
	f.offset += n
	return n
}

package proc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bariona/peaCore/fs"
	"github.com/Bariona/peaCore/mem"
	"github.com/Bariona/peaCore/vm"
)

const testEntry = 0x10000

// makeTestELF builds the smallest ELF64 image FromELF accepts: one
// RX PT_LOAD segment at testEntry holding code, no section headers.
func makeTestELF(code []byte) []byte {
	const (
		phoff   = 64
		dataOff = 120
	)
	buf := make([]byte, dataOff+len(code))
	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)   // ET_EXEC
	le.PutUint16(buf[18:], 243) // EM_RISCV
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], testEntry)
	le.PutUint64(buf[32:], phoff)
	le.PutUint16(buf[52:], 64) // ehsize
	le.PutUint16(buf[54:], 56) // phentsize
	le.PutUint16(buf[56:], 1)  // phnum

	p := buf[phoff:]
	le.PutUint32(p[0:], 1) // PT_LOAD
	le.PutUint32(p[4:], 5) // R|X
	le.PutUint64(p[8:], dataOff)
	le.PutUint64(p[16:], testEntry)
	le.PutUint64(p[24:], testEntry)
	le.PutUint64(p[32:], uint64(len(code)))
	le.PutUint64(p[40:], uint64(len(code)))
	le.PutUint64(p[48:], 0x1000)
	copy(buf[dataOff:], code)
	return buf
}

func newTestKernelSpace(t *testing.T) *vm.MemorySet {
	t.Helper()
	mem.GlobalAllocator.Init(0, 1<<16)
	tramp, ok := mem.NewFrameTracker()
	require.True(t, ok)
	return vm.NewKernelSpace(8, tramp.PPN)
}

func TestNewTaskFromELF(t *testing.T) {
	kernel := newTestKernelSpace(t)
	code := []byte{0x13, 0x05, 0x10, 0x00}
	task := New(makeTestELF(code), kernel)

	assert.Equal(t, Ready, task.Status)
	require.Len(t, task.FdTable, 3, "fd table must be preseeded with stdin/stdout/stdout")
	assert.Equal(t, fs.Stdin, task.FdTable[0])
	assert.Equal(t, fs.Stdout, task.FdTable[1])
	assert.Equal(t, fs.Stdout, task.FdTable[2])

	cx := task.TrapCx()
	assert.Equal(t, uint64(testEntry), cx.Sepc)
	assert.Equal(t, task.BaseSize, cx.X[2], "saved sp must start at the user stack top")

	pte, ok := task.MemorySet.Translate(vm.VirtAddr(testEntry).Floor())
	require.True(t, ok)
	assert.Equal(t, code, mem.Bytes(pte.PPN())[:len(code)], "segment contents must be loaded")
}

func TestForkSnapshotsMemoryAndSharesFiles(t *testing.T) {
	kernel := newTestKernelSpace(t)
	parent := New(makeTestELF([]byte{1, 2, 3, 4}), kernel)

	// Scribble on a stack page so the fork has something beyond the
	// program image to copy.
	sp := parent.BaseSize - 16
	ppte, ok := parent.MemorySet.Translate(vm.VirtAddr(sp).Floor())
	require.True(t, ok)
	copy(mem.Bytes(ppte.PPN()), []byte("parent-stack"))

	child := parent.Fork()

	assert.NotEqual(t, parent.Pid.PID, child.Pid.PID)
	assert.Same(t, parent, child.Parent)
	require.Len(t, parent.Children, 1)
	assert.Same(t, child, parent.Children[0])

	cpte, ok := child.MemorySet.Translate(vm.VirtAddr(sp).Floor())
	require.True(t, ok)
	assert.NotEqual(t, ppte.PPN(), cpte.PPN())
	assert.Equal(t, []byte("parent-stack"), mem.Bytes(cpte.PPN())[:12])

	require.Len(t, child.FdTable, len(parent.FdTable))
	for i := range parent.FdTable {
		assert.Equal(t, parent.FdTable[i], child.FdTable[i], "fd %d must point at the same file object", i)
	}

	assert.Equal(t, parent.TrapCx().Sepc, child.TrapCx().Sepc, "the child resumes where the parent trapped")
}

func TestExecReplacesImageInPlace(t *testing.T) {
	kernel := newTestKernelSpace(t)
	task := New(makeTestELF([]byte{1, 1, 1, 1}), kernel)
	pid := task.Pid.PID
	task.TrapCx().Sepc = 0xdead

	code := []byte{9, 9, 9, 9}
	require.NoError(t, task.Exec(makeTestELF(code)))

	assert.Equal(t, pid, task.Pid.PID, "exec must preserve the pid")
	assert.Equal(t, uint64(testEntry), task.TrapCx().Sepc, "exec must restart at the new entry point")

	pte, ok := task.MemorySet.Translate(vm.VirtAddr(testEntry).Floor())
	require.True(t, ok)
	assert.Equal(t, code, mem.Bytes(pte.PPN())[:len(code)])
}

func TestExecRejectsMalformedImage(t *testing.T) {
	kernel := newTestKernelSpace(t)
	task := New(makeTestELF([]byte{1}), kernel)
	require.Error(t, task.Exec([]byte("not an elf")))
}

func TestReleaseRequiresZombie(t *testing.T) {
	kernel := newTestKernelSpace(t)
	task := New(makeTestELF([]byte{1}), kernel)
	require.Panics(t, func() { task.Release() })
}

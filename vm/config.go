// Package vm implements the Sv39 page table, logical map areas, and the
// memory sets that compose a kernel or user address space.
package vm

import "github.com/Bariona/peaCore/mem"

// Memory-layout constants shared by every address space. Values mirror
// the teaching kernel's own config: a fixed physical memory ceiling, a
// trampoline page pinned at the top of the virtual address space, and
// the per-process TrapContext page immediately below it.
const (
	PageSize     = mem.PageSize
	PageSizeBits = mem.PageSizeBits

	KernelStackSize  = PageSize * 2
	UserStackSize    = PageSize * 2
	UserStackMaxSize = PageSize * 20

	MemoryEnd = 0x81000000
)

// Trampoline sits at the top of every address space's virtual range; the
// same physical page is mapped there in every MemorySet so a trap can
// swap page tables without losing the instruction stream mid-flight.
var Trampoline uint64 = ^uint64(0) - PageSize + 1

// TrapContext is the page immediately below Trampoline, holding the
// saved user register image for the current task.
var TrapContextVA uint64 = Trampoline - PageSize

// UserStackTop is the virtual address one page below TrapContext; the
// user stack grows down from here.
var UserStackTop uint64 = TrapContextVA - PageSize

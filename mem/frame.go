// Package mem implements the physical frame allocator: a stack allocator
// with a recycle list over a range of physical page numbers, plus the
// FrameTracker that gives each live frame exactly one owner.
package mem

import (
	"fmt"
	"sync"
)

// PhysPageNum is a physical page number (a physical address with the
// page offset removed).
type PhysPageNum uint64

// FrameTracker owns one physical frame. The owner is responsible for
// calling Drop when the frame is no longer needed; there is no
// finalizer, so release stays explicit and deterministic rather than
// at the garbage collector's whim.
type FrameTracker struct {
	PPN PhysPageNum

	dropped bool
}

// NewFrameTracker allocates a frame from the global allocator and zeroes
// it, so every live tracker's owner sees a clean page regardless of what
// a previous owner left behind.
func NewFrameTracker() (*FrameTracker, bool) {
	ppn, ok := GlobalAllocator.Alloc()
	if !ok {
		return nil, false
	}
	page := Bytes(ppn)
	for i := range page {
		page[i] = 0
	}
	return &FrameTracker{PPN: ppn}, true
}

// Bytes returns the tracker's backing page.
func (f *FrameTracker) Bytes() []byte {
	return Bytes(f.PPN)
}

// Drop returns the frame to the allocator. Calling Drop twice panics:
// double-free of a frame is a logic violation, not a recoverable error.
func (f *FrameTracker) Drop() {
	if f.dropped {
		panic("mem: double free of FrameTracker")
	}
	f.dropped = true
	GlobalAllocator.Dealloc(f.PPN)
	physArena.release(f.PPN)
}

// FrameAllocator is a stack-with-recycle allocator over [current, end).
type FrameAllocator struct {
	mu       sync.Mutex
	current  PhysPageNum
	end      PhysPageNum
	recycled []PhysPageNum
}

// GlobalAllocator is the kernel-wide frame allocator singleton. It must
// be initialized once via Init before any frame is allocated; the boot
// sequence brings it up before anything else touches a page.
var GlobalAllocator = &FrameAllocator{}

// Init sets the allocatable frame range to [start, end). Calling Init
// again resets the allocator, forgetting every frame handed out or
// recycled before.
func (a *FrameAllocator) Init(start, end PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = start
	a.end = end
	a.recycled = nil
}

// Alloc returns the next free physical page number, preferring a recycled
// page over bumping the cursor.
func (a *FrameAllocator) Alloc() (PhysPageNum, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		ppn := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return ppn, true
	}
	if a.current == a.end {
		return 0, false
	}
	ppn := a.current
	a.current++
	return ppn, true
}

// Dealloc returns ppn to the recycle list. It panics on a page at or
// above the allocation cursor (never handed out) or one already in the
// recycle list; a page below the range's start is not detected.
func (a *FrameAllocator) Dealloc(ppn PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ppn >= a.current {
		panic(fmt.Sprintf("mem: dealloc of unallocated frame %d", ppn))
	}
	for _, r := range a.recycled {
		if r == ppn {
			panic(fmt.Sprintf("mem: double free of frame %d", ppn))
		}
	}
	a.recycled = append(a.recycled, ppn)
}

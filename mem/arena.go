package mem

import "sync"

// PageSize is the Sv39 page size in bytes.
const PageSize = 4096

// PageSizeBits is log2(PageSize), the width of a page offset.
const PageSizeBits = 12

// arena simulates physical RAM. A hosted Go process has no raw physical
// address space to hand out pages from, so pages are backed by a
// lazily-populated map from physical page number to a fixed-size byte
// array rather than by offsets into a real direct map.
type arena struct {
	mu    sync.Mutex
	pages map[PhysPageNum]*[PageSize]byte
}

var physArena = &arena{pages: make(map[PhysPageNum]*[PageSize]byte)}

// page returns the backing array for ppn, allocating and zeroing it on
// first touch.
func (a *arena) page(ppn PhysPageNum) *[PageSize]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pages[ppn]
	if !ok {
		p = &[PageSize]byte{}
		a.pages[ppn] = p
	}
	return p
}

// release drops the backing array for ppn so it can be garbage collected.
// It does not zero the page first; callers that care about leftover data
// reaching a new owner rely on FrameTracker zeroing on (re)allocation.
func (a *arena) release(ppn PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pages, ppn)
}

// Bytes returns the full backing page for ppn as a byte slice.
func Bytes(ppn PhysPageNum) []byte {
	p := physArena.page(ppn)
	return p[:]
}

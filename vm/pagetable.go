package vm

import (
	"unsafe"

	"github.com/Bariona/peaCore/mem"
)

// PTEFlags are the low eight bits of a page table entry.
type PTEFlags uint8

const (
	PTEValid    PTEFlags = 1 << 0
	PTERead     PTEFlags = 1 << 1
	PTEWrite    PTEFlags = 1 << 2
	PTEExec     PTEFlags = 1 << 3
	PTEUser     PTEFlags = 1 << 4
	PTEGlobal   PTEFlags = 1 << 5
	PTEAccessed PTEFlags = 1 << 6
	PTEDirty    PTEFlags = 1 << 7
)

const ppnMask = (1 << 44) - 1

// PageTableEntry is a single Sv39 PTE: PPN in bits [53:10], flags in the
// low byte.
type PageTableEntry uint64

// NewPTE packs a physical page number and flags into an entry.
func NewPTE(ppn mem.PhysPageNum, flags PTEFlags) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | uint64(flags))
}

// PPN extracts the physical page number.
func (p PageTableEntry) PPN() mem.PhysPageNum {
	return mem.PhysPageNum((uint64(p) >> 10) & ppnMask)
}

// Flags extracts the low byte.
func (p PageTableEntry) Flags() PTEFlags { return PTEFlags(p) }

// IsValid reports whether V is set.
func (p PageTableEntry) IsValid() bool { return p.Flags()&PTEValid != 0 }

const ptesPerPage = PageSize / 8 // 512

// entriesOf returns the 512 page table entries stored in ppn's backing
// page as a directly-mutable view; writes through the returned slice are
// writes to the page itself.
func entriesOf(ppn mem.PhysPageNum) []PageTableEntry {
	buf := mem.Bytes(ppn)
	return unsafe.Slice((*PageTableEntry)(unsafe.Pointer(&buf[0])), ptesPerPage)
}

// PageTable owns its root frame and every intermediate frame it has
// allocated while auto-populating the walk; dropping it releases them
// all. A PageTable built with FromToken is a non-owning view used to
// translate another address space's pages from kernel code and must
// never have Drop called on it.
type PageTable struct {
	root    *mem.FrameTracker
	owned   []*mem.FrameTracker
	rootPPN mem.PhysPageNum
}

// NewPageTable allocates a fresh, owning page table with an empty root.
func NewPageTable() (*PageTable, bool) {
	root, ok := mem.NewFrameTracker()
	if !ok {
		return nil, false
	}
	return &PageTable{root: root, rootPPN: root.PPN}, true
}

// FromToken builds a non-owning view over the address space identified
// by an satp-style token (the low 44 bits are the root PPN).
func FromToken(token uint64) *PageTable {
	return &PageTable{rootPPN: mem.PhysPageNum(token & ppnMask)}
}

// Token returns the satp-style token for this page table (mode bits are
// the caller's responsibility to OR in; this model only tracks the PPN).
func (pt *PageTable) Token() uint64 { return uint64(pt.rootPPN) }

// findPte walks the three levels, returning a pointer to the leaf entry.
// create controls whether missing intermediate entries are populated
// with a fresh, V-only frame; without create a missing intermediate
// level returns nil. The leaf entry is returned whether or not it is
// valid.
func (pt *PageTable) findPte(vpn VirtPageNum, create bool) *PageTableEntry {
	idx := vpn.Indexes()
	ppn := pt.rootPPN
	for level := 0; level < vpnLevels; level++ {
		entries := entriesOf(ppn)
		pte := &entries[idx[level]]
		if level == vpnLevels-1 {
			return pte
		}
		if !pte.IsValid() {
			if !create {
				return nil
			}
			frame, ok := mem.NewFrameTracker()
			if !ok {
				return nil
			}
			pt.owned = append(pt.owned, frame)
			*pte = NewPTE(frame.PPN, PTEValid)
		}
		ppn = pte.PPN()
	}
	return nil
}

// FindPteCreate walks the page table, auto-populating intermediate
// levels, and returns the leaf entry.
func (pt *PageTable) FindPteCreate(vpn VirtPageNum) *PageTableEntry {
	return pt.findPte(vpn, true)
}

// FindPte walks the page table without creating missing levels.
func (pt *PageTable) FindPte(vpn VirtPageNum) *PageTableEntry {
	return pt.findPte(vpn, false)
}

// Map installs vpn -> ppn with the given flags (V is added automatically).
// Mapping an already-valid VPN is a logic violation.
func (pt *PageTable) Map(vpn VirtPageNum, ppn mem.PhysPageNum, flags PTEFlags) {
	pte := pt.FindPteCreate(vpn)
	if pte == nil {
		panic("vm: out of memory while mapping")
	}
	if pte.IsValid() {
		panic("vm: remap of already-mapped vpn")
	}
	*pte = NewPTE(ppn, flags|PTEValid)
}

// Unmap clears vpn's leaf entry. Unmapping an invalid VPN is a logic
// violation.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	pte := pt.FindPte(vpn)
	if pte == nil || !pte.IsValid() {
		panic("vm: unmap of unmapped vpn")
	}
	*pte = 0
}

// Translate resolves vpn to its leaf entry without modifying the table.
func (pt *PageTable) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	pte := pt.FindPte(vpn)
	if pte == nil || !pte.IsValid() {
		return 0, false
	}
	return *pte, true
}

// TranslateVA resolves a full virtual address to its physical address,
// applying the page offset on top of the translated PPN.
func (pt *PageTable) TranslateVA(va VirtAddr) (uint64, bool) {
	pte, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return PhysAddrOf(pte.PPN(), va.PageOffset()), true
}

// Drop releases every frame this page table owns (root plus any
// auto-populated intermediate levels). Non-owning views built with
// FromToken must not call Drop.
func (pt *PageTable) Drop() {
	if pt.root == nil {
		panic("vm: Drop called on a non-owning page table view")
	}
	for _, f := range pt.owned {
		f.Drop()
	}
	pt.root.Drop()
}

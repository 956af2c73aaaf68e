package vm

import "github.com/Bariona/peaCore/mem"

// VirtAddr is a full 64-bit virtual address (only the low 39 bits are
// meaningful on real Sv39 hardware; this Go model keeps the full width so
// the high "sign-extended" addresses like Trampoline compare correctly).
type VirtAddr uint64

// VirtPageNum is a virtual address with the page offset removed.
type VirtPageNum uint64

const vpnBitsPerLevel = 9
const vpnLevels = 3

// Floor returns the page number containing a.
func (a VirtAddr) Floor() VirtPageNum { return VirtPageNum(uint64(a) / PageSize) }

// Ceil returns the page number one past a if a is not page-aligned,
// otherwise the page number of a itself.
func (a VirtAddr) Ceil() VirtPageNum {
	if a == 0 {
		return 0
	}
	return VirtPageNum((uint64(a) + PageSize - 1) / PageSize)
}

// PageOffset returns the low PageSizeBits of a.
func (a VirtAddr) PageOffset() uint64 { return uint64(a) & (PageSize - 1) }

// ToVA reconstructs the base virtual address of a page.
func (v VirtPageNum) ToVA() VirtAddr { return VirtAddr(uint64(v) * PageSize) }

// Indexes splits the VPN into three 9-bit indices, highest level first,
// matching the three-level Sv39 walk.
func (v VirtPageNum) Indexes() [vpnLevels]uint64 {
	var idx [vpnLevels]uint64
	x := uint64(v)
	for i := vpnLevels - 1; i >= 0; i-- {
		idx[i] = x & ((1 << vpnBitsPerLevel) - 1)
		x >>= vpnBitsPerLevel
	}
	return idx
}

// PhysAddrOf returns the physical address corresponding to ppn, offset
// within the page by off.
func PhysAddrOf(ppn mem.PhysPageNum, off uint64) uint64 {
	return uint64(ppn)*PageSize + off
}

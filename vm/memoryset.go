package vm

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/Bariona/peaCore/mem"
)

// MapType distinguishes areas whose physical pages are owned by the area
// (Framed) from areas where VPN equals PPN and nothing is owned
// (Identical, used for the kernel's direct map).
type MapType int

const (
	Identical MapType = iota
	Framed
)

// MapPermission is the user-facing subset of PTEFlags an area carries;
// V/G/A/D are managed by the mapping code, not requested by callers.
type MapPermission = PTEFlags

// MapArea is a contiguous range of virtual pages sharing one mapping
// type and permission set.
type MapArea struct {
	StartVPN VirtPageNum
	EndVPN   VirtPageNum
	mapType  MapType
	perm     MapPermission
	frames   map[VirtPageNum]*mem.FrameTracker
}

// NewMapArea builds an area covering [startVA.Floor(), endVA.Ceil()).
func NewMapArea(startVA, endVA VirtAddr, mapType MapType, perm MapPermission) *MapArea {
	a := &MapArea{
		StartVPN: startVA.Floor(),
		EndVPN:   endVA.Ceil(),
		mapType:  mapType,
		perm:     perm,
	}
	if mapType == Framed {
		a.frames = make(map[VirtPageNum]*mem.FrameTracker)
	}
	return a
}

// FromAnother builds a same-shaped area with no frames allocated yet,
// for use as the fork destination before CopyData is called.
func FromAnother(other *MapArea) *MapArea {
	a := &MapArea{
		StartVPN: other.StartVPN,
		EndVPN:   other.EndVPN,
		mapType:  other.mapType,
		perm:     other.perm,
	}
	if other.mapType == Framed {
		a.frames = make(map[VirtPageNum]*mem.FrameTracker)
	}
	return a
}

func (a *MapArea) mapOne(pt *PageTable, vpn VirtPageNum) {
	var ppn mem.PhysPageNum
	switch a.mapType {
	case Identical:
		ppn = mem.PhysPageNum(vpn)
	case Framed:
		frame, ok := mem.NewFrameTracker()
		if !ok {
			panic("vm: out of frames mapping area")
		}
		ppn = frame.PPN
		a.frames[vpn] = frame
	}
	pt.Map(vpn, ppn, a.perm|PTEValid)
}

func (a *MapArea) unmapOne(pt *PageTable, vpn VirtPageNum) {
	if a.mapType == Framed {
		if f, ok := a.frames[vpn]; ok {
			f.Drop()
			delete(a.frames, vpn)
		}
	}
	pt.Unmap(vpn)
}

// MapAll installs every page in the area's range.
func (a *MapArea) MapAll(pt *PageTable) {
	for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
		a.mapOne(pt, vpn)
	}
}

// UnmapAll removes every page in the area's range, dropping owned frames.
func (a *MapArea) UnmapAll(pt *PageTable) {
	for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
		a.unmapOne(pt, vpn)
	}
}

// CopyData writes data into the area's framed pages starting at
// StartVPN, one page at a time. The area must already be mapped.
func (a *MapArea) CopyData(pt *PageTable, data []byte) {
	vpn := a.StartVPN
	off := 0
	for off < len(data) {
		src := data[off:]
		if len(src) > PageSize {
			src = src[:PageSize]
		}
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("vm: CopyData on unmapped page")
		}
		dst := pageBytes(pte.PPN())
		copy(dst, src)
		off += len(src)
		vpn++
	}
}

// ExpandTo moves the area's end to newEnd, mapping any newly-covered
// pages. It does not shrink; callers needing to shrink use ShrinkTo.
func (a *MapArea) ExpandTo(pt *PageTable, newEnd VirtPageNum) {
	old := a.EndVPN
	a.EndVPN = newEnd
	for vpn := old; vpn < newEnd; vpn++ {
		a.mapOne(pt, vpn)
	}
}

// ShrinkTo moves the area's end to newEnd, unmapping pages that fall out
// of range.
func (a *MapArea) ShrinkTo(pt *PageTable, newEnd VirtPageNum) {
	old := a.EndVPN
	for vpn := newEnd; vpn < old; vpn++ {
		a.unmapOne(pt, vpn)
	}
	a.EndVPN = newEnd
}

// MemorySet is a page table plus the collection of areas describing how
// it was built; areas never overlap.
type MemorySet struct {
	PageTable *PageTable
	areas     []*MapArea

	// heapStart anchors the heap area FromELF reserves; zero for
	// address spaces with no heap (the kernel's own).
	heapStart VirtPageNum
}

// NewBare builds an empty memory set with a fresh, empty root page table.
func NewBare() *MemorySet {
	pt, ok := NewPageTable()
	if !ok {
		panic("vm: out of frames creating page table")
	}
	return &MemorySet{PageTable: pt}
}

// Token returns this memory set's satp-style token.
func (ms *MemorySet) Token() uint64 { return ms.PageTable.Token() }

// push maps an area and, if data is non-nil, copies it in, then records
// the area as part of this memory set.
func (ms *MemorySet) push(area *MapArea, data []byte) {
	area.MapAll(ms.PageTable)
	if data != nil {
		area.CopyData(ms.PageTable, data)
	}
	ms.areas = append(ms.areas, area)
}

// InsertFramedArea maps a fresh Framed area over [startVA, endVA) with
// the given permission.
func (ms *MemorySet) InsertFramedArea(startVA, endVA VirtAddr, perm MapPermission) {
	ms.push(NewMapArea(startVA, endVA, Framed, perm), nil)
}

// RemoveAreaWithStartVPN unmaps and forgets the area beginning at
// startVPN (used when a KernelStack is dropped).
func (ms *MemorySet) RemoveAreaWithStartVPN(startVPN VirtPageNum) bool {
	for i, a := range ms.areas {
		if a.StartVPN == startVPN {
			a.UnmapAll(ms.PageTable)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return true
		}
	}
	return false
}

// areaEndingAt returns the area whose EndVPN equals end, used to find
// the user stack area for ExpandSP (the stack's high sentinel anchor is
// stable for the process's whole lifetime).
func (ms *MemorySet) areaEndingAt(end VirtPageNum) *MapArea {
	for _, a := range ms.areas {
		if a.EndVPN == end {
			return a
		}
	}
	return nil
}

// areaWithStart returns the area beginning at start, used by sbrk to
// locate the heap area.
func (ms *MemorySet) areaWithStart(start VirtPageNum) *MapArea {
	for _, a := range ms.areas {
		if a.StartVPN == start {
			return a
		}
	}
	return nil
}

// StackBottom returns the current lower bound of the user stack area,
// the anchor the trap dispatcher checks a stack-growth fault against.
func (ms *MemorySet) StackBottom() uint64 {
	area := ms.areaEndingAt(VirtAddr(UserStackTop).Floor())
	if area == nil {
		return 0
	}
	return uint64(area.StartVPN.ToVA())
}

// ExpandSP grows the user stack area anchored at oldBottom's containing
// stack down to newBottom, allocating frames for the newly-covered gap.
func (ms *MemorySet) ExpandSP(oldBottom, newBottom uint64) bool {
	area := ms.areaEndingAt(VirtAddr(UserStackTop).Floor())
	if area == nil {
		return false
	}
	area.StartVPN = VirtAddr(newBottom).Floor()
	for vpn := area.StartVPN; vpn < VirtAddr(oldBottom).Floor(); vpn++ {
		area.mapOne(ms.PageTable, vpn)
	}
	return true
}

// AppendTo grows the area starting at areaStart so its end becomes
// newEnd (used by sbrk growth).
func (ms *MemorySet) AppendTo(areaStart VirtPageNum, newEnd VirtPageNum) bool {
	a := ms.areaWithStart(areaStart)
	if a == nil {
		return false
	}
	a.ExpandTo(ms.PageTable, newEnd)
	return true
}

// ShrinkTo shrinks the area starting at areaStart so its end becomes
// newEnd (used by sbrk shrink).
func (ms *MemorySet) ShrinkTo(areaStart VirtPageNum, newEnd VirtPageNum) bool {
	a := ms.areaWithStart(areaStart)
	if a == nil {
		return false
	}
	a.ShrinkTo(ms.PageTable, newEnd)
	return true
}

// MapTrampoline maps the single shared trampoline frame at the fixed
// Trampoline virtual address, RX, with no U bit: only the trap
// dispatcher, running in supervisor mode, ever executes it directly.
func (ms *MemorySet) MapTrampoline(trampolineFrame mem.PhysPageNum) {
	ms.PageTable.Map(VirtAddr(Trampoline).Floor(), trampolineFrame, PTERead|PTEExec)
}

// Translate resolves vpn within this memory set's page table.
func (ms *MemorySet) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	return ms.PageTable.Translate(vpn)
}

// RecycleDataPages drops every Framed area's owned frames, used when a
// task exits: the page table's own frames are reclaimed separately by
// PageTable.Drop.
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.areas {
		a.UnmapAll(ms.PageTable)
	}
	ms.areas = nil
}

// NewKernelSpace builds the one global kernel address space: an identity
// mapping over every physical frame the frame allocator can hand out,
// RWX, plus the trampoline page. A hosted Go process has no linker
// symbols for .text/.rodata/.data/.bss, so the usual per-section sweep
// collapses into a single RWX identity range; the sections' real
// distinction (RX text vs RW data) belongs to the boot and linker
// stage, an external collaborator here.
func NewKernelSpace(memoryEndPages mem.PhysPageNum, trampolineFrame mem.PhysPageNum) *MemorySet {
	ms := NewBare()
	area := NewMapArea(VirtAddr(0), VirtAddr(uint64(memoryEndPages)*PageSize), Identical, PTERead|PTEWrite|PTEExec)
	ms.push(area, nil)
	ms.MapTrampoline(trampolineFrame)
	return ms
}

// elfFlagsToPerm converts ELF segment flags to page permissions, adding
// the user bit every user-space mapping needs.
func elfFlagsToPerm(f elf.ProgFlag) MapPermission {
	var perm MapPermission = PTEUser
	if f&elf.PF_R != 0 {
		perm |= PTERead
	}
	if f&elf.PF_W != 0 {
		perm |= PTEWrite
	}
	if f&elf.PF_X != 0 {
		perm |= PTEExec
	}
	return perm
}

// FromELF parses a user ELF image, maps one Framed area per PT_LOAD
// segment, reserves a guard page, places the user stack and its
// sentinel growth area, and maps the TrapContext page. It returns the
// resulting memory set, the initial user stack bottom and top, and the
// ELF entry point.
func FromELF(data []byte) (ms *MemorySet, userStackBottom, userStackTop, entry uint64, trapCxPPN mem.PhysPageNum, err error) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, 0, 0, fmt.Errorf("vm: parse elf: %w", err)
	}
	ms = NewBare()

	var maxEnd VirtPageNum
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		startVA := VirtAddr(prog.Vaddr)
		endVA := VirtAddr(prog.Vaddr + prog.Memsz)
		perm := elfFlagsToPerm(prog.Flags)
		area := NewMapArea(startVA, endVA, Framed, perm)

		segData := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), segData); err != nil {
			return nil, 0, 0, 0, 0, fmt.Errorf("vm: read elf segment: %w", err)
		}
		ms.push(area, segData)
		if area.EndVPN > maxEnd {
			maxEnd = area.EndVPN
		}
	}

	// One guard page beyond the highest loaded VPN before user data may
	// ever be placed (stack or heap), so a stack overflow cannot silently
	// corrupt the program image.
	userStackBottomVPN := maxEnd + 1
	top := VirtAddr(UserStackTop).Floor()
	minBottom := VirtPageNum(VirtAddr(UserStackTop - UserStackSize).Floor())
	if userStackBottomVPN < minBottom {
		userStackBottomVPN = minBottom
	}

	stackArea := NewMapArea(userStackBottomVPN.ToVA(), top.ToVA(), Framed, PTERead|PTEWrite|PTEUser)
	ms.push(stackArea, nil)

	// Empty sentinel area anchored at the stack's high end: ExpandSP finds
	// the stack by this anchor regardless of how far it has grown down.
	sentinel := NewMapArea(top.ToVA(), top.ToVA(), Framed, PTERead|PTEWrite|PTEUser)
	ms.areas = append(ms.areas, sentinel)

	// Empty heap area one guard page above the highest loaded segment;
	// sbrk expands it upward into the unmapped gap below the stack.
	heapBase := (maxEnd + 1).ToVA()
	heapArea := NewMapArea(heapBase, heapBase, Framed, PTERead|PTEWrite|PTEUser)
	ms.areas = append(ms.areas, heapArea)
	ms.heapStart = heapBase.Floor()

	// TrapContext page: RW only, no U: user code must never read or
	// write its own saved register image directly.
	ms.InsertFramedArea(VirtAddr(TrapContextVA), VirtAddr(Trampoline), PTERead|PTEWrite)
	pte, ok := ms.PageTable.Translate(VirtAddr(TrapContextVA).Floor())
	if !ok {
		return nil, 0, 0, 0, 0, fmt.Errorf("vm: trap context not mapped after insert")
	}
	trapCxPPN = pte.PPN()

	return ms, uint64(userStackBottomVPN.ToVA()), uint64(top.ToVA()), ef.Entry, trapCxPPN, nil
}

// FromExistedUser builds a full-copy snapshot of parent: no COW, every
// framed page is freshly allocated and byte-copied. This is the fork
// path.
func FromExistedUser(parent *MemorySet) *MemorySet {
	ms := NewBare()
	ms.heapStart = parent.heapStart
	for _, pa := range parent.areas {
		na := FromAnother(pa)
		ms.push(na, nil)
		if pa.mapType == Framed {
			for vpn := pa.StartVPN; vpn < pa.EndVPN; vpn++ {
				srcPTE, ok := parent.PageTable.Translate(vpn)
				if !ok {
					continue
				}
				dstPTE, ok := ms.PageTable.Translate(vpn)
				if !ok {
					panic("vm: fork destination page missing")
				}
				copy(pageBytes(dstPTE.PPN()), pageBytes(srcPTE.PPN()))
			}
		}
	}
	return ms
}

// activeToken holds the token of the most recently activated memory
// set, the model's stand-in for the satp CSR.
var activeToken uint64

// Activate installs this memory set as the active translation root. On
// hardware this writes the root PPN into satp and issues an sfence.vma;
// the hosted model has no TLB, so activation records the token the trap
// path reads back.
func (ms *MemorySet) Activate() {
	activeToken = ms.Token()
}

// ActiveToken returns the token of the currently active memory set.
func ActiveToken() uint64 { return activeToken }

// HeapBase returns the virtual address the heap area grows up from.
func (ms *MemorySet) HeapBase() uint64 {
	return uint64(ms.heapStart.ToVA())
}

// TrapContextPPN returns the physical page backing TrapContext in this
// memory set.
func (ms *MemorySet) TrapContextPPN() mem.PhysPageNum {
	pte, ok := ms.PageTable.Translate(VirtAddr(TrapContextVA).Floor())
	if !ok {
		panic("vm: trap context not mapped")
	}
	return pte.PPN()
}

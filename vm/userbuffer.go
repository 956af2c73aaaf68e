package vm

import "github.com/Bariona/peaCore/mem"

// pageBytes returns the full backing page for ppn.
func pageBytes(ppn mem.PhysPageNum) []byte { return mem.Bytes(ppn) }

// TranslatedByteBuffer splits a user-space byte range [ptr, ptr+length)
// into a sequence of page-resident slices, so a buffer that crosses a
// page boundary can be visited without a contiguous kernel mapping.
func TranslatedByteBuffer(pt *PageTable, ptr uint64, length int) [][]byte {
	var out [][]byte
	start := VirtAddr(ptr)
	end := VirtAddr(ptr + uint64(length))
	for start < end {
		vpn := start.Floor()
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("vm: translate fault on user buffer")
		}
		pageEnd := VirtAddr((uint64(vpn) + 1) * PageSize)
		segEnd := pageEnd
		if segEnd > end {
			segEnd = end
		}
		page := pte.PPN()
		lo := start.PageOffset()
		hi := segEnd.PageOffset()
		if hi == 0 {
			hi = PageSize
		}
		full := pageBytes(page)
		out = append(out, full[lo:hi])
		start = segEnd
	}
	return out
}

// TranslatedStr walks a user-space NUL-terminated string byte by byte
// starting at ptr, crossing page boundaries as needed, and returns the Go
// string up to (not including) the terminator.
func TranslatedStr(pt *PageTable, ptr uint64) string {
	var out []byte
	va := ptr
	for {
		vpn := VirtAddr(va).Floor()
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("vm: translate fault reading user string")
		}
		page := pageBytes(pte.PPN())
		off := VirtAddr(va).PageOffset()
		b := page[off]
		if b == 0 {
			break
		}
		out = append(out, b)
		va++
	}
	return string(out)
}

// TranslatedBytePtr resolves ptr to the remainder of its containing
// physical page; callers that need a typed view cast the returned
// slice themselves.
func TranslatedBytePtr(pt *PageTable, ptr uint64) []byte {
	vpn := VirtAddr(ptr).Floor()
	pte, ok := pt.Translate(vpn)
	if !ok {
		panic("vm: translate fault resolving user pointer")
	}
	off := VirtAddr(ptr).PageOffset()
	return pageBytes(pte.PPN())[off:]
}

// UserBuffer is an ordered list of page-resident byte slices covering a
// (possibly cross-page) user-space buffer, used by the read/write
// syscalls.
type UserBuffer struct {
	Buffers [][]byte
}

// NewUserBuffer wraps the page-resident segments produced by
// TranslatedByteBuffer.
func NewUserBuffer(segs [][]byte) *UserBuffer { return &UserBuffer{Buffers: segs} }

// Len returns the total number of bytes across every segment.
func (u *UserBuffer) Len() int {
	n := 0
	for _, b := range u.Buffers {
		n += len(b)
	}
	return n
}

// ReadInto copies from the user buffer into dst, stopping at whichever of
// dst or the user buffer runs out first, and returns the number of bytes
// copied.
func (u *UserBuffer) ReadInto(dst []byte) int {
	n := 0
	for _, seg := range u.Buffers {
		if n >= len(dst) {
			break
		}
		n += copy(dst[n:], seg)
	}
	return n
}

// WriteFrom copies from src into the user buffer's segments, stopping at
// whichever of src or the user buffer runs out first, and returns the
// number of bytes copied.
func (u *UserBuffer) WriteFrom(src []byte) int {
	n := 0
	for _, seg := range u.Buffers {
		if n >= len(src) {
			break
		}
		n += copy(seg, src[n:])
	}
	return n
}

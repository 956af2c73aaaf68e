package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bariona/peaCore/mem"
)

func TestMapTranslateUnmap(t *testing.T) {
	mem.GlobalAllocator.Init(0, 1024)
	pt, ok := NewPageTable()
	require.True(t, ok)

	frame, ok := mem.NewFrameTracker()
	require.True(t, ok)

	vpn := VirtPageNum(0x1234)
	pt.Map(vpn, frame.PPN, PTEValid|PTERead|PTEWrite)

	pte, ok := pt.Translate(vpn)
	require.True(t, ok)
	assert.Equal(t, frame.PPN, pte.PPN())
	assert.NotZero(t, pte.Flags()&PTEValid)

	pt.Unmap(vpn)
	_, ok = pt.Translate(vpn)
	assert.False(t, ok, "translate after unmap should miss")
}

func TestMapAlreadyMappedPanics(t *testing.T) {
	mem.GlobalAllocator.Init(0, 1024)
	pt, ok := NewPageTable()
	require.True(t, ok)
	frame, ok := mem.NewFrameTracker()
	require.True(t, ok)

	vpn := VirtPageNum(7)
	pt.Map(vpn, frame.PPN, PTERead)
	assert.Panics(t, func() { pt.Map(vpn, frame.PPN, PTERead) })
}

func TestUnmapUnmappedPanics(t *testing.T) {
	mem.GlobalAllocator.Init(0, 1024)
	pt, ok := NewPageTable()
	require.True(t, ok)
	assert.Panics(t, func() { pt.Unmap(VirtPageNum(99)) })
}

func TestTranslatedStrStopsAtNUL(t *testing.T) {
	mem.GlobalAllocator.Init(0, 1024)
	pt, ok := NewPageTable()
	require.True(t, ok)
	frame, ok := mem.NewFrameTracker()
	require.True(t, ok)

	vpn := VirtPageNum(3)
	pt.Map(vpn, frame.PPN, PTEValid|PTERead|PTEWrite|PTEUser)
	page := frame.Bytes()
	copy(page, []byte("hello\x00garbage"))

	got := TranslatedStr(pt, uint64(vpn)*PageSize)
	assert.Equal(t, "hello", got)
}

func TestTranslatedByteBufferSpansPages(t *testing.T) {
	mem.GlobalAllocator.Init(0, 1024)
	pt, ok := NewPageTable()
	require.True(t, ok)

	f1, _ := mem.NewFrameTracker()
	f2, _ := mem.NewFrameTracker()
	pt.Map(VirtPageNum(0), f1.PPN, PTEValid|PTERead|PTEWrite)
	pt.Map(VirtPageNum(1), f2.PPN, PTEValid|PTERead|PTEWrite)

	copy(f1.Bytes()[PageSize-4:], []byte{1, 2, 3, 4})
	copy(f2.Bytes()[:4], []byte{5, 6, 7, 8})

	segs := TranslatedByteBuffer(pt, uint64(PageSize-4), 8)
	require.Len(t, segs, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, segs[0])
	assert.Equal(t, []byte{5, 6, 7, 8}, segs[1])
}

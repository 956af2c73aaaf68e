package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAllocatorAllocDealloc(t *testing.T) {
	a := &FrameAllocator{}
	a.Init(100, 105)

	var got []PhysPageNum
	for i := 0; i < 5; i++ {
		ppn, ok := a.Alloc()
		require.True(t, ok)
		got = append(got, ppn)
	}
	_, ok := a.Alloc()
	assert.False(t, ok, "allocator should be exhausted")

	seen := map[PhysPageNum]bool{}
	for _, ppn := range got {
		assert.False(t, seen[ppn], "frame numbers must be unique")
		seen[ppn] = true
	}

	a.Dealloc(got[0])
	again, ok := a.Alloc()
	require.True(t, ok)
	assert.Equal(t, got[0], again, "dealloc then alloc should prefer the recycled frame")
}

func TestFrameAllocatorDoubleFreePanics(t *testing.T) {
	a := &FrameAllocator{}
	a.Init(0, 4)
	ppn, ok := a.Alloc()
	require.True(t, ok)
	a.Dealloc(ppn)
	assert.Panics(t, func() { a.Dealloc(ppn) })
}

func TestFrameAllocatorUnallocatedDeallocPanics(t *testing.T) {
	a := &FrameAllocator{}
	a.Init(0, 4)
	assert.Panics(t, func() { a.Dealloc(3) })
}

func TestFrameTrackerZeroesOnAlloc(t *testing.T) {
	GlobalAllocator.Init(0, 16)
	ft, ok := NewFrameTracker()
	require.True(t, ok)
	buf := ft.Bytes()
	buf[0] = 0xAB
	ft.Drop()

	ft2, ok := NewFrameTracker()
	require.True(t, ok)
	for _, b := range ft2.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}

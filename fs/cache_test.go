package fs

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func setByte(bc *BlockCache, off int, v byte) {
	bc.Modify(off, 1, func(ptr unsafe.Pointer) { *(*byte)(ptr) = v })
}

// TestEvictionUnderPressure loads cacheSize distinct blocks, then a
// seventeenth: exactly one unpinned entry (the oldest) must be evicted
// and written back first.
func TestEvictionUnderPressure(t *testing.T) {
	device := newMemBlockDevice()
	m := NewBlockCacheManager()

	for i := 0; i < cacheSize; i++ {
		bc := m.Get(i, device)
		setByte(bc, 0, byte(i+1))
		m.Put(i)
	}
	require.Equal(t, cacheSize, m.queue.Len())

	m.Get(cacheSize, device)
	m.Put(cacheSize)
	require.Equal(t, cacheSize, m.queue.Len(), "cache must stay at its cap")

	_, stillResident := m.lookup[0]
	require.False(t, stillResident, "the oldest unpinned entry is the eviction candidate")

	var buf [BSIZE]byte
	device.ReadBlock(0, &buf)
	require.Equal(t, byte(1), buf[0], "a dirty entry must be written back on eviction")
}

// TestEvictionSkipsPinnedEntries pins the oldest entry and checks the
// scan moves on to the next unpinned one.
func TestEvictionSkipsPinnedEntries(t *testing.T) {
	device := newMemBlockDevice()
	m := NewBlockCacheManager()

	m.Get(0, device) // pinned: no Put
	for i := 1; i < cacheSize; i++ {
		m.Get(i, device)
		m.Put(i)
	}

	m.Get(cacheSize, device)
	m.Put(cacheSize)

	_, pinnedResident := m.lookup[0]
	require.True(t, pinnedResident, "a pinned entry must survive eviction")
	_, nextResident := m.lookup[1]
	require.False(t, nextResident, "the first unpinned entry takes the hit instead")

	m.Put(0)
}

// TestAllPinnedPanics checks that a full cache of pinned entries has no
// legal way to make room.
func TestAllPinnedPanics(t *testing.T) {
	device := newMemBlockDevice()
	m := NewBlockCacheManager()
	for i := 0; i < cacheSize; i++ {
		m.Get(i, device)
	}
	require.Panics(t, func() { m.Get(cacheSize, device) })
}

// TestSyncAllWritesBackDirtyEntries modifies a cached block without
// evicting it and checks SyncAll pushes it to the device.
func TestSyncAllWritesBackDirtyEntries(t *testing.T) {
	device := newMemBlockDevice()
	m := NewBlockCacheManager()

	bc := m.Get(5, device)
	setByte(bc, 7, 0xAB)
	m.Put(5)

	var buf [BSIZE]byte
	device.ReadBlock(5, &buf)
	require.Equal(t, byte(0), buf[7], "nothing reaches the device before a sync")

	m.SyncAll()
	device.ReadBlock(5, &buf)
	require.Equal(t, byte(0xAB), buf[7])
}

// TestGetHitReturnsSameEntry checks a second Get of a resident block
// sees writes made through the first handle.
func TestGetHitReturnsSameEntry(t *testing.T) {
	device := newMemBlockDevice()
	m := NewBlockCacheManager()

	bc := m.Get(3, device)
	setByte(bc, 0, 0x42)
	m.Put(3)

	again := m.Get(3, device)
	var got byte
	again.Read(0, 1, func(ptr unsafe.Pointer) { got = *(*byte)(ptr) })
	m.Put(3)
	require.Equal(t, byte(0x42), got)
}

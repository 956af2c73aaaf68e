package fs

import (
	"container/list"
	"sync"
	"unsafe"
)

// cacheSize is the manager's entry cap. Small on purpose: eviction
// pressure must be an ordinary event, not a corner case.
const cacheSize = 16

// BlockCache is one in-memory copy of a disk block: a fixed 512-byte
// buffer, the block it was loaded from, and a dirty flag that gates
// write-back.
type BlockCache struct {
	mu       sync.Mutex
	blockID  int
	buf      [BSIZE]byte
	device   BlockDevice
	modified bool
}

// newBlockCache loads blockID from device into a fresh entry.
func newBlockCache(blockID int, device BlockDevice) *BlockCache {
	bc := &BlockCache{blockID: blockID, device: device}
	device.ReadBlock(blockID, &bc.buf)
	return bc
}

// addrOfOffset returns a pointer to the cache's backing buffer at
// offset, the aliasing primitive every typed view is built on top of.
func (bc *BlockCache) addrOfOffset(offset int) unsafe.Pointer {
	return unsafe.Pointer(&bc.buf[offset])
}

// Read applies f to a read-only typed view of the cache at offset. It
// panics if a view of size bytes at offset would extend past BSIZE.
func (bc *BlockCache) Read(offset int, size int, f func(ptr unsafe.Pointer)) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if offset+size > BSIZE {
		panic("fs: typed view exceeds block size")
	}
	f(bc.addrOfOffset(offset))
}

// Modify applies f to a mutable typed view of the cache at offset and
// marks the entry dirty.
func (bc *BlockCache) Modify(offset int, size int, f func(ptr unsafe.Pointer)) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if offset+size > BSIZE {
		panic("fs: typed view exceeds block size")
	}
	bc.modified = true
	f(bc.addrOfOffset(offset))
}

// Sync writes the buffer back if dirty.
func (bc *BlockCache) Sync() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.sync_()
}

func (bc *BlockCache) sync_() {
	if bc.modified {
		bc.device.WriteBlock(bc.blockID, &bc.buf)
		bc.modified = false
	}
}

// entry pairs a cached block with a count of live borrows handed out by
// Get and not yet released by Put. refs==0 means nothing outside the
// manager's own map is touching the block, so it is safe to evict.
type entry struct {
	blockID int
	block   *BlockCache
	refs    int
}

// BlockCacheManager bounds the live cache to cacheSize entries in FIFO
// order, evicting the first entry whose only reference is its own, and
// panics if every entry is pinned.
type BlockCacheManager struct {
	mu     sync.Mutex
	queue  *list.List // of *entry, front = oldest
	lookup map[int]*list.Element
}

// NewBlockCacheManager returns an empty manager.
func NewBlockCacheManager() *BlockCacheManager {
	return &BlockCacheManager{queue: list.New(), lookup: make(map[int]*list.Element)}
}

// Get returns the cache entry for blockID, loading it from device on a
// miss. The returned handle must be released with Put once the caller
// is done with it, so the manager's eviction scan can tell live
// borrowers from idle entries.
func (m *BlockCacheManager) Get(blockID int, device BlockDevice) *BlockCache {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.lookup[blockID]; ok {
		e := el.Value.(*entry)
		e.refs++
		return e.block
	}
	if m.queue.Len() == cacheSize {
		m.evictOneLocked()
	}
	bc := newBlockCache(blockID, device)
	e := &entry{blockID: blockID, block: bc, refs: 1}
	el := m.queue.PushBack(e)
	m.lookup[blockID] = el
	return bc
}

// Put releases one reference to blockID acquired via Get. A block with
// no outstanding references becomes eligible for eviction but is not
// evicted eagerly; eviction only happens on the next Get that needs the
// room.
func (m *BlockCacheManager) Put(blockID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.lookup[blockID]; ok {
		e := el.Value.(*entry)
		if e.refs > 0 {
			e.refs--
		}
	}
}

// evictOneLocked scans from the front for the first entry with refs==0
// (only the manager itself was holding it) and drops it, syncing first
// if dirty. Panics if every entry is pinned: the design gives callers no
// way to make progress otherwise.
func (m *BlockCacheManager) evictOneLocked() {
	for el := m.queue.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.refs == 0 {
			e.block.Sync()
			m.queue.Remove(el)
			delete(m.lookup, e.blockID)
			return
		}
	}
	panic("fs: block cache exhausted, every entry pinned")
}

// SyncAll writes back every dirty entry currently cached.
func (m *BlockCacheManager) SyncAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for el := m.queue.Front(); el != nil; el = el.Next() {
		el.Value.(*entry).block.Sync()
	}
}

// readView is a convenience wrapper around BlockCacheManager.Get/Put
// that loads blockID, calls f with a read-only typed view at offset,
// and releases the borrow before returning.
func readView[T any](m *BlockCacheManager, device BlockDevice, blockID, offset int, f func(t *T)) {
	bc := m.Get(blockID, device)
	defer m.Put(blockID)
	var zero T
	bc.Read(offset, int(unsafe.Sizeof(zero)), func(ptr unsafe.Pointer) {
		f((*T)(ptr))
	})
}

// modifyView is readView's mutable counterpart; it marks the block dirty.
func modifyView[T any](m *BlockCacheManager, device BlockDevice, blockID, offset int, f func(t *T)) {
	bc := m.Get(blockID, device)
	defer m.Put(blockID)
	var zero T
	bc.Modify(offset, int(unsafe.Sizeof(zero)), func(ptr unsafe.Pointer) {
		f((*T)(ptr))
	})
}

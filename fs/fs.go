package fs

import (
	"fmt"
	"sync"
	"unsafe"
)

const diskInodeSize = int(unsafe.Sizeof(DiskInode{}))

// FileSystem owns the on-disk layout metadata (the two bitmaps and the
// area offsets derived from the superblock) plus the block device and
// cache manager every space-management operation routes through. A
// single mutex covers every mutation, matching the single-writer
// coarse-locking design the filesystem's callers assume.
type FileSystem struct {
	mu sync.Mutex

	Device BlockDevice
	Cache  *BlockCacheManager

	InodeBitmap *Bitmap
	DataBitmap  *Bitmap

	inodeAreaStart int
	dataAreaStart  int
}

// Create formats device with totalBlocks blocks and inodeBitmapBlocks
// blocks of inode bitmap, writes the superblock, allocates and
// initializes the root directory inode (asserted to be inode 0), and
// syncs every cache entry back to device.
func Create(device BlockDevice, totalBlocks, inodeBitmapBlocks uint32) *FileSystem {
	cache := NewBlockCacheManager()

	inodeBitmap := NewBitmap(1, int(inodeBitmapBlocks))
	inodeNum := inodeBitmap.Maximum()
	inodeAreaBlocks := uint32((inodeNum*diskInodeSize + BSIZE - 1) / BSIZE)

	// Each data bitmap block carves out 4096 data blocks plus itself, so
	// the remainder splits at a granularity of BSIZE*8+1.
	dataTotalBlocks := totalBlocks - 1 - inodeBitmapBlocks - inodeAreaBlocks
	dataBitmapBlocks := (dataTotalBlocks + BSIZE*8) / (BSIZE*8 + 1)
	dataAreaBlocks := dataTotalBlocks - dataBitmapBlocks
	dataBitmap := NewBitmap(1+int(inodeBitmapBlocks)+int(inodeAreaBlocks), int(dataBitmapBlocks))

	fsys := &FileSystem{
		Device:         device,
		Cache:          cache,
		InodeBitmap:    inodeBitmap,
		DataBitmap:     dataBitmap,
		inodeAreaStart: 1 + int(inodeBitmapBlocks),
		dataAreaStart:  1 + int(inodeBitmapBlocks) + int(inodeAreaBlocks) + int(dataBitmapBlocks),
	}

	for i := 0; i < int(totalBlocks); i++ {
		modifyView(cache, device, i, 0, func(blk *[BSIZE]byte) {
			*blk = [BSIZE]byte{}
		})
	}

	modifyView(cache, device, 0, 0, func(sb *SuperBlock) {
		*sb = NewSuperBlock(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks)
	})

	rootID := fsys.AllocInode()
	if rootID != 0 {
		panic(fmt.Sprintf("fs: root inode must be 0, got %d", rootID))
	}
	blockID, offset := fsys.GetDiskInodePos(rootID)
	modifyView(cache, device, blockID, offset, func(root *DiskInode) {
		root.Initialize(DirType)
	})

	cache.SyncAll()
	return fsys
}

// Open reads the superblock from device and rebuilds the bitmap
// descriptors and area offsets it describes.
func Open(device BlockDevice) *FileSystem {
	cache := NewBlockCacheManager()
	var sb SuperBlock
	readView(cache, device, 0, 0, func(s *SuperBlock) { sb = *s })
	if !sb.IsValid() {
		panic("fs: not a valid filesystem image")
	}
	return &FileSystem{
		Device:         device,
		Cache:          cache,
		InodeBitmap:    NewBitmap(1, int(sb.InodeBitmapBlocks)),
		DataBitmap:     NewBitmap(1+int(sb.InodeBitmapBlocks)+int(sb.InodeAreaBlocks), int(sb.DataBitmapBlocks)),
		inodeAreaStart: 1 + int(sb.InodeBitmapBlocks),
		dataAreaStart:  1 + int(sb.InodeBitmapBlocks) + int(sb.InodeAreaBlocks) + int(sb.DataBitmapBlocks),
	}
}

// RootInode returns a vfs handle for the filesystem's root directory,
// always inode 0.
func (f *FileSystem) RootInode() *Inode {
	blockID, offset := f.GetDiskInodePos(0)
	return NewInode(blockID, offset, f)
}

// AllocInode reserves the lowest free inode index. Callers must hold
// the filesystem lock (see Lock/Unlock); this and the other space-
// management methods below are the single-step primitives the vfs
// Inode layer composes under one lock acquisition per operation.
func (f *FileSystem) AllocInode() uint32 {
	idx, ok := f.InodeBitmap.Alloc(f.Cache, f.Device)
	if !ok {
		panic("fs: out of inodes")
	}
	return uint32(idx)
}

// DeallocInode frees a previously allocated inode index.
func (f *FileSystem) DeallocInode(inodeID uint32) {
	f.InodeBitmap.Dealloc(f.Cache, f.Device, int(inodeID))
}

// AllocData reserves a free data block and returns its device block
// number (bitmap index plus the data area's start offset).
func (f *FileSystem) AllocData() uint32 {
	idx, ok := f.DataBitmap.Alloc(f.Cache, f.Device)
	if !ok {
		panic("fs: out of space")
	}
	return uint32(idx + f.dataAreaStart)
}

// DeallocData zeros the block then frees its bit.
func (f *FileSystem) DeallocData(blockID uint32) {
	modifyView(f.Cache, f.Device, int(blockID), 0, func(blk *[BSIZE]byte) {
		*blk = [BSIZE]byte{}
	})
	f.DataBitmap.Dealloc(f.Cache, f.Device, int(blockID)-f.dataAreaStart)
}

// GetDiskInodePos returns the (block id, byte offset within that block)
// where inodeID's DiskInode record lives.
func (f *FileSystem) GetDiskInodePos(inodeID uint32) (int, int) {
	inodesPerBlock := BSIZE / diskInodeSize
	blockID := f.inodeAreaStart + int(inodeID)/inodesPerBlock
	offset := (int(inodeID) % inodesPerBlock) * diskInodeSize
	return blockID, offset
}

// Lock acquires the filesystem mutex; callers hold it for the duration
// of a multi-step operation (e.g. create, which allocates an inode and
// appends a directory entry as one unit). The block cache manager may be
// locked while this mutex is held; the reverse ordering is never used.
func (f *FileSystem) Lock() { f.mu.Lock() }

// Unlock releases the filesystem mutex.
func (f *FileSystem) Unlock() { f.mu.Unlock() }

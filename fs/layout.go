package fs

import (
	"unsafe"

	"github.com/Bariona/peaCore/ustr"
	"github.com/Bariona/peaCore/util"
)

// fsMagic uniquely identifies a valid on-disk image.
const fsMagic uint32 = 0x3b800001

// Inode pointer geometry. A DiskInode addresses up to InodeDirectCount
// data blocks directly, the next InodeIndirect1Count through a single
// indirect block, and the remainder through a double-indirect block
// whose leaves are themselves indirect1-shaped blocks.
const (
	InodeDirectCount    = 28
	InodeIndirect1Count = BSIZE / 4 // 128
	InodeIndirect2Count = InodeIndirect1Count * InodeIndirect1Count
	directBound         = InodeDirectCount
	indirect1Bound      = directBound + InodeIndirect1Count
	nameLengthLimit     = 27
	DirentSize          = 32
)

// IndirectBlock is a full block interpreted as 128 u32 block numbers,
// the shape of both indirect1 and every indirect2 leaf.
type IndirectBlock [InodeIndirect1Count]uint32

// SuperBlock is the fixed block-0 header: little-endian u32 fields in
// the order magic, total_blocks, inode_bitmap_blocks, inode_area_blocks,
// data_bitmap_blocks, data_area_blocks.
type SuperBlock struct {
	Magic             uint32
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks   uint32
	DataBitmapBlocks  uint32
	DataAreaBlocks    uint32
}

// NewSuperBlock builds a superblock with the fixed magic stamped in.
func NewSuperBlock(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks uint32) SuperBlock {
	return SuperBlock{
		Magic:             fsMagic,
		TotalBlocks:       totalBlocks,
		InodeBitmapBlocks: inodeBitmapBlocks,
		InodeAreaBlocks:   inodeAreaBlocks,
		DataBitmapBlocks:  dataBitmapBlocks,
		DataAreaBlocks:    dataAreaBlocks,
	}
}

// IsValid reports whether the superblock's magic matches this
// filesystem's format.
func (sb *SuperBlock) IsValid() bool { return sb.Magic == fsMagic }

// DiskInodeType tags an inode's on-disk record as a plain file or a
// directory.
type DiskInodeType uint32

const (
	FileType DiskInodeType = iota
	DirType
)

// DiskInode is the fixed-size on-disk inode record: size in bytes, 28
// direct block numbers, one single-indirect block number, one
// double-indirect block number, and a type tag. Multiple records are
// packed per block and never cross a block boundary.
type DiskInode struct {
	Size      uint32
	Direct    [InodeDirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      DiskInodeType
}

// Initialize resets size and pointers to empty and stamps the type.
func (d *DiskInode) Initialize(t DiskInodeType) {
	d.Size = 0
	d.Direct = [InodeDirectCount]uint32{}
	d.Indirect1 = 0
	d.Indirect2 = 0
	d.Type = t
}

// IsDir reports whether this inode is a directory.
func (d *DiskInode) IsDir() bool { return d.Type == DirType }

// IsFile reports whether this inode is a plain file.
func (d *DiskInode) IsFile() bool { return d.Type == FileType }

// dataBlocksFor returns ceil(size/BSIZE), the number of data blocks a
// file of size bytes occupies.
func dataBlocksFor(size uint32) uint32 {
	return util.Roundup(size, BSIZE) / BSIZE
}

// DataBlocks returns the number of data blocks this inode currently
// occupies (excluding indirect index blocks).
func (d *DiskInode) DataBlocks() uint32 { return dataBlocksFor(d.Size) }

// TotalBlocks returns the number of blocks (data plus the indirect index
// blocks actually traversed) a file of size bytes requires.
func TotalBlocks(size uint32) uint32 {
	data := int(dataBlocksFor(size))
	total := data
	if data > InodeDirectCount {
		total++ // indirect1 index block
	}
	if data > indirect1Bound {
		total++ // indirect2 index block
		leaves := data - indirect1Bound
		total += (leaves + InodeIndirect1Count - 1) / InodeIndirect1Count
	}
	return uint32(total)
}

// BlocksNumNeeded returns how many additional blocks must be supplied to
// IncreaseSize to grow this inode to newSize.
func (d *DiskInode) BlocksNumNeeded(newSize uint32) uint32 {
	if newSize < d.Size {
		panic("fs: BlocksNumNeeded called with a smaller size")
	}
	return TotalBlocks(newSize) - TotalBlocks(d.Size)
}

// GetBlockID translates a logical block offset within the file to a
// physical block number, routing through direct, indirect1, or
// indirect2 as the index requires.
func (d *DiskInode) GetBlockID(innerIndex uint32, m *BlockCacheManager, device BlockDevice) uint32 {
	idx := int(innerIndex)
	switch {
	case idx < directBound:
		return d.Direct[idx]
	case idx < indirect1Bound:
		var blockID uint32
		readView(m, device, int(d.Indirect1), 0, func(blk *IndirectBlock) {
			blockID = blk[idx-directBound]
		})
		return blockID
	default:
		rest := idx - indirect1Bound
		a := rest / InodeIndirect1Count
		b := rest % InodeIndirect1Count
		var leaf uint32
		readView(m, device, int(d.Indirect2), 0, func(ind2 *IndirectBlock) {
			leaf = ind2[a]
		})
		var blockID uint32
		readView(m, device, int(leaf), 0, func(blk *IndirectBlock) {
			blockID = blk[b]
		})
		return blockID
	}
}

// IncreaseSize grows the inode to newSize, consuming newBlocks (a flat
// list of already-allocated block numbers, in order) to fill newly
// needed direct slots, indirect1 leaves, and indirect2 leaves, allocating
// index blocks from the same list the moment a boundary is crossed. The
// invariant driving this routine: at every step, the blocks consumed so
// far equal the indirect index blocks needed plus the data blocks
// needed, with index blocks always consumed before the data blocks they
// address.
func (d *DiskInode) IncreaseSize(newSize uint32, newBlocks []uint32, m *BlockCacheManager, device BlockDevice) {
	if newSize < d.Size {
		panic("fs: IncreaseSize called with a smaller size")
	}
	oldData := int(dataBlocksFor(d.Size))
	d.Size = newSize
	newData := int(dataBlocksFor(newSize))

	next := 0
	take := func() uint32 {
		b := newBlocks[next]
		next++
		return b
	}

	cur := oldData
	for cur < newData && cur < InodeDirectCount {
		d.Direct[cur] = take()
		cur++
	}
	if newData <= InodeDirectCount {
		return
	}

	if d.Indirect1 == 0 {
		d.Indirect1 = take()
	}
	lo := cur - directBound
	if lo < 0 {
		lo = 0
	}
	hi := newData - directBound
	if hi > InodeIndirect1Count {
		hi = InodeIndirect1Count
	}
	if lo < hi {
		modifyView(m, device, int(d.Indirect1), 0, func(blk *IndirectBlock) {
			for i := lo; i < hi; i++ {
				blk[i] = take()
			}
		})
	}
	if newData <= indirect1Bound {
		return
	}

	if d.Indirect2 == 0 {
		d.Indirect2 = take()
	}
	lo2 := cur - indirect1Bound
	if lo2 < 0 {
		lo2 = 0
	}
	hi2 := newData - indirect1Bound
	modifyView(m, device, int(d.Indirect2), 0, func(ind2 *IndirectBlock) {
		k := lo2
		for k < hi2 {
			a := k / InodeIndirect1Count
			b := k % InodeIndirect1Count
			if b == 0 {
				ind2[a] = take()
			}
			modifyView(m, device, int(ind2[a]), 0, func(leaf *IndirectBlock) {
				leaf[b] = take()
			})
			k++
		}
	})
}

// ClearSize resets the inode to empty and returns every data and
// indirect index block it previously owned, in traversal order, for the
// caller to deallocate.
func (d *DiskInode) ClearSize(m *BlockCacheManager, device BlockDevice) []uint32 {
	var freed []uint32
	data := int(dataBlocksFor(d.Size))
	d.Size = 0

	n := data
	if n > InodeDirectCount {
		n = InodeDirectCount
	}
	for i := 0; i < n; i++ {
		freed = append(freed, d.Direct[i])
		d.Direct[i] = 0
	}
	if data <= InodeDirectCount {
		return freed
	}

	remaining := data - directBound
	n1 := remaining
	if n1 > InodeIndirect1Count {
		n1 = InodeIndirect1Count
	}
	readView(m, device, int(d.Indirect1), 0, func(blk *IndirectBlock) {
		for i := 0; i < n1; i++ {
			freed = append(freed, blk[i])
		}
	})
	freed = append(freed, d.Indirect1)
	d.Indirect1 = 0
	if data <= indirect1Bound {
		return freed
	}

	remaining2 := data - indirect1Bound
	readView(m, device, int(d.Indirect2), 0, func(ind2 *IndirectBlock) {
		k := 0
		for k < remaining2 {
			a := k / InodeIndirect1Count
			leafCount := remaining2 - k
			if leafCount > InodeIndirect1Count {
				leafCount = InodeIndirect1Count
			}
			readView(m, device, int(ind2[a]), 0, func(leaf *IndirectBlock) {
				for i := 0; i < leafCount; i++ {
					freed = append(freed, leaf[i])
				}
			})
			freed = append(freed, ind2[a])
			k += leafCount
		}
	})
	freed = append(freed, d.Indirect2)
	d.Indirect2 = 0

	return freed
}

// ReadAt copies up to len(buf) bytes starting at offset into buf,
// stopping at min(size, offset+len(buf)); reads entirely past EOF
// return 0. The per-block copy is bounded by <= BSIZE, not < BSIZE: a
// read ending exactly on a block boundary is valid.
func (d *DiskInode) ReadAt(offset int, buf []byte, m *BlockCacheManager, device BlockDevice) int {
	start := offset
	end := util.Min(int(d.Size), start+len(buf))
	if start >= end {
		return 0
	}
	startBlock := start / BSIZE
	read := 0
	for {
		blockEnd := (start/BSIZE + 1) * BSIZE
		if blockEnd > end {
			blockEnd = end
		}
		chunk := blockEnd - start
		dst := buf[read : read+chunk]
		blockID := d.GetBlockID(uint32(startBlock), m, device)
		readView(m, device, int(blockID), 0, func(block *[BSIZE]byte) {
			off := start % BSIZE
			if off+chunk > BSIZE {
				panic("fs: read crosses a block boundary")
			}
			copy(dst, block[off:off+chunk])
		})
		read += chunk
		start += chunk
		startBlock++
		if blockEnd == end {
			break
		}
	}
	return read
}

// WriteAt copies len(buf) bytes from buf into the file starting at
// offset, stopping at min(size, offset+len(buf)). It never grows the
// file: callers (the vfs Inode layer) must call IncreaseSize first.
func (d *DiskInode) WriteAt(offset int, buf []byte, m *BlockCacheManager, device BlockDevice) int {
	start := offset
	end := util.Min(int(d.Size), start+len(buf))
	if start >= end {
		return 0
	}
	startBlock := start / BSIZE
	written := 0
	for {
		blockEnd := (start/BSIZE + 1) * BSIZE
		if blockEnd > end {
			blockEnd = end
		}
		chunk := blockEnd - start
		src := buf[written : written+chunk]
		blockID := d.GetBlockID(uint32(startBlock), m, device)
		modifyView(m, device, int(blockID), 0, func(block *[BSIZE]byte) {
			off := start % BSIZE
			if off+chunk > BSIZE {
				panic("fs: write crosses a block boundary")
			}
			copy(block[off:off+chunk], src)
		})
		written += chunk
		start += chunk
		startBlock++
		if blockEnd == end {
			break
		}
	}
	return written
}

// DirEntry is a packed 32-byte directory entry: a 27-byte name plus its
// NUL terminator, and a 4-byte little-endian inode index.
type DirEntry struct {
	Name  [nameLengthLimit + 1]byte
	Inode uint32
}

// NewDirEntry builds an entry from a name (at most 27 bytes) and inode
// index.
func NewDirEntry(name string, inode uint32) DirEntry {
	var e DirEntry
	e.Name = ustr.Pad28(ustr.Ustr(name))
	e.Inode = inode
	return e
}

// NameUstr returns the entry's name truncated at the first NUL byte.
func (e *DirEntry) NameUstr() ustr.Ustr {
	return ustr.MkUstrSlice(e.Name[:])
}

// NameString returns the entry's name up to the first NUL byte.
func (e *DirEntry) NameString() string {
	return e.NameUstr().String()
}

// NameEq reports whether the entry's name equals name, comparing the
// prefix bytes up to the first NUL the way the on-disk format defines
// equality.
func (e *DirEntry) NameEq(name string) bool {
	return e.NameUstr().Eq(ustr.Ustr(name))
}

// direntPointer exposes a DirEntry's backing memory, the same aliasing
// trick the block cache's typed views use, so a DirEntry can be read or
// written through DiskInode.ReadAt/WriteAt's []byte interface.
func direntPointer(e *DirEntry) unsafe.Pointer {
	return unsafe.Pointer(e)
}

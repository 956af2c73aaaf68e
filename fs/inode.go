package fs

// Inode is the in-memory handle bridging path operations to a
// DiskInode record. Multiple handles may reference the same on-disk
// inode; they coordinate purely through the filesystem's single mutex,
// acquired for the duration of every public method here.
type Inode struct {
	blockID     int
	blockOffset int
	fs          *FileSystem
}

// NewInode wraps the on-disk inode at (blockID, blockOffset).
func NewInode(blockID, blockOffset int, f *FileSystem) *Inode {
	return &Inode{blockID: blockID, blockOffset: blockOffset, fs: f}
}

func (n *Inode) readDisk(f func(d *DiskInode)) {
	readView(n.fs.Cache, n.fs.Device, n.blockID, n.blockOffset, f)
}

func (n *Inode) modifyDisk(f func(d *DiskInode)) {
	modifyView(n.fs.Cache, n.fs.Device, n.blockID, n.blockOffset, f)
}

// findInodeID scans a directory's entries for name and returns its
// inode index, assuming the caller already holds the filesystem lock
// and disk is known to be a directory.
func (n *Inode) findInodeID(name string, disk *DiskInode) (uint32, bool) {
	count := int(disk.Size) / DirentSize
	var dirent DirEntry
	for i := 0; i < count; i++ {
		got := disk.ReadAt(i*DirentSize, direntBytes(&dirent), n.fs.Cache, n.fs.Device)
		if got != DirentSize {
			panic("fs: short directory entry read")
		}
		if dirent.NameEq(name) {
			return dirent.Inode, true
		}
	}
	return 0, false
}

// FindName looks up name in this directory and returns a handle for it,
// or ok=false if no such entry exists.
func (n *Inode) FindName(name string) (*Inode, bool) {
	n.fs.Lock()
	defer n.fs.Unlock()
	var id uint32
	var found bool
	n.readDisk(func(disk *DiskInode) {
		id, found = n.findInodeID(name, disk)
	})
	if !found {
		return nil, false
	}
	blockID, offset := n.fs.GetDiskInodePos(id)
	return NewInode(blockID, offset, n.fs), true
}

// increaseSize grows disk to newSize, allocating exactly the data blocks
// IncreaseSize needs from the filesystem's data bitmap.
func (n *Inode) increaseSize(newSize uint32, disk *DiskInode) {
	if newSize <= disk.Size {
		return
	}
	needed := disk.BlocksNumNeeded(newSize)
	blocks := make([]uint32, needed)
	for i := range blocks {
		blocks[i] = n.fs.AllocData()
	}
	disk.IncreaseSize(newSize, blocks, n.fs.Cache, n.fs.Device)
}

// Create adds a new file named name to this directory. It returns
// ok=false without modifying anything if name already exists.
func (n *Inode) Create(name string) (*Inode, bool) {
	n.fs.Lock()
	defer n.fs.Unlock()

	exists := false
	n.readDisk(func(disk *DiskInode) {
		_, exists = n.findInodeID(name, disk)
	})
	if exists {
		return nil, false
	}

	newID := n.fs.AllocInode()
	blockID, offset := n.fs.GetDiskInodePos(newID)
	modifyView(n.fs.Cache, n.fs.Device, blockID, offset, func(d *DiskInode) {
		d.Initialize(FileType)
	})

	n.modifyDisk(func(root *DiskInode) {
		count := int(root.Size) / DirentSize
		n.increaseSize(uint32((count+1)*DirentSize), root)
		dirent := NewDirEntry(name, newID)
		root.WriteAt(count*DirentSize, direntBytes(&dirent), n.fs.Cache, n.fs.Device)
	})

	n.fs.Cache.SyncAll()
	return NewInode(blockID, offset, n.fs), true
}

// Ls returns every entry name in this directory, in on-disk order.
func (n *Inode) Ls() []string {
	n.fs.Lock()
	defer n.fs.Unlock()
	var names []string
	n.readDisk(func(disk *DiskInode) {
		count := int(disk.Size) / DirentSize
		var dirent DirEntry
		for i := 0; i < count; i++ {
			disk.ReadAt(i*DirentSize, direntBytes(&dirent), n.fs.Cache, n.fs.Device)
			names = append(names, dirent.NameString())
		}
	})
	return names
}

// ReadAt delegates to the underlying DiskInode.
func (n *Inode) ReadAt(offset int, buf []byte) int {
	n.fs.Lock()
	defer n.fs.Unlock()
	var got int
	n.readDisk(func(disk *DiskInode) {
		got = disk.ReadAt(offset, buf, n.fs.Cache, n.fs.Device)
	})
	return got
}

// WriteAt grows the file to max(size, offset+len(buf)) before writing,
// then delegates to the underlying DiskInode.
func (n *Inode) WriteAt(offset int, buf []byte) int {
	n.fs.Lock()
	defer n.fs.Unlock()
	var written int
	n.modifyDisk(func(disk *DiskInode) {
		target := uint32(offset + len(buf))
		if target < disk.Size {
			target = disk.Size
		}
		n.increaseSize(target, disk)
		written = disk.WriteAt(offset, buf, n.fs.Cache, n.fs.Device)
	})
	n.fs.Cache.SyncAll()
	return written
}

// Clear truncates the file to empty, deallocating every data and
// indirect block it held.
func (n *Inode) Clear() {
	n.fs.Lock()
	defer n.fs.Unlock()
	n.modifyDisk(func(disk *DiskInode) {
		freed := disk.ClearSize(n.fs.Cache, n.fs.Device)
		for _, blockID := range freed {
			n.fs.DeallocData(blockID)
		}
	})
	n.fs.Cache.SyncAll()
}

// direntBytes exposes a DirEntry's backing memory as a byte slice for
// DiskInode.ReadAt/WriteAt, the same aliasing trick the block cache uses
// for its typed views.
func direntBytes(d *DirEntry) []byte {
	return (*[DirentSize]byte)(direntPointer(d))[:]
}

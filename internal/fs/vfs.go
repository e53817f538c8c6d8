package fs


// Inode is a handle onto one on-disk file or directory: the block and
// offset holding its DiskInode, plus shared references to the owning
// filesystem and cache. Every structural method takes EasyFileSystem's
// lock for its whole duration, grounded on the source's easy-fs Inode
// (easy-fs/src/vfs.rs), which does the same over its efs Mutex.
type Inode struct {
	blockID uint32
	offset  uint32
	fs      *EasyFileSystem
	cache   *Cache
}

// RootInode returns a handle on the filesystem's root directory.
func RootInode(fs *EasyFileSystem) *Inode {
	blockID, offset := fs.DiskInodePos(fs.RootInodeID())
	return &Inode{blockID: blockID, offset: offset, fs: fs, cache: fs.Cache()}
}

// readDisk invokes f with a read-only view of this inode's DiskInode.
func (ino *Inode) readDisk(f func(*DiskInode)) {
	h := ino.cache.Get(int(ino.blockID))
	Read(h, int(ino.offset), func(d *DiskInode) struct{} { f(d); return struct{}{} })
	h.Release()
}

// modifyDisk invokes f with a mutable view of this inode's DiskInode.
func (ino *Inode) modifyDisk(f func(*DiskInode)) {
	h := ino.cache.Get(int(ino.blockID))
	Modify(h, int(ino.offset), func(d *DiskInode) struct{} { f(d); return struct{}{} })
	h.Release()
}

// findInodeID looks up name among this (directory) inode's entries,
// returning its inode number. Caller must hold fs's lock.
func (ino *Inode) findInodeID(name string) (uint32, bool) {
	var found uint32
	var ok bool
	ino.readDisk(func(d *DiskInode) {
		if !d.IsDir() {
			return
		}
		count := d.Size / DirEntrySize
		var de DirEntry
		for i := uint32(0); i < count; i++ {
			d.ReadAt(ino.cache, int(i*DirEntrySize), structBytes(&de))
			if de.NameString() == name {
				found = de.InodeNum
				ok = true
				return
			}
		}
	})
	return found, ok
}

// structBytes reinterprets a pointer to a fixed-layout struct as a byte
// slice of its size, the counterpart to fs.bytesAt used where ReadAt/
// WriteAt need a []byte rather than a typed block view.
func structBytes[T any](v *T) []byte {
	return unsafeBytes(v)
}

// Find looks up name as a direct child of this directory, returning a
// handle on it or false if absent. Matches Inode::find.
func (ino *Inode) Find(name string) (*Inode, bool) {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	id, ok := ino.findInodeID(name)
	if !ok {
		return nil, false
	}
	blockID, offset := ino.fs.DiskInodePos(id)
	return &Inode{blockID: blockID, offset: offset, fs: ino.fs, cache: ino.cache}, true
}

// Ls returns the names of every entry in this directory. Matches
// Inode::ls.
func (ino *Inode) Ls() []string {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var names []string
	ino.readDisk(func(d *DiskInode) {
		count := d.Size / DirEntrySize
		var de DirEntry
		for i := uint32(0); i < count; i++ {
			d.ReadAt(ino.cache, int(i*DirEntrySize), structBytes(&de))
			names = append(names, de.NameString())
		}
	})
	return names
}

// increaseSize grows a DiskInode to newSize, allocating as many data
// blocks as BlocksNumNeeded reports first. Caller must hold fs's lock.
func (ino *Inode) increaseSize(newSize uint32, d *DiskInode) {
	if newSize <= d.Size {
		return
	}
	need := d.BlocksNumNeeded(newSize)
	blocks := make([]uint32, need)
	for i := range blocks {
		blocks[i] = ino.fs.AllocData()
	}
	d.IncreaseSize(ino.cache, newSize, blocks)
}

// Create creates a new, empty regular file named name in this
// directory and returns a handle on it. Returns false if name already
// exists or this inode is not a directory. Matches Inode::create.
func (ino *Inode) Create(name string) (*Inode, bool) {
	ino.fs.Lock()
	defer ino.fs.Unlock()

	var isDir bool
	ino.readDisk(func(d *DiskInode) { isDir = d.IsDir() })
	if !isDir {
		return nil, false
	}
	if _, exists := ino.findInodeID(name); exists {
		return nil, false
	}

	newIno := ino.fs.AllocInode()
	newBlockID, newOffset := ino.fs.DiskInodePos(newIno)
	nh := ino.cache.Get(int(newBlockID))
	Modify(nh, int(newOffset), func(d *DiskInode) struct{} { d.Initialize(TypeFile); return struct{}{} })
	nh.Release()

	ino.modifyDisk(func(d *DiskInode) {
		entryCount := d.Size / DirEntrySize
		newSize := (entryCount + 1) * DirEntrySize
		ino.increaseSize(newSize, d)
		de := NewDirEntry(name, newIno)
		d.WriteAt(ino.cache, int(entryCount*DirEntrySize), structBytes(&de))
	})

	return &Inode{blockID: newBlockID, offset: newOffset, fs: ino.fs, cache: ino.cache}, true
}

// Link adds a directory entry named name pointing at target's inode
// number, without creating a new inode — the hard-link operation named
// in spec.md §4.7's external interface list. Returns false if name
// already exists. nlink is not stored on the disk inode; it is counted
// over the root directory on demand (see Fstat), so Link needs no
// bookkeeping beyond the new entry itself.
func (ino *Inode) Link(name string, target *Inode) bool {
	ino.fs.Lock()
	defer ino.fs.Unlock()

	if _, exists := ino.findInodeID(name); exists {
		return false
	}
	targetIno := ino.inodeNumberLocked(target)
	ino.modifyDisk(func(d *DiskInode) {
		entryCount := d.Size / DirEntrySize
		newSize := (entryCount + 1) * DirEntrySize
		ino.increaseSize(newSize, d)
		de := NewDirEntry(name, targetIno)
		d.WriteAt(ino.cache, int(entryCount*DirEntrySize), structBytes(&de))
	})
	return true
}

// inodeNumberLocked recovers target's inode number from its disk
// position. fs's lock must already be held.
func (ino *Inode) inodeNumberLocked(target *Inode) uint32 {
	return (target.blockID-ino.fs.inodeAreaStart)*inodesPerBlock + target.offset/128
}

// countLinksLocked counts how many entries in this (root) directory
// point at ino. fs's lock must already be held. Matches §4.7's "nlink
// from directory-entry count over the root".
func (ino *Inode) countLinksLocked(target uint32) int {
	n := 0
	ino.readDisk(func(d *DiskInode) {
		count := d.Size / DirEntrySize
		var de DirEntry
		for i := uint32(0); i < count; i++ {
			d.ReadAt(ino.cache, int(i*DirEntrySize), structBytes(&de))
			if de.InodeNum == target {
				n++
			}
		}
	})
	return n
}

// Unlink removes the directory entry named name, by swapping it with
// the directory's last entry and shrinking by 32 bytes. If the removed
// entry was the target inode's last remaining link (counted over the
// root directory), the inode's data blocks and inode-bitmap bit are
// freed. Matches Inode::unlink.
func (ino *Inode) Unlink(name string) bool {
	ino.fs.Lock()
	defer ino.fs.Unlock()

	var target uint32
	var found bool
	var count uint32
	var last DirEntry
	var removedIdx uint32
	ino.readDisk(func(d *DiskInode) {
		count = d.Size / DirEntrySize
		var de DirEntry
		for i := uint32(0); i < count; i++ {
			d.ReadAt(ino.cache, int(i*DirEntrySize), structBytes(&de))
			if de.NameString() == name {
				target = de.InodeNum
				removedIdx = i
				found = true
			}
		}
		if found && count > 0 {
			d.ReadAt(ino.cache, int((count-1)*DirEntrySize), structBytes(&last))
		}
	})
	if !found {
		return false
	}

	ino.modifyDisk(func(d *DiskInode) {
		lastIdx := count - 1
		if removedIdx != lastIdx {
			d.WriteAt(ino.cache, int(removedIdx*DirEntrySize), structBytes(&last))
		}
		d.Size = lastIdx * DirEntrySize
	})

	if ino.countLinksLocked(target) == 0 {
		blockID, offset := ino.fs.DiskInodePos(target)
		t := &Inode{blockID: blockID, offset: offset, fs: ino.fs, cache: ino.cache}
		t.modifyDisk(func(d *DiskInode) {
			freed := d.ClearSize(ino.cache)
			for _, b := range freed {
				ino.fs.DeallocData(b)
			}
		})
		ino.fs.DeallocInode(target)
	}
	return true
}

// Clear truncates this inode to zero length, freeing every data and
// index block it held. Matches Inode::clear.
func (ino *Inode) Clear() {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	ino.modifyDisk(func(d *DiskInode) {
		freed := d.ClearSize(ino.cache)
		for _, b := range freed {
			ino.fs.DeallocData(b)
		}
	})
}

// ReadAt reads up to len(buf) bytes starting at offset, returning the
// number of bytes read.
func (ino *Inode) ReadAt(offset int, buf []byte) int {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var n int
	ino.readDisk(func(d *DiskInode) { n = d.ReadAt(ino.cache, offset, buf) })
	return n
}

// WriteAt writes buf at offset, growing the inode first if necessary,
// and returns the number of bytes written. Matches Inode::write_at.
func (ino *Inode) WriteAt(offset int, buf []byte) int {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var n int
	ino.modifyDisk(func(d *DiskInode) {
		end := uint32(offset + len(buf))
		ino.increaseSize(end, d)
		n = d.WriteAt(ino.cache, offset, buf)
	})
	return n
}

// Stat is the information fstat reports about a file (spec.md §4.11's
// sys_fstat payload).
type Stat struct {
	Dev      int
	InodeNum uint32
	IsDir    bool
	Size     uint32
	Nlink    int
}

// Fstat reports this inode's metadata. Nlink is counted over the root
// directory's entries rather than stored on the disk inode, per §4.7.
func (ino *Inode) Fstat() Stat {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	target := ino.inodeNumberLocked(ino)
	st := Stat{Dev: ino.cache.dev.DevID(), InodeNum: target}
	ino.readDisk(func(d *DiskInode) {
		st.IsDir = d.IsDir()
		st.Size = d.Size
	})
	rootBlockID, rootOffset := ino.fs.DiskInodePos(ino.fs.RootInodeID())
	root := &Inode{blockID: rootBlockID, offset: rootOffset, fs: ino.fs, cache: ino.cache}
	st.Nlink = root.countLinksLocked(target)
	return st
}

// Size returns the inode's current byte size without the rest of
// Fstat's bookkeeping.
func (ino *Inode) Size() uint32 {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var sz uint32
	ino.readDisk(func(d *DiskInode) { sz = d.Size })
	return sz
}

// IsDir reports whether this inode is a directory.
func (ino *Inode) IsDir() bool {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var dir bool
	ino.readDisk(func(d *DiskInode) { dir = d.IsDir() })
	return dir
}

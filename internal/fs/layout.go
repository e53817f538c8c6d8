package fs

import "github.com/rvcore/teachos/internal/blockdev"

// efsMagic is the on-disk super-block magic number (spec.md §6).
const efsMagic uint32 = 0x3B800001

// SuperBlock is the on-disk layout of block 0.
type SuperBlock struct {
	Magic             uint32
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks   uint32
	DataBitmapBlocks  uint32
	DataAreaBlocks    uint32
}

// Initialize fills in sb with the given layout sizes and the magic.
func (sb *SuperBlock) Initialize(total, inodeBitmap, inodeArea, dataBitmap, dataArea uint32) {
	*sb = SuperBlock{
		Magic:             efsMagic,
		TotalBlocks:       total,
		InodeBitmapBlocks: inodeBitmap,
		InodeAreaBlocks:   inodeArea,
		DataBitmapBlocks:  dataBitmap,
		DataAreaBlocks:    dataArea,
	}
}

// IsValid reports whether the magic number matches efsMagic.
func (sb *SuperBlock) IsValid() bool {
	return sb.Magic == efsMagic
}

// InodeType distinguishes file and directory disk inodes.
type InodeType uint32

const (
	TypeFile InodeType = 0
	TypeDir  InodeType = 1
)

const (
	directCount   = 28
	indirect1Cnt  = blockdev.BlockSize / 4 // 128
	indirect2Cnt  = indirect1Cnt * indirect1Cnt
	directBound   = directCount
	indirect1Bnd  = directBound + indirect1Cnt
)

// DiskInode is exactly 128 bytes so four fit in a 512-byte block
// (spec.md §3). Capacity: 28 direct (14KiB) + 128 indirect1 (64KiB) +
// 128x128 indirect2 (8MiB).
type DiskInode struct {
	Size      uint32
	Direct    [directCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      InodeType
}

// indirectBlock is the on-disk layout of one indirect index block: 128
// uint32 block-id entries.
type indirectBlock [indirect1Cnt]uint32

// Initialize resets a freshly allocated disk inode to an empty file or
// directory of the given type.
func (d *DiskInode) Initialize(t InodeType) {
	*d = DiskInode{Type: t}
}

func (d *DiskInode) IsDir() bool  { return d.Type == TypeDir }
func (d *DiskInode) IsFile() bool { return d.Type == TypeFile }

// dataBlocksForSize returns ceil(size/BlockSize).
func dataBlocksForSize(size uint32) uint32 {
	return (size + blockdev.BlockSize - 1) / blockdev.BlockSize
}

// totalBlocksForSize returns the number of data+index blocks a file of
// the given size occupies in total, per spec.md §4.6.
func totalBlocksForSize(size uint32) uint32 {
	data := dataBlocksForSize(size)
	total := data
	if data > directCount {
		total++ // indirect1 block itself
	}
	if data > uint32(indirect1Bnd) {
		total++ // indirect2 head block
		total += (data - directCount - 1) / uint32(indirect1Cnt)
	}
	return total
}

// DataBlocks returns the number of data blocks (excluding index blocks)
// this inode currently occupies.
func (d *DiskInode) DataBlocks() uint32 {
	return dataBlocksForSize(d.Size)
}

// TotalBlocks returns the number of data+index blocks for the given
// size, independent of this inode's current state.
func TotalBlocks(size uint32) uint32 {
	return totalBlocksForSize(size)
}

// BlocksNumNeeded returns how many additional blocks (data+index) must
// be allocated to grow this inode to newSize.
func (d *DiskInode) BlocksNumNeeded(newSize uint32) uint32 {
	if newSize < d.Size {
		panic("fs: shrinking size passed to BlocksNumNeeded")
	}
	return totalBlocksForSize(newSize) - totalBlocksForSize(d.Size)
}

// GetBlockID resolves the innerID'th data block (0-based) of this inode
// to an absolute device block id, per the direct/indirect1/indirect2
// index scheme in spec.md §4.6.
func (d *DiskInode) GetBlockID(cache *Cache, innerID uint32) uint32 {
	if innerID < directCount {
		return d.Direct[innerID]
	}
	innerID -= directCount
	if innerID < uint32(indirect1Cnt) {
		return readIndirectEntry(cache, d.Indirect1, innerID)
	}
	innerID -= uint32(indirect1Cnt)
	if innerID >= uint32(indirect2Cnt) {
		panic("fs: inner block id out of range")
	}
	l1 := readIndirectEntry(cache, d.Indirect2, innerID/uint32(indirect1Cnt))
	return readIndirectEntry(cache, l1, innerID%uint32(indirect1Cnt))
}

func readIndirectEntry(cache *Cache, blockID uint32, index uint32) uint32 {
	h := cache.Get(int(blockID))
	v := Read(h, 0, func(ib *indirectBlock) uint32 { return ib[index] })
	h.Release()
	return v
}

func writeIndirectEntry(cache *Cache, blockID uint32, index uint32, value uint32) {
	h := cache.Get(int(blockID))
	Modify(h, 0, func(ib *indirectBlock) struct{} {
		ib[index] = value
		return struct{}{}
	})
	h.Release()
}

// IncreaseSize grows the inode to newSize, consuming newBlocks (freshly
// allocated, zeroed data-block ids, caller-supplied in order) to fill
// direct slots, then the indirect1 block, then indirect2's two levels.
// len(newBlocks) must equal BlocksNumNeeded(newSize); size is updated
// last, per spec.md §4.6.
func (d *DiskInode) IncreaseSize(cache *Cache, newSize uint32, newBlocks []uint32) {
	if uint32(len(newBlocks)) != d.BlocksNumNeeded(newSize) {
		panic("fs: IncreaseSize given wrong number of blocks")
	}
	curData := d.DataBlocks()
	newData := dataBlocksForSize(newSize)
	idx := 0

	// direct
	for curData < newData && curData < directCount {
		d.Direct[curData] = newBlocks[idx]
		idx++
		curData++
	}
	if curData >= newData {
		d.Size = newSize
		return
	}

	// indirect1
	if d.Indirect1 == 0 {
		d.Indirect1 = newBlocks[idx]
		idx++
	}
	for curData < newData && curData < uint32(indirect1Bnd) {
		writeIndirectEntry(cache, d.Indirect1, curData-directCount, newBlocks[idx])
		idx++
		curData++
	}
	if curData >= newData {
		d.Size = newSize
		return
	}

	// indirect2
	if d.Indirect2 == 0 {
		d.Indirect2 = newBlocks[idx]
		idx++
	}
	for curData < newData {
		rel := curData - uint32(indirect1Bnd)
		l1idx := rel / uint32(indirect1Cnt)
		l2idx := rel % uint32(indirect1Cnt)
		if l2idx == 0 {
			writeIndirectEntry(cache, d.Indirect2, l1idx, newBlocks[idx])
			idx++
		}
		l1 := readIndirectEntry(cache, d.Indirect2, l1idx)
		writeIndirectEntry(cache, l1, l2idx, newBlocks[idx])
		idx++
		curData++
	}
	d.Size = newSize
}

// ClearSize frees every data and index block this inode holds, zeroes
// size and every index field, and returns the full list of freed block
// ids (direct, indirect1 content, indirect1 itself, indirect2 leaves,
// indirect2 roots, indirect2 itself) so the caller can return them to
// the data bitmap.
func (d *DiskInode) ClearSize(cache *Cache) []uint32 {
	var freed []uint32
	data := d.DataBlocks()
	curData := uint32(0)

	directEnd := min32(data, directCount)
	for ; curData < directEnd; curData++ {
		freed = append(freed, d.Direct[curData])
		d.Direct[curData] = 0
	}

	if data > directCount {
		ind1End := min32(data, uint32(indirect1Bnd))
		for i := curData; i < ind1End; i++ {
			freed = append(freed, readIndirectEntry(cache, d.Indirect1, i-directCount))
		}
		freed = append(freed, d.Indirect1)
		curData = ind1End
	}

	if data > uint32(indirect1Bnd) {
		extra := data - uint32(indirect1Bnd)
		numRoots := (extra + uint32(indirect1Cnt) - 1) / uint32(indirect1Cnt)

		// indirect2-leaves: every data block the second-level tables point to.
		for curData < data {
			rel := curData - uint32(indirect1Bnd)
			l1idx := rel / uint32(indirect1Cnt)
			l2idx := rel % uint32(indirect1Cnt)
			l1 := readIndirectEntry(cache, d.Indirect2, l1idx)
			freed = append(freed, readIndirectEntry(cache, l1, l2idx))
			curData++
		}
		// indirect2-roots: the second-level index blocks themselves.
		for i := uint32(0); i < numRoots; i++ {
			freed = append(freed, readIndirectEntry(cache, d.Indirect2, i))
		}
		freed = append(freed, d.Indirect2)
	}

	d.Size = 0
	d.Indirect1 = 0
	d.Indirect2 = 0
	return freed
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// ReadAt copies min(len(buf), size-offset) bytes starting at offset into
// buf via the block cache, returning the number of bytes copied.
func (d *DiskInode) ReadAt(cache *Cache, offset int, buf []byte) int {
	size := int(d.Size)
	if offset >= size {
		return 0
	}
	end := offset + len(buf)
	if end > size {
		end = size
	}
	cur := offset
	read := 0
	for cur < end {
		blockEnd := (cur/blockdev.BlockSize + 1) * blockdev.BlockSize
		if blockEnd > end {
			blockEnd = end
		}
		n := blockEnd - cur
		innerID := uint32(cur / blockdev.BlockSize)
		blockID := d.GetBlockID(cache, innerID)
		h := cache.Get(int(blockID))
		off := cur % blockdev.BlockSize
		Read(h, 0, func(data *[blockdev.BlockSize]byte) struct{} {
			copy(buf[read:read+n], data[off:off+n])
			return struct{}{}
		})
		h.Release()
		read += n
		cur = blockEnd
	}
	return read
}

// WriteAt writes buf at offset. The inode must already have been grown
// (via IncreaseSize) to at least offset+len(buf) bytes.
func (d *DiskInode) WriteAt(cache *Cache, offset int, buf []byte) int {
	if uint32(offset+len(buf)) > d.Size {
		panic("fs: WriteAt beyond inode size; grow the inode first")
	}
	cur := offset
	end := offset + len(buf)
	written := 0
	for cur < end {
		blockEnd := (cur/blockdev.BlockSize + 1) * blockdev.BlockSize
		if blockEnd > end {
			blockEnd = end
		}
		n := blockEnd - cur
		innerID := uint32(cur / blockdev.BlockSize)
		blockID := d.GetBlockID(cache, innerID)
		h := cache.Get(int(blockID))
		off := cur % blockdev.BlockSize
		Modify(h, 0, func(data *[blockdev.BlockSize]byte) struct{} {
			copy(data[off:off+n], buf[written:written+n])
			return struct{}{}
		})
		h.Release()
		written += n
		cur = blockEnd
	}
	return written
}

// DirEntrySize is the fixed size of one directory entry on disk.
const DirEntrySize = 32
const dirNameLen = 28

// DirEntry is one 32-byte directory entry: a NUL-terminated (or
// NUL-padded) 28-byte name plus a 4-byte inode number.
type DirEntry struct {
	Name      [dirNameLen]byte
	InodeNum  uint32
}

// NewDirEntry builds a DirEntry for name/ino, truncating name to 28
// bytes if necessary (callers are expected to validate length earlier).
func NewDirEntry(name string, ino uint32) DirEntry {
	var de DirEntry
	copy(de.Name[:], name)
	de.InodeNum = ino
	return de
}

// NameString returns the entry's name, up to the first NUL or 28 bytes.
func (de DirEntry) NameString() string {
	for i, b := range de.Name {
		if b == 0 {
			return string(de.Name[:i])
		}
	}
	return string(de.Name[:])
}

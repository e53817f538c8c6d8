package fs

import (
	"fmt"
	"sync"

	"github.com/rvcore/teachos/internal/blockdev"
)

// inodesPerBlock is how many 128-byte DiskInodes fit in one 512-byte
// block.
const inodesPerBlock = blockdev.BlockSize / 128

// rootInodeID is the inode number of the filesystem root directory,
// always allocated first during Format (spec.md §4.7).
const rootInodeID uint32 = 0

// EasyFileSystem ties the super block, the inode and data bitmaps, and
// the block cache together into a mountable filesystem, grounded on the
// source's EasyFileSystem (easy-fs/src/efs.rs): the same four-region
// layout (super block, inode bitmap, inode area, data bitmap + data
// area) and the same single filesystem-wide lock serializing every
// structural operation.
type EasyFileSystem struct {
	mu sync.Mutex

	cache *Cache

	sb SuperBlock

	inodeBitmap *Bitmap
	dataBitmap  *Bitmap

	inodeAreaStart uint32
	dataAreaStart  uint32
}

// Format lays out a fresh filesystem of totalBlocks blocks with
// ceil(totalBlocks/inodeBitmapRatio) inode-bitmap blocks and an inode
// area holding every inode those bitmap blocks address (4096 per bitmap
// block, so 1024 inode-area blocks each), gives the remaining blocks to
// the data bitmap and data area, and creates the root directory inode.
// Matches EasyFileSystem::create's block-counting loop.
func Format(cache *Cache, totalBlocks uint32, inodeBitmapRatio uint32) *EasyFileSystem {
	if inodeBitmapRatio == 0 {
		inodeBitmapRatio = 1
	}
	inodeBitmapBlocks := (totalBlocks + inodeBitmapRatio - 1) / inodeBitmapRatio
	if inodeBitmapBlocks == 0 {
		inodeBitmapBlocks = 1
	}
	inodeBitmap := NewBitmap(1, int(inodeBitmapBlocks))
	inodeNum := uint32(inodeBitmap.MaxBits())
	inodeAreaBlocks := (inodeNum + inodesPerBlock - 1) / inodesPerBlock

	usedBeforeData := 1 + inodeBitmapBlocks + inodeAreaBlocks
	dataTotal := totalBlocks - usedBeforeData
	// Each data bitmap block addresses bitsPerBlock data blocks, but one
	// of those is the bitmap block itself, so a block of bitmap buys
	// bitsPerBlock+1 blocks of (bitmap+data) capacity, per the source's
	// data_bitmap_blocks formula.
	dataBitmapBlocks := (dataTotal + bitsPerBlock) / (bitsPerBlock + 1)
	dataAreaBlocks := dataTotal - dataBitmapBlocks

	dataBitmapStart := 1 + inodeBitmapBlocks + inodeAreaBlocks
	dataBitmap := NewBitmap(int(dataBitmapStart), int(dataBitmapBlocks))

	fs := &EasyFileSystem{
		cache:          cache,
		inodeBitmap:    inodeBitmap,
		dataBitmap:     dataBitmap,
		inodeAreaStart: 1 + inodeBitmapBlocks,
		dataAreaStart:  dataBitmapStart + dataBitmapBlocks,
	}
	fs.sb.Initialize(totalBlocks, inodeBitmapBlocks, inodeAreaBlocks, dataBitmapBlocks, dataAreaBlocks)

	// zero every block this filesystem owns
	for i := uint32(0); i < totalBlocks; i++ {
		h := cache.Get(int(i))
		Modify(h, 0, func(b *[blockdev.BlockSize]byte) struct{} {
			*b = [blockdev.BlockSize]byte{}
			return struct{}{}
		})
		h.Release()
	}

	// write super block
	h := cache.Get(0)
	Modify(h, 0, func(sb *SuperBlock) struct{} {
		*sb = fs.sb
		return struct{}{}
	})
	h.Release()

	// root directory inode
	rootBlockID, rootOffset := fs.diskInodePos(rootInodeID)
	bit, ok := fs.inodeBitmap.Alloc(cache)
	if !ok || uint32(bit) != rootInodeID {
		panic("fs: root inode must be the first inode allocated during Format")
	}
	rh := cache.Get(int(rootBlockID))
	Modify(rh, int(rootOffset), func(d *DiskInode) struct{} {
		d.Initialize(TypeDir)
		return struct{}{}
	})
	rh.Release()

	return fs
}

// Open loads an existing filesystem from block 0 of cache, returning an
// error if the super block's magic doesn't match.
func Open(cache *Cache) (*EasyFileSystem, error) {
	h := cache.Get(0)
	sb := Read(h, 0, func(s *SuperBlock) SuperBlock { return *s })
	h.Release()
	if !sb.IsValid() {
		return nil, fmt.Errorf("fs: invalid super block magic %#x", sb.Magic)
	}
	inodeBitmap := NewBitmap(1, int(sb.InodeBitmapBlocks))
	dataBitmapStart := 1 + sb.InodeBitmapBlocks + sb.InodeAreaBlocks
	dataBitmap := NewBitmap(int(dataBitmapStart), int(sb.DataBitmapBlocks))
	return &EasyFileSystem{
		cache:          cache,
		sb:             sb,
		inodeBitmap:    inodeBitmap,
		dataBitmap:     dataBitmap,
		inodeAreaStart: 1 + sb.InodeBitmapBlocks,
		dataAreaStart:  dataBitmapStart + sb.DataBitmapBlocks,
	}, nil
}

// RootInodeID returns the inode number of the root directory.
func (fs *EasyFileSystem) RootInodeID() uint32 { return rootInodeID }

// Cache returns the filesystem's underlying block cache.
func (fs *EasyFileSystem) Cache() *Cache { return fs.cache }

// diskInodePos resolves an inode number to its containing block id and
// byte offset within that block.
func (fs *EasyFileSystem) diskInodePos(ino uint32) (blockID uint32, offset uint32) {
	blockID = fs.inodeAreaStart + ino/inodesPerBlock
	offset = (ino % inodesPerBlock) * 128
	return
}

// AllocInode allocates a fresh inode number. Callers must then
// Initialize the DiskInode at its position. The caller must already
// hold fs's lock (via Lock/Unlock) — this mirrors EasyFileSystem's
// alloc_inode, which the source only ever calls from within an already
// Mutex<EasyFileSystem>-locked Inode method.
func (fs *EasyFileSystem) AllocInode() uint32 {
	bit, ok := fs.inodeBitmap.Alloc(fs.cache)
	if !ok {
		panic("fs: inode bitmap exhausted")
	}
	return uint32(bit)
}

// DeallocInode returns ino to the inode bitmap. The caller is
// responsible for having already cleared its DiskInode and for holding
// fs's lock.
func (fs *EasyFileSystem) DeallocInode(ino uint32) {
	fs.inodeBitmap.Dealloc(fs.cache, int(ino))
}

// AllocData allocates a data block and returns its absolute device
// block id. The caller must hold fs's lock.
func (fs *EasyFileSystem) AllocData() uint32 {
	bit, ok := fs.dataBitmap.Alloc(fs.cache)
	if !ok {
		panic("fs: data bitmap exhausted")
	}
	return fs.dataAreaStart + uint32(bit)
}

// DeallocData returns a previously allocated data block to the data
// bitmap, after zeroing it (matching the source's dealloc_data, which
// clears the block before freeing the bit). The caller must hold fs's
// lock.
func (fs *EasyFileSystem) DeallocData(blockID uint32) {
	h := fs.cache.Get(int(blockID))
	Modify(h, 0, func(b *[blockdev.BlockSize]byte) struct{} {
		*b = [blockdev.BlockSize]byte{}
		return struct{}{}
	})
	h.Release()
	fs.dataBitmap.Dealloc(fs.cache, int(blockID-fs.dataAreaStart))
}

// Lock and Unlock expose the filesystem-wide lock directly so VFS
// operations spanning multiple inode/bitmap accesses (create, unlink)
// can hold it across the whole operation, matching the source's
// Mutex<EasyFileSystem> granularity.
func (fs *EasyFileSystem) Lock()   { fs.mu.Lock() }
func (fs *EasyFileSystem) Unlock() { fs.mu.Unlock() }

// DiskInodePos is the exported form of diskInodePos, used by vfs.go to
// locate an inode's on-disk position without re-deriving the layout
// math.
func (fs *EasyFileSystem) DiskInodePos(ino uint32) (blockID uint32, offset uint32) {
	return fs.diskInodePos(ino)
}

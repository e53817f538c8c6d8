// Package blockdev defines the BlockDevice contract the filesystem is
// built on (§6: fixed 512-byte blocks addressed by a non-negative
// integer, panicking on short I/O) and provides the two concrete
// implementations this repo needs since the real VirtIO driver is an
// external collaborator per spec.md §1: a RAM-backed device for tests
// and a file-backed device for the on-disk image the packer/kernel use.
package blockdev

import (
	"fmt"
	"os"
)

// BlockSize is the fixed block size (N in spec.md's data model).
const BlockSize = 512

// Device is the external BlockDevice contract.
type Device interface {
	ReadBlock(id int, buf *[BlockSize]byte)
	WriteBlock(id int, buf *[BlockSize]byte)
	DevID() int
}

// Ram is an in-memory block device, used by tests and dry runs.
type Ram struct {
	id     int
	blocks [][BlockSize]byte
}

// NewRam allocates a RAM-backed device of the given block count.
func NewRam(id, nblocks int) *Ram {
	return &Ram{id: id, blocks: make([][BlockSize]byte, nblocks)}
}

func (r *Ram) DevID() int { return r.id }

func (r *Ram) ReadBlock(id int, buf *[BlockSize]byte) {
	if id < 0 || id >= len(r.blocks) {
		panic(fmt.Sprintf("blockdev: read of out-of-range block %d", id))
	}
	*buf = r.blocks[id]
}

func (r *Ram) WriteBlock(id int, buf *[BlockSize]byte) {
	if id < 0 || id >= len(r.blocks) {
		panic(fmt.Sprintf("blockdev: write of out-of-range block %d", id))
	}
	r.blocks[id] = *buf
}

// File is a block device backed by a regular file on the host
// filesystem (fs.img), used by cmd/mkfs and by on-disk-image round-trip
// tests per §8 scenario 1.
type File struct {
	id int
	f  *os.File
}

// OpenFile opens (creating if needed) path as a file-backed block
// device of at least nblocks blocks.
func OpenFile(id int, path string, nblocks int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	size := int64(nblocks) * BlockSize
	if st, err := f.Stat(); err == nil && st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &File{id: id, f: f}, nil
}

func (d *File) DevID() int { return d.id }

func (d *File) ReadBlock(id int, buf *[BlockSize]byte) {
	n, err := d.f.ReadAt(buf[:], int64(id)*BlockSize)
	if err != nil && n != BlockSize {
		panic(fmt.Sprintf("blockdev: short read of block %d: %v", id, err))
	}
}

func (d *File) WriteBlock(id int, buf *[BlockSize]byte) {
	n, err := d.f.WriteAt(buf[:], int64(id)*BlockSize)
	if err != nil || n != BlockSize {
		panic(fmt.Sprintf("blockdev: short write of block %d: %v", id, err))
	}
}

// Close flushes and closes the backing file.
func (d *File) Close() error {
	return d.f.Close()
}

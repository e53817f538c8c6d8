package fd

import (
	"sync"

	"github.com/rvcore/teachos/internal/fs"
)

// InodeFile is an open regular file: a VFS inode plus a monotonic
// offset, matching the source's OSInode (os/src/fs/inode.rs).
type InodeFile struct {
	mu       sync.Mutex
	readable bool
	writable bool
	offset   int
	inode    *fs.Inode
}

// NewInodeFile opens inode with the given capability flags.
func NewInodeFile(readable, writable bool, inode *fs.Inode) *InodeFile {
	return &InodeFile{readable: readable, writable: writable, inode: inode}
}

func (f *InodeFile) Readable() bool { return f.readable }
func (f *InodeFile) Writable() bool { return f.writable }

// Read reads into buf starting at the handle's current offset, which it
// then advances by the number of bytes read.
func (f *InodeFile) Read(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.inode.ReadAt(f.offset, buf)
	f.offset += n
	return n
}

// Write writes buf at the handle's current offset, which it then
// advances by the number of bytes written.
func (f *InodeFile) Write(buf []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.inode.WriteAt(f.offset, buf)
	f.offset += n
	return n
}

func (f *InodeFile) Fstat() (fs.Stat, bool) {
	return f.inode.Fstat(), true
}

// ReadAll drains the whole file from the beginning without disturbing
// the handle's own offset, matching OSInode::read_all's use by the
// loader for ELF images.
func (f *InodeFile) ReadAll() []byte {
	var out []byte
	var buf [512]byte
	offset := 0
	for {
		n := f.inode.ReadAt(offset, buf[:])
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
		offset += n
	}
	return out
}

// Reopen duplicates this handle sharing the same inode and offset
// state, the Go analogue of biscuit's Fd_t.Copyfd/Fops.Reopen.
func (f *InodeFile) Reopen() *InodeFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &InodeFile{readable: f.readable, writable: f.writable, offset: f.offset, inode: f.inode}
}

// Dup implements Dupper.
func (f *InodeFile) Dup() File { return f.Reopen() }

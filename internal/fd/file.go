// Package fd implements the polymorphic file-handle contract of
// spec.md §3 — {readable?, writable?, read, write, fstat} — and its
// variants {InodeFile, Pipe, Mailbox, Stdin, Stdout}, grounded on the
// source's fs::File trait (os/src/fs/mod.rs) and on biscuit's Fd_t
// (biscuit/src/fd/fd.go) for the descriptor-table half.
package fd

import "github.com/rvcore/teachos/internal/fs"

// File is the capability set every open file-like object implements.
type File interface {
	Readable() bool
	Writable() bool
	Read(buf []byte) int
	Write(buf []byte) int
	// Fstat reports this file's metadata, or ok=false for handles with
	// no backing inode (pipes, mailboxes, console), matching the
	// source's fstat returning -1 for those variants.
	Fstat() (st fs.Stat, ok bool)
}

// OpenFlags mirrors the source's bitflags OpenFlags (os/src/fs/inode.rs).
type OpenFlags uint32

const (
	ReadOnly  OpenFlags = 0
	WriteOnly OpenFlags = 1 << 0
	ReadWrite OpenFlags = 1 << 1
	Create    OpenFlags = 1 << 9
	Trunc     OpenFlags = 1 << 10
)

// Dupper is implemented by File variants that need to run extra
// bookkeeping when a descriptor pointing at them is duplicated (dup,
// fork), e.g. a pipe write end incrementing its open-ends count.
// Variants without special dup behavior (Stdin, Stdout, Mailbox) are
// safely shared by reference and need not implement it.
type Dupper interface {
	Dup() File
}

// Closer is implemented by File variants with dup-visible close
// bookkeeping, e.g. a pipe write end decrementing its open-ends count
// so the read end can observe EOF.
type Closer interface {
	Close()
}

// ReadWriteBits decodes the readable/writable pair implied by flags.
func (f OpenFlags) ReadWriteBits() (readable, writable bool) {
	switch {
	case f&ReadWrite != 0:
		return true, true
	case f&WriteOnly != 0:
		return false, true
	default:
		return true, false
	}
}

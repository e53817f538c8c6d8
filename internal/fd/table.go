package fd

import (
	"sync"

	"github.com/rvcore/teachos/internal/errno"
)

// Entry is one open descriptor: a File plus its permission bits,
// grounded on biscuit's Fd_t (biscuit/src/fd/fd.go).
type Entry struct {
	File  File
	Perms OpenFlags
}

// Table is a process's sparse, lowest-free-slot file-descriptor table,
// grounded on biscuit's per-process Fd_t slice allocation.
type Table struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewTable constructs an empty descriptor table with fd 0/1 wired to
// stdin/stdout, matching every new task starting with a console
// attached.
func NewTable(stdin, stdout File) *Table {
	t := &Table{}
	t.entries = append(t.entries, &Entry{File: stdin, Perms: ReadOnly})
	t.entries = append(t.entries, &Entry{File: stdout, Perms: WriteOnly})
	return t
}

// Alloc installs f at the lowest free descriptor index and returns it.
func (t *Table) Alloc(f File, perms OpenFlags) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e == nil {
			t.entries[i] = &Entry{File: f, Perms: perms}
			return i
		}
	}
	t.entries = append(t.entries, &Entry{File: f, Perms: perms})
	return len(t.entries) - 1
}

// Get returns the entry at fd, or nil if fd is closed or out of range.
func (t *Table) Get(fd int) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.entries) {
		return nil
	}
	return t.entries[fd]
}

// Close releases fd, invoking Close on the underlying File if it
// implements Closer. Returns errno.EBADF if fd was not open.
func (t *Table) Close(fd int) errno.Errno {
	t.mu.Lock()
	e := func() *Entry {
		if fd < 0 || fd >= len(t.entries) {
			return nil
		}
		ent := t.entries[fd]
		t.entries[fd] = nil
		return ent
	}()
	t.mu.Unlock()
	if e == nil {
		return errno.EBADF
	}
	if c, ok := e.File.(Closer); ok {
		c.Close()
	}
	return 0
}

// Dup duplicates fd at the lowest free slot, returning the new
// descriptor, matching Fd_t.Copyfd. Returns -1, errno.EBADF if fd is
// closed.
func (t *Table) Dup(fd int) (int, errno.Errno) {
	e := t.Get(fd)
	if e == nil {
		return -1, errno.EBADF
	}
	nf := e.File
	if d, ok := e.File.(Dupper); ok {
		nf = d.Dup()
	}
	return t.Alloc(nf, e.Perms), 0
}

// Fork returns a new Table sharing every open file with t (each
// duplicated via Dup where supported), matching the fd-table clone a
// fork performs alongside the address space copy.
func (t *Table) Fork() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{entries: make([]*Entry, len(t.entries))}
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		nf := e.File
		if d, ok := e.File.(Dupper); ok {
			nf = d.Dup()
		}
		nt.entries[i] = &Entry{File: nf, Perms: e.Perms}
	}
	return nt
}

// CloseAll releases every open descriptor, invoked when a task exits.
func (t *Table) CloseAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = nil
	t.mu.Unlock()
	for _, e := range entries {
		if e == nil {
			continue
		}
		if c, ok := e.File.(Closer); ok {
			c.Close()
		}
	}
}

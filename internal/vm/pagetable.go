// Package vm implements the Sv39 page table and the per-process address
// space ("MemorySet") built on top of it, grounded on biscuit's vm.Vm_t /
// pagetable pair (src/vm/as.go) but cut down from biscuit's 4-level x86
// COW/mmap-file machinery to the 3-level RISC-V Sv39 table and the
// three mapping kinds (identity, framed, linear-offset) the spec calls
// for.
package vm

import (
	"github.com/rvcore/teachos/internal/mem"
)

// VPN is a virtual page number (virtual address >> PageShift).
type VPN uint64

// PTEFlags is the flag subset of a page-table entry, bit-exact with the
// source's bitflags! PTEFlags (V,R,W,X,U,G,A,D in that bit order).
type PTEFlags uint8

const (
	FlagV PTEFlags = 1 << 0 // valid
	FlagR PTEFlags = 1 << 1 // readable
	FlagW PTEFlags = 1 << 2 // writable
	FlagX PTEFlags = 1 << 3 // executable
	FlagU PTEFlags = 1 << 4 // user-accessible
	FlagG PTEFlags = 1 << 5 // global
	FlagA PTEFlags = 1 << 6 // accessed
	FlagD PTEFlags = 1 << 7 // dirty
)

// PTE is a packed {ppn, flags} page-table entry: ppn in bits [53:10],
// flags in bits [7:0].
type PTE uint64

// NewPTE packs ppn and flags into an entry.
func NewPTE(ppn mem.PPN, flags PTEFlags) PTE {
	return PTE(uint64(ppn)<<10 | uint64(flags))
}

// PPN extracts the physical page number from the entry.
func (p PTE) PPN() mem.PPN {
	return mem.PPN((uint64(p) >> 10) & ((1 << 44) - 1))
}

// Flags extracts the flag byte from the entry.
func (p PTE) Flags() PTEFlags {
	return PTEFlags(p)
}

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool {
	return p.Flags()&FlagV != 0
}

// satvMode is the Sv39 mode field value for the satp/token encoding.
const satvMode = 8

const entriesPerTable = 512 // 2^9, one level of a 3-level Sv39 walk
const levelBits = 9

// vpnIndex returns the 9-bit index into level `level` (0 = root, 2 =
// leaf) of vpn's three-part path.
func vpnIndex(vpn VPN, level int) uint64 {
	shift := uint(levelBits * (2 - level))
	return (uint64(vpn) >> shift) & (entriesPerTable - 1)
}

// PageTable is a 3-level Sv39 page table rooted at a single physical
// page. Tables built via New own every interior frame they allocate and
// release them on Destroy; tables built via FromToken are non-owning
// views and must not be used to Map/Unmap, mirroring the spec's
// "a page table built from_token... must not be used to map/unmap".
type PageTable struct {
	alloc    *mem.Allocator
	root     mem.PPN
	owning   bool
	frames   []*mem.FrameTracker // interior table frames this PageTable owns
	rootHold *mem.FrameTracker   // keeps the root frame referenced
}

// New allocates a fresh, empty, owning page table.
func New(alloc *mem.Allocator) *PageTable {
	root := alloc.Alloc()
	if root == nil {
		panic("vm: out of frames allocating page table root")
	}
	return &PageTable{alloc: alloc, root: root.PPN(), owning: true, rootHold: root}
}

// FromToken builds a non-owning view of the page table encoded by token.
// It shares the caller's allocator purely to read interior frame bytes;
// it never allocates or frees.
func FromToken(alloc *mem.Allocator, token uint64) *PageTable {
	root := mem.PPN(token & ((1 << 44) - 1))
	return &PageTable{alloc: alloc, root: root, owning: false}
}

// Token encodes this table's root as an Sv39 satp-style token.
func (pt *PageTable) Token() uint64 {
	return satvMode<<60 | uint64(pt.root)
}

func (pt *PageTable) tableAt(ppn mem.PPN) []PTE {
	b := pt.alloc.Bytes(ppn)
	// Reinterpret the page's bytes as 512 little-endian 64-bit entries.
	out := make([]PTE, entriesPerTable)
	for i := range out {
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(b[i*8+j]) << (8 * j)
		}
		out[i] = PTE(v)
	}
	return out
}

func (pt *PageTable) storeEntry(ppn mem.PPN, idx uint64, pte PTE) {
	b := pt.alloc.Bytes(ppn)
	v := uint64(pte)
	for j := 0; j < 8; j++ {
		b[idx*8+uint64(j)] = byte(v >> (8 * j))
	}
}

func (pt *PageTable) loadEntry(ppn mem.PPN, idx uint64) PTE {
	b := pt.alloc.Bytes(ppn)
	var v uint64
	for j := 0; j < 8; j++ {
		v |= uint64(b[idx*8+uint64(j)]) << (8 * j)
	}
	return PTE(v)
}

// walk descends the three levels, allocating interior tables as needed
// when alloc is true. It returns the leaf's containing table ppn and
// index, or ok=false if a non-present interior entry was found and
// alloc was false.
func (pt *PageTable) walk(vpn VPN, alloc bool) (tbl mem.PPN, idx uint64, ok bool) {
	cur := pt.root
	for level := 0; level < 2; level++ {
		i := vpnIndex(vpn, level)
		e := pt.loadEntry(cur, i)
		if !e.Valid() {
			if !alloc {
				return 0, 0, false
			}
			f := pt.alloc.Alloc()
			if f == nil {
				panic("vm: out of frames walking page table")
			}
			pt.frames = append(pt.frames, f)
			e = NewPTE(f.PPN(), FlagV)
			pt.storeEntry(cur, i, e)
		}
		cur = e.PPN()
	}
	return cur, vpnIndex(vpn, 2), true
}

// Map installs ppn at vpn with the given flags. It panics if the leaf is
// already valid, per the spec's double-map invariant.
func (pt *PageTable) Map(vpn VPN, ppn mem.PPN, flags PTEFlags) {
	tbl, idx, _ := pt.walk(vpn, true)
	if pt.loadEntry(tbl, idx).Valid() {
		panic("vm: double map")
	}
	pt.storeEntry(tbl, idx, NewPTE(ppn, flags|FlagV))
}

// Unmap clears the mapping at vpn. It panics if no valid mapping exists.
func (pt *PageTable) Unmap(vpn VPN) {
	tbl, idx, ok := pt.walk(vpn, false)
	if !ok || !pt.loadEntry(tbl, idx).Valid() {
		panic("vm: unmap of unmapped page")
	}
	pt.storeEntry(tbl, idx, 0)
}

// Translate walks the table read-only and returns the leaf PTE, if any.
func (pt *PageTable) Translate(vpn VPN) (PTE, bool) {
	tbl, idx, ok := pt.walk(vpn, false)
	if !ok {
		return 0, false
	}
	e := pt.loadEntry(tbl, idx)
	if !e.Valid() {
		return 0, false
	}
	return e, true
}

// TranslateVA walks the table for va's page and adds back the in-page
// offset, returning the physical address.
func (pt *PageTable) TranslateVA(va uint64) (uint64, bool) {
	vpn := VPN(va >> mem.PageShift)
	pte, ok := pt.Translate(vpn)
	if !ok {
		return 0, false
	}
	off := va & (mem.PageSize - 1)
	return pte.PPN().Addr() + off, true
}

// Destroy releases every interior frame this table owns. Non-owning
// tables (FromToken) may not call Destroy.
func (pt *PageTable) Destroy() {
	if !pt.owning {
		panic("vm: destroy of non-owning page table view")
	}
	for _, f := range pt.frames {
		f.Release()
	}
	pt.frames = nil
	pt.rootHold.Release()
	pt.rootHold = nil
}

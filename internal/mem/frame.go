// Package mem implements the physical frame allocator: a bump cursor over
// never-allocated frames backed by a free-list of returned frames, the
// same two-source strategy biscuit's Physmem_t uses (a per-CPU/global
// free-list plus fallback bump allocation), simplified here to a single
// global allocator since this kernel targets one hart.
package mem

import (
	"sync"

	"github.com/rvcore/teachos/internal/klog"
)

// PageSize is the size of a physical/virtual page in bytes.
const PageSize = 4096

// PageShift is log2(PageSize).
const PageShift = 12

// PPN is a physical page number.
type PPN uint64

// Addr returns the physical byte address of the page.
func (p PPN) Addr() uint64 {
	return uint64(p) << PageShift
}

// PPNFromAddr rounds pa down to its containing page number.
func PPNFromAddr(pa uint64) PPN {
	return PPN(pa >> PageShift)
}

// FrameTracker owns exactly one physical frame. The frame is returned to
// the allocator when the tracker is dropped (Release called), mirroring
// the source's FrameTracker/Drop pair and biscuit's ref-counted tracker
// handles — simplified to single ownership since the spec never shares a
// framed page between address spaces outside of fork's byte-copy.
type FrameTracker struct {
	alloc *Allocator
	ppn   PPN
	freed bool
}

// PPN returns the physical page number this tracker owns.
func (f *FrameTracker) PPN() PPN {
	return f.ppn
}

// Release returns the frame to its allocator. Releasing twice panics,
// the programmer-invariant failure mode §7 calls for on double-free.
func (f *FrameTracker) Release() {
	if f.freed {
		panic("mem: double free of frame")
	}
	f.freed = true
	f.alloc.dealloc(f.ppn)
}

// Allocator manages a contiguous range of physical page numbers
// [start, end). It serves allocations from a free-list of previously
// returned frames first, then from a bump cursor over frames that have
// never been handed out — the same two-tier strategy as biscuit's
// Physmem_t, without biscuit's per-CPU free-list sharding or refcounting.
//
// Since this kernel runs as an ordinary Go program rather than directly
// on bare metal, "physical memory" is backed by an ordinary byte slice;
// Bytes returns the page's backing storage the way biscuit's Dmap
// returns a direct-mapped view of a physical page.
type Allocator struct {
	mu       sync.Mutex
	start    PPN
	end      PPN
	cursor   PPN
	freelist []PPN
	backing  []byte
}

// NewAllocator constructs an allocator over the physical page range
// [start, end), backed by (end-start)*PageSize bytes of simulated
// physical memory.
func NewAllocator(start, end PPN) *Allocator {
	if end < start {
		panic("mem: bad frame range")
	}
	return &Allocator{
		start:   start,
		end:     end,
		cursor:  start,
		backing: make([]byte, uint64(end-start)*PageSize),
	}
}

// Bytes returns the PageSize-byte slice backing ppn. It panics if ppn is
// outside this allocator's range, the simulated analogue of a bad
// physical address.
func (a *Allocator) Bytes(ppn PPN) []byte {
	if ppn < a.start || ppn >= a.end {
		panic("mem: page number outside allocator range")
	}
	return a.bytesLocked(ppn)
}

func (a *Allocator) bytesLocked(ppn PPN) []byte {
	off := uint64(ppn-a.start) * PageSize
	return a.backing[off : off+PageSize]
}

// Alloc returns a tracker for one frame, or nil if the allocator is
// exhausted. The frame's backing bytes are zeroed before it is handed
// out, whether it comes from the free-list or the bump cursor.
func (a *Allocator) Alloc() *FrameTracker {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freelist); n > 0 {
		ppn := a.freelist[n-1]
		a.freelist = a.freelist[:n-1]
		clear(a.bytesLocked(ppn))
		return &FrameTracker{alloc: a, ppn: ppn}
	}
	if a.cursor >= a.end {
		klog.Subsys("mem").Error("frame allocator exhausted")
		return nil
	}
	ppn := a.cursor
	a.cursor++
	clear(a.bytesLocked(ppn))
	return &FrameTracker{alloc: a, ppn: ppn}
}

// dealloc returns ppn to the free-list. It panics if ppn was never
// allocated from this allocator's range or lies beyond the bump cursor,
// catching the "no ppn appears in both the free-list and an outstanding
// tracker" invariant's most common violation (frees of garbage values).
func (a *Allocator) dealloc(ppn PPN) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ppn < a.start || ppn >= a.cursor {
		panic("mem: dealloc of frame never allocated")
	}
	for _, f := range a.freelist {
		if f == ppn {
			panic("mem: double dealloc of frame")
		}
	}
	a.freelist = append(a.freelist, ppn)
}

// Free reports the number of frames immediately available without
// extending the bump cursor, for diagnostics.
func (a *Allocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.freelist) + int(a.end-a.cursor)
}

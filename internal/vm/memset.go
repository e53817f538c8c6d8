package vm

import (
	"sort"

	"github.com/rvcore/teachos/internal/mem"
)

// Perm is a permission set using the same R/W/X/U bits as PTEFlags,
// independent of the V bit a mapping always carries once installed.
type Perm = PTEFlags

// MapKind distinguishes how a MapArea's virtual pages are backed.
type MapKind int

const (
	// Identity maps VA==PA; only legal in the kernel address space.
	Identity MapKind = iota
	// Framed backs each page with a freshly allocated frame, exclusively
	// owned by the area.
	Framed
	// Linear maps VA-PA=const, used for the trampoline page, which every
	// address space maps onto the one shared trampoline frame.
	Linear
)

// MapArea is one contiguous virtual region of an address space.
type MapArea struct {
	StartVPN VPN
	EndVPN   VPN // exclusive
	Perm     Perm
	Kind     MapKind
	offset   uint64                        // Linear: PA = VA - offset
	frames   map[VPN]*mem.FrameTracker     // Framed: owned backing frames
}

func (a *MapArea) contains(vpn VPN) bool {
	return vpn >= a.StartVPN && vpn < a.EndVPN
}

// MemorySet is an ordered collection of MapAreas sharing one page table,
// the Go analogue of the source's MemorySet / biscuit's Vm_t.Vmregion.
type MemorySet struct {
	alloc *mem.Allocator
	PT    *PageTable
	areas []*MapArea
}

// NewEmpty builds an address space with a page table and no areas.
func NewEmpty(alloc *mem.Allocator) *MemorySet {
	return &MemorySet{alloc: alloc, PT: New(alloc)}
}

// Token returns this address space's Sv39 token.
func (ms *MemorySet) Token() uint64 {
	return ms.PT.Token()
}

// pushFramed installs a new Framed area, backing every page with a fresh
// frame copied from the optional data slice.
func (ms *MemorySet) pushFramed(start, end VPN, perm Perm, data []byte) *MapArea {
	a := &MapArea{StartVPN: start, EndVPN: end, Perm: perm, Kind: Framed, frames: map[VPN]*mem.FrameTracker{}}
	for vpn := start; vpn < end; vpn++ {
		f := ms.alloc.Alloc()
		if f == nil {
			panic("vm: out of frames mapping framed area")
		}
		a.frames[vpn] = f
		ms.PT.Map(vpn, f.PPN(), perm|FlagV)
	}
	if data != nil {
		ms.writeFramedData(a, data)
	}
	ms.areas = append(ms.areas, a)
	return a
}

func (ms *MemorySet) writeFramedData(a *MapArea, data []byte) {
	off := 0
	for vpn := a.StartVPN; vpn < a.EndVPN && off < len(data); vpn++ {
		f := a.frames[vpn]
		n := copy(ms.alloc.Bytes(f.PPN()), data[off:])
		off += n
	}
}

// pushIdentity installs an Identity area; legal only in the kernel space.
func (ms *MemorySet) pushIdentity(start, end VPN, perm Perm) *MapArea {
	a := &MapArea{StartVPN: start, EndVPN: end, Perm: perm, Kind: Identity}
	for vpn := start; vpn < end; vpn++ {
		ms.PT.Map(vpn, mem.PPN(vpn), perm|FlagV)
	}
	ms.areas = append(ms.areas, a)
	return a
}

// pushLinear installs a Linear (VA-PA=offset) area over [start,end).
func (ms *MemorySet) pushLinear(start, end VPN, perm Perm, offset uint64) *MapArea {
	a := &MapArea{StartVPN: start, EndVPN: end, Perm: perm, Kind: Linear, offset: offset}
	for vpn := start; vpn < end; vpn++ {
		pa := (uint64(vpn) << mem.PageShift) - offset
		ms.PT.Map(vpn, mem.PPN(pa>>mem.PageShift), perm|FlagV)
	}
	ms.areas = append(ms.areas, a)
	return a
}

// InsertFramedArea adds a framed mapping with perm over [l, r) pages.
func (ms *MemorySet) InsertFramedArea(l, r VPN, perm Perm) {
	ms.pushFramed(l, r, perm, nil)
}

// RemoveAreaContaining unmaps and drops the area whose StartVPN equals
// startVPN, per the spec's remove_area_containing(start_vpn) contract
// (the source keys removal on the area's start page, not an arbitrary
// contained page).
func (ms *MemorySet) RemoveAreaContaining(startVPN VPN) bool {
	for i, a := range ms.areas {
		if a.StartVPN == startVPN {
			ms.unmapArea(a)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return true
		}
	}
	return false
}

func (ms *MemorySet) unmapArea(a *MapArea) {
	for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
		ms.PT.Unmap(vpn)
		if a.Kind == Framed {
			a.frames[vpn].Release()
		}
	}
}

// overlaps reports whether [start,end) intersects any existing area.
func (ms *MemorySet) overlaps(start, end VPN) bool {
	for _, a := range ms.areas {
		if start < a.EndVPN && a.StartVPN < end {
			return true
		}
	}
	return false
}

// Alloc reserves a fresh framed area of len bytes at VA start, rejecting
// overlap with any existing area. start must be page-aligned. It returns
// length on success; the mapping covers every page the range touches.
func (ms *MemorySet) Alloc(start, length int, perm Perm) (int, bool) {
	if start%mem.PageSize != 0 {
		return 0, false
	}
	s := VPN(start / mem.PageSize)
	e := VPN((start+length+mem.PageSize-1) / mem.PageSize)
	if ms.overlaps(s, e) {
		return 0, false
	}
	ms.pushFramed(s, e, perm, nil)
	return length, true
}

// Dealloc releases a previously Alloc'ed region; start/length must
// exactly match a prior Alloc call.
func (ms *MemorySet) Dealloc(start, length int) (int, bool) {
	s := VPN(start / mem.PageSize)
	e := VPN((start+length+mem.PageSize-1) / mem.PageSize)
	for i, a := range ms.areas {
		if a.Kind == Framed && a.StartVPN == s && a.EndVPN == e {
			ms.unmapArea(a)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return length, true
		}
	}
	return 0, false
}

// WriteBytesAt copies data into this address space starting at byte
// address va, which must already be framed-mapped and must not cross
// beyond the owning area. Used by exec's argv-serialization onto the
// new user stack (spec.md §4.10).
func (ms *MemorySet) WriteBytesAt(va uint64, data []byte) {
	off := 0
	for off < len(data) {
		vpn := VPN(va / mem.PageSize)
		pageOff := int(va % mem.PageSize)
		pte, ok := ms.PT.Translate(vpn)
		if !ok {
			panic("vm: WriteBytesAt of unmapped page")
		}
		page := ms.alloc.Bytes(pte.PPN())
		n := copy(page[pageOff:], data[off:])
		off += n
		va += uint64(n)
	}
}

// WriteUser is WriteBytesAt under the name trap dispatch's syscalls use
// for crossing the user/kernel boundary — the Go analogue of the
// source's UserBuffer used as a write target.
func (ms *MemorySet) WriteUser(va uint64, data []byte) { ms.WriteBytesAt(va, data) }

// ReadUser copies n bytes out of this address space starting at va,
// walking page boundaries the same way WriteBytesAt does, the Go
// analogue of translated_byte_buffer used as a read source.
func (ms *MemorySet) ReadUser(va uint64, n int) []byte {
	out := make([]byte, n)
	off := 0
	for off < n {
		vpn := VPN(va / mem.PageSize)
		pageOff := int(va % mem.PageSize)
		pte, ok := ms.PT.Translate(vpn)
		if !ok {
			panic("vm: ReadUser of unmapped page")
		}
		page := ms.alloc.Bytes(pte.PPN())
		c := copy(out[off:], page[pageOff:])
		off += c
		va += uint64(c)
	}
	return out
}

// Translate returns the PTE mapping vpn, if any.
func (ms *MemorySet) Translate(vpn VPN) (PTE, bool) {
	return ms.PT.Translate(vpn)
}

// Activate installs this address space's token as satp and fences the
// TLB. On this host simulation there is no real CR3/satp register or
// TLB, so Activate only records which MemorySet is "current"; tests
// observe correctness through Translate instead.
func (ms *MemorySet) Activate() {
	currentToken = ms.Token()
}

var currentToken uint64

// RecycleDataPages drops all owned framed areas, used when a process
// exits: its page table persists (the caller still needs it to reap the
// task) but the backing data pages no longer do.
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.areas {
		if a.Kind == Framed {
			for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
				ms.PT.Unmap(vpn)
				a.frames[vpn].Release()
			}
		}
	}
	ms.areas = nil
}

// FromExistedUser creates a fresh address space with the same set of
// areas as other, copying each framed page's bytes into newly allocated
// frames (the private-memory half of fork).
func FromExistedUser(alloc *mem.Allocator, other *MemorySet) *MemorySet {
	ns := NewEmpty(alloc)
	areas := append([]*MapArea(nil), other.areas...)
	sort.Slice(areas, func(i, j int) bool { return areas[i].StartVPN < areas[j].StartVPN })
	for _, a := range areas {
		switch a.Kind {
		case Framed:
			na := ns.pushFramed(a.StartVPN, a.EndVPN, a.Perm, nil)
			for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
				src := other.alloc.Bytes(a.frames[vpn].PPN())
				dst := ns.alloc.Bytes(na.frames[vpn].PPN())
				copy(dst, src)
			}
		case Identity:
			ns.pushIdentity(a.StartVPN, a.EndVPN, a.Perm)
		case Linear:
			ns.pushLinear(a.StartVPN, a.EndVPN, a.Perm, a.offset)
		}
	}
	return ns
}

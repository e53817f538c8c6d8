package vm

import (
	"bytes"
	"testing"

	"github.com/rvcore/teachos/internal/mem"
)

func TestAllocDeallocReadWriteUserRoundTrip(t *testing.T) {
	alloc := mem.NewAllocator(0, 64)
	ms := NewEmpty(alloc)

	const start = 0x1000
	const length = 3 * mem.PageSize
	n, ok := ms.Alloc(start, length, FlagR|FlagW|FlagU)
	if !ok || n != length {
		t.Fatalf("Alloc = (%d, %v), want (%d, true)", n, ok, length)
	}

	payload := bytes.Repeat([]byte("abcd"), 2000) // spans multiple pages
	ms.WriteUser(start, payload)
	out := ms.ReadUser(start, len(payload))
	if !bytes.Equal(out, payload) {
		t.Fatal("ReadUser after WriteUser did not round trip across a multi-page region")
	}

	if _, ok := ms.Dealloc(start, length); !ok {
		t.Fatal("Dealloc of a matching prior Alloc failed")
	}
	if _, ok := ms.Translate(VPN(start / mem.PageSize)); ok {
		t.Fatal("page still translates after Dealloc")
	}
}

func TestAllocRejectsOverlap(t *testing.T) {
	alloc := mem.NewAllocator(0, 64)
	ms := NewEmpty(alloc)

	if _, ok := ms.Alloc(0, 2*mem.PageSize, FlagR|FlagW); !ok {
		t.Fatal("first Alloc failed")
	}
	if _, ok := ms.Alloc(mem.PageSize, mem.PageSize, FlagR|FlagW); ok {
		t.Fatal("overlapping Alloc succeeded")
	}
}

func TestAllocRejectsUnalignedStart(t *testing.T) {
	alloc := mem.NewAllocator(0, 64)
	ms := NewEmpty(alloc)
	if _, ok := ms.Alloc(100, mem.PageSize, FlagR); ok {
		t.Fatal("Alloc accepted a non-page-aligned start address")
	}
}

func TestDeallocRequiresExactMatch(t *testing.T) {
	alloc := mem.NewAllocator(0, 64)
	ms := NewEmpty(alloc)
	ms.Alloc(0, 2*mem.PageSize, FlagR|FlagW)

	if _, ok := ms.Dealloc(0, mem.PageSize); ok {
		t.Fatal("Dealloc with a mismatched length succeeded")
	}
}

func TestFromExistedUserCopiesFramedData(t *testing.T) {
	alloc := mem.NewAllocator(0, 64)
	ms := NewEmpty(alloc)
	ms.Alloc(0, mem.PageSize, FlagR|FlagW|FlagU)
	ms.WriteUser(0, []byte("parent data"))

	child := FromExistedUser(alloc, ms)
	out := child.ReadUser(0, len("parent data"))
	if string(out) != "parent data" {
		t.Fatalf("forked child did not see parent's framed data, got %q", out)
	}

	// Mutating the child must not affect the parent (private copy, not
	// a shared mapping).
	child.WriteUser(0, []byte("child data!"))
	parentStill := ms.ReadUser(0, len("parent data"))
	if string(parentStill) != "parent data" {
		t.Fatalf("parent's data changed after writing to the forked child: %q", parentStill)
	}
}

func TestRecycleDataPagesUnmapsFramedAreas(t *testing.T) {
	alloc := mem.NewAllocator(0, 64)
	ms := NewEmpty(alloc)
	ms.Alloc(0, mem.PageSize, FlagR|FlagW)

	ms.RecycleDataPages()
	if _, ok := ms.Translate(VPN(0)); ok {
		t.Fatal("page still translates after RecycleDataPages")
	}
}

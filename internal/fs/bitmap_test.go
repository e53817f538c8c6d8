package fs

import (
	"testing"

	"github.com/rvcore/teachos/internal/blockdev"
)

func TestBitmapAllocLowestFirst(t *testing.T) {
	dev := blockdev.NewRam(0, 4)
	cache := NewCache(dev)
	bm := NewBitmap(0, 1)

	var got []int
	for i := 0; i < 5; i++ {
		idx, ok := bm.Alloc(cache)
		if !ok {
			t.Fatalf("alloc %d: bitmap unexpectedly full", i)
		}
		got = append(got, idx)
	}
	for i, idx := range got {
		if idx != i {
			t.Fatalf("alloc order = %v, want lowest-first 0..4", got)
		}
	}
}

func TestBitmapDeallocThenRealloc(t *testing.T) {
	dev := blockdev.NewRam(0, 4)
	cache := NewCache(dev)
	bm := NewBitmap(0, 1)

	a, _ := bm.Alloc(cache)
	b, _ := bm.Alloc(cache)
	bm.Dealloc(cache, a)

	next, ok := bm.Alloc(cache)
	if !ok || next != a {
		t.Fatalf("alloc after dealloc = %d, want freed bit %d to be reused", next, a)
	}
	if b == a {
		t.Fatalf("bitmap allocated the same bit twice")
	}
}

func TestBitmapDeallocUnallocatedPanics(t *testing.T) {
	dev := blockdev.NewRam(0, 4)
	cache := NewCache(dev)
	bm := NewBitmap(0, 1)

	defer func() {
		if recover() == nil {
			t.Fatal("Dealloc of an unallocated bit did not panic")
		}
	}()
	bm.Dealloc(cache, 5)
}

func TestBitmapMaxBits(t *testing.T) {
	bm := NewBitmap(0, 2)
	if got, want := bm.MaxBits(), 2*bitsPerBlock; got != want {
		t.Fatalf("MaxBits() = %d, want %d", got, want)
	}
}

func TestBitmapExhaustion(t *testing.T) {
	dev := blockdev.NewRam(0, 1)
	cache := NewCache(dev)
	bm := NewBitmap(0, 1)

	for i := 0; i < bm.MaxBits(); i++ {
		if _, ok := bm.Alloc(cache); !ok {
			t.Fatalf("alloc %d: bitmap full before exhausting MaxBits=%d", i, bm.MaxBits())
		}
	}
	if _, ok := bm.Alloc(cache); ok {
		t.Fatal("alloc succeeded past MaxBits capacity")
	}
}

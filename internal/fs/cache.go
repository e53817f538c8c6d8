package fs

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/rvcore/teachos/internal/blockdev"
)

// CacheSize is the bounded LRU capacity (K in spec.md §4.4).
const CacheSize = 16

// block is one buffered disk block: bytes, dirty flag, and an
// outstanding-handle count. A block is evictable exactly when no
// outstanding Handle references it (refs==0) — the Go equivalent of the
// source's Arc::strong_count(&pair.1) == 1 test, offset by one since Go
// has no implicit manager-owned reference to count.
type block struct {
	mu    sync.Mutex
	id    int
	data  [blockdev.BlockSize]byte
	dirty bool
	refs  int
}

// Handle is a shared reference to a cached block, returned by Cache.Get.
// Callers must call Release when done; the handle's block is written
// back to the device, at latest, when it is evicted or the cache is
// closed.
type Handle struct {
	cache *Cache
	blk   *block
}

// Cache is the process-wide, lock-serialized, bounded LRU block buffer
// described in spec.md §4.4, grounded on the source's BlockCacheManager
// (a bounded VecDeque of block_id->Arc<Mutex<BlockCache>> pairs) and on
// biscuit's Bdev_block_t for the read/write/evict vocabulary.
type Cache struct {
	mu     sync.Mutex
	dev    blockdev.Device
	order  []*block // LRU order, oldest first; front is least-recently-used
	byID   map[int]*block
}

// NewCache constructs an empty block cache over dev.
func NewCache(dev blockdev.Device) *Cache {
	return &Cache{dev: dev, byID: map[int]*block{}}
}

// Get returns a shared handle on block id, reading it from the device on
// a cache miss. If the cache is full, an entry with no outstanding
// handles is evicted (writing it back first if dirty); Get panics if
// every entry is pinned, matching spec.md §7's "resource exhaustion:
// fail-fast" policy for a fully-pinned cache.
func (c *Cache) Get(id int) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.byID[id]; ok {
		b.refs++
		c.touch(b)
		return &Handle{cache: c, blk: b}
	}

	if len(c.order) >= CacheSize {
		if !c.evictLocked() {
			panic("fs: block cache full, no evictable entry")
		}
	}

	b := &block{id: id}
	var buf [blockdev.BlockSize]byte
	c.dev.ReadBlock(id, &buf)
	b.data = buf
	b.refs = 1
	c.byID[id] = b
	c.order = append(c.order, b)
	return &Handle{cache: c, blk: b}
}

// touch moves b to the back (most-recently-used) position.
func (c *Cache) touch(b *block) {
	for i, e := range c.order {
		if e == b {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, b)
}

// evictLocked scans oldest-first for a block with no outstanding
// handles and removes it, writing it back first if dirty. c.mu must be
// held. Returns false if nothing is evictable.
func (c *Cache) evictLocked() bool {
	for i, b := range c.order {
		if b.refs == 0 {
			c.writebackLocked(b)
			c.order = append(c.order[:i], c.order[i+1:]...)
			delete(c.byID, b.id)
			return true
		}
	}
	return false
}

func (c *Cache) writebackLocked(b *block) {
	if !b.dirty {
		return
	}
	buf := b.data
	c.dev.WriteBlock(b.id, &buf)
	b.dirty = false
}

// Release drops this handle. It does not itself force a write-back;
// the block is written back, at latest, when it is evicted or the
// cache is closed (spec.md §4.4/§8).
func (h *Handle) Release() {
	h.cache.mu.Lock()
	defer h.cache.mu.Unlock()
	if h.blk.refs == 0 {
		panic("fs: over-release of block cache handle")
	}
	h.blk.refs--
}

// Close writes back every dirty block still in the cache, the
// process-shutdown analogue of every remaining BlockCache being
// dropped.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range c.order {
		c.writebackLocked(b)
	}
}

// bytesAt returns a pointer to a T occupying offset..offset+sizeof(T)
// within the block, the unsafe cast the source's get_ref/get_mut use to
// reinterpret raw block bytes as a typed struct.
func bytesAt[T any](b *block, offset int) *T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if offset < 0 || offset+size > blockdev.BlockSize {
		panic(fmt.Sprintf("fs: block offset %d+%d out of range", offset, size))
	}
	return (*T)(unsafe.Pointer(&b.data[offset]))
}

// unsafeBytes reinterprets a pointer to a fixed-layout struct as a byte
// slice over the same memory, the ReadAt/WriteAt-facing counterpart to
// bytesAt.
func unsafeBytes[T any](v *T) []byte {
	var zero T
	size := int(unsafe.Sizeof(zero))
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), size)
}

// Read invokes f with a read-only view of the T at offset within the
// handle's block and returns f's result.
func Read[T any, V any](h *Handle, offset int, f func(*T) V) V {
	h.blk.mu.Lock()
	defer h.blk.mu.Unlock()
	return f(bytesAt[T](h.blk, offset))
}

// Modify invokes f with a mutable view of the T at offset, marks the
// block dirty, and returns f's result.
func Modify[T any, V any](h *Handle, offset int, f func(*T) V) V {
	h.blk.mu.Lock()
	defer h.blk.mu.Unlock()
	h.blk.dirty = true
	return f(bytesAt[T](h.blk, offset))
}

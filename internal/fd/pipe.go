package fd

import (
	"sync"

	"github.com/rvcore/teachos/internal/fs"
)

// Yield is called by a blocking Pipe/Mailbox read or write while it
// waits for the other end, the Go stand-in for the source's
// suspend_current_and_run_next() (os/src/fs/pipe.rs calls it directly
// the same way: a leaf fs module reaching into the scheduler rather
// than taking it as a parameter). task.WireYield points it at
// runtime.Gosched; until then it is a busy no-op, so fd is usable
// standalone in tests.
var Yield func() = func() {}

const ringBufferSize = 32

type ringStatus int

const (
	ringEmpty ringStatus = iota
	ringFull
	ringNormal
)

// pipeRing is the shared 32-byte ring buffer behind one pipe's read and
// write ends, grounded on PipeRingBuffer (os/src/fs/pipe.rs).
type pipeRing struct {
	mu            sync.Mutex
	arr           [ringBufferSize]byte
	head, tail    int
	status        ringStatus
	writeEndsOpen int
}

func (r *pipeRing) availableRead() int {
	if r.status == ringEmpty {
		return 0
	}
	if r.tail > r.head {
		return r.tail - r.head
	}
	return r.tail + ringBufferSize - r.head
}

func (r *pipeRing) availableWrite() int {
	if r.status == ringFull {
		return 0
	}
	return ringBufferSize - r.availableRead()
}

func (r *pipeRing) readByte() byte {
	c := r.arr[r.head]
	r.head = (r.head + 1) % ringBufferSize
	if r.head == r.tail {
		r.status = ringEmpty
	} else {
		r.status = ringNormal
	}
	return c
}

func (r *pipeRing) writeByte(b byte) {
	r.arr[r.tail] = b
	r.tail = (r.tail + 1) % ringBufferSize
	if r.tail == r.head {
		r.status = ringFull
	} else {
		r.status = ringNormal
	}
}

// Pipe is one end of an anonymous pipe. Matches the source's Pipe.
type Pipe struct {
	readable bool
	writable bool
	ring     *pipeRing
}

// MakePipe constructs a connected read/write pipe pair, matching
// make_pipe.
func MakePipe() (read, write *Pipe) {
	r := &pipeRing{writeEndsOpen: 1}
	return &Pipe{readable: true, ring: r}, &Pipe{writable: true, ring: r}
}

func (p *Pipe) Readable() bool { return p.readable }
func (p *Pipe) Writable() bool { return p.writable }

// Read blocks until at least one byte is available or every write end
// has closed, matching Pipe::read's loop.
func (p *Pipe) Read(buf []byte) int {
	if !p.readable {
		panic("fd: read of non-readable pipe end")
	}
	read := 0
	for {
		p.ring.mu.Lock()
		avail := p.ring.availableRead()
		if avail == 0 {
			closed := p.ring.writeEndsOpen == 0
			p.ring.mu.Unlock()
			if closed {
				return read
			}
			Yield()
			continue
		}
		for i := 0; i < avail; i++ {
			if read >= len(buf) {
				p.ring.mu.Unlock()
				return read
			}
			buf[read] = p.ring.readByte()
			read++
		}
		p.ring.mu.Unlock()
		if read > 0 {
			return read
		}
	}
}

// Write blocks, dropping the lock and yielding whenever the ring is full,
// until every byte of buf is written, matching Pipe::write's loop.
func (p *Pipe) Write(buf []byte) int {
	if !p.writable {
		panic("fd: write of non-writable pipe end")
	}
	written := 0
	for {
		p.ring.mu.Lock()
		avail := p.ring.availableWrite()
		if avail == 0 {
			p.ring.mu.Unlock()
			Yield()
			continue
		}
		for i := 0; i < avail; i++ {
			if written >= len(buf) {
				p.ring.mu.Unlock()
				return written
			}
			p.ring.writeByte(buf[written])
			written++
		}
		p.ring.mu.Unlock()
		if written >= len(buf) {
			return written
		}
	}
}

func (p *Pipe) Fstat() (fs.Stat, bool) { return fs.Stat{}, false }

// Dup duplicates this end, incrementing the ring's open-write-ends
// count if this is a write end.
func (p *Pipe) Dup() File {
	if p.writable {
		p.ring.mu.Lock()
		p.ring.writeEndsOpen++
		p.ring.mu.Unlock()
	}
	return &Pipe{readable: p.readable, writable: p.writable, ring: p.ring}
}

// Close marks a write end closed, letting readers observe EOF once the
// buffer drains, the Go stand-in for the write Arc's refcount reaching
// zero.
func (p *Pipe) Close() {
	if !p.writable {
		return
	}
	p.ring.mu.Lock()
	defer p.ring.mu.Unlock()
	p.ring.writeEndsOpen--
}

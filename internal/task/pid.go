package task

import "sync"

// PidHandle owns one pid, returning it to the allocator on Release, the
// same free-list-plus-bump-cursor shape as mem.Allocator (grounded on
// the source's PidAllocator, os/src/task/pid.rs).
type PidHandle struct {
	alloc   *PidAllocator
	pid     int
	released bool
}

func (h *PidHandle) Pid() int { return h.pid }

// Release returns the pid to the allocator. Safe to call at most once.
func (h *PidHandle) Release() {
	if h.released {
		panic("task: double release of pid")
	}
	h.released = true
	h.alloc.dealloc(h.pid)
}

// PidAllocator hands out small integer pids, reusing released ones.
type PidAllocator struct {
	mu       sync.Mutex
	cursor   int
	freelist []int
}

// NewPidAllocator constructs an allocator starting at pid 0.
func NewPidAllocator() *PidAllocator { return &PidAllocator{} }

func (a *PidAllocator) Alloc() *PidHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.freelist); n > 0 {
		pid := a.freelist[n-1]
		a.freelist = a.freelist[:n-1]
		return &PidHandle{alloc: a, pid: pid}
	}
	pid := a.cursor
	a.cursor++
	return &PidHandle{alloc: a, pid: pid}
}

func (a *PidAllocator) dealloc(pid int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.freelist {
		if p == pid {
			panic("task: double free of pid")
		}
	}
	a.freelist = append(a.freelist, pid)
}

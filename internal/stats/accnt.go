// Package stats holds the per-task accounting data spec.md's PCB section
// doesn't name explicitly but a complete scheduler needs to report: how
// much user and system time each task has burned, in a shape a host-side
// tool can convert to a pprof profile. Grounded on biscuit's
// accnt.Accnt_t (biscuit/src/accnt/accnt.go).
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt accumulates one task's user/system time, in nanoseconds.
type Accnt struct {
	UserNS int64
	SysNS  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta int64) {
	atomic.AddInt64(&a.UserNS, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta int64) {
	atomic.AddInt64(&a.SysNS, delta)
}

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt) Now() int64 {
	return time.Now().UnixNano()
}

// IoTime removes time spent waiting for I/O from system time, given when
// the wait began (a Now() timestamp).
func (a *Accnt) IoTime(since int64) {
	a.Systadd(since - a.Now())
}

// Snapshot returns a consistent (UserNS, SysNS) pair under the lock.
func (a *Accnt) Snapshot() (userNS, sysNS int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return atomic.LoadInt64(&a.UserNS), atomic.LoadInt64(&a.SysNS)
}

package task

import (
	"sync"

	"github.com/rvcore/teachos/internal/fd"
	"github.com/rvcore/teachos/internal/mem"
	"github.com/rvcore/teachos/internal/sched"
	"github.com/rvcore/teachos/internal/stats"
	"github.com/rvcore/teachos/internal/vm"
)

// Status is one of {Ready, Running, Zombie}, spec.md §3.
type Status int

const (
	Ready Status = iota
	Running
	Zombie
)

// PCB is the process control block described in spec.md §3: immutable
// pid/kernel-stack, and a lock-guarded mutable core covering
// everything else. Grounded on the source's TaskControlBlock
// (os/src/task/task.rs) widened to the fork/exec/spawn/wait shape the
// spec requires, and on biscuit's Proc_t for the parent/children/
// fd-table vocabulary.
type PCB struct {
	pid        *PidHandle
	kernelTop  uint64 // top of this task's kernel stack, a fixed VA per pid slot

	mu         sync.Mutex
	status     Status
	space      *vm.MemorySet
	trapCxPPN  mem.PPN
	taskCx     Context
	parent     *PCB // weak back-reference; never owns
	children   []*PCB
	exitCode   int
	stride     uint64
	priority   int
	fds        *fd.Table
	mailbox    *fd.Mailbox
	accnt      *stats.Accnt
	resumedAt  int64 // Accnt.Now() timestamp of the last switch into Running
}

// Stride, SetStride, Priority implement sched.Item so a *PCB can be
// pushed directly onto a sched.Queue.
func (p *PCB) Stride() uint64     { p.mu.Lock(); defer p.mu.Unlock(); return p.stride }
func (p *PCB) SetStride(s uint64) { p.mu.Lock(); defer p.mu.Unlock(); p.stride = s }
func (p *PCB) Priority() int      { p.mu.Lock(); defer p.mu.Unlock(); return p.priority }

// SetPriority installs a new priority, already validated by the caller
// (spec.md §9: priority < 2 is rejected outright, not clamped).
func (p *PCB) SetPriority(prio int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = prio
}

var _ sched.Item = (*PCB)(nil)

func (p *PCB) Pid() int { return p.pid.Pid() }

func (p *PCB) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *PCB) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// Space returns the task's address space.
func (p *PCB) Space() *vm.MemorySet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space
}

// Token returns the satp token of this task's address space.
func (p *PCB) Token() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.space.Token()
}

// Fds returns this task's file-descriptor table.
func (p *PCB) Fds() *fd.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fds
}

// Mailbox returns this task's mailbox, matching spec.md §5's
// per-process mailbox addressed by pid.
func (p *PCB) Mailbox() *fd.Mailbox {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mailbox
}

// Accnt returns this task's user/system time accounting record.
func (p *PCB) Accnt() *stats.Accnt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accnt
}

// MarkResumed stamps the instant this task was switched onto the
// processor, the reference point AccountUserTime measures back from.
// Matches the source's run_next_task taking a fresh time reading before
// returning control to user mode.
func (p *PCB) MarkResumed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumedAt = p.accnt.Now()
}

// AccountUserTime credits the elapsed time since MarkResumed to this
// task's user-time counter. Called once per trap, on the assumption that
// everything between a task being resumed and its next trap ran in user
// mode — there is no separate kernel-mode preemption point to split on
// in this host simulation.
func (p *PCB) AccountUserTime() {
	p.mu.Lock()
	since := p.resumedAt
	a := p.accnt
	p.mu.Unlock()
	a.Utadd(a.Now() - since)
}

// Parent returns the parent PCB, or nil if this is the init process.
func (p *PCB) Parent() *PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

// Children returns a snapshot of the current children slice.
func (p *PCB) Children() []*PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PCB, len(p.children))
	copy(out, p.children)
	return out
}

// ExitCode returns the exit code a Zombie task recorded.
func (p *PCB) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// TrapContext returns a pointer into the task's trap-context page,
// the Go equivalent of get_trap_cx's raw pointer cast into the
// physical frame backing TRAP_CONTEXT.
func (p *PCB) TrapContext(alloc *mem.Allocator) *TrapContext {
	p.mu.Lock()
	ppn := p.trapCxPPN
	p.mu.Unlock()
	return trapContextAt(alloc, ppn)
}

func trapContextAt(alloc *mem.Allocator, ppn mem.PPN) *TrapContext {
	b := alloc.Bytes(ppn)
	return (*TrapContext)(bytesPtr(b))
}

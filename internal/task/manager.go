package task

import (
	"encoding/binary"
	"sync"

	"github.com/rvcore/teachos/internal/fd"
	"github.com/rvcore/teachos/internal/mem"
	"github.com/rvcore/teachos/internal/sbi"
	"github.com/rvcore/teachos/internal/sched"
	"github.com/rvcore/teachos/internal/stats"
	"github.com/rvcore/teachos/internal/vm"
)

// wordSize is the argv-serialization unit, a RISC-V64 usize.
const wordSize = 8

// Manager owns every process-lifetime singleton spec.md §9 names:
// the frame allocator, the kernel address space, the pid allocator,
// the ready queue, and the init process — grounded on the source's
// scattered lazy_static globals (KERNEL_SPACE, PID_ALLOCATOR,
// TASK_MANAGER, INITPROC) collapsed into one Go value initialized by
// its constructor instead of on first access.
type Manager struct {
	mu sync.Mutex

	alloc         *mem.Allocator
	kernelSpace   *vm.MemorySet
	trampolinePPN mem.PPN
	console       sbi.Console

	pids  *PidAllocator
	queue *sched.Queue
	proc  *sched.Processor[*PCB]

	init *PCB
	all  map[int]*PCB
}

// NewManager builds the kernel's own address space over alloc and
// returns a Manager ready to admit tasks. trampolinePPN is the single
// physical frame holding the trampoline code, shared read-only/
// executable by every address space.
func NewManager(alloc *mem.Allocator, layout vm.KernelLayout, trampolinePPN mem.PPN, console sbi.Console) *Manager {
	q := sched.NewQueue()
	return &Manager{
		alloc:         alloc,
		kernelSpace:   vm.NewKernelSpace(alloc, layout, trampolinePPN),
		trampolinePPN: trampolinePPN,
		console:       console,
		pids:          NewPidAllocator(),
		queue:         q,
		proc:          sched.NewProcessor[*PCB](q),
		all:           map[int]*PCB{},
	}
}

// NewTask builds a fresh PCB running elfData from scratch (no parent
// memory to copy), matching TaskControlBlock::new generalized with a
// parent argument (nil for the init process). priority defaults to 16,
// matching the source's Default impl.
func (m *Manager) NewTask(elfData []byte, parent *PCB) (*PCB, error) {
	space, userSP, entry, err := vm.NewFromELF(m.alloc, elfData, m.trampolinePPN)
	if err != nil {
		return nil, err
	}
	pid := m.pids.Alloc()

	m.mu.Lock()
	bottom, top := vm.KernelStackVPNRange(pid.Pid())
	m.kernelSpace.InsertFramedArea(bottom, top, vm.FlagR|vm.FlagW)
	m.mu.Unlock()
	kernelTop := uint64(top) << mem.PageShift

	trapCxVPN := vm.VPN(vm.TrapContextVA() / mem.PageSize)
	pte, ok := space.Translate(trapCxVPN)
	if !ok {
		panic("task: new task has no trap-context mapping")
	}

	p := &PCB{
		pid:       pid,
		kernelTop: kernelTop,
		status:    Ready,
		space:     space,
		trapCxPPN: pte.PPN(),
		taskCx:    GotoTrapReturn(kernelTop, vm.TrampolineVA()),
		parent:    parent,
		priority:  16,
		fds:       fd.NewTable(fd.NewStdin(m.console), fd.NewStdout(m.console)),
		mailbox:   fd.NewMailbox(),
		accnt:     &stats.Accnt{},
	}

	cx := p.TrapContext(m.alloc)
	cx.InitUser(entry, userSP, m.kernelSpace.Token(), kernelTop, 0)
	p.MarkResumed() // a sane baseline before this task's first Schedule

	m.mu.Lock()
	m.all[p.Pid()] = p
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, p)
		parent.mu.Unlock()
	} else if m.init == nil {
		m.init = p
	}
	m.mu.Unlock()

	m.queue.Push(p)
	return p, nil
}

// Init returns the init process, reparenting target for Exit.
func (m *Manager) Init() *PCB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.init
}

// Lookup returns the PCB for pid, if it still exists.
func (m *Manager) Lookup(pid int) (*PCB, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.all[pid]
	return p, ok
}

// Fork clones parent into a new child PCB: a private copy of its
// address space, a duplicated fd-table, and its own pid/kernel stack.
// Matches TaskControlBlock::fork widened with the fd-table clone
// spec.md §4.10 calls for. The child's trap-context a0 (x[10]) is left
// at the parent's value; syscall dispatch sets it to 0 before resuming
// the child, per spec.md §4.10's "child's trap-context a0 register is
// set to 0 by caller".
func (m *Manager) Fork(parent *PCB) *PCB {
	parent.mu.Lock()
	space := vm.FromExistedUser(m.alloc, parent.space)
	fds := parent.fds.Fork()
	priority := parent.priority
	parent.mu.Unlock()

	pid := m.pids.Alloc()
	m.mu.Lock()
	bottom, top := vm.KernelStackVPNRange(pid.Pid())
	m.kernelSpace.InsertFramedArea(bottom, top, vm.FlagR|vm.FlagW)
	m.mu.Unlock()
	kernelTop := uint64(top) << mem.PageShift

	trapCxVPN := vm.VPN(vm.TrapContextVA() / mem.PageSize)
	pte, ok := space.Translate(trapCxVPN)
	if !ok {
		panic("task: forked task has no trap-context mapping")
	}

	child := &PCB{
		pid:       pid,
		kernelTop: kernelTop,
		status:    Ready,
		space:     space,
		trapCxPPN: pte.PPN(),
		taskCx:    GotoTrapReturn(kernelTop, vm.TrampolineVA()),
		parent:    parent,
		priority:  priority,
		fds:       fds,
		mailbox:   fd.NewMailbox(),
		accnt:     &stats.Accnt{},
	}
	*child.TrapContext(m.alloc) = *parent.TrapContext(m.alloc)
	child.TrapContext(m.alloc).KernelSP = kernelTop
	child.MarkResumed() // a sane baseline before this task's first Schedule

	m.mu.Lock()
	m.all[child.Pid()] = child
	m.mu.Unlock()
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	m.queue.Push(child)
	return child
}

// Exec replaces cur's address space and trap context in place with a
// freshly built one from elfData, serializing args onto the new user
// stack per spec.md §4.10. Returns the argc passed (also written to
// a0) so callers building the trap-context return value don't need to
// recompute it.
func (m *Manager) Exec(cur *PCB, elfData []byte, args []string) int {
	space, userSP, entry, err := vm.NewFromELF(m.alloc, elfData, m.trampolinePPN)
	if err != nil {
		panic("task: exec of malformed ELF: " + err.Error())
	}

	argc := len(args)
	userSP -= uint64(argc+1) * wordSize
	argvBase := userSP
	argvPtrs := make([]uint64, argc+1)

	for i := argc - 1; i >= 0; i-- {
		userSP -= uint64(len(args[i]) + 1)
		argvPtrs[i] = userSP
		buf := append([]byte(args[i]), 0)
		space.WriteBytesAt(userSP, buf)
	}
	userSP -= userSP % wordSize // align down to word boundary

	ptrBytes := make([]byte, (argc+1)*wordSize)
	for i, p := range argvPtrs {
		binary.LittleEndian.PutUint64(ptrBytes[i*wordSize:], p)
	}
	space.WriteBytesAt(argvBase, ptrBytes)

	trapCxVPN := vm.VPN(vm.TrapContextVA() / mem.PageSize)
	pte, ok := space.Translate(trapCxVPN)
	if !ok {
		panic("task: exec'd task has no trap-context mapping")
	}

	cur.mu.Lock()
	cur.space = space
	cur.trapCxPPN = pte.PPN()
	kernelTop := cur.kernelTop
	cur.mu.Unlock()

	cx := cur.TrapContext(m.alloc)
	cx.InitUser(entry, userSP, m.kernelSpace.Token(), kernelTop, 0)
	cx.X[10] = uint64(argc)
	cx.X[11] = argvBase
	return argc
}

// Spawn creates a new PCB parented to parent with a fresh address
// space built straight from elfData — no parent-memory copy, matching
// spec.md §4.10's spawn (as distinct from fork+exec).
func (m *Manager) Spawn(parent *PCB, elfData []byte) (*PCB, error) {
	return m.NewTask(elfData, parent)
}

// Exit transitions cur to Zombie, records code, reparents its children
// to the init process, drops its framed pages immediately, and closes
// its descriptors; it does not touch the ready queue. The PCB itself
// stays alive (in m.all) for a
// parent's Waitpid to reap. Matches exit_current_and_run_next widened
// with explicit reparenting (spec.md §4.10, §9).
func (m *Manager) Exit(cur *PCB, code int) {
	cur.mu.Lock()
	cur.status = Zombie
	cur.exitCode = code
	children := cur.children
	cur.children = nil
	cur.space.RecycleDataPages()
	cur.mu.Unlock()

	cur.fds.CloseAll()

	init := m.Init()
	for _, c := range children {
		c.mu.Lock()
		c.parent = init
		c.mu.Unlock()
		if init != nil {
			init.mu.Lock()
			init.children = append(init.children, c)
			init.mu.Unlock()
		}
	}
}

// Waitpid implements spec.md §4.10's contract: pid=-1 matches any
// zombie child; otherwise the specific pid. Returns (-1, 0) when no
// child matches at all, (-2, 0) when a matching child exists but none
// is a zombie yet, or (childPid, exitCode) on success. On success
// Waitpid has already reaped the child: it is removed from parent's
// children and from the manager, and its pid is released.
func (m *Manager) Waitpid(parent *PCB, pid int) (int, int) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	found := false
	for i, c := range parent.children {
		if pid != -1 && c.Pid() != pid {
			continue
		}
		found = true
		if c.Status() == Zombie {
			code := c.ExitCode()
			childPid := c.Pid()
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			m.reap(c)
			return childPid, code
		}
	}
	if !found {
		return -1, 0
	}
	return -2, 0
}

func (m *Manager) reap(p *PCB) {
	m.mu.Lock()
	delete(m.all, p.Pid())
	m.mu.Unlock()
	p.pid.Release()
}

// Suspend moves cur back onto the ready queue with Ready status,
// matching mark_current_suspended.
func (m *Manager) Suspend(cur *PCB) {
	cur.SetStatus(Ready)
	m.queue.Push(cur)
}

// Schedule pops and installs the next task to run, matching
// run_next_task minus the assembly switch this host simulation has no
// use for.
func (m *Manager) Schedule() (*PCB, bool) {
	p, ok := m.proc.Schedule()
	if ok {
		p.SetStatus(Running)
		p.MarkResumed()
	}
	return p, ok
}

// Current returns the currently scheduled task, if any.
func (m *Manager) Current() (*PCB, bool) {
	return m.proc.Current()
}

// KernelSpace returns the kernel's own address space.
func (m *Manager) KernelSpace() *vm.MemorySet { return m.kernelSpace }

// Alloc returns the frame allocator backing every address space and trap
// context this Manager owns, for callers (trap dispatch) that need to
// reach a PCB's TrapContext directly.
func (m *Manager) Alloc() *mem.Allocator { return m.alloc }

// Snapshot returns an accounting dump of every still-registered task
// (running, ready, or not-yet-reaped zombie), the value stats.WriteJSON
// serializes into the format cmd/profdump reads. No syscall exposes it.
func (m *Manager) Snapshot() stats.Dump {
	m.mu.Lock()
	tasks := make([]*PCB, 0, len(m.all))
	for _, p := range m.all {
		tasks = append(tasks, p)
	}
	m.mu.Unlock()

	d := stats.Dump{Samples: make([]stats.Sample, 0, len(tasks))}
	for _, p := range tasks {
		userNS, sysNS := p.Accnt().Snapshot()
		d.Samples = append(d.Samples, stats.Sample{
			Pid:      p.Pid(),
			Priority: p.Priority(),
			Stride:   p.Stride(),
			UserNS:   userNS,
			SysNS:    sysNS,
		})
	}
	return d
}

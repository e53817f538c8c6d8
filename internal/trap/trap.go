// Package trap implements the user/kernel boundary of spec.md §4.11:
// syscall dispatch and the disposition of faults taken in user mode.
// The assembly entry stubs that actually save/restore registers on a
// real hart (__alltraps/__restore) are outside this module's scope
// (spec.md §1); this package picks up from the already-decoded
// TrapContext a real trap_handler would have in hand.
package trap

import (
	"github.com/rvcore/teachos/internal/sbi"
	"github.com/rvcore/teachos/internal/task"
)

// Cause enumerates the trap causes trap_handler discriminates on,
// grounded on the source's scause::Trap match (os/src/trap/mod.rs).
type Cause int

const (
	UserEnvCall Cause = iota
	LoadFault
	StoreFault
	PageFault
	IllegalInstruction
	SupervisorTimer
)

// Handler ties a task.Manager and a Dispatcher together to decide what
// happens on each trap.
type Handler struct {
	M    *task.Manager
	Disp *Dispatcher
	Con  sbi.Console
}

// NewHandler builds a trap Handler over m, dispatching syscalls via
// disp and the timer/console via con.
func NewHandler(m *task.Manager, disp *Dispatcher, con sbi.Console) *Handler {
	return &Handler{M: m, Disp: disp, Con: con}
}

// Handle processes one trap taken by cur while it was running, mutating
// cx in place. It returns false when Handle itself ended cur's turn: a
// fault terminated it (exit_current_and_run_next's fault paths) or a
// timer interrupt put it back on the ready queue. Every syscall returns
// true, whatever the syscall did to cur's status (after sys_exit cur is
// a Zombie).
func (h *Handler) Handle(cur *task.PCB, cause Cause, cx *task.TrapContext) bool {
	// Everything since the task was last resumed ran in user mode; charge
	// it before spending any time servicing the trap itself, matching the
	// source's Accnt_t split between Userns and Sysns.
	cur.AccountUserTime()
	sysStart := cur.Accnt().Now()
	defer func() {
		cur.Accnt().Systadd(cur.Accnt().Now() - sysStart)
	}()

	switch cause {
	case UserEnvCall:
		cx.Sepc += 4
		scno := cx.X[17]
		args := [6]uint64{cx.X[10], cx.X[11], cx.X[12], cx.X[13], cx.X[14], cx.X[15]}
		ret := h.Disp.Dispatch(cur, scno, args)
		cx.X[10] = uint64(ret)
		return true

	case LoadFault, StoreFault, PageFault:
		h.M.Exit(cur, -2)
		return false

	case IllegalInstruction:
		h.M.Exit(cur, -3)
		return false

	case SupervisorTimer:
		h.Con.SetTimer(0) // deadline 0: no next trigger is computed here or anywhere else in this repository
		h.M.Suspend(cur)
		return false

	default:
		panic("trap: unsupported trap cause")
	}
}

package task

import (
	"runtime"

	"github.com/rvcore/teachos/internal/fd"
)

// WireYield installs fd.Yield, resolving the deliberate decoupling
// between fd's blocking pipe/mailbox loops and the scheduler: fd must
// not import task (task already imports fd for the per-PCB descriptor
// table), so fd exposes a package-level hook instead and leaves it a
// busy no-op until something wires it up.
//
// A real suspend_current_and_run_next swaps to another task's saved
// register context via assembly; this host simulation has no such
// context to switch to, so runtime.Gosched stands in for it, letting
// whichever goroutine holds the other end of the pipe or mailbox run.
// This is the same substitutable-yieldFn shape as gopher-os's Spinlock
// (kernel/sync/spinlock.go), which defaults to a busy spin and lets
// tests swap in runtime.Gosched.
func WireYield() {
	fd.Yield = runtime.Gosched
}

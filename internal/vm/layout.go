package vm

import "github.com/rvcore/teachos/internal/mem"

// Sv39 addresses only use the low 39 bits; the top virtual page holds
// the trampoline in every address space, and the page just below it
// holds that process's trap context, both above the user stack — the
// fixed layout spec.md's MemorySet section calls for.
const (
	vaBits     = 39
	maxVPN     = VPN((uint64(1) << (vaBits - mem.PageShift)) - 1)
	Trampoline = maxVPN
	TrapCtxVPN = maxVPN - 1
)

// UserStackPages is the number of pages backing a new process's user
// stack, matching the source's USER_STACK_SIZE = PAGE_SIZE (one page).
const UserStackPages = 1

// TrampolineVA and TrapContextVA give the byte addresses of the fixed
// trampoline/trap-context pages, for code that needs the raw VA rather
// than the page number (trap_return, __restore, Userdmap-style lookups).
func TrampolineVA() uint64 { return uint64(Trampoline) << mem.PageShift }
func TrapContextVA() uint64 { return uint64(TrapCtxVPN) << mem.PageShift }

// KernelStackPages is the per-task kernel stack size in pages, matching
// KERNEL_STACK_SIZE.
const KernelStackPages = 2

// KernelStackVPNRange returns the [bottom, top) VPN range of the id'th
// task's kernel stack within kernel space, each stack separated from
// its neighbors by one unmapped guard page, matching
// kernel_stack_position (os/src/config.rs).
func KernelStackVPNRange(id int) (bottom, top VPN) {
	top = Trampoline - VPN(id*(KernelStackPages+1))
	bottom = top - KernelStackPages
	return
}

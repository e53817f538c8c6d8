package task

// TrapContext is the user-mode register snapshot saved at the
// trap-context page on user→kernel entry, per spec.md §3. The assembly
// trap stubs (__alltraps/__restore) that actually populate and consume
// it live outside this module's scope (spec.md §1); here it is the
// data record trap dispatch reads and writes.
type TrapContext struct {
	X          [32]uint64 // general registers x0..x31
	Sstatus    uint64
	Sepc       uint64
	KernelSatp uint64
	KernelSP   uint64
	TrapHandler uint64
}

// InitUser fills cx for a freshly built user task, matching
// TrapContext::app_init_context.
func (cx *TrapContext) InitUser(entry, userSP, kernelSatp, kernelSP, trapHandler uint64) {
	*cx = TrapContext{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	cx.X[2] = userSP // sp
}

// Context is the callee-saved register block __switch saves/restores
// across a context switch, matching TaskContext (os/src/task/context.rs).
// Since this module has no real assembly switch to drive (spec.md §9),
// it is carried as an opaque placeholder so PCB's shape matches the
// spec's data model field-for-field; task scheduling here operates on
// the PCB's Status/Stride fields directly rather than this register
// block.
type Context struct {
	RA   uint64
	SP   uint64
	S    [12]uint64
}

// GotoTrapReturn builds the initial Context for a new task, whose first
// "return" lands in trap_return, matching TaskContext::goto_trap_return.
func GotoTrapReturn(kernelSP, trapReturnEntry uint64) Context {
	return Context{RA: trapReturnEntry, SP: kernelSP}
}

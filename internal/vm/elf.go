package vm

import (
	"bytes"
	"debug/elf"

	"github.com/rvcore/teachos/internal/mem"
)

// elfFlagsToPerm maps an ELF program-header's R/W/X flags onto PTEFlags,
// adding U since every ELF-derived segment lives in user space.
func elfFlagsToPerm(f elf.ProgFlag) Perm {
	var p Perm = FlagU
	if f&elf.PF_R != 0 {
		p |= FlagR
	}
	if f&elf.PF_W != 0 {
		p |= FlagW
	}
	if f&elf.PF_X != 0 {
		p |= FlagX
	}
	return p
}

// NewFromELF parses a RISC-V ELF image's PT_LOAD segments into framed
// areas, then appends a guard page, a user stack, the trap-context page,
// and the trampoline, returning the assembled address space together
// with the initial user stack pointer and entry point — the Go
// equivalent of the source's MemorySet::from_elf.
func NewFromELF(alloc *mem.Allocator, elfBytes []byte, trampolinePPN mem.PPN) (ms *MemorySet, userSP uint64, entry uint64, err error) {
	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, 0, 0, err
	}
	ms = NewEmpty(alloc)

	var highestVPN VPN
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		start := VPN(prog.Vaddr / mem.PageSize)
		end := VPN((prog.Vaddr + prog.Memsz + mem.PageSize - 1) / mem.PageSize)
		perm := elfFlagsToPerm(prog.Flags)
		data := make([]byte, prog.Memsz)
		if prog.Filesz > 0 {
			buf := make([]byte, prog.Filesz)
			if _, rerr := prog.ReadAt(buf, 0); rerr != nil {
				return nil, 0, 0, rerr
			}
			copy(data, buf)
		}
		ms.pushFramed(start, end, perm, data)
		if end > highestVPN {
			highestVPN = end
		}
	}

	// Guard page: the page right after the highest segment is left
	// unmapped, and no area is recorded for it.
	guardEnd := highestVPN + 1

	stackStart := guardEnd
	stackEnd := stackStart + UserStackPages
	ms.pushFramed(stackStart, stackEnd, FlagR|FlagW|FlagU, nil)
	userSP = uint64(stackEnd) << mem.PageShift

	// Trap context: framed, kernel-only (no U — only the trap handler
	// touches it directly via the direct map).
	ms.pushFramed(TrapCtxVPN, TrapCtxVPN+1, FlagR|FlagW, nil)

	ms.mapTrampoline(trampolinePPN)

	entry = f.Entry
	return ms, userSP, entry, nil
}

// mapTrampoline installs the fixed high-VA trampoline page as a Linear
// mapping (VA-PA=offset) onto the single physical trampoline frame
// shared read-only/executable by every address space.
func (ms *MemorySet) mapTrampoline(trampolinePPN mem.PPN) {
	offset := TrampolineVA() - trampolinePPN.Addr()
	ms.pushLinear(Trampoline, Trampoline+1, FlagR|FlagX, offset)
}

// KernelLayout names the four identity-mapped regions of kernel space,
// the Go stand-ins for the linker-provided .text/.rodata/.data/.bss
// symbols in the source's new_kernel.
type KernelLayout struct {
	TextStartVPN, TextEndVPN       VPN
	RodataStartVPN, RodataEndVPN   VPN
	DataStartVPN, DataEndVPN       VPN
	FreeStartVPN, FreeEndVPN       VPN // free physical frame region, R|W
}

// NewKernelSpace builds the kernel's address space: identity maps for
// .text (R|X), .rodata (R), .data/.bss and the free-frame region (R|W),
// plus the trampoline at its fixed high VA.
func NewKernelSpace(alloc *mem.Allocator, layout KernelLayout, trampolinePPN mem.PPN) *MemorySet {
	ms := NewEmpty(alloc)
	ms.pushIdentity(layout.TextStartVPN, layout.TextEndVPN, FlagR|FlagX)
	ms.pushIdentity(layout.RodataStartVPN, layout.RodataEndVPN, FlagR)
	ms.pushIdentity(layout.DataStartVPN, layout.DataEndVPN, FlagR|FlagW)
	ms.pushIdentity(layout.FreeStartVPN, layout.FreeEndVPN, FlagR|FlagW)
	ms.mapTrampoline(trampolinePPN)
	return ms
}

package trap

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/rvcore/teachos/internal/blockdev"
	"github.com/rvcore/teachos/internal/fd"
	"github.com/rvcore/teachos/internal/fs"
	"github.com/rvcore/teachos/internal/mem"
	"github.com/rvcore/teachos/internal/sbi"
	"github.com/rvcore/teachos/internal/task"
	"github.com/rvcore/teachos/internal/vm"
)

// buildMinimalELF64 assembles the smallest ELF64/RISC-V image
// vm.NewFromELF will parse, for tests that need a real task. No
// ELF-writing library exists in the reference pack, so it is hand-built
// with encoding/binary (debug/elf only reads).
func buildMinimalELF64(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}
	buf.Write(ident[:])
	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(uint16(elf.ET_EXEC))
	write16(uint16(elf.EM_RISCV))
	write32(1)
	write64(vaddr)
	write64(ehsize)
	write64(0)
	write32(0)
	write16(ehsize)
	write16(phsize)
	write16(1)
	write16(0)
	write16(0)
	write16(0)

	write32(uint32(elf.PT_LOAD))
	write32(uint32(elf.PF_R | elf.PF_X))
	write64(uint64(ehsize + phsize))
	write64(vaddr)
	write64(vaddr)
	write64(uint64(len(code)))
	write64(uint64(len(code)))
	write64(mem.PageSize)

	buf.Write(code)
	return buf.Bytes()
}

func testELF(t *testing.T) []byte {
	t.Helper()
	return buildMinimalELF64(t, 0x1000, bytes.Repeat([]byte{0x13, 0, 0, 0}, 4))
}

// testEnv bundles a Manager, its filesystem root, and a Dispatcher over
// both, the fixture every syscall test builds against.
type testEnv struct {
	m    *task.Manager
	root *fs.Inode
	disp *Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dev := blockdev.NewRam(0, 8192)
	cache := fs.NewCache(dev)
	efs := fs.Format(cache, 8192, 8192) // ratio=total gives exactly 1 inode-bitmap block
	root := fs.RootInode(efs)

	alloc := mem.NewAllocator(0, 8192)
	trampoline := alloc.Alloc()
	layout := vm.KernelLayout{
		TextStartVPN: 0, TextEndVPN: 4,
		RodataStartVPN: 4, RodataEndVPN: 8,
		DataStartVPN: 8, DataEndVPN: 16,
		FreeStartVPN: 16, FreeEndVPN: vm.VPN(8192),
	}
	con := sbi.NewLoopback()
	task.WireYield()
	m := task.NewManager(alloc, layout, trampoline.PPN(), con)

	return &testEnv{m: m, root: root, disp: NewDispatcher(m, root)}
}

func (e *testEnv) newTask(t *testing.T) *task.PCB {
	t.Helper()
	p, err := e.m.NewTask(testELF(t), nil)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	return p
}

// scratch reserves a fresh writable/readable user region far from the
// ELF/stack/trap-context/trampoline areas, for test-authored strings
// and buffers.
func scratch(t *testing.T, cur *task.PCB, base uint64, length int) {
	t.Helper()
	if _, ok := cur.Space().Alloc(int(base), length, vm.FlagR|vm.FlagW|vm.FlagU); !ok {
		t.Fatalf("failed to reserve scratch region at %#x", base)
	}
}

func writeCString(cur *task.PCB, va uint64, s string) {
	buf := append([]byte(s), 0)
	cur.Space().WriteUser(va, buf)
}

const (
	scratchBase = 0x100000
	scratchLen  = 0x10000
)

func TestDispatchOpenWriteReadClose(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)
	scratch(t, cur, scratchBase, scratchLen)

	pathVA := uint64(scratchBase)
	writeCString(cur, pathVA, "greet.txt")

	// a0 is the directory fd, which open ignores; path and flags follow.
	fdno := env.disp.Dispatch(cur, SysOpen, [6]uint64{0, pathVA, uint64(fd.Create | fd.ReadWrite)})
	if fdno < 0 {
		t.Fatalf("open with O_CREAT failed: errno %d", fdno)
	}

	bufVA := uint64(scratchBase + 0x1000)
	writeCString(cur, bufVA, "hello kernel")
	n := env.disp.Dispatch(cur, SysWrite, [6]uint64{uint64(fdno), bufVA, 12})
	if n != 12 {
		t.Fatalf("write returned %d, want 12", n)
	}

	if rc := env.disp.Dispatch(cur, SysClose, [6]uint64{uint64(fdno)}); rc != 0 {
		t.Fatalf("close returned %d, want 0", rc)
	}

	// reopen read-only and read back
	fdno2 := env.disp.Dispatch(cur, SysOpen, [6]uint64{0, pathVA, uint64(fd.ReadOnly)})
	if fdno2 < 0 {
		t.Fatalf("reopen failed: errno %d", fdno2)
	}
	readBufVA := uint64(scratchBase + 0x2000)
	n = env.disp.Dispatch(cur, SysRead, [6]uint64{uint64(fdno2), readBufVA, 12})
	if n != 12 {
		t.Fatalf("read returned %d, want 12", n)
	}
	got := cur.Space().ReadUser(readBufVA, 12)
	if string(got) != "hello kernel" {
		t.Fatalf("read back %q, want \"hello kernel\"", got)
	}
}

func TestDispatchOpenWithoutCreateOnMissingFileFails(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)
	scratch(t, cur, scratchBase, scratchLen)
	writeCString(cur, scratchBase, "nope")

	if rc := env.disp.Dispatch(cur, SysOpen, [6]uint64{0, scratchBase, uint64(fd.ReadOnly)}); rc >= 0 {
		t.Fatalf("open of a missing file without O_CREAT = %d, want negative errno", rc)
	}
}

func TestDispatchDupAndClose(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)

	nfd := env.disp.Dispatch(cur, SysDup, [6]uint64{1}) // dup stdout
	if nfd < 0 {
		t.Fatalf("dup(1) failed: %d", nfd)
	}
	if rc := env.disp.Dispatch(cur, SysClose, [6]uint64{uint64(nfd)}); rc != 0 {
		t.Fatalf("close of duplicated fd = %d, want 0", rc)
	}
	if rc := env.disp.Dispatch(cur, SysClose, [6]uint64{uint64(nfd)}); rc >= 0 {
		t.Fatalf("double close = %d, want negative errno", rc)
	}
}

func TestDispatchPipeWriteRead(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)
	scratch(t, cur, scratchBase, scratchLen)

	fdsVA := uint64(scratchBase)
	if rc := env.disp.Dispatch(cur, SysPipe, [6]uint64{fdsVA}); rc != 0 {
		t.Fatalf("pipe() returned %d, want 0", rc)
	}
	raw := cur.Space().ReadUser(fdsVA, 16)
	rfd := int64(raw[0])
	wfd := int64(raw[8])

	bufVA := uint64(scratchBase + 0x1000)
	writeCString(cur, bufVA, "piped")
	if n := env.disp.Dispatch(cur, SysWrite, [6]uint64{uint64(wfd), bufVA, 5}); n != 5 {
		t.Fatalf("pipe write = %d, want 5", n)
	}
	readVA := uint64(scratchBase + 0x2000)
	if n := env.disp.Dispatch(cur, SysRead, [6]uint64{uint64(rfd), readVA, 5}); n != 5 {
		t.Fatalf("pipe read = %d, want 5", n)
	}
	if got := cur.Space().ReadUser(readVA, 5); string(got) != "piped" {
		t.Fatalf("pipe round trip = %q, want \"piped\"", got)
	}
}

func TestDispatchGetPidSetPriority(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)

	if got := env.disp.Dispatch(cur, SysGetPid, [6]uint64{}); got != int64(cur.Pid()) {
		t.Fatalf("getpid = %d, want %d", got, cur.Pid())
	}

	if rc := env.disp.Dispatch(cur, SysSetPriority, [6]uint64{1}); rc != -1 {
		t.Fatalf("set_priority(1) = %d, want -1 (rejected below minimum)", rc)
	}
	if rc := env.disp.Dispatch(cur, SysSetPriority, [6]uint64{50}); rc != 50 {
		t.Fatalf("set_priority(50) = %d, want 50", rc)
	}
	if cur.Priority() != 50 {
		t.Fatalf("task priority after set_priority = %d, want 50", cur.Priority())
	}
}

func TestDispatchForkZeroesChildA0(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)
	cur.TrapContext(env.m.Alloc()).X[10] = 999

	childPid := env.disp.Dispatch(cur, SysFork, [6]uint64{})
	if childPid <= int64(cur.Pid()) {
		t.Fatalf("fork returned child pid %d, want > parent pid %d", childPid, cur.Pid())
	}
	child, ok := env.m.Lookup(int(childPid))
	if !ok {
		t.Fatal("forked child is not registered with the manager")
	}
	if got := child.TrapContext(env.m.Alloc()).X[10]; got != 0 {
		t.Fatalf("child a0 after fork = %d, want 0", got)
	}
}

func TestDispatchWaitpidReapsZombieChild(t *testing.T) {
	env := newTestEnv(t)
	parent := env.newTask(t)
	child := env.m.Fork(parent)
	env.m.Exit(child, 5)

	rc := env.disp.Dispatch(parent, SysWaitpid, [6]uint64{0xFFFFFFFF, 0}) // pid -1 as the 32-bit value dispatch reads
	if rc != int64(child.Pid()) {
		t.Fatalf("waitpid(-1) = %d, want child pid %d", rc, child.Pid())
	}
}

func TestDispatchMmapMunmap(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)

	const start = 0x200000
	const length = mem.PageSize * 2
	n := env.disp.Dispatch(cur, SysMmap, [6]uint64{start, length, 0x3}) // R|W
	if n != length {
		t.Fatalf("mmap returned %d, want %d", n, length)
	}
	if _, ok := cur.Space().Translate(vm.VPN(start / mem.PageSize)); !ok {
		t.Fatal("mmap did not actually map the requested page")
	}

	n = env.disp.Dispatch(cur, SysMunmap, [6]uint64{start, length})
	if n != length {
		t.Fatalf("munmap returned %d, want %d", n, length)
	}
	if _, ok := cur.Space().Translate(vm.VPN(start / mem.PageSize)); ok {
		t.Fatal("page still mapped after munmap")
	}
}

func TestDispatchMailWriteRead(t *testing.T) {
	env := newTestEnv(t)
	sender := env.newTask(t)
	receiver := env.newTask(t)
	scratch(t, sender, scratchBase, scratchLen)
	scratch(t, receiver, scratchBase, scratchLen)

	msgVA := uint64(scratchBase)
	writeCString(sender, msgVA, "ping")

	n := env.disp.Dispatch(sender, SysMailWrite, [6]uint64{uint64(receiver.Pid()), msgVA, 4})
	if n != 4 {
		t.Fatalf("mailwrite returned %d, want 4", n)
	}

	readVA := uint64(scratchBase + 0x1000)
	n = env.disp.Dispatch(receiver, SysMailRead, [6]uint64{readVA, 4})
	if n != 4 {
		t.Fatalf("mailread returned %d, want 4", n)
	}
	if got := receiver.Space().ReadUser(readVA, 4); string(got) != "ping" {
		t.Fatalf("mailbox round trip = %q, want \"ping\"", got)
	}
}

func TestDispatchUnknownSyscallReturnsEINVAL(t *testing.T) {
	env := newTestEnv(t)
	cur := env.newTask(t)
	if rc := env.disp.Dispatch(cur, 999999, [6]uint64{}); rc != -4 {
		t.Fatalf("unknown syscall dispatch = %d, want -4 (EINVAL)", rc)
	}
}

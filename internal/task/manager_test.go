package task

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/rvcore/teachos/internal/mem"
	"github.com/rvcore/teachos/internal/sbi"
	"github.com/rvcore/teachos/internal/vm"
)

// buildMinimalELF64 assembles the smallest ELF64/RISC-V image
// vm.NewFromELF will parse: a file header plus one PT_LOAD segment. No
// ELF-writing library exists in the reference pack (debug/elf only
// reads), so tests build one by hand with encoding/binary.
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
	code := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 4)
	return buildMinimalELF64(t, 0x1000, code)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	alloc := mem.NewAllocator(0, 8192)
	trampoline := alloc.Alloc()
	layout := vm.KernelLayout{
		TextStartVPN: 0, TextEndVPN: 4,
		RodataStartVPN: 4, RodataEndVPN: 8,
		DataStartVPN: 8, DataEndVPN: 16,
		FreeStartVPN: 16, FreeEndVPN: vm.VPN(8192),
	}
	con := sbi.NewLoopback()
	return NewManager(alloc, layout, trampoline.PPN(), con)
}

func TestNewTaskBecomesInit(t *testing.T) {
	m := newTestManager(t)
	p, err := m.NewTask(testELF(t), nil)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if m.Init() != p {
		t.Fatal("first parentless NewTask did not become Init()")
	}
	if p.Status() != Ready {
		t.Fatalf("new task status = %v, want Ready", p.Status())
	}
}

func TestForkSharesPriorityPrivateMemory(t *testing.T) {
	m := newTestManager(t)
	parent, _ := m.NewTask(testELF(t), nil)
	parent.SetPriority(42)
	parent.Space().Alloc(0x2000, mem.PageSize, vm.FlagR|vm.FlagW|vm.FlagU)
	parent.Space().WriteUser(0x2000, []byte("parent"))

	child := m.Fork(parent)
	if child.Priority() != 42 {
		t.Fatalf("child priority = %d, want inherited 42", child.Priority())
	}
	if child.Parent() != parent {
		t.Fatal("child's Parent() is not the forking task")
	}
	found := false
	for _, c := range parent.Children() {
		if c == child {
			found = true
		}
	}
	if !found {
		t.Fatal("parent's Children() does not include the forked child")
	}

	// Address spaces must be independent: writing through the child must
	// not affect the parent.
	child.Space().WriteUser(0x2000, []byte("kidkid"))
	got := parent.Space().ReadUser(0x2000, 6)
	if string(got) != "parent" {
		t.Fatalf("fork did not give the child a private copy: parent now reads %q", got)
	}
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	m := newTestManager(t)
	init, _ := m.NewTask(testELF(t), nil)
	parent := m.Fork(init)
	child := m.Fork(parent)

	m.Exit(parent, 7)

	if child.Parent() != init {
		t.Fatalf("orphaned child's parent = %v, want init", child.Parent())
	}
	found := false
	for _, c := range init.Children() {
		if c == child {
			found = true
		}
	}
	if !found {
		t.Fatal("init's Children() does not include the reparented grandchild")
	}
	if parent.Status() != Zombie || parent.ExitCode() != 7 {
		t.Fatalf("parent after Exit: status=%v exitCode=%d, want Zombie/7", parent.Status(), parent.ExitCode())
	}
}

func TestWaitpidReapsSpecificAndAnyChild(t *testing.T) {
	m := newTestManager(t)
	parent, _ := m.NewTask(testELF(t), nil)
	childA := m.Fork(parent)
	childB := m.Fork(parent)

	if pid, _ := m.Waitpid(parent, childA.Pid()); pid != -2 {
		t.Fatalf("Waitpid on a live (non-zombie) child = %d, want -2", pid)
	}

	m.Exit(childA, 3)
	pid, code := m.Waitpid(parent, childA.Pid())
	if pid != childA.Pid() || code != 3 {
		t.Fatalf("Waitpid(childA) = (%d, %d), want (%d, 3)", pid, code, childA.Pid())
	}
	if _, ok := m.Lookup(childA.Pid()); ok {
		t.Fatal("reaped child is still registered in the manager")
	}

	if pid, _ := m.Waitpid(parent, 9999); pid != -1 {
		t.Fatalf("Waitpid on a nonexistent pid = %d, want -1", pid)
	}

	m.Exit(childB, 9)
	pid, code = m.Waitpid(parent, -1)
	if pid != childB.Pid() || code != 9 {
		t.Fatalf("Waitpid(-1) = (%d, %d), want (%d, 9)", pid, code, childB.Pid())
	}
}

func TestExecReplacesAddressSpaceAndSetsArgv(t *testing.T) {
	m := newTestManager(t)
	p, _ := m.NewTask(testELF(t), nil)

	argc := m.Exec(p, testELF(t), []string{"prog", "hello"})
	if argc != 2 {
		t.Fatalf("Exec argc = %d, want 2", argc)
	}
	cx := p.TrapContext(m.Alloc())
	if cx.X[10] != 2 {
		t.Fatalf("a0 after Exec = %d, want argc=2", cx.X[10])
	}
	if cx.X[11] == 0 {
		t.Fatal("a1 (argv base) after Exec was never set")
	}
}

func TestSnapshotIncludesEveryLiveTask(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.NewTask(testELF(t), nil)
	b := m.Fork(a)

	dump := m.Snapshot()
	pids := map[int]bool{}
	for _, s := range dump.Samples {
		pids[s.Pid] = true
	}
	if !pids[a.Pid()] || !pids[b.Pid()] {
		t.Fatalf("Snapshot missing a live task: %v", dump.Samples)
	}
}

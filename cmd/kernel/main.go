// Command kernel is the best-effort boot entry point: it opens the
// filesystem image, builds the kernel address space and task manager,
// loads the configured init process, and drives the scheduler loop.
// Real hardware reaches this point via SBI firmware handing off to
// _start and the trap-assembly entry stubs; both are external
// collaborators per spec.md §1, so this entry point picks up from
// there with Go-native equivalents (an os.File-backed block device, an
// in-memory loopback console) instead.
package main

import (
	"os"

	"github.com/rvcore/teachos/internal/blockdev"
	"github.com/rvcore/teachos/internal/config"
	"github.com/rvcore/teachos/internal/fs"
	"github.com/rvcore/teachos/internal/klog"
	"github.com/rvcore/teachos/internal/mem"
	"github.com/rvcore/teachos/internal/sbi"
	"github.com/rvcore/teachos/internal/task"
	"github.com/rvcore/teachos/internal/trap"
	"github.com/rvcore/teachos/internal/vm"
)

// physPages sizes the simulated physical memory backing every address
// space this process creates: 16MiB over 4096 4KiB pages.
const physPages = 4096

// totalImageBlocks matches cmd/mkfs's fixed image size.
const totalImageBlocks = 8192

func main() {
	cfg := config.Load()
	klog.SetLevel(cfg.LogLevel)
	log := klog.Subsys("boot")

	imgPath := os.Getenv("FS_IMAGE")
	if imgPath == "" {
		imgPath = "fs.img"
	}
	dev, err := blockdev.OpenFile(0, imgPath, totalImageBlocks)
	if err != nil {
		log.Error("open filesystem image", "path", imgPath, "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	cache := fs.NewCache(dev)
	efs, err := fs.Open(cache)
	if err != nil {
		log.Error("open filesystem", "err", err)
		os.Exit(1)
	}
	root := fs.RootInode(efs)

	alloc := mem.NewAllocator(0, physPages)
	trampoline := alloc.Alloc()
	if trampoline == nil {
		log.Error("allocate trampoline frame: physical memory exhausted")
		os.Exit(1)
	}

	// Simulated kernel layout: a handful of low pages standing in for
	// .text/.rodata/.data, the remainder identity-mapped R|W as the free
	// frame region. There is no real kernel binary to measure sections
	// from in this host simulation.
	layout := vm.KernelLayout{
		TextStartVPN: 0x0, TextEndVPN: 0x10,
		RodataStartVPN: 0x10, RodataEndVPN: 0x18,
		DataStartVPN: 0x18, DataEndVPN: 0x20,
		FreeStartVPN: 0x20, FreeEndVPN: vm.VPN(physPages),
	}

	con := sbi.NewLoopback()
	task.WireYield()
	m := task.NewManager(alloc, layout, trampoline.PPN(), con)

	elfData, ok := loadInit(root, cfg.EntryName)
	if !ok {
		log.Error("init process not found in image", "entry", cfg.EntryName)
		os.Exit(1)
	}
	initTask, err := m.NewTask(elfData, nil)
	if err != nil {
		log.Error("start init process", "err", err)
		os.Exit(1)
	}

	disp := trap.NewDispatcher(m, root)
	handler := trap.NewHandler(m, disp, con)
	log.Info("booted", "init_pid", initTask.Pid())

	run(m, handler)
}

func loadInit(root *fs.Inode, name string) ([]byte, bool) {
	ino, ok := root.Find(name)
	if !ok {
		return nil, false
	}
	data := make([]byte, ino.Size())
	ino.ReadAt(0, data)
	return data, true
}

// run drives the scheduler loop. Without the trap-assembly entry stubs
// that save/restore a running task's registers (external per spec.md
// §1), there is no hardware trap to actually wait on here; this
// best-effort loop demonstrates the rest of the wiring instead, picking
// the next ready task and immediately suspending it back onto the ready
// queue. It returns only when the ready queue is empty, so it keeps
// cycling for as long as any task is queued. Exercising an init
// process's syscalls end to end is the package tests' job, via
// handler.Handle directly.
func run(m *task.Manager, handler *trap.Handler) {
	log := klog.Subsys("sched")
	for {
		cur, ok := m.Schedule()
		if !ok {
			log.Info("ready queue empty, halting")
			return
		}
		log.Debug("scheduled", "pid", cur.Pid())
		m.Suspend(cur)
	}
}

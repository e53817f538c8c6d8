package trap

import (
	"time"

	"github.com/rvcore/teachos/internal/errno"
	"github.com/rvcore/teachos/internal/fd"
	"github.com/rvcore/teachos/internal/fs"
	"github.com/rvcore/teachos/internal/sched"
	"github.com/rvcore/teachos/internal/task"
	"github.com/rvcore/teachos/internal/vm"
)

// Syscall numbers, bit-exact with spec.md §4.11.
const (
	SysDup         = 24
	SysUnlinkat    = 35
	SysLinkat      = 37
	SysOpen        = 56
	SysClose       = 57
	SysPipe        = 59
	SysRead        = 63
	SysWrite       = 64
	SysFstat       = 80
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetPid      = 172
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysSpawn       = 400
	SysMailRead    = 401
	SysMailWrite   = 402
)

// maxPathLen bounds a name read from user memory before it is treated as
// malformed input rather than walked byte by byte forever.
const maxPathLen = 256

// Loader resolves an ELF image by name, the seam spawn/exec/the root
// filesystem use to turn a path into program bytes without this package
// reaching back into fs's on-disk layout directly.
type Loader interface {
	Load(name string) ([]byte, bool)
}

// fsLoader is the straightforward Loader over a root directory inode,
// matching the source's open_file(name, ...)/get_app_data_by_name.
type fsLoader struct{ root *fs.Inode }

func (l fsLoader) Load(name string) ([]byte, bool) {
	ino, ok := l.root.Find(name)
	if !ok {
		return nil, false
	}
	data := make([]byte, ino.Size())
	ino.ReadAt(0, data)
	return data, true
}

// NewFSLoader builds a Loader over the filesystem rooted at root.
func NewFSLoader(root *fs.Inode) Loader {
	return fsLoader{root: root}
}

// Dispatcher decodes and executes one syscall, grounded on the source's
// syscall/mod.rs dispatch plus the fs/process/mailbox syscall handlers
// scattered across syscall/{fs.rs,process.rs}.
type Dispatcher struct {
	M     *task.Manager
	Root  *fs.Inode
	Load  Loader
	Start time.Time
}

// NewDispatcher builds a Dispatcher over m, resolving open/exec/spawn
// targets against root.
func NewDispatcher(m *task.Manager, root *fs.Inode) *Dispatcher {
	return &Dispatcher{M: m, Root: root, Load: NewFSLoader(root), Start: time.Now()}
}

// Dispatch executes syscall scno with args a0..a5 (x10..x15) against cur,
// returning the value to install in a0. A negative return is an errno.Neg
// per spec.md §7's "syscall returns -1" convention (widened to whichever
// negative errno applies).
func (d *Dispatcher) Dispatch(cur *task.PCB, scno uint64, a [6]uint64) int64 {
	switch scno {
	case SysDup:
		return d.sysDup(cur, int(a[0]))
	case SysUnlinkat:
		return d.sysUnlinkat(cur, a[1], a[2])
	case SysLinkat:
		return d.sysLinkat(cur, a[1], a[3])
	case SysOpen:
		return d.sysOpen(cur, a[1], a[2])
	case SysClose:
		return d.sysClose(cur, int(a[0]))
	case SysPipe:
		return d.sysPipe(cur, a[0])
	case SysRead:
		return d.sysRead(cur, int(a[0]), a[1], a[2])
	case SysWrite:
		return d.sysWrite(cur, int(a[0]), a[1], a[2])
	case SysFstat:
		return d.sysFstat(cur, int(a[0]), a[1])
	case SysExit:
		d.M.Exit(cur, int(int32(a[0])))
		return 0
	case SysYield:
		d.M.Suspend(cur)
		return 0
	case SysSetPriority:
		return d.sysSetPriority(cur, int(a[0]))
	case SysGetTime:
		return int64(time.Since(d.Start).Milliseconds())
	case SysGetPid:
		return int64(cur.Pid())
	case SysMunmap:
		return d.sysMunmap(cur, a[0], a[1])
	case SysFork:
		return d.sysFork(cur)
	case SysExec:
		return d.sysExec(cur, a[0], a[1])
	case SysMmap:
		return d.sysMmap(cur, a[0], a[1], a[2])
	case SysWaitpid:
		return d.sysWaitpid(cur, int(int32(a[0])), a[1])
	case SysSpawn:
		return d.sysSpawn(cur, a[0])
	case SysMailRead:
		return d.sysMailRead(cur, a[0], a[1])
	case SysMailWrite:
		return d.sysMailWrite(cur, int(a[0]), a[1], a[2])
	default:
		return errno.EINVAL.Neg64()
	}
}

// readUserString reads a NUL-terminated name out of cur's address space
// starting at va, one byte at a time up to maxPathLen, matching
// translated_str.
func readUserString(cur *task.PCB, va uint64) (string, bool) {
	space := cur.Space()
	var out []byte
	for i := 0; i < maxPathLen; i++ {
		b := space.ReadUser(va+uint64(i), 1)[0]
		if b == 0 {
			return string(out), true
		}
		out = append(out, b)
	}
	return "", false
}

func (d *Dispatcher) sysDup(cur *task.PCB, oldfd int) int64 {
	nfd, e := cur.Fds().Dup(oldfd)
	if e != 0 {
		return e.Neg64()
	}
	return int64(nfd)
}

func (d *Dispatcher) sysClose(cur *task.PCB, fdno int) int64 {
	if e := cur.Fds().Close(fdno); e != 0 {
		return e.Neg64()
	}
	return 0
}

func (d *Dispatcher) sysOpen(cur *task.PCB, pathVA, flags uint64) int64 {
	name, ok := readUserString(cur, pathVA)
	if !ok {
		return errno.EFAULT.Neg64()
	}
	of := fd.OpenFlags(flags)
	ino, ok := d.Root.Find(name)
	if !ok {
		if of&fd.Create == 0 {
			return errno.ENOENT.Neg64()
		}
		ino, ok = d.Root.Create(name)
		if !ok {
			return errno.EEXIST.Neg64()
		}
	} else if of&fd.Trunc != 0 {
		ino.Clear()
	}
	readable, writable := of.ReadWriteBits()
	f := fd.NewInodeFile(readable, writable, ino)
	return int64(cur.Fds().Alloc(f, of))
}

func (d *Dispatcher) sysLinkat(cur *task.PCB, oldVA, newVA uint64) int64 {
	oldName, ok1 := readUserString(cur, oldVA)
	newName, ok2 := readUserString(cur, newVA)
	if !ok1 || !ok2 {
		return errno.EFAULT.Neg64()
	}
	target, ok := d.Root.Find(oldName)
	if !ok {
		return errno.ENOENT.Neg64()
	}
	if !d.Root.Link(newName, target) {
		return errno.EEXIST.Neg64()
	}
	return 0
}

func (d *Dispatcher) sysUnlinkat(cur *task.PCB, pathVA, _ uint64) int64 {
	name, ok := readUserString(cur, pathVA)
	if !ok {
		return errno.EFAULT.Neg64()
	}
	if !d.Root.Unlink(name) {
		return errno.ENOENT.Neg64()
	}
	return 0
}

func (d *Dispatcher) sysRead(cur *task.PCB, fdno int, bufVA, length uint64) int64 {
	e := cur.Fds().Get(fdno)
	if e == nil || !e.File.Readable() {
		return errno.EBADF.Neg64()
	}
	buf := make([]byte, length)
	since := cur.Accnt().Now()
	n := e.File.Read(buf)
	cur.Accnt().IoTime(since) // a blocking pipe/mailbox read is wait time, not system time
	if n > 0 {
		cur.Space().WriteUser(bufVA, buf[:n])
	}
	return int64(n)
}

func (d *Dispatcher) sysWrite(cur *task.PCB, fdno int, bufVA, length uint64) int64 {
	e := cur.Fds().Get(fdno)
	if e == nil || !e.File.Writable() {
		return errno.EBADF.Neg64()
	}
	buf := cur.Space().ReadUser(bufVA, int(length))
	since := cur.Accnt().Now()
	n := e.File.Write(buf)
	cur.Accnt().IoTime(since) // a blocking pipe write is wait time, not system time
	return int64(n)
}

func (d *Dispatcher) sysPipe(cur *task.PCB, fdVA uint64) int64 {
	r, w := fd.MakePipe()
	rfd := cur.Fds().Alloc(r, fd.ReadOnly)
	wfd := cur.Fds().Alloc(w, fd.WriteOnly)
	buf := make([]byte, 16)
	buf[0] = byte(rfd)
	buf[8] = byte(wfd)
	cur.Space().WriteUser(fdVA, buf)
	return 0
}

func (d *Dispatcher) sysFstat(cur *task.PCB, fdno int, statVA uint64) int64 {
	e := cur.Fds().Get(fdno)
	if e == nil {
		return errno.EBADF.Neg64()
	}
	st, ok := e.File.Fstat()
	if !ok {
		return errno.EBADF.Neg64()
	}
	cur.Space().WriteUser(statVA, encodeStat(st))
	return 0
}

// encodeStat packs a fs.Stat the way the source's Stat repr(C) struct
// lays out for the user-visible fstat ABI: dev, ino, mode-as-isdir, size,
// nlink, each as a little-endian 8-byte word.
func encodeStat(st fs.Stat) []byte {
	out := make([]byte, 40)
	putU64(out[0:], uint64(st.Dev))
	putU64(out[8:], uint64(st.InodeNum))
	mode := uint64(0)
	if st.IsDir {
		mode = 1
	}
	putU64(out[16:], mode)
	putU64(out[24:], uint64(st.Size))
	putU64(out[32:], uint64(st.Nlink))
	return out
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (d *Dispatcher) sysSetPriority(cur *task.PCB, prio int) int64 {
	clamped, ok := sched.ValidatePriority(prio)
	if !ok {
		return -1
	}
	cur.SetPriority(clamped)
	return int64(clamped)
}

func (d *Dispatcher) sysFork(cur *task.PCB) int64 {
	child := d.M.Fork(cur)
	child.TrapContext(d.M.Alloc()).X[10] = 0
	return int64(child.Pid())
}

func (d *Dispatcher) sysExec(cur *task.PCB, pathVA, argvVA uint64) int64 {
	name, ok := readUserString(cur, pathVA)
	if !ok {
		return errno.EFAULT.Neg64()
	}
	data, ok := d.Load.Load(name)
	if !ok {
		return errno.ENOENT.Neg64()
	}
	args := readArgv(cur, argvVA)
	return int64(d.M.Exec(cur, data, args))
}

// readArgv walks the NUL-terminated array of string pointers at argvVA,
// translating each pointed-to string, matching translated_str_array.
func readArgv(cur *task.PCB, argvVA uint64) []string {
	space := cur.Space()
	var args []string
	for i := 0; ; i++ {
		ptrBytes := space.ReadUser(argvVA+uint64(i)*8, 8)
		ptr := getU64(ptrBytes)
		if ptr == 0 {
			break
		}
		s, ok := readUserString(cur, ptr)
		if !ok {
			break
		}
		args = append(args, s)
	}
	return args
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func (d *Dispatcher) sysSpawn(cur *task.PCB, pathVA uint64) int64 {
	name, ok := readUserString(cur, pathVA)
	if !ok {
		return errno.EFAULT.Neg64()
	}
	data, ok := d.Load.Load(name)
	if !ok {
		return errno.ENOENT.Neg64()
	}
	child, err := d.M.Spawn(cur, data)
	if err != nil {
		return errno.EINVAL.Neg64()
	}
	return int64(child.Pid())
}

func (d *Dispatcher) sysWaitpid(cur *task.PCB, pid int, statVA uint64) int64 {
	childPid, code := d.M.Waitpid(cur, pid)
	if childPid < 0 {
		return int64(childPid)
	}
	if statVA != 0 {
		buf := make([]byte, 4)
		putU32(buf, uint32(int32(code)))
		cur.Space().WriteUser(statVA, buf)
	}
	return int64(childPid)
}

func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func (d *Dispatcher) sysMmap(cur *task.PCB, start, length, portBits uint64) int64 {
	perm := vm.Perm(0)
	if portBits&0x1 != 0 {
		perm |= vm.FlagR
	}
	if portBits&0x2 != 0 {
		perm |= vm.FlagW
	}
	if portBits&0x4 != 0 {
		perm |= vm.FlagX
	}
	perm |= vm.FlagU
	n, ok := cur.Space().Alloc(int(start), int(length), perm)
	if !ok {
		return -1
	}
	return int64(n)
}

func (d *Dispatcher) sysMunmap(cur *task.PCB, start, length uint64) int64 {
	n, ok := cur.Space().Dealloc(int(start), int(length))
	if !ok {
		return -1
	}
	return int64(n)
}

func (d *Dispatcher) sysMailRead(cur *task.PCB, bufVA, length uint64) int64 {
	buf := make([]byte, length)
	n := cur.Mailbox().Read(buf)
	if n > 0 {
		cur.Space().WriteUser(bufVA, buf[:n])
	}
	return int64(n)
}

func (d *Dispatcher) sysMailWrite(cur *task.PCB, pid int, bufVA, length uint64) int64 {
	target, ok := d.M.Lookup(pid)
	if !ok {
		return errno.ENOENT.Neg64()
	}
	buf := cur.Space().ReadUser(bufVA, int(length))
	n := target.Mailbox().Write(buf)
	return int64(n)
}

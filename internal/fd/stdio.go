package fd

import (
	"github.com/rvcore/teachos/internal/fs"
	"github.com/rvcore/teachos/internal/sbi"
)

// Stdin reads one byte at a time from the console, blocking (via
// Yield) until one arrives. Grounded on the source's Stdin
// (os/src/fs/stdio.rs) backed by sbi::console_getchar.
type Stdin struct {
	console sbi.Console
}

func NewStdin(c sbi.Console) *Stdin { return &Stdin{console: c} }

func (s *Stdin) Readable() bool { return true }
func (s *Stdin) Writable() bool { return false }

func (s *Stdin) Read(buf []byte) int {
	if len(buf) == 0 {
		return 0
	}
	for {
		if b, ok := s.console.GetChar(); ok {
			buf[0] = b
			return 1
		}
		Yield()
	}
}

func (s *Stdin) Write(buf []byte) int {
	panic("fd: write to stdin")
}

func (s *Stdin) Fstat() (fs.Stat, bool) { return fs.Stat{}, false }

// Stdout writes every byte straight to the console.
type Stdout struct {
	console sbi.Console
}

func NewStdout(c sbi.Console) *Stdout { return &Stdout{console: c} }

func (s *Stdout) Readable() bool { return false }
func (s *Stdout) Writable() bool { return true }

func (s *Stdout) Read(buf []byte) int {
	panic("fd: read from stdout")
}

func (s *Stdout) Write(buf []byte) int {
	for _, b := range buf {
		s.console.PutChar(b)
	}
	return len(buf)
}

func (s *Stdout) Fstat() (fs.Stat, bool) { return fs.Stat{}, false }

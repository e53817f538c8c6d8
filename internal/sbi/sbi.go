// Package sbi models the firmware boundary spec.md §1 leaves external:
// console getchar/putchar, shutdown, and the timer. Real hardware reaches
// it through SBI ecalls from supervisor mode; this module only needs a
// Console contract to build and test the rest of the kernel against, so
// it provides a loopback implementation alongside the interface.
package sbi

// Console is the external SBI console/timer/shutdown contract (spec.md
// §6's "OUT OF SCOPE... the SBI firmware for console/shutdown/timer").
type Console interface {
	PutChar(c byte)
	GetChar() (byte, bool)
	SetTimer(deadline uint64)
	Shutdown()
}

// Loopback is an in-memory Console for tests and host-side runs: writes
// accumulate in Out, and GetChar drains an input queue fed by Feed.
type Loopback struct {
	Out      []byte
	in       []byte
	shutdown bool
	timer    uint64
}

// NewLoopback constructs an empty Loopback console.
func NewLoopback() *Loopback {
	return &Loopback{}
}

func (c *Loopback) PutChar(b byte) { c.Out = append(c.Out, b) }

func (c *Loopback) GetChar() (byte, bool) {
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

// Feed appends bytes to the input queue GetChar drains from.
func (c *Loopback) Feed(b []byte) { c.in = append(c.in, b...) }

func (c *Loopback) SetTimer(deadline uint64) { c.timer = deadline }

func (c *Loopback) Shutdown() { c.shutdown = true }

// ShuttingDown reports whether Shutdown has been called.
func (c *Loopback) ShuttingDown() bool { return c.shutdown }

// NextTrigger returns the last deadline passed to SetTimer.
func (c *Loopback) NextTrigger() uint64 { return c.timer }

package fd

import (
	"sync"

	"github.com/rvcore/teachos/internal/fs"
)

// mailSlots and mailSize match MAX_SLOT_SIZE/MAX_MAIL_SIZE in the
// source's os/src/fs/mail.rs.
const (
	mailSlots = 8
	mailSize  = 256
)

type mail struct {
	data [mailSize]byte
	len  int
}

// Mailbox is a per-process fixed-capacity ring of 256-byte messages,
// grounded on MailList (os/src/fs/mail.rs). One Mailbox is created per
// pid and addressed by mailread/mailwrite; the pid→Mailbox map itself
// lives with the task table (spec.md §5's "mailbox-manager map" lock).
type Mailbox struct {
	mu         sync.Mutex
	arr        [mailSlots]mail
	head, tail int
	full       bool
}

// NewMailbox constructs an empty mailbox.
func NewMailbox() *Mailbox { return &Mailbox{} }

func (m *Mailbox) isReadable() bool {
	return m.full || m.head != m.tail
}

func (m *Mailbox) isWritable() bool {
	return !m.full
}

func (m *Mailbox) Readable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isReadable()
}

func (m *Mailbox) Writable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isWritable()
}

// Read copies one queued mail into buf, blocking (via Yield) until one
// is available, matching MailList::read's assert-then-drain behavior
// generalized to a polling wait instead of an unconditional assert.
func (m *Mailbox) Read(buf []byte) int {
	for {
		m.mu.Lock()
		if !m.isReadable() {
			m.mu.Unlock()
			Yield()
			continue
		}
		msg := m.arr[m.head]
		m.head = (m.head + 1) % mailSlots
		m.full = false
		m.mu.Unlock()
		n := copy(buf, msg.data[:msg.len])
		return n
	}
}

// Write enqueues buf (truncated to mailSize bytes) as one mail,
// blocking until the ring has room, matching MailList::write.
func (m *Mailbox) Write(buf []byte) int {
	for {
		m.mu.Lock()
		if !m.isWritable() {
			m.mu.Unlock()
			Yield()
			continue
		}
		var msg mail
		msg.len = copy(msg.data[:], buf)
		m.arr[m.tail] = msg
		m.tail = (m.tail + 1) % mailSlots
		if m.tail == m.head {
			m.full = true
		}
		m.mu.Unlock()
		return msg.len
	}
}

func (m *Mailbox) Fstat() (fs.Stat, bool) { return fs.Stat{}, false }

// Clear empties the mailbox.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head, m.tail, m.full = 0, 0, false
}

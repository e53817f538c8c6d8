package fd

import "testing"

func TestMailboxWriteReadFIFO(t *testing.T) {
	mb := NewMailbox()
	mb.Write([]byte("first"))
	mb.Write([]byte("second"))

	buf := make([]byte, mailSize)
	n := mb.Read(buf)
	if string(buf[:n]) != "first" {
		t.Fatalf("first Read = %q, want \"first\"", buf[:n])
	}
	n = mb.Read(buf)
	if string(buf[:n]) != "second" {
		t.Fatalf("second Read = %q, want \"second\"", buf[:n])
	}
}

func TestMailboxTruncatesOversizedMessage(t *testing.T) {
	mb := NewMailbox()
	big := make([]byte, mailSize+50)
	for i := range big {
		big[i] = 'x'
	}
	mb.Write(big)

	buf := make([]byte, mailSize+50)
	n := mb.Read(buf)
	if n != mailSize {
		t.Fatalf("Read of an oversized message returned %d bytes, want %d (truncated)", n, mailSize)
	}
}

func TestMailboxFillsToCapacityThenBlocks(t *testing.T) {
	mb := NewMailbox()
	for i := 0; i < mailSlots; i++ {
		if !mb.Writable() {
			t.Fatalf("mailbox reports full after only %d of %d writes", i, mailSlots)
		}
		mb.Write([]byte("m"))
	}
	if mb.Writable() {
		t.Fatal("mailbox reports writable after filling every slot")
	}
	if !mb.Readable() {
		t.Fatal("full mailbox reports not readable")
	}
}

func TestMailboxClearEmptiesRing(t *testing.T) {
	mb := NewMailbox()
	mb.Write([]byte("x"))
	mb.Clear()
	if mb.Readable() {
		t.Fatal("mailbox still readable after Clear")
	}
	if !mb.Writable() {
		t.Fatal("mailbox not writable after Clear")
	}
}

package fs

import (
	"testing"

	"github.com/rvcore/teachos/internal/blockdev"
)

const testImageBlocks = 8192

func formatRAM(t *testing.T) (*blockdev.Ram, *Inode) {
	t.Helper()
	dev := blockdev.NewRam(0, testImageBlocks)
	cache := NewCache(dev)
	efs := Format(cache, testImageBlocks, testImageBlocks)
	return dev, RootInode(efs)
}

func TestCreateFindLs(t *testing.T) {
	_, root := formatRAM(t)

	if _, ok := root.Find("missing"); ok {
		t.Fatal("Find of a nonexistent name succeeded")
	}

	ino, ok := root.Create("a.txt")
	if !ok {
		t.Fatal("Create failed on an empty directory")
	}
	if ino.IsDir() {
		t.Fatal("Created file reports IsDir() == true")
	}

	if _, ok := root.Create("a.txt"); ok {
		t.Fatal("Create of a duplicate name succeeded")
	}

	found, ok := root.Find("a.txt")
	if !ok {
		t.Fatal("Find did not locate a just-created file")
	}
	if found.Fstat().InodeNum != ino.Fstat().InodeNum {
		t.Fatal("Find returned a handle on the wrong inode")
	}

	names := root.Ls()
	if len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("Ls() = %v, want [a.txt]", names)
	}
}

func TestWriteAtGrowsAndReadsBack(t *testing.T) {
	_, root := formatRAM(t)
	ino, _ := root.Create("data.bin")

	payload := make([]byte, 5000) // spans ten blocks, all in direct slots
	for i := range payload {
		payload[i] = byte(i)
	}

	n := ino.WriteAt(0, payload)
	if n != len(payload) {
		t.Fatalf("WriteAt wrote %d bytes, want %d", n, len(payload))
	}
	if ino.Size() != uint32(len(payload)) {
		t.Fatalf("Size() = %d, want %d", ino.Size(), len(payload))
	}

	out := make([]byte, len(payload))
	if ino.ReadAt(0, out) != len(payload) {
		t.Fatal("ReadAt did not return the full payload length")
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("ReadAt mismatch at byte %d: got %d, want %d", i, out[i], payload[i])
		}
	}
}

func TestClearFreesDataBlocks(t *testing.T) {
	_, root := formatRAM(t)
	ino, _ := root.Create("x")

	ino.WriteAt(0, make([]byte, 3000))
	if ino.Size() == 0 {
		t.Fatal("WriteAt did not grow the inode")
	}

	ino.Clear()
	if ino.Size() != 0 {
		t.Fatalf("Size() after Clear = %d, want 0", ino.Size())
	}
}

func TestLinkAddsNlinkUnlinkFreesOnLastLink(t *testing.T) {
	_, root := formatRAM(t)
	ino, _ := root.Create("orig")
	ino.WriteAt(0, []byte("payload"))

	if ino.Fstat().Nlink != 1 {
		t.Fatalf("fresh file Nlink = %d, want 1", ino.Fstat().Nlink)
	}
	if st := ino.Fstat(); st.Nlink != 1 {
		t.Fatalf("orig Nlink = %d, want 1", st.Nlink)
	}

	if !root.Link("alias", ino) {
		t.Fatal("Link failed")
	}
	if root.Link("alias", ino) {
		t.Fatal("Link of a duplicate name succeeded")
	}
	if st := ino.Fstat(); st.Nlink != 2 {
		t.Fatalf("Nlink after Link = %d, want 2", st.Nlink)
	}

	if !root.Unlink("orig") {
		t.Fatal("Unlink of the first name failed")
	}
	aliasIno, ok := root.Find("alias")
	if !ok {
		t.Fatal("alias disappeared after unlinking the other name")
	}
	if st := aliasIno.Fstat(); st.Nlink != 1 {
		t.Fatalf("Nlink after first Unlink = %d, want 1", st.Nlink)
	}
	if data := make([]byte, len("payload")); aliasIno.ReadAt(0, data) != len("payload") || string(data) != "payload" {
		t.Fatalf("alias lost its data after the other name was unlinked: %q", data)
	}

	if !root.Unlink("alias") {
		t.Fatal("Unlink of the last remaining name failed")
	}
	if _, ok := root.Find("alias"); ok {
		t.Fatal("alias still found after its last link was removed")
	}
	if _, ok := root.Find("orig"); ok {
		t.Fatal("orig still found after being unlinked")
	}
}

func TestUnlinkNonexistentReturnsFalse(t *testing.T) {
	_, root := formatRAM(t)
	if root.Unlink("nope") {
		t.Fatal("Unlink of a nonexistent name returned true")
	}
}

func TestOnDiskImageRoundTrip(t *testing.T) {
	dev := blockdev.NewRam(0, testImageBlocks)
	cache := NewCache(dev)
	efs := Format(cache, testImageBlocks, testImageBlocks)
	root := RootInode(efs)

	ino, _ := root.Create("greeting")
	payload := []byte("hello, persisted world")
	ino.WriteAt(0, payload)
	cache.Close() // flush every dirty block, simulating image close

	// Reopen over the same underlying device with a fresh cache, as a
	// kernel restart would: nothing survives but what Close flushed.
	cache2 := NewCache(dev)
	efs2, err := Open(cache2)
	if err != nil {
		t.Fatalf("Open of a freshly formatted image failed: %v", err)
	}
	root2 := RootInode(efs2)

	found, ok := root2.Find("greeting")
	if !ok {
		t.Fatal("file did not survive close+reopen")
	}
	out := make([]byte, len(payload))
	if found.ReadAt(0, out) != len(payload) || string(out) != string(payload) {
		t.Fatalf("round-tripped content = %q, want %q", out, payload)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dev := blockdev.NewRam(0, 4)
	cache := NewCache(dev)
	if _, err := Open(cache); err == nil {
		t.Fatal("Open of an unformatted (all-zero) device did not error")
	}
}

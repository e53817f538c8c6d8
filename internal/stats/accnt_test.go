package stats

import "testing"

func TestAccntUtaddSystadd(t *testing.T) {
	var a Accnt
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(7)

	userNS, sysNS := a.Snapshot()
	if userNS != 150 {
		t.Fatalf("UserNS = %d, want 150", userNS)
	}
	if sysNS != 7 {
		t.Fatalf("SysNS = %d, want 7", sysNS)
	}
}

func TestAccntIoTimeRemovesWaitFromSystemTime(t *testing.T) {
	var a Accnt
	a.Systadd(1000)

	since := a.Now()
	a.IoTime(since) // wait began "now", so elapsed wait is ~0

	_, sysNS := a.Snapshot()
	if sysNS > 1000 {
		t.Fatalf("IoTime increased system time instead of removing the wait: %d", sysNS)
	}
}

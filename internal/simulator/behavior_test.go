package simulator

import (
	"testing"

	"github.com/muurk/bamload/internal/protocol"
)

func TestParseBehavior(t *testing.T) {
	b, err := ParseBehavior("monitor, password=0011223344556677,drop-sync=2,lose=4:2,lose=4,nack=7,bad-checksum,no-final")
	if err != nil {
		t.Fatalf("ParseBehavior() error = %v", err)
	}
	if b.Profile.Name != "monitor" {
		t.Errorf("Profile = %q, want monitor", b.Profile.Name)
	}
	if b.Password != protocol.PasswordFromUint64(0x0011223344556677) {
		t.Errorf("Password = %s", b.Password)
	}
	if b.DropSyncReplies != 2 {
		t.Errorf("DropSyncReplies = %d, want 2", b.DropSyncReplies)
	}
	if b.IgnoreBlocks[4] != 3 {
		t.Errorf("IgnoreBlocks[4] = %d, want 3", b.IgnoreBlocks[4])
	}
	if b.NackBlocks[7] != 1 {
		t.Errorf("NackBlocks[7] = %d, want 1", b.NackBlocks[7])
	}
	if !b.CorruptChecksum || !b.SkipFinalStatus || b.WrongChecksum || b.Silent {
		t.Errorf("flags = %+v", b)
	}
}

func TestParseBehaviorEmpty(t *testing.T) {
	b, err := ParseBehavior("")
	if err != nil {
		t.Fatalf("ParseBehavior(\"\") error = %v", err)
	}
	if b.Profile.Name != "" || b.Silent || b.IgnoreBlocks != nil {
		t.Errorf("ParseBehavior(\"\") = %+v, want zero", b)
	}
}

func TestParseBehaviorErrors(t *testing.T) {
	for _, s := range []string{
		"turbo",
		"password=12",
		"drop-sync=x",
		"drop-sync=-1",
		"lose",
		"lose=a",
		"nack=1:0",
		"nack=1:z",
	} {
		if _, err := ParseBehavior(s); err == nil {
			t.Errorf("ParseBehavior(%q) succeeded", s)
		}
	}
}

package core_test

import (
	"testing"

	"github.com/jstz-dev/jstz-core/core"
	"github.com/jstz-dev/jstz-core/internal/testutil"
)

func TestWALHostPersistsAcrossReopen(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	host, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("OpenWALHost failed: %v", err)
	}
	if err := host.StoreWrite("accounts/a/balance", 0, []byte("100")); err != nil {
		t.Fatalf("StoreWrite failed: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	data, err := reopened.StoreRead("accounts/a/balance", 0, 0)
	if err != nil {
		t.Fatalf("StoreRead failed: %v", err)
	}
	if string(data) != "100" {
		t.Fatalf("got %q, want %q after replay", data, "100")
	}
}

func TestWALHostReplaysWALTailAfterCrash(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	host, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("OpenWALHost failed: %v", err)
	}
	if err := host.StoreWrite("k", 0, []byte("v1")); err != nil {
		t.Fatalf("StoreWrite failed: %v", err)
	}
	if err := host.StoreWrite("k2", 0, []byte("v2")); err != nil {
		t.Fatalf("StoreWrite failed: %v", err)
	}
	// simulate a crash: no Close(), no snapshot, only the WAL on disk.

	recovered, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("reopen after crash failed: %v", err)
	}
	defer recovered.Close()

	data, err := recovered.StoreRead("k", 0, 0)
	if err != nil || string(data) != "v1" {
		t.Fatalf("got %q, %v, want v1", data, err)
	}
	data2, err := recovered.StoreRead("k2", 0, 0)
	if err != nil || string(data2) != "v2" {
		t.Fatalf("got %q, %v, want v2", data2, err)
	}
}

func TestWALHostSnapshotTruncatesWAL(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	host, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root, SnapshotInterval: 1})
	if err != nil {
		t.Fatalf("OpenWALHost failed: %v", err)
	}
	if err := host.StoreWrite("k", 0, []byte("v")); err != nil {
		t.Fatalf("StoreWrite failed: %v", err)
	}
	if err := host.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := sb.ReadFile("tree.snap"); err != nil {
		t.Fatalf("expected a snapshot file to exist: %v", err)
	}

	reopened, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	data, err := reopened.StoreRead("k", 0, 0)
	if err != nil || string(data) != "v" {
		t.Fatalf("got %q, %v, want v (from snapshot)", data, err)
	}
}

func TestWALHostPreimageCacheRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	host, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("OpenWALHost failed: %v", err)
	}
	defer host.Close()

	hash := core.Keccak256([]byte("chunk"))
	if _, err := host.RevealPreimage(hash); err == nil {
		t.Fatalf("expected a miss before seeding")
	}
	if err := host.SeedPreimage(hash, []byte("chunk")); err != nil {
		t.Fatalf("SeedPreimage failed: %v", err)
	}
	data, err := host.RevealPreimage(hash)
	if err != nil {
		t.Fatalf("RevealPreimage failed: %v", err)
	}
	if string(data) != "chunk" {
		t.Fatalf("got %q, want %q", data, "chunk")
	}
}

func TestWALHostLoadInboxResetsPosition(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	host, err := core.OpenWALHost(core.WALHostConfig{Dir: sb.Root})
	if err != nil {
		t.Fatalf("OpenWALHost failed: %v", err)
	}
	defer host.Close()

	host.LoadInbox([]core.InboxMessage{{Level: 1, ID: 1, Payload: []byte("a")}})
	msg, ok, err := host.ReadInput()
	if err != nil || !ok || string(msg.Payload) != "a" {
		t.Fatalf("unexpected first read: %+v %v %v", msg, ok, err)
	}
	_, ok, _ = host.ReadInput()
	if ok {
		t.Fatalf("expected inbox to be exhausted")
	}

	host.LoadInbox([]core.InboxMessage{{Level: 2, ID: 1, Payload: []byte("b")}})
	msg, ok, err = host.ReadInput()
	if err != nil || !ok || string(msg.Payload) != "b" {
		t.Fatalf("expected LoadInbox to reset pos, got %+v %v %v", msg, ok, err)
	}
}

func TestOpenWALHostRejectsEmptyDir(t *testing.T) {
	if _, err := core.OpenWALHost(core.WALHostConfig{}); err == nil {
		t.Fatalf("expected an error for an empty store directory")
	}
}

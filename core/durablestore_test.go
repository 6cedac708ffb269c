package core_test

import (
	"strings"
	"testing"

	"github.com/jstz-dev/jstz-core/core"
)

func TestValidatePathRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		path string
		ok   bool
	}{
		{"empty", "", false},
		{"simple", "accounts/a", true},
		{"empty segment", "accounts//a", false},
		{"non-ascii", "accounts/\xC3\xA9", false},
		{"too long", "a/" + strings.Repeat("x", core.MaxPathLength), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := core.ValidatePath(tc.path)
			if tc.ok && err != nil {
				t.Fatalf("expected %q to be valid, got %v", tc.path, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected %q to be rejected", tc.path)
			}
		})
	}
}

func TestDurableStoreWriteShrinksCleanly(t *testing.T) {
	store := core.NewDurableStore(core.NewMemHost(nil))

	if err := store.Write("k", []byte("a long initial value")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Write("k", []byte("short")); err != nil {
		t.Fatalf("Write (shrink) failed: %v", err)
	}
	data, err := store.Read("k")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "short" {
		t.Fatalf("got %q, want %q (no stale tail)", data, "short")
	}
}

func TestDurableStoreReadMissingIsNilNil(t *testing.T) {
	store := core.NewDurableStore(core.NewMemHost(nil))
	data, err := store.Read("absent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if data != nil {
		t.Fatalf("expected nil, got %q", data)
	}
}

func TestDurableStoreRemoveAndListChildren(t *testing.T) {
	store := core.NewDurableStore(core.NewMemHost(nil))
	_ = store.Write("accounts/a/balance", []byte("1"))
	_ = store.Write("accounts/b/balance", []byte("2"))

	children, err := store.ListChildren("accounts")
	if err != nil {
		t.Fatalf("ListChildren failed: %v", err)
	}
	if len(children) != 2 || children[0] != "a" || children[1] != "b" {
		t.Fatalf("got %v, want [a b]", children)
	}

	if err := store.Remove("accounts/a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	children, err = store.ListChildren("accounts")
	if err != nil {
		t.Fatalf("ListChildren failed: %v", err)
	}
	if len(children) != 1 || children[0] != "b" {
		t.Fatalf("got %v, want [b]", children)
	}
}

func TestDurableStoreRejectsInvalidPaths(t *testing.T) {
	store := core.NewDurableStore(core.NewMemHost(nil))
	if _, err := store.Read(""); err == nil {
		t.Fatalf("expected Read(\"\") to be rejected")
	}
	if err := store.Write("", []byte("x")); err == nil {
		t.Fatalf("expected Write(\"\") to be rejected")
	}
	if err := store.Remove("a//b"); err == nil {
		t.Fatalf("expected Remove with empty segment to be rejected")
	}
}

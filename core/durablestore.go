package core

// DurableStore exposes the host's raw byte-range tree as a concurrency-free,
// whole-value primitive: get/set/delete/list_children. It is the "leaf"
// storage primitive the transaction engine layers nested overlays on top of.

import (
	"fmt"
	"strings"
)

// MaxPathLength bounds durable-store keys. Paths are slash-delimited and
// ASCII.
const MaxPathLength = 1024

// DurableStore wraps a Host with validated, whole-value semantics.
type DurableStore struct {
	host Host
}

// NewDurableStore constructs a DurableStore backed by host.
func NewDurableStore(host Host) *DurableStore {
	return &DurableStore{host: host}
}

// ValidatePath enforces the path contract: non-empty, ASCII,
// slash-delimited, bounded length, no empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return NewError(KindStorageFailure, "empty path", nil)
	}
	if len(path) > MaxPathLength {
		return NewError(KindStorageFailure, fmt.Sprintf("path exceeds %d bytes", MaxPathLength), nil)
	}
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c > 127 {
			return NewError(KindStorageFailure, "path must be ASCII", nil)
		}
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return NewError(KindStorageFailure, "path has empty segment", nil)
		}
	}
	return nil
}

// Read returns the full value at path, or (nil, nil) if absent.
func (s *DurableStore) Read(path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	data, err := s.host.StoreRead(path, 0, 0)
	if err != nil {
		return nil, NewError(KindStorageFailure, "store read", err)
	}
	return data, nil
}

// Write replaces the full value at path with data.
func (s *DurableStore) Write(path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	// Host.StoreWrite only ever grows a byte range, so a shrinking update
	// must clear the old value first to avoid leaving a stale tail.
	if err := s.host.StoreDelete(path); err != nil {
		return NewError(KindStorageFailure, "store write (clear)", err)
	}
	if err := s.host.StoreWrite(path, 0, data); err != nil {
		return NewError(KindStorageFailure, "store write", err)
	}
	return nil
}

// Remove deletes path (and, per Host.StoreDelete, any sub-paths beneath it).
func (s *DurableStore) Remove(path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if err := s.host.StoreDelete(path); err != nil {
		return NewError(KindStorageFailure, "store delete", err)
	}
	return nil
}

// ListChildren returns the immediate child segments under path, in
// ascending order.
func (s *DurableStore) ListChildren(path string) ([]string, error) {
	if path != "" {
		if err := ValidatePath(path); err != nil {
			return nil, err
		}
	}
	segs, err := s.host.StoreList(path)
	if err != nil {
		return nil, NewError(KindStorageFailure, "store list", err)
	}
	return segs, nil
}

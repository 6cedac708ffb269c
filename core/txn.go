package core

// Transaction engine: nested, serializable overlays on top of the
// DurableStore. This is the layer every other component — accounts, the JS
// execution host, the dispatcher — reads and writes through; nothing else
// touches the durable store directly. Modelled on a WAL-commit discipline
// generalised to arbitrary nesting depth instead of one level of blocks.

import (
	"fmt"
	"sync"
)

// tombstone marks a key as deleted within a frame's write set, distinct
// from "no entry" (inherit from parent) and from an empty value.
type writeEntry struct {
	value     []byte
	tombstone bool
}

// Tx is one frame of the transaction stack. The zero value is not usable;
// construct via TxEngine.Begin or Tx.BeginChild.
type Tx struct {
	mu       sync.Mutex
	engine   *TxEngine
	parent   *Tx
	writes   map[string]writeEntry
	reads    map[string][]byte
	created  map[Address]struct{}
	hasChild bool
	done     bool // committed or rolled back
}

// TxEngine owns the durable store and hands out top-level transactions.
type TxEngine struct {
	store *DurableStore
}

// NewTxEngine constructs an engine bound to store.
func NewTxEngine(store *DurableStore) *TxEngine {
	return &TxEngine{store: store}
}

// Begin opens a new top-level transaction.
func (e *TxEngine) Begin() *Tx {
	return &Tx{
		engine:  e,
		writes:  make(map[string]writeEntry),
		reads:   make(map[string][]byte),
		created: make(map[Address]struct{}),
	}
}

// LifetimeViolation is the distinguished fatal error raised when a parent
// transaction is committed while a child is still open, when a second child
// is begun before the first has ended, or when a transaction is committed or
// rolled back twice. It is an unrecoverable bug, not an ordinary failure
// mode; the kernel loop
// recovers this panic at the top of its per-message dispatch and halts
// instead of continuing with corrupted transaction state.
type LifetimeViolation struct {
	Path string
}

func (e *LifetimeViolation) Error() string {
	return fmt.Sprintf("core: transaction lifetime violation: parent committed/rolled back with an open child (%s)", e.Path)
}

// BeginChild nests a new transaction under tx, reserving tx as its parent
// until the child is committed or rolled back. Only one child may be open
// at a time per frame: a handler frame has at most one in-flight nested
// call.
func (tx *Tx) BeginChild() *Tx {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.hasChild {
		panic(&LifetimeViolation{Path: "BeginChild: previous child still open"})
	}
	tx.hasChild = true
	return &Tx{
		engine:  tx.engine,
		parent:  tx,
		writes:  make(map[string]writeEntry),
		reads:   make(map[string][]byte),
		created: make(map[Address]struct{}),
	}
}

// Get walks frames from innermost outward, then falls through to the
// durable store.
func (tx *Tx) Get(key string) ([]byte, error) {
	for f := tx; f != nil; f = f.parent {
		f.mu.Lock()
		entry, ok := f.writes[key]
		f.mu.Unlock()
		if ok {
			if entry.tombstone {
				tx.recordRead(key, nil)
				return nil, nil
			}
			tx.recordRead(key, entry.value)
			return entry.value, nil
		}
	}
	val, err := tx.engine.store.Read(key)
	if err != nil {
		return nil, err
	}
	tx.recordRead(key, val)
	return val, nil
}

func (tx *Tx) recordRead(key string, val []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.reads[key] = val
}

// Put stages a write, visible to this frame and any future children, but
// not to the parent until Commit.
func (tx *Tx) Put(key string, value []byte) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	cp := append([]byte(nil), value...)
	tx.writes[key] = writeEntry{value: cp}
}

// Delete stages a tombstone for key.
func (tx *Tx) Delete(key string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes[key] = writeEntry{tombstone: true}
}

// Has is a convenience wrapper over Get.
func (tx *Tx) Has(key string) (bool, error) {
	v, err := tx.Get(key)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// MarkCreated reserves addr in this frame's creation set; it becomes
// visible to the parent only once this frame commits.
func (tx *Tx) MarkCreated(addr Address) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.created[addr] = struct{}{}
}

// WasCreated reports whether addr was originated in this frame or an
// ancestor still on the stack.
func (tx *Tx) WasCreated(addr Address) bool {
	for f := tx; f != nil; f = f.parent {
		f.mu.Lock()
		_, ok := f.created[addr]
		f.mu.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// ReadSet returns a snapshot of keys observed by this frame, for
// conflict-detection plumbing. The core itself is single-threaded so
// nothing consumes this outside of tests today.
func (tx *Tx) ReadSet() map[string][]byte {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make(map[string][]byte, len(tx.reads))
	for k, v := range tx.reads {
		out[k] = v
	}
	return out
}

// Commit merges tx's write and creation sets into its parent, or into the
// durable store if tx is the outermost frame. Panics with
// *LifetimeViolation if tx still has an open child.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		panic(&LifetimeViolation{Path: "Commit: already committed/rolled back"})
	}
	if tx.hasChild {
		tx.mu.Unlock()
		panic(&LifetimeViolation{Path: "Commit: child still open"})
	}
	tx.done = true
	writes := tx.writes
	created := tx.created
	tx.mu.Unlock()

	if tx.parent != nil {
		tx.parent.mu.Lock()
		if !tx.parent.hasChild {
			tx.parent.mu.Unlock()
			panic(&LifetimeViolation{Path: "Commit: parent has no open child to close"})
		}
		tx.parent.hasChild = false
		for k, v := range writes {
			tx.parent.writes[k] = v
		}
		for a := range created {
			tx.parent.created[a] = struct{}{}
		}
		tx.parent.mu.Unlock()
		return nil
	}

	// Outermost frame: flush to the durable store as a single batch. A
	// host failure mid-batch is surfaced as KindStorageFailure and the
	// caller (dispatcher) must treat the whole operation as failed — this
	// is the one place effects can become partially visible, so callers
	// must not retry silently.
	for k, v := range writes {
		if v.tombstone {
			if err := tx.engine.store.Remove(k); err != nil {
				return NewError(KindStorageFailure, "commit delete "+k, err)
			}
			continue
		}
		if err := tx.engine.store.Write(k, v.value); err != nil {
			return NewError(KindStorageFailure, "commit write "+k, err)
		}
	}
	return nil
}

// Rollback discards tx's writes and creation set. Panics with
// *LifetimeViolation if tx was already committed or rolled back. It does not
// check for an open child: rolling back a parent whose child is still open
// succeeds, and that child's own later Commit or Rollback then panics.
func (tx *Tx) Rollback() {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		panic(&LifetimeViolation{Path: "Rollback: already committed/rolled back"})
	}
	tx.done = true
	tx.mu.Unlock()

	if tx.parent != nil {
		tx.parent.mu.Lock()
		if !tx.parent.hasChild {
			tx.parent.mu.Unlock()
			panic(&LifetimeViolation{Path: "Rollback: parent has no open child to close"})
		}
		tx.parent.hasChild = false
		tx.parent.mu.Unlock()
	}
}

// WithChild runs fn inside a freshly begun child of tx, committing on a nil
// error and rolling back otherwise. This is the scoped-acquisition pattern:
// every return path, normal or exceptional, ends the child transaction.
func (tx *Tx) WithChild(fn func(child *Tx) error) (err error) {
	child := tx.BeginChild()
	defer func() {
		if r := recover(); r != nil {
			child.Rollback()
			panic(r)
		}
	}()
	if err = fn(child); err != nil {
		child.Rollback()
		return err
	}
	return child.Commit()
}

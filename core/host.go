package core

// Host is the thin abstraction over the rollup host: the next inbox
// message, the durable byte-addressable tree, and the reveal-preimage
// channel. Everything else in the core is built on top of this interface so
// that the single-node WAL-backed implementation (WALHost, built on a
// WAL-replay pattern) and the in-memory MemHost used by tests are
// interchangeable.

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// InboxMessage is the raw payload read from the inbox, tagged with its
// level (block height analogue) and a per-level sequence id.
type InboxMessage struct {
	Level   uint64
	ID      uint64
	Payload []byte
}

// Host is the collaborator interface the rest of the kernel is built
// against. All methods fail only with a *Error of kind KindStorageFailure,
// except RevealPreimage, which fails with KindPreimageMissing for an
// unregistered hash.
type Host interface {
	// ReadInput returns the next inbox message, or ok=false when the
	// current level's inbox is exhausted.
	ReadInput() (msg InboxMessage, ok bool, err error)
	// StoreRead returns up to len bytes starting at offset from the
	// durable byte range at path. Returns (nil, nil) if path is absent.
	StoreRead(path string, offset, length int) ([]byte, error)
	// StoreWrite writes bytes at offset into the durable byte range at
	// path, creating or extending it as needed.
	StoreWrite(path string, offset int, data []byte) error
	// StoreDelete removes the byte range at path entirely.
	StoreDelete(path string) error
	// StoreList returns the immediate child path segments under path, in
	// ascending lexical order.
	StoreList(path string) ([]string, error)
	// RevealPreimage fetches the chunk registered under hash via the
	// reveal channel.
	RevealPreimage(hash Hash) ([]byte, error)
	// WriteDebug appends a line to the host's debug log.
	WriteDebug(line string)
}

// MemHost is an in-memory Host implementation used by tests (`jstzd run`
// always uses a WALHost). It is not durable across process restarts.
type MemHost struct {
	mu        sync.Mutex
	tree      map[string][]byte
	preimages map[Hash][]byte
	inbox     []InboxMessage
	pos       int
	debugLog  []string
}

// NewMemHost constructs an empty in-memory host, optionally pre-seeded with
// an ordered inbox.
func NewMemHost(inbox []InboxMessage) *MemHost {
	return &MemHost{
		tree:      make(map[string][]byte),
		preimages: make(map[Hash][]byte),
		inbox:     inbox,
	}
}

// PushInput appends a message to the tail of the inbox, for tests that feed
// messages incrementally (e.g. oracle responses arriving "later").
func (h *MemHost) PushInput(msg InboxMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbox = append(h.inbox, msg)
}

// SeedPreimage registers a chunk so RevealPreimage can serve it, simulating
// the host's reveal channel being populated out of band.
func (h *MemHost) SeedPreimage(hash Hash, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preimages[hash] = append([]byte(nil), data...)
}

func (h *MemHost) ReadInput() (InboxMessage, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos >= len(h.inbox) {
		return InboxMessage{}, false, nil
	}
	msg := h.inbox[h.pos]
	h.pos++
	return msg, true, nil
}

func (h *MemHost) StoreRead(path string, offset, length int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.tree[path]
	if !ok {
		return nil, nil
	}
	if offset >= len(data) {
		return nil, nil
	}
	end := offset + length
	if length <= 0 || end > len(data) {
		end = len(data)
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (h *MemHost) StoreWrite(path string, offset int, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := h.tree[path]
	need := offset + len(data)
	if need > len(cur) {
		grown := make([]byte, need)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:], data)
	h.tree[path] = cur
	return nil
}

func (h *MemHost) StoreDelete(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tree, path)
	prefix := path + "/"
	for k := range h.tree {
		if strings.HasPrefix(k, prefix) {
			delete(h.tree, k)
		}
	}
	return nil
}

func (h *MemHost) StoreList(path string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prefix := path
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seen := make(map[string]struct{})
	for k := range h.tree {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if rest == "" {
			continue
		}
		seg := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seg = rest[:i]
		}
		seen[seg] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (h *MemHost) RevealPreimage(hash Hash) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.preimages[hash]
	if !ok {
		return nil, NewError(KindPreimageMissing, fmt.Sprintf("no preimage for %s", hash), nil)
	}
	return data, nil
}

func (h *MemHost) WriteDebug(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debugLog = append(h.debugLog, line)
}

// DebugLog returns the accumulated debug lines, for test assertions.
func (h *MemHost) DebugLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.debugLog))
	copy(out, h.debugLog)
	return out
}

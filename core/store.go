package core

// WALHost is a durable Host built on a WAL-replay-then-snapshot pattern,
// generalised from "replay a log of blocks" to "replay a log of durable
// byte-range writes". Preimages are cached on disk the way a disk-backed LRU
// would cache content-addressed chunks: one file per content hash inside a
// dedicated subdirectory.

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// walRecord is a single mutation appended to the write-ahead log. Records
// are replayed in order to reconstruct the tree on startup, one
// JSON-encoded record per line.
type walRecord struct {
	Op     string `json:"op"` // "write" or "delete"
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// WALHostConfig configures a WALHost.
type WALHostConfig struct {
	Dir              string // root directory: holds tree.wal, tree.snap, preimages/
	SnapshotInterval int    // records between snapshots; 0 disables auto-snapshot
	Logger           *logrus.Logger
	// CacheLogger records preimage cache hits/misses, the one hot path in
	// the store frequent enough that logrus's field-map allocation per call
	// matters. Defaults to zap.NewNop(). logrus covers control-flow events
	// elsewhere in the store; zap covers this high-frequency cache path.
	CacheLogger *zap.Logger
}

// WALHost persists the durable tree to an append-only WAL plus periodic
// snapshots, and caches reveal preimages as individual files on disk.
type WALHost struct {
	mu               sync.Mutex
	dir              string
	walPath          string
	snapPath         string
	preimageDir      string
	wal              *os.File
	tree             map[string][]byte
	inbox            []InboxMessage
	pos              int
	sinceSnapshot    int
	snapshotInterval int
	log              *logrus.Logger
	cacheLog         *zap.Logger
	debug            *os.File
}

// OpenWALHost opens (creating if absent) a durable host rooted at cfg.Dir,
// replaying any existing snapshot and WAL tail, exactly as
// core/ledger.go's OpenLedger loads "ledger.snap" then replays "ledger.wal".
func OpenWALHost(cfg WALHostConfig) (_ *WALHost, err error) {
	if cfg.Dir == "" {
		return nil, NewError(KindStorageFailure, "empty store directory", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.CacheLogger == nil {
		cfg.CacheLogger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, NewError(KindStorageFailure, "mkdir store dir", err)
	}
	preimageDir := filepath.Join(cfg.Dir, "preimages")
	if err := os.MkdirAll(preimageDir, 0o755); err != nil {
		return nil, NewError(KindStorageFailure, "mkdir preimage dir", err)
	}

	h := &WALHost{
		dir:              cfg.Dir,
		walPath:          filepath.Join(cfg.Dir, "tree.wal"),
		snapPath:         filepath.Join(cfg.Dir, "tree.snap"),
		preimageDir:      preimageDir,
		tree:             make(map[string][]byte),
		snapshotInterval: cfg.SnapshotInterval,
		log:              cfg.Logger,
		cacheLog:         cfg.CacheLogger,
	}

	if snap, serr := os.ReadFile(h.snapPath); serr == nil {
		if jerr := json.Unmarshal(snap, &h.tree); jerr != nil {
			return nil, NewError(KindStorageFailure, "decode snapshot", jerr)
		}
	} else if !os.IsNotExist(serr) {
		return nil, NewError(KindStorageFailure, "read snapshot", serr)
	}

	wal, err := os.OpenFile(h.walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, NewError(KindStorageFailure, "open WAL", err)
	}
	defer func() {
		if err != nil {
			_ = wal.Close()
		}
	}()

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if jerr := json.Unmarshal(scanner.Bytes(), &rec); jerr != nil {
			return nil, NewError(KindStorageFailure, "WAL unmarshal", jerr)
		}
		h.applyRecord(rec)
	}
	if serr := scanner.Err(); serr != nil {
		return nil, NewError(KindStorageFailure, "WAL scan", serr)
	}
	h.wal = wal

	debug, derr := os.OpenFile(filepath.Join(cfg.Dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if derr == nil {
		h.debug = debug
	}
	return h, nil
}

func (h *WALHost) applyRecord(rec walRecord) {
	switch rec.Op {
	case "write":
		cur := h.tree[rec.Path]
		need := rec.Offset + len(rec.Data)
		if need > len(cur) {
			grown := make([]byte, need)
			copy(grown, cur)
			cur = grown
		}
		copy(cur[rec.Offset:], rec.Data)
		h.tree[rec.Path] = cur
	case "delete":
		delete(h.tree, rec.Path)
		prefix := rec.Path + "/"
		for k := range h.tree {
			if strings.HasPrefix(k, prefix) {
				delete(h.tree, k)
			}
		}
	}
}

func (h *WALHost) appendRecord(rec walRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return NewError(KindStorageFailure, "encode WAL record", err)
	}
	line = append(line, '\n')
	if _, err := h.wal.Write(line); err != nil {
		return NewError(KindStorageFailure, "write WAL", err)
	}
	h.sinceSnapshot++
	if h.snapshotInterval > 0 && h.sinceSnapshot >= h.snapshotInterval {
		if err := h.snapshotLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (h *WALHost) snapshotLocked() error {
	blob, err := json.Marshal(h.tree)
	if err != nil {
		return NewError(KindStorageFailure, "encode snapshot", err)
	}
	tmp := h.snapPath + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return NewError(KindStorageFailure, "write snapshot", err)
	}
	if err := os.Rename(tmp, h.snapPath); err != nil {
		return NewError(KindStorageFailure, "rename snapshot", err)
	}
	if err := h.wal.Truncate(0); err != nil {
		return NewError(KindStorageFailure, "truncate WAL", err)
	}
	if _, err := h.wal.Seek(0, 0); err != nil {
		return NewError(KindStorageFailure, "seek WAL", err)
	}
	h.sinceSnapshot = 0
	h.log.WithField("path", h.snapPath).Debug("store: snapshot written")
	return nil
}

func (h *WALHost) ReadInput() (InboxMessage, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos >= len(h.inbox) {
		return InboxMessage{}, false, nil
	}
	msg := h.inbox[h.pos]
	h.pos++
	return msg, true, nil
}

// LoadInbox replaces the pending inbox queue, used by `jstzd run` to feed
// the not-yet-processed messages of inbox.jsonl into the host.
func (h *WALHost) LoadInbox(msgs []InboxMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inbox = msgs
	h.pos = 0
}

func (h *WALHost) StoreRead(path string, offset, length int) ([]byte, error) {
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

func (h *WALHost) StoreWrite(path string, offset int, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.appendRecord(walRecord{Op: "write", Path: path, Offset: offset, Data: data}); err != nil {
		return err
	}
	h.applyRecord(walRecord{Op: "write", Path: path, Offset: offset, Data: data})
	return nil
}

func (h *WALHost) StoreDelete(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.appendRecord(walRecord{Op: "delete", Path: path}); err != nil {
		return err
	}
	h.applyRecord(walRecord{Op: "delete", Path: path})
	return nil
}

func (h *WALHost) StoreList(path string) ([]string, error) {
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

func (h *WALHost) RevealPreimage(hash Hash) ([]byte, error) {
	p := filepath.Join(h.preimageDir, hex.EncodeToString(hash[:]))
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		h.cacheLog.Debug("preimage cache miss", zap.String("hash", hash.String()))
		return nil, NewError(KindPreimageMissing, fmt.Sprintf("no preimage for %s", hash), nil)
	}
	if err != nil {
		return nil, NewError(KindStorageFailure, "read preimage", err)
	}
	h.cacheLog.Debug("preimage cache hit", zap.String("hash", hash.String()), zap.Int("bytes", len(data)))
	return data, nil
}

// SeedPreimage writes a chunk to the on-disk preimage cache, simulating the
// host's reveal channel being populated ahead of a reveal operation.
func (h *WALHost) SeedPreimage(hash Hash, data []byte) error {
	p := filepath.Join(h.preimageDir, hex.EncodeToString(hash[:]))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return NewError(KindStorageFailure, "write preimage", err)
	}
	h.cacheLog.Debug("preimage cache populated", zap.String("hash", hash.String()), zap.Int("bytes", len(data)))
	return nil
}

func (h *WALHost) WriteDebug(line string) {
	h.log.Debug(line)
	if h.debug != nil {
		_, _ = h.debug.WriteString(line + "\n")
	}
}

// Close flushes a final snapshot and closes the WAL file.
func (h *WALHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.snapshotLocked(); err != nil {
		return err
	}
	if h.debug != nil {
		_ = h.debug.Close()
	}
	return h.wal.Close()
}

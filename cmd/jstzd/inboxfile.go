package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jstz-dev/jstz-core/core"
)

// inboxLine is the on-disk JSON-lines representation of one queued inbox
// message: the same "one JSON object per line" shape core/store.go's WAL
// uses for its own append log, applied here to a devnet's pending-inbox
// file instead of committed state.
type inboxLine struct {
	Level   uint64 `json:"level"`
	ID      uint64 `json:"id"`
	Payload string `json:"payload"` // base64-encoded raw inbox payload
}

func inboxFilePath(storeDir string) string {
	return filepath.Join(storeDir, "inbox.jsonl")
}

// loadInboxFile reads every queued message still waiting to be processed. A
// missing file means an empty inbox, not an error — `jstzd run` against a
// freshly initialized store directory must succeed with nothing to drain.
func loadInboxFile(path string) ([]core.InboxMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var msgs []core.InboxMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec inboxLine
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, err
		}
		payload, err := base64.StdEncoding.DecodeString(rec.Payload)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, core.InboxMessage{Level: rec.Level, ID: rec.ID, Payload: payload})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func inboxOffsetPath(storeDir string) string {
	return filepath.Join(storeDir, "inbox.offset")
}

// readOffset returns how many inbox.jsonl lines have already been handed to
// the kernel, so repeated `jstzd run` invocations (and --watch polling
// loops) never replay a message the dispatcher already consumed a nonce
// for. A missing offset file means nothing has been processed yet.
func readOffset(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return 0, err
	}
	return n, nil
}

func writeOffset(path string, n int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", n)), 0o644)
}

// appendInboxFile queues one more message for the next `jstzd run` to pick
// up. Every message keeps the level of the last queued one (level 1 for an
// empty file); ids are sequential, starting at 1. Devnet tooling has no real L1 inbox, so this file plays
// that role end to end.
func appendInboxFile(path string, payload []byte) error {
	existing, err := loadInboxFile(path)
	if err != nil {
		return err
	}
	level, id := uint64(1), uint64(1)
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		level, id = last.Level, last.ID+1
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	rec := inboxLine{Level: level, ID: id, Payload: base64.StdEncoding.EncodeToString(payload)}
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	enc = append(enc, '\n')
	_, err = f.Write(enc)
	return err
}

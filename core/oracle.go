package core

// Oracle bridge: lets a smart function ask the kernel to fetch an external
// (non-"jstz://") URL without ever letting goja block — the request is
// queued, the operation that issued it returns immediately, and the
// resolution arrives on a later inbox message (InboxOracleResponse) that
// the dispatcher turns into a resumption call against the same smart
// function's "oracleResume" entrypoint. Outbound requests are rate limited
// the same way an HTTP-facing opcode handler would bound any externally
// triggered outbound traffic.

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OracleRequest is what a handler's fetch() call against a non-"jstz://"
// URL turns into.
type OracleRequest struct {
	ID      uint64
	Target  Address // the smart function that issued the request and will be resumed
	Method  string
	URL     string
	Headers []Header
	Body    []byte
	// IssuedAtLevel is the inbox level the request was queued at, used to
	// enforce OracleTimeoutLevels.
	IssuedAtLevel uint64
}

// OracleTimeoutLevels bounds how many inbox levels an outstanding request
// may wait before the kernel resumes its caller with a timeout response
// instead. Wall-clock durations aren't deterministic/replay-safe inside the
// kernel, so the timeout is expressed in inbox levels, each assumed to
// correspond roughly to one block.
const OracleTimeoutLevels = 20

// AllowList restricts which URL prefixes the oracle will fetch, closing off
// the obvious SSRF-style abuse of a kernel-privileged outbound fetch.
type AllowList []string

func (a AllowList) allows(url string) bool {
	if len(a) == 0 {
		return false
	}
	for _, prefix := range a {
		if len(url) >= len(prefix) && url[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// OracleQueue holds outstanding requests between the level they were issued
// and the level their response (or timeout) is delivered.
type OracleQueue struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	allow     AllowList
	pending   map[uint64]OracleRequest
	nextID    uint64
}

// NewOracleQueue constructs a queue gated by limiter (outbound requests per
// second) and restricted to URLs matching allow.
func NewOracleQueue(limiter *rate.Limiter, allow AllowList) *OracleQueue {
	return &OracleQueue{
		limiter: limiter,
		allow:   allow,
		pending: make(map[uint64]OracleRequest),
	}
}

// Submit enqueues a request, failing with KindOracleUnavailable if the URL
// is not allow-listed or the rate limiter has no tokens available.
func (q *OracleQueue) Submit(target Address, method, url string, headers []Header, body []byte, level uint64) (uint64, error) {
	if !q.allow.allows(url) {
		return 0, NewError(KindOracleUnavailable, fmt.Sprintf("url %q is not allow-listed", url), nil)
	}
	if q.limiter != nil && !q.limiter.Allow() {
		return 0, NewError(KindOracleUnavailable, "outbound request rate limit exceeded", nil)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := q.nextID
	q.pending[id] = OracleRequest{
		ID:            id,
		Target:        target,
		Method:        method,
		URL:           url,
		Headers:       headers,
		Body:          body,
		IssuedAtLevel: level,
	}
	return id, nil
}

// Take removes and returns the pending request for id, for the dispatcher
// to act on when its response arrives.
func (q *OracleQueue) Take(id uint64) (OracleRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	return req, ok
}

// ExpirePending returns the ids of every request issued more than
// OracleTimeoutLevels levels before currentLevel, removing them from the
// queue. The dispatcher resumes each one with a synthetic timeout response.
func (q *OracleQueue) ExpirePending(currentLevel uint64) []OracleRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []OracleRequest
	for id, req := range q.pending {
		if currentLevel > req.IssuedAtLevel && currentLevel-req.IssuedAtLevel > OracleTimeoutLevels {
			expired = append(expired, req)
			delete(q.pending, id)
		}
	}
	return expired
}

// Pending reports how many requests are currently outstanding, for devnet
// inspection tooling.
func (q *OracleQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DefaultOracleLimiter is a modest steady-state rate with a small burst
// allowance, suitable for an HTTP-facing opcode handler.
func DefaultOracleLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 5)
}

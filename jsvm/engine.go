// Package jsvm implements the JS execution host: a goja-backed core.VM that
// runs a smart function's deployed code against one request and returns its
// response. It is a separate package from core specifically so core never
// imports goja — core defines the VM contract
// (core.VM/VMRequest/VMResponse), jsvm satisfies it, and the dispatcher
// (core.Dispatcher) is wired to a concrete *jsvm.Engine only at the
// top-level `cmd/jstzd` binary. This mirrors any VM-interface/embedding
// split: callers hold the interface, one concrete package owns the
// embedding.
package jsvm

import (
	"time"

	"github.com/dop251/goja"

	"github.com/jstz-dev/jstz-core/core"
)

// Engine is a core.VM backed by a fresh goja.Runtime per call. Runtimes are
// not reused across calls: goja.Runtime is not safe for concurrent use and
// jstz's determinism requirement rules out carrying any state (module
// caches, global mutation) between independent invocations anyway.
type Engine struct {
	// virtualNow is the fixed wall-clock value Date.now()/new Date() report
	// inside the sandbox, keeping JS execution deterministic by denying it
	// real wall-clock access. It defaults to the Unix epoch and can be
	// overridden for tests that want a specific virtual time.
	virtualNow int64

	// OracleSubmit, if set, backs fetch()'s external-URL branch (any URL not
	// prefixed jstz://): it queues an outbound request with the oracle
	// bridge and returns a request id the handler can correlate against a
	// later resumption call. Left nil, external fetch always fails with
	// KindOracleUnavailable — a devnet wired without an oracle queue simply
	// has no oracle bridge.
	OracleSubmit func(target core.Address, method, url string, headers []core.Header, body []byte) (uint64, error)
}

// NewEngine constructs an Engine with the given virtual clock value (Unix
// milliseconds).
func NewEngine(virtualNowMillis int64) *Engine {
	return &Engine{virtualNow: virtualNowMillis}
}

// callFrame is the per-Invoke state threaded through the bridge functions
// installed into the runtime's global object.
type callFrame struct {
	rt      *goja.Runtime
	tx      *core.Tx
	host    core.Host
	engine  *Engine
	self    core.Address
	caller  core.CallContext
	meter   *core.Meter
	nested  core.VM // the engine itself, used to dispatch SmartFunction.call recursively
	seedRng uint64  // xorshift64 state for deterministic Math.random

	// dirty is set the moment this invocation performs any KV write, balance
	// transfer, or nested call. An external fetch() is only permitted while
	// dirty is still false: once the handler has made an observable change,
	// an external request could no longer be replayed identically if the
	// oracle response differed between attempts, so it is refused instead.
	dirty bool
}

// Invoke satisfies core.VM.
func (e *Engine) Invoke(tx *core.Tx, host core.Host, caller core.CallContext, target core.Address, code []byte, req core.VMRequest, meter *core.Meter) (core.VMResponse, error) {
	if caller.Depth >= core.MaxCallDepth {
		return core.VMResponse{}, core.NewError(core.KindAborted, "max call depth exceeded", nil)
	}
	if err := meter.ChargeJSStep(uint64(len(code))); err != nil {
		return core.VMResponse{}, err
	}

	rt := goja.New()
	rt.SetMaxCallStackSize(256)

	frame := &callFrame{
		rt:      rt,
		tx:      tx,
		host:    host,
		engine:  e,
		self:    target,
		caller:  caller,
		meter:   meter,
		seedRng: seedFromBytes(target.Bytes(), req.Body),
	}
	frame.nested = e

	if err := installGlobals(rt, frame); err != nil {
		return core.VMResponse{}, core.NewError(core.KindAborted, "install sandbox globals", err)
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		_, runErr = rt.RunString(string(code))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		rt.Interrupt("execution timed out")
		<-done
	}
	if runErr != nil {
		return core.VMResponse{}, classifyJSError(runErr)
	}

	handlerVal := rt.Get("handler")
	handlerFn, ok := goja.AssertFunction(handlerVal)
	if !ok {
		return core.VMResponse{}, core.NewError(core.KindUserError, "deployed code does not define a global handler(request) function", nil)
	}

	reqObj := newRequestObject(rt, req)
	result, callErr := handlerFn(goja.Undefined(), reqObj)
	if callErr != nil {
		return core.VMResponse{}, classifyJSError(callErr)
	}

	return responseFromValue(rt, result)
}

func seedFromBytes(parts ...[]byte) uint64 {
	var h uint64 = 1469598103934665603 // FNV offset basis
	for _, p := range parts {
		for _, b := range p {
			h ^= uint64(b)
			h *= 1099511628211
		}
	}
	if h == 0 {
		h = 1
	}
	return h
}

// classifyJSError maps a goja execution error (thrown JS exception, syntax
// error, or interrupt) onto the receipt error taxonomy. A thrown JS value
// is always a user-level failure; anything else (stack overflow, interrupt,
// internal goja error) is an abort.
func classifyJSError(err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		return core.NewError(core.KindUserError, exc.Value().String(), nil)
	}
	if _, ok := err.(*goja.InterruptedError); ok {
		return core.NewError(core.KindAborted, "execution interrupted", err)
	}
	return core.NewError(core.KindAborted, "script execution failed", err)
}

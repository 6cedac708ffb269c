package core

// VM is the contract the JS execution host must satisfy. It lives in core
// so the dispatcher can depend on it without importing the concrete
// goja-backed engine — an interface that an EVM-style executor and a
// WASM-backed one could equally implement, with callers depending only on
// the interface, never the concrete engine.
type VM interface {
	// Invoke runs target's deployed code against req inside child, a
	// transaction frame already scoped to this call (the dispatcher opens
	// it via Tx.WithChild before calling in, and commits/rolls it back
	// based on the returned error). meter is shared across the whole
	// operation, including any nested SmartFunction.call frames the
	// handler itself triggers through caller.
	Invoke(child *Tx, host Host, caller CallContext, target Address, code []byte, req VMRequest, meter *Meter) (VMResponse, error)
}

// CallContext carries the ambient identity of whoever is making the current
// call — the transaction's source account for a top-level RunFunction, or
// the calling smart function's address for a nested SmartFunction.call.
type CallContext struct {
	Caller Address
	// Depth is the nested-call depth of this invocation, starting at 0 for
	// the top-level RunFunction. The engine enforces MaxCallDepth using
	// this field to reject unbounded recursion.
	Depth int
}

// MaxCallDepth bounds SmartFunction.call recursion. 64 matches typical
// EVM-family call depth limits and is far beyond any legitimate handler
// chain while still catching runaway recursion well before the host stack
// is at risk.
const MaxCallDepth = 64

// VMRequest is the Fetch-API-shaped input to a smart function invocation.
type VMRequest struct {
	Method  string
	URL     string // "jstz://<address>/<path>"
	Headers []Header
	Body    []byte
	// Amount is the mutez attached to this call, already credited to
	// target's balance by the dispatcher before Invoke is called.
	Amount uint64
}

// VMResponse is the Fetch-API-shaped output of a smart function invocation.
type VMResponse struct {
	StatusCode int
	Headers    []Header
	Body       []byte
}

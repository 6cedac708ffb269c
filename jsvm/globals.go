package jsvm

// Sandbox globals installed into every fresh runtime: Kv, SmartFunction,
// Ledger, fetch, TextEncoder/TextDecoder/atob/btoa, console, and the
// determinism shims (Math.random, Date) a deterministic sandbox requires.
// Request and Response values are plain objects built in http.go; no
// Request, Response, Headers or URL constructor is installed. This is the same
// "bridge Go state into a scripting sandbox via closures on the global
// object" pattern an opcode dispatch table would use, adapted from an
// opcode table to a set of named host functions.

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/jstz-dev/jstz-core/core"
)

func installGlobals(rt *goja.Runtime, frame *callFrame) error {
	if err := rt.Set("console", buildConsole(rt, frame)); err != nil {
		return err
	}
	if err := rt.Set("Kv", buildKv(rt, frame)); err != nil {
		return err
	}
	if err := rt.Set("SmartFunction", buildSmartFunction(rt, frame)); err != nil {
		return err
	}
	if err := rt.Set("Ledger", buildLedger(rt, frame)); err != nil {
		return err
	}
	if err := rt.Set("fetch", buildFetch(rt, frame)); err != nil {
		return err
	}
	if err := rt.Set("atob", buildAtob(rt)); err != nil {
		return err
	}
	if err := rt.Set("btoa", buildBtoa(rt)); err != nil {
		return err
	}
	if err := installTextCodec(rt); err != nil {
		return err
	}
	if err := installDeterminismShims(rt, frame); err != nil {
		return err
	}
	return nil
}

// ---- console -------------------------------------------------------------

func buildConsole(rt *goja.Runtime, frame *callFrame) *goja.Object {
	obj := rt.NewObject()
	log := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		if frame.host != nil {
			frame.host.WriteDebug(frame.self.String() + ": " + strings.Join(parts, " "))
		}
		return goja.Undefined()
	}
	_ = obj.Set("log", log)
	_ = obj.Set("error", log)
	_ = obj.Set("warn", log)
	_ = obj.Set("debug", log)
	return obj
}

// ---- Kv --------------------------------------------------------------

func buildKv(rt *goja.Runtime, frame *callFrame) *goja.Object {
	obj := rt.NewObject()
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := frame.meter.ChargeStorageRead(len(key)); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		v, err := core.NewAccounts(frame.tx).KvGet(frame.self, key)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		if v == nil {
			return goja.Null()
		}
		var decoded interface{}
		if jsonUnmarshal(v, &decoded) != nil {
			return rt.ToValue(string(v))
		}
		return rt.ToValue(decoded)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		val := call.Argument(1).Export()
		enc, err := jsonMarshal(val)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		if err := frame.meter.ChargeStorageWrite(len(enc)); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		core.NewAccounts(frame.tx).KvSet(frame.self, key, enc)
		frame.dirty = true
		return goja.Undefined()
	})
	_ = obj.Set("delete", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		if err := frame.meter.ChargeStorageDelete(); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		core.NewAccounts(frame.tx).KvDelete(frame.self, key)
		frame.dirty = true
		return goja.Undefined()
	})
	_ = obj.Set("has", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		ok, err := core.NewAccounts(frame.tx).KvHas(frame.self, key)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return rt.ToValue(ok)
	})
	return obj
}

// ---- Ledger ------------------------------------------------------------

func buildLedger(rt *goja.Runtime, frame *callFrame) *goja.Object {
	obj := rt.NewObject()
	_ = obj.Set("selfAddress", frame.self.String())
	_ = obj.Set("balance", func(call goja.FunctionCall) goja.Value {
		addrStr := frame.self.String()
		if len(call.Arguments) > 0 {
			addrStr = call.Argument(0).String()
		}
		addr, err := core.ParseAddress(addrStr)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		bal, err := core.NewAccounts(frame.tx).BalanceOf(addr)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return rt.ToValue(bal)
	})
	_ = obj.Set("transfer", func(call goja.FunctionCall) goja.Value {
		toStr := call.Argument(0).String()
		amount := call.Argument(1).ToInteger()
		to, err := core.ParseAddress(toStr)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		if err := core.NewAccounts(frame.tx).Transfer(frame.self, to, uint64(amount)); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		frame.dirty = true
		return goja.Undefined()
	})
	return obj
}

// ---- fetch ---------------------------------------------------------------

// buildFetch installs the single entrypoint a handler uses both to call
// another smart function ("jstz://<address>/...") and to reach the oracle
// bridge for any other URL. The internal routing case is implemented
// synchronously here; an external request is instead queued with the oracle
// bridge and the call returns immediately with the request id — the
// handler's whole invocation is later resumed from scratch once a matching
// oracle response arrives on the inbox, which is why an external fetch is
// only permitted before the invocation has made any observable change (see
// callFrame.dirty): resuming from scratch after a partial effect already
// took place would silently redo or skip that effect.
func buildFetch(rt *goja.Runtime, frame *callFrame) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		url := call.Argument(0).String()
		if !strings.HasPrefix(url, "jstz://") {
			return fetchExternal(rt, frame, call, url)
		}
		rest := strings.TrimPrefix(url, "jstz://")
		addrStr := rest
		path := "/"
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			addrStr = rest[:i]
			path = rest[i:]
		}
		target, err := core.ParseAddress(addrStr)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}

		method := "GET"
		var body []byte
		var headers []core.Header
		var amount uint64
		if len(call.Arguments) > 1 {
			opts := call.Argument(1).ToObject(rt)
			if m := opts.Get("method"); m != nil && !goja.IsUndefined(m) {
				method = m.String()
			}
			if b := opts.Get("body"); b != nil && !goja.IsUndefined(b) {
				body = []byte(b.String())
			}
			if a := opts.Get("amount"); a != nil && !goja.IsUndefined(a) {
				amount = uint64(a.ToInteger())
			}
		}

		if err := frame.meter.ChargeNestedCall(); err != nil {
			panic(rt.ToValue(err.Error()))
		}

		resp, err := invokeNested(frame, target, core.VMRequest{
			Method:  method,
			URL:     path,
			Headers: headers,
			Body:    body,
			Amount:  amount,
		})
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return newResponseObject(rt, resp)
	}
}

// fetchExternal handles fetch() on any URL not prefixed jstz://, routing it
// through the oracle bridge: queuing an external request never blocks the
// sandbox, it returns a request id the handler should persist (typically
// into its own Kv state) so it can recognize the matching resumption call
// later.
func fetchExternal(rt *goja.Runtime, frame *callFrame, call goja.FunctionCall, url string) goja.Value {
	if frame.dirty {
		panic(rt.ToValue((&core.Error{Kind: core.KindOracleUnavailable, Message: "external fetch is only allowed before this invocation writes, transfers, or calls another function"}).Error()))
	}
	if frame.engine.OracleSubmit == nil {
		panic(rt.ToValue((&core.Error{Kind: core.KindOracleUnavailable, Message: "no oracle bridge configured"}).Error()))
	}

	method := "GET"
	var body []byte
	var headers []core.Header
	if len(call.Arguments) > 1 {
		opts := call.Argument(1).ToObject(rt)
		if m := opts.Get("method"); m != nil && !goja.IsUndefined(m) {
			method = m.String()
		}
		if b := opts.Get("body"); b != nil && !goja.IsUndefined(b) {
			body = []byte(b.String())
		}
		headers = headersFromObject(rt, opts.Get("headers"))
	}

	if err := frame.meter.ChargeOracleRequest(); err != nil {
		panic(rt.ToValue(err.Error()))
	}
	id, err := frame.engine.OracleSubmit(frame.self, method, url, headers, body)
	if err != nil {
		panic(rt.ToValue(err.Error()))
	}
	return rt.ToValue(id)
}

// invokeNested opens a child transaction for the callee and dispatches into
// it via frame.nested, enforcing the caller/callee balance transfer and
// call-depth increment a nested SmartFunction.call requires.
func invokeNested(frame *callFrame, target core.Address, req core.VMRequest) (resp core.VMResponse, err error) {
	frame.dirty = true
	accounts := core.NewAccounts(frame.tx)
	code, cerr := accounts.CodeOf(target)
	if cerr != nil {
		return core.VMResponse{}, cerr
	}
	if code == nil {
		return core.VMResponse{}, core.NewError(core.KindNoSuchFunction, target.String(), nil)
	}

	callErr := frame.tx.WithChild(func(child *core.Tx) error {
		if req.Amount > 0 {
			if terr := core.NewAccounts(child).Transfer(frame.self, target, req.Amount); terr != nil {
				return terr
			}
		}
		callerCtx := core.CallContext{Caller: frame.self, Depth: frame.caller.Depth + 1}
		r, ierr := frame.nested.Invoke(child, frame.host, callerCtx, target, code, req, frame.meter)
		if ierr != nil {
			return ierr
		}
		resp = r
		return nil
	})
	if callErr != nil {
		return core.VMResponse{}, callErr
	}
	return resp, nil
}

// ---- SmartFunction.call --------------------------------------------------

func buildSmartFunction(rt *goja.Runtime, frame *callFrame) *goja.Object {
	obj := rt.NewObject()
	_ = obj.Set("call", func(call goja.FunctionCall) goja.Value {
		addrStr := call.Argument(0).String()
		target, err := core.ParseAddress(addrStr)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		reqVal := call.Argument(1)
		req := requestFromValue(rt, reqVal)

		if err := frame.meter.ChargeNestedCall(); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		resp, err := invokeNested(frame, target, req)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return newResponseObject(rt, resp)
	})
	return obj
}

// ---- atob/btoa ------------------------------------------------------------

func buildAtob(rt *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			panic(rt.ToValue(fmt.Sprintf("atob: %v", err)))
		}
		return rt.ToValue(string(data))
	}
}

func buildBtoa(rt *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		return rt.ToValue(base64.StdEncoding.EncodeToString([]byte(s)))
	}
}

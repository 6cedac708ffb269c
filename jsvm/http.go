package jsvm

// Fetch-API-shaped Request/Response bridging between core.VMRequest/
// VMResponse and goja values, plus the handful of JSON helpers Kv uses to
// store arbitrary JS values.

import (
	"encoding/json"

	"github.com/dop251/goja"

	"github.com/jstz-dev/jstz-core/core"
)

func jsonMarshal(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func jsonUnmarshal(b []byte, v interface{}) error { return json.Unmarshal(b, v) }

func headersToObject(rt *goja.Runtime, headers []core.Header) *goja.Object {
	obj := rt.NewObject()
	entries := map[string][]string{}
	for _, h := range headers {
		entries[h.Key] = h.Values
	}
	_ = obj.Set("get", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		vals, ok := entries[key]
		if !ok || len(vals) == 0 {
			return goja.Null()
		}
		return rt.ToValue(vals[0])
	})
	_ = obj.Set("has", func(call goja.FunctionCall) goja.Value {
		_, ok := entries[call.Argument(0).String()]
		return rt.ToValue(ok)
	})
	_ = obj.Set("set", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		entries[key] = []string{call.Argument(1).String()}
		return goja.Undefined()
	})
	return obj
}

func headersFromObject(rt *goja.Runtime, v goja.Value) []core.Header {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj := v.ToObject(rt)
	var out []core.Header
	for _, key := range obj.Keys() {
		val := obj.Get(key)
		out = append(out, core.Header{Key: key, Values: []string{val.String()}})
	}
	return out
}

// newRequestObject builds the JS Request object passed as the handler's
// sole argument.
func newRequestObject(rt *goja.Runtime, req core.VMRequest) *goja.Object {
	obj := rt.NewObject()
	_ = obj.Set("method", req.Method)
	_ = obj.Set("url", req.URL)
	_ = obj.Set("headers", headersToObject(rt, req.Headers))
	_ = obj.Set("amount", req.Amount)
	_ = obj.Set("text", func(call goja.FunctionCall) goja.Value { return rt.ToValue(string(req.Body)) })
	_ = obj.Set("json", func(call goja.FunctionCall) goja.Value {
		var v interface{}
		if err := jsonUnmarshal(req.Body, &v); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return rt.ToValue(v)
	})
	return obj
}

// requestFromValue converts a JS-constructed Request-shaped value (as
// passed to SmartFunction.call) back into a core.VMRequest.
func requestFromValue(rt *goja.Runtime, v goja.Value) core.VMRequest {
	obj := v.ToObject(rt)
	req := core.VMRequest{Method: "GET"}
	if m := obj.Get("method"); m != nil && !goja.IsUndefined(m) {
		req.Method = m.String()
	}
	if u := obj.Get("url"); u != nil && !goja.IsUndefined(u) {
		req.URL = u.String()
	}
	if b := obj.Get("body"); b != nil && !goja.IsUndefined(b) && !goja.IsNull(b) {
		req.Body = []byte(b.String())
	}
	if a := obj.Get("amount"); a != nil && !goja.IsUndefined(a) {
		req.Amount = uint64(a.ToInteger())
	}
	req.Headers = headersFromObject(rt, obj.Get("headers"))
	return req
}

// newResponseObject builds the JS Response object returned from a nested
// call.
func newResponseObject(rt *goja.Runtime, resp core.VMResponse) *goja.Object {
	obj := rt.NewObject()
	_ = obj.Set("status", resp.StatusCode)
	_ = obj.Set("ok", resp.StatusCode >= 200 && resp.StatusCode < 300)
	_ = obj.Set("headers", headersToObject(rt, resp.Headers))
	_ = obj.Set("text", func(call goja.FunctionCall) goja.Value { return rt.ToValue(string(resp.Body)) })
	_ = obj.Set("json", func(call goja.FunctionCall) goja.Value {
		var v interface{}
		if err := jsonUnmarshal(resp.Body, &v); err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return rt.ToValue(v)
	})
	return obj
}

// responseFromValue converts the value a handler returned into a
// core.VMResponse. Handlers may return a Response-shaped object (status,
// headers, body) or, as a convenience, a bare value treated as a 200
// response body: a string is used verbatim, anything else is JSON-encoded.
func responseFromValue(rt *goja.Runtime, v goja.Value) (core.VMResponse, error) {
	if v == nil || goja.IsUndefined(v) {
		return core.VMResponse{StatusCode: 204}, nil
	}
	exported := v.Export()
	if m, ok := exported.(map[string]interface{}); ok {
		if _, hasStatus := m["status"]; hasStatus {
			obj := v.ToObject(rt)
			status := 200
			if s := obj.Get("status"); s != nil && !goja.IsUndefined(s) {
				status = int(s.ToInteger())
			}
			var body []byte
			if b := obj.Get("body"); b != nil && !goja.IsUndefined(b) && !goja.IsNull(b) {
				body = []byte(b.String())
			}
			headers := headersFromObject(rt, obj.Get("headers"))
			return core.VMResponse{StatusCode: status, Headers: headers, Body: body}, nil
		}
	}
	if s, ok := exported.(string); ok {
		return core.VMResponse{StatusCode: 200, Body: []byte(s)}, nil
	}
	enc, err := jsonMarshal(exported)
	if err != nil {
		return core.VMResponse{}, core.NewError(core.KindUserError, "handler returned a value that cannot be serialized", err)
	}
	return core.VMResponse{StatusCode: 200, Body: enc}, nil
}

package jsvm

// Determinism shims: Math.random is reseeded per call from
// the operation's content so the same operation always produces the same
// sequence, Date.now()/new Date() return a fixed virtual timestamp instead
// of the wall clock, and setTimeout/setInterval are replaced with functions
// that unconditionally throw — a kernel has no event loop to service them.

import (
	"time"

	"github.com/dop251/goja"

	"github.com/jstz-dev/jstz-core/core"
)

func installTextCodec(rt *goja.Runtime) error {
	encoderCtor := func(call goja.ConstructorCall) *goja.Object {
		obj := call.This
		_ = obj.Set("encode", func(inner goja.FunctionCall) goja.Value {
			s := inner.Argument(0).String()
			bytes := []byte(s)
			arr := rt.NewArray()
			for i, b := range bytes {
				_ = arr.Set(itoa(i), b)
			}
			_ = arr.Set("length", len(bytes))
			return arr
		})
		return nil
	}
	if err := rt.Set("TextEncoder", rt.ToValue(encoderCtor)); err != nil {
		return err
	}

	decoderCtor := func(call goja.ConstructorCall) *goja.Object {
		obj := call.This
		_ = obj.Set("decode", func(inner goja.FunctionCall) goja.Value {
			v := inner.Argument(0)
			exported := v.Export()
			bytes, ok := exported.([]byte)
			if !ok {
				// fall back: treat as an array-like of numbers
				arr := v.ToObject(rt)
				length := int(arr.Get("length").ToInteger())
				bytes = make([]byte, length)
				for i := 0; i < length; i++ {
					bytes[i] = byte(arr.Get(itoa(i)).ToInteger())
				}
			}
			return rt.ToValue(string(bytes))
		})
		return nil
	}
	return rt.Set("TextDecoder", rt.ToValue(decoderCtor))
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// installDeterminismShims overrides Math.random and the Date constructor to
// remove every source of non-determinism from the sandbox, and replaces
// setTimeout/setInterval with rejecting stubs.
func installDeterminismShims(rt *goja.Runtime, frame *callFrame) error {
	mathObj := rt.Get("Math").ToObject(rt)
	_ = mathObj.Set("random", func(call goja.FunctionCall) goja.Value {
		frame.seedRng ^= frame.seedRng << 13
		frame.seedRng ^= frame.seedRng >> 7
		frame.seedRng ^= frame.seedRng << 17
		// scale to [0, 1) the way math/rand's float64 does from a uint64.
		return rt.ToValue(float64(frame.seedRng>>11) / (1 << 53))
	})

	virtualNow := frame.engine.virtualNow
	virtualISO := time.UnixMilli(virtualNow).UTC().Format("2006-01-02T15:04:05.000Z")
	dateCtor := func(call goja.ConstructorCall) *goja.Object {
		obj := call.This
		_ = obj.Set("getTime", func(goja.FunctionCall) goja.Value { return rt.ToValue(virtualNow) })
		_ = obj.Set("toISOString", func(goja.FunctionCall) goja.Value { return rt.ToValue(virtualISO) })
		return nil
	}
	dateVal := rt.ToValue(dateCtor)
	dateObj := dateVal.ToObject(rt)
	_ = dateObj.Set("now", func(goja.FunctionCall) goja.Value { return rt.ToValue(virtualNow) })
	if err := rt.Set("Date", dateVal); err != nil {
		return err
	}

	notSupported := func(call goja.FunctionCall) goja.Value {
		panic(rt.ToValue((&core.Error{Kind: core.KindNotSupported, Message: "timers are not available inside a smart function"}).Error()))
	}
	if err := rt.Set("setTimeout", notSupported); err != nil {
		return err
	}
	if err := rt.Set("setInterval", notSupported); err != nil {
		return err
	}
	if err := rt.Set("clearTimeout", func(goja.FunctionCall) goja.Value { return goja.Undefined() }); err != nil {
		return err
	}
	return rt.Set("clearInterval", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
}

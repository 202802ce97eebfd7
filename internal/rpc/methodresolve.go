package rpc

import (
	"context"
	"encoding/json"
	"reflect"
	"unicode"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// exportedName maps a wire method name (arbitrary case, often
// lowerCamelCase on the TypeScript side) to the capitalized Go identifier
// callers are expected to export on their handler struct. Go has no
// method overloading, so — unlike a runtime that picks among several
// same-named overloads by arity/type — resolution here is a single
// name lookup; arity and parameter-type compatibility are still checked
// against that one method before invocation.
func exportedName(wireName string) string {
	if wireName == "" {
		return wireName
	}
	r := []rune(wireName)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// resolveMethod locates the Go method on handler matching name, returning
// a HandlerError (never a generic error) on any resolution failure so the
// caller can decide whether to log-and-ReplyErrError.
func resolveMethod(handler any, name string) (reflect.Value, reflect.Type, error) {
	v := reflect.ValueOf(handler)
	m := v.MethodByName(exportedName(name))
	if !m.IsValid() {
		return reflect.Value{}, nil, newHandlerError("no method %q on handler %T", name, handler)
	}
	return m, m.Type(), nil
}

// callPlan describes how many of a method's formal parameters are
// "real" arguments versus a synthesized leading or trailing plumbing
// parameter (context.Context).
type callPlan struct {
	wantsContext bool // leading or trailing context.Context parameter, for cancellation
	contextFirst bool // the context.Context is the first parameter, not the last
	argTypes     []reflect.Type
}

func planCall(mt reflect.Type) callPlan {
	n := mt.NumIn()
	first := 0
	plan := callPlan{}
	if n > 0 && mt.In(0) == ctxType {
		plan.wantsContext, plan.contextFirst = true, true
		first = 1
	} else if n > 0 && mt.In(n-1) == ctxType {
		plan.wantsContext = true
		n--
	}
	plan.argTypes = make([]reflect.Type, 0, n-first)
	for i := first; i < n; i++ {
		plan.argTypes = append(plan.argTypes, mt.In(i))
	}
	return plan
}

// invokeJSON calls method with a JSON-array-encoded argument list,
// unmarshaling each element into the corresponding declared parameter
// type (numeric widening and string/bool conversions are handled by
// encoding/json itself when the declared type is concrete).
func invokeJSON(method reflect.Value, mt reflect.Type, argsJSON []byte, ctx context.Context) (any, error) {
	var raw []json.RawMessage
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &raw); err != nil {
			return nil, newHandlerError("decoding json args: %v", err)
		}
	}
	plan := planCall(mt)
	if len(raw) != len(plan.argTypes) {
		return nil, newHandlerError("arity mismatch: method wants %d args, got %d", len(plan.argTypes), len(raw))
	}
	in := make([]reflect.Value, 0, len(plan.argTypes)+1)
	for i, t := range plan.argTypes {
		ptr := reflect.New(t)
		if string(raw[i]) != "null" {
			if err := json.Unmarshal(raw[i], ptr.Interface()); err != nil {
				return nil, newHandlerError("decoding arg %d as %s: %v", i, t, err)
			}
		}
		in = append(in, ptr.Elem())
	}
	if plan.contextFirst {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, in...)
	} else if plan.wantsContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	return callAndInterpret(method, in)
}

// invokeMixed calls method with mixedArray-decoded atoms.
func invokeMixed(method reflect.Value, mt reflect.Type, args []Arg, ctx context.Context) (any, error) {
	plan := planCall(mt)
	if len(args) != len(plan.argTypes) {
		return nil, newHandlerError("arity mismatch: method wants %d args, got %d", len(plan.argTypes), len(args))
	}
	in := make([]reflect.Value, 0, len(plan.argTypes)+1)
	for i, t := range plan.argTypes {
		v, err := convertArg(args[i], t)
		if err != nil {
			return nil, newHandlerError("converting arg %d: %v", i, err)
		}
		in = append(in, v)
	}
	if plan.contextFirst {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, in...)
	} else if plan.wantsContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	return callAndInterpret(method, in)
}

func convertArg(a Arg, t reflect.Type) (reflect.Value, error) {
	switch a.Kind {
	case ArgUndefined:
		return reflect.Zero(t), nil
	case ArgBuffer:
		if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return reflect.ValueOf(a.Buffer).Convert(t), nil
		}
		ptr := reflect.New(t)
		return ptr.Elem(), nil
	case ArgSerializedObjectWithBuffers:
		decoded, err := DecodeSerializedWithBuffers(a.JSON, a.Buffers)
		if err != nil {
			return reflect.Value{}, err
		}
		if t.Kind() == reflect.Interface {
			return reflect.ValueOf(decoded), nil
		}
		// Round-trip through JSON to coerce the generic decode into a
		// concrete declared type.
		j, err := json.Marshal(decoded)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t)
		if err := json.Unmarshal(j, ptr.Interface()); err != nil {
			return reflect.Value{}, err
		}
		return ptr.Elem(), nil
	default: // ArgString
		ptr := reflect.New(t)
		if len(a.JSON) > 0 && string(a.JSON) != "null" {
			if err := json.Unmarshal(a.JSON, ptr.Interface()); err != nil {
				return reflect.Value{}, err
			}
		}
		return ptr.Elem(), nil
	}
}

// callAndInterpret invokes method and maps its return values onto
// (result, error) per the Go idiom of a trailing error return.
func callAndInterpret(method reflect.Value, in []reflect.Value) (any, error) {
	out := method.Call(in)
	var result any
	var err error
	for _, o := range out {
		if o.Type() == errType {
			if !o.IsNil() {
				err = o.Interface().(error)
			}
			continue
		}
		result = o.Interface()
	}
	return result, err
}

// methodExists is a light existence check; it does not validate signature
// compatibility.
func methodExists(handler any, name string) bool {
	return reflect.ValueOf(handler).MethodByName(exportedName(name)).IsValid()
}

package rpc

import (
	"encoding/json"
	"fmt"
)

// ArgKind tags a single mixedArray atom.
type ArgKind uint8

const (
	ArgString ArgKind = 1
	ArgBuffer ArgKind = 2
	ArgSerializedObjectWithBuffers ArgKind = 3
	ArgUndefined ArgKind = 4
)

// Arg is one mixed-argument atom: exactly the fields relevant to Kind are
// populated.
type Arg struct {
	Kind ArgKind

	// ArgString: JSON-encoded scalar/object.
	// ArgSerializedObjectWithBuffers: the rewritten (ref-substituted) JSON.
	JSON []byte

	// ArgBuffer: the raw bytes.
	Buffer []byte

	// ArgSerializedObjectWithBuffers: the out-of-band buffers the JSON
	// tree's {"$$ref$$": i} placeholders point into.
	Buffers [][]byte
}

// NeedsMixedEncoding reports whether any argument in vals requires the
// mixedArray codec: a nil value, a raw []byte, or a SerializedWithBuffers
// wrapper. If false, callers should JSON-encode vals as a single array and
// use RequestJSONArgs instead.
func NeedsMixedEncoding(vals []any) bool {
	for _, v := range vals {
		switch v.(type) {
		case nil:
			return true
		case []byte:
			return true
		case SerializedWithBuffers:
			return true
		}
	}
	return false
}

// SerializedWithBuffers is the Go counterpart of
// SerializableObjectWithBuffers<T>: arbitrary structured data (Value)
// whose []byte values EncodeArgs and EncodeSerializedWithBuffers move into
// out-of-band buffers, replacing each with a {"$$ref$$": index}
// placeholder before JSON-marshaling. Only []byte values reached through
// map[string]any and []any are moved; a []byte inside a struct or a typed
// map or slice is left to encoding/json, which writes it as a base64
// string.
type SerializedWithBuffers struct {
	Value any
}

// refPlaceholder is the JSON shape of a buffer reference.
type refPlaceholder struct {
	Ref int `json:"$$ref$$"`
}

// EncodeArgs converts a method's argument list into mixedArray atoms.
func EncodeArgs(vals []any) ([]Arg, error) {
	args := make([]Arg, 0, len(vals))
	for _, v := range vals {
		switch t := v.(type) {
		case nil:
			args = append(args, Arg{Kind: ArgUndefined})
		case []byte:
			args = append(args, Arg{Kind: ArgBuffer, Buffer: t})
		case SerializedWithBuffers:
			var buffers [][]byte
			rewritten := extractBuffers(t.Value, &buffers)
			j, err := json.Marshal(rewritten)
			if err != nil {
				return nil, fmt.Errorf("rpc: marshaling buffer-bearing arg: %w", err)
			}
			args = append(args, Arg{Kind: ArgSerializedObjectWithBuffers, JSON: j, Buffers: buffers})
		default:
			j, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("rpc: marshaling string arg: %w", err)
			}
			args = append(args, Arg{Kind: ArgString, JSON: j})
		}
	}
	return args, nil
}

// extractBuffers walks v through map[string]any and []any values,
// replacing every []byte it reaches with a ref placeholder appended to
// *buffers, and returns the rewritten tree. Any other value, including a
// struct with []byte fields, is returned unchanged.
func extractBuffers(v any, buffers *[][]byte) any {
	switch t := v.(type) {
	case []byte:
		idx := len(*buffers)
		*buffers = append(*buffers, t)
		return refPlaceholder{Ref: idx}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = extractBuffers(vv, buffers)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = extractBuffers(vv, buffers)
		}
		return out
	default:
		return v
	}
}

// restoreBuffers is the decode-side inverse of extractBuffers: every
// {"$$ref$$": i} object in v is replaced by buffers[i].
func restoreBuffers(v any, buffers [][]byte) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if raw, ok := t["$$ref$$"]; ok {
				if f, ok := raw.(float64); ok {
					idx := int(f)
					if idx >= 0 && idx < len(buffers) {
						return buffers[idx]
					}
					return nil
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = restoreBuffers(vv, buffers)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = restoreBuffers(vv, buffers)
		}
		return out
	default:
		return v
	}
}

// DecodeSerializedWithBuffers parses a ReplyOKJSONWithBuffers-style
// (json, buffers) pair back into a plain Go value tree with every
// placeholder resolved to its buffer.
func DecodeSerializedWithBuffers(resultJSON []byte, buffers [][]byte) (any, error) {
	var tree any
	if err := json.Unmarshal(resultJSON, &tree); err != nil {
		return nil, fmt.Errorf("rpc: unmarshaling buffer-bearing result: %w", err)
	}
	return restoreBuffers(tree, buffers), nil
}

// EncodeSerializedWithBuffers rewrites v's tree (extracting []byte leaves
// into an out-of-band buffer list) and JSON-marshals the result, for use
// by reply encoding as well as EncodeArgs.
func EncodeSerializedWithBuffers(v SerializedWithBuffers) (resultJSON []byte, buffers [][]byte, err error) {
	rewritten := extractBuffers(v.Value, &buffers)
	resultJSON, err = json.Marshal(rewritten)
	return resultJSON, buffers, err
}

// EncodeMixedArray serializes a mixedArray: count:u8 then each atom as
// argType:u8 | body.
func EncodeMixedArray(args []Arg) []byte {
	w := NewBufferWriter().WriteUint8(uint8(len(args)))
	for _, a := range args {
		w.WriteUint8(uint8(a.Kind))
		switch a.Kind {
		case ArgString:
			w.WriteLongString(string(a.JSON))
		case ArgBuffer:
			w.WriteBuffer(a.Buffer)
		case ArgSerializedObjectWithBuffers:
			w.WriteUint32(uint32(len(a.Buffers))).WriteLongString(string(a.JSON))
			for _, b := range a.Buffers {
				w.WriteBuffer(b)
			}
		case ArgUndefined:
			// no body
		}
	}
	return w.Bytes()
}

// DecodeMixedArray parses a mixedArray from r.
func DecodeMixedArray(r *BufferReader) ([]Arg, error) {
	count, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("rpc: decoding mixedArray count: %w", err)
	}
	args := make([]Arg, 0, count)
	for i := uint8(0); i < count; i++ {
		kind, err := r.ReadUint8()
		if err != nil {
			return nil, fmt.Errorf("rpc: decoding mixedArray atom %d kind: %w", i, err)
		}
		var a Arg
		a.Kind = ArgKind(kind)
		switch a.Kind {
		case ArgString:
			s, err := r.ReadLongString()
			if err != nil {
				return nil, err
			}
			a.JSON = []byte(s)
		case ArgBuffer:
			b, err := r.ReadBuffer()
			if err != nil {
				return nil, err
			}
			a.Buffer = b
		case ArgSerializedObjectWithBuffers:
			n, err := r.ReadUint32()
			if err != nil {
				return nil, err
			}
			s, err := r.ReadLongString()
			if err != nil {
				return nil, err
			}
			a.JSON = []byte(s)
			for j := uint32(0); j < n; j++ {
				b, err := r.ReadBuffer()
				if err != nil {
					return nil, err
				}
				a.Buffers = append(a.Buffers, b)
			}
		case ArgUndefined:
			// no body
		default:
			return nil, fmt.Errorf("rpc: unknown mixedArray atom kind %d", kind)
		}
		args = append(args, a)
	}
	return args, nil
}

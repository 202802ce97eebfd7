package rpc

import "fmt"

// InnerType is the first byte of every inner RPC frame, placed inside a
// PersistentProtocol REGULAR payload: innerType:u8 | req:u32 | body.
type InnerType uint8

const (
	InnerNone InnerType = iota
	InnerRequestJSONArgs
	InnerRequestJSONArgsWithCancellation
	InnerRequestMixedArgs
	InnerRequestMixedArgsWithCancellation
	InnerAcknowledged
	InnerCancel
	InnerReplyOKEmpty
	InnerReplyOKVSBuffer
	InnerReplyOKJSON
	InnerReplyOKJSONWithBuffers
	InnerReplyErrError
	InnerReplyErrEmpty
)

func (t InnerType) String() string {
	switch t {
	case InnerRequestJSONArgs:
		return "RequestJSONArgs"
	case InnerRequestJSONArgsWithCancellation:
		return "RequestJSONArgsWithCancellation"
	case InnerRequestMixedArgs:
		return "RequestMixedArgs"
	case InnerRequestMixedArgsWithCancellation:
		return "RequestMixedArgsWithCancellation"
	case InnerAcknowledged:
		return "Acknowledged"
	case InnerCancel:
		return "Cancel"
	case InnerReplyOKEmpty:
		return "ReplyOKEmpty"
	case InnerReplyOKVSBuffer:
		return "ReplyOKVSBuffer"
	case InnerReplyOKJSON:
		return "ReplyOKJSON"
	case InnerReplyOKJSONWithBuffers:
		return "ReplyOKJSONWithBuffers"
	case InnerReplyErrError:
		return "ReplyErrError"
	case InnerReplyErrEmpty:
		return "ReplyErrEmpty"
	default:
		return fmt.Sprintf("InnerType(%d)", uint8(t))
	}
}

// IsRequest reports whether t carries a method invocation.
func (t InnerType) IsRequest() bool {
	return t == InnerRequestJSONArgs || t == InnerRequestJSONArgsWithCancellation ||
		t == InnerRequestMixedArgs || t == InnerRequestMixedArgsWithCancellation
}

// HasCancellation reports whether t is a request variant carrying a
// trailing cancellation token.
func (t InnerType) HasCancellation() bool {
	return t == InnerRequestJSONArgsWithCancellation || t == InnerRequestMixedArgsWithCancellation
}

// IsMixed reports whether t's argument list is mixedArray-encoded rather
// than a single JSON string.
func (t InnerType) IsMixed() bool {
	return t == InnerRequestMixedArgs || t == InnerRequestMixedArgsWithCancellation
}

// Envelope is the decoded innerType/req header shared by every inner
// frame, plus the still-unparsed body.
type Envelope struct {
	Type InnerType
	Req  uint32
	Body *BufferReader
}

// DecodeEnvelope parses the innerType:u8 | req:u32 header and returns a
// reader positioned at the type-specific body.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	r := NewBufferReader(payload)
	typ, err := r.ReadUint8()
	if err != nil {
		return nil, fmt.Errorf("rpc: decoding envelope type: %w", err)
	}
	req, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("rpc: decoding envelope req: %w", err)
	}
	return &Envelope{Type: InnerType(typ), Req: req, Body: r}, nil
}

func encodeEnvelope(typ InnerType, req uint32) *BufferWriter {
	return NewBufferWriter().WriteUint8(uint8(typ)).WriteUint32(req)
}

// methodMarker is prepended to every outgoing method name and stripped by
// the receiver (§6: "Method names written by the remote side carry a
// leading $ that receivers strip").
const methodMarker = "$"

func stripMethodMarker(name string) string {
	if len(name) > 0 && name[0] == '$' {
		return name[1:]
	}
	return name
}

// EncodeRequestJSON builds a RequestJSONArgs / RequestJSONArgsWithCancellation frame.
func EncodeRequestJSON(req uint32, rpcID uint8, method string, argsJSON []byte, withCancellation bool) []byte {
	typ := InnerRequestJSONArgs
	if withCancellation {
		typ = InnerRequestJSONArgsWithCancellation
	}
	w := encodeEnvelope(typ, req)
	w.WriteUint8(rpcID).WriteShortString(methodMarker + method).WriteLongString(string(argsJSON))
	return w.Bytes()
}

// EncodeRequestMixed builds a RequestMixedArgs / RequestMixedArgsWithCancellation frame.
func EncodeRequestMixed(req uint32, rpcID uint8, method string, args []Arg, withCancellation bool) []byte {
	typ := InnerRequestMixedArgs
	if withCancellation {
		typ = InnerRequestMixedArgsWithCancellation
	}
	w := encodeEnvelope(typ, req)
	w.WriteUint8(rpcID).WriteShortString(methodMarker + method)
	w.WriteRaw(EncodeMixedArray(args))
	return w.Bytes()
}

// EncodeAcknowledged builds an Acknowledged frame (no body).
func EncodeAcknowledged(req uint32) []byte { return encodeEnvelope(InnerAcknowledged, req).Bytes() }

// EncodeCancel builds a Cancel frame (no body).
func EncodeCancel(req uint32) []byte { return encodeEnvelope(InnerCancel, req).Bytes() }

// EncodeReplyOKEmpty builds a body-less success reply.
func EncodeReplyOKEmpty(req uint32) []byte { return encodeEnvelope(InnerReplyOKEmpty, req).Bytes() }

// EncodeReplyOKVSBuffer builds a success reply carrying a single raw buffer.
func EncodeReplyOKVSBuffer(req uint32, buf []byte) []byte {
	return encodeEnvelope(InnerReplyOKVSBuffer, req).WriteBuffer(buf).Bytes()
}

// EncodeReplyOKJSON builds a success reply carrying a JSON result.
func EncodeReplyOKJSON(req uint32, resultJSON []byte) []byte {
	return encodeEnvelope(InnerReplyOKJSON, req).WriteLongString(string(resultJSON)).Bytes()
}

// EncodeReplyOKJSONWithBuffers builds a success reply carrying a JSON
// result plus out-of-band buffers referenced from it.
func EncodeReplyOKJSONWithBuffers(req uint32, resultJSON []byte, buffers [][]byte) []byte {
	w := encodeEnvelope(InnerReplyOKJSONWithBuffers, req)
	w.WriteUint32(uint32(len(buffers))).WriteLongString(string(resultJSON))
	for _, b := range buffers {
		w.WriteBuffer(b)
	}
	return w.Bytes()
}

// EncodeReplyErrError builds an error reply carrying a serialized error object.
func EncodeReplyErrError(req uint32, errJSON []byte) []byte {
	return encodeEnvelope(InnerReplyErrError, req).WriteLongString(string(errJSON)).Bytes()
}

// EncodeReplyErrEmpty builds a body-less error reply (degenerate/unknown error).
func EncodeReplyErrEmpty(req uint32) []byte { return encodeEnvelope(InnerReplyErrEmpty, req).Bytes() }

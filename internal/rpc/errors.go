package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCanceled is returned to a caller whose pending reply was cancelled,
// either locally (the call's own cancellation token fired) or because the
// owning RPCProtocol was disposed while the reply was outstanding.
var ErrCanceled = errors.New("rpc: canceled")

// wireError is the §4.5 error-serialization wire shape: {"$isError": true,
// "name": ..., "message": ..., "stack": ...}.
type wireError struct {
	IsError bool   `json:"$isError"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

// RemoteError is what a caller's pending reply rejects with when the peer
// replies ReplyErrError: it preserves the peer's reported class name and
// stack text rather than collapsing to a plain string.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// MarshalError serializes err into the wire error-object shape. Unknown
// (unstructured) errors still populate name/message from err.Error(). A
// handler's derived context being canceled (either by Call's own ctx
// firing or by an explicit Cancel(req) from the peer) is reported under
// the name "Canceled" rather than Go's *errors.errorString, so a peer
// reading the wire error object sees the same cancellation marker a
// handler returning rpc.ErrCanceled directly would produce.
func MarshalError(err error) []byte {
	var name, stack string
	msg := err.Error()
	var re *RemoteError
	switch {
	case errors.As(err, &re):
		name, msg, stack = re.Name, re.Message, re.Stack
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCanceled):
		name = "Canceled"
	default:
		name = fmt.Sprintf("%T", err)
	}
	b, merr := json.Marshal(wireError{IsError: true, Name: name, Message: msg, Stack: stack})
	if merr != nil {
		return []byte(`{"$isError":true,"name":"MarshalError","message":"failed to marshal error"}`)
	}
	return b
}

// UnmarshalError parses the wire error-object shape into a *RemoteError.
// A malformed or empty payload degrades to a generic "unknown error"
// RemoteError rather than failing, matching §7's ReplyErrEmpty fallback.
func UnmarshalError(data []byte) error {
	if len(data) == 0 {
		return &RemoteError{Name: "Error", Message: "unknown error"}
	}
	var we wireError
	if err := json.Unmarshal(data, &we); err != nil {
		return &RemoteError{Name: "Error", Message: "unknown error"}
	}
	return &RemoteError{Name: we.Name, Message: we.Message, Stack: we.Stack}
}

// HandlerError is returned by the dispatch layer for handler-resolution
// failures (missing rpcId, no such method, arity mismatch) so
// RPCProtocol.replyErr can both log locally and reply ReplyErrError with a
// descriptive message.
type HandlerError struct {
	msg string
}

func (e *HandlerError) Error() string { return e.msg }

func newHandlerError(format string, args ...any) *HandlerError {
	return &HandlerError{msg: fmt.Sprintf(format, args...)}
}

// Package socket provides the L0 duplex-byte-stream abstraction that the
// protocol layers are built on: a socket delivers data/close/end events,
// accepts writes, and exposes a drain signal and diagnostic tracing hook.
// Two concrete transports are provided: NodeSocket (TCP / Unix domain
// socket, the production transport per spec) and WebSocketSocket (an
// alternate transport backing the WebSocketClose close-event variant).
package socket

import "fmt"

// CloseEvent is the union of reasons a socket can report closing.
// Exactly one of NodeSocketClose / WebSocketClose is non-nil.
type CloseEvent struct {
	NodeSocketClose *NodeSocketCloseEvent
	WebSocketClose  *WebSocketCloseEvent
}

// NodeSocketCloseEvent mirrors a net.Conn-style close.
type NodeSocketCloseEvent struct {
	HadError bool
	Error    error
}

// WebSocketCloseEvent mirrors a WebSocket close frame.
type WebSocketCloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

func (e CloseEvent) String() string {
	switch {
	case e.NodeSocketClose != nil:
		return fmt.Sprintf("node(hadError=%v err=%v)", e.NodeSocketClose.HadError, e.NodeSocketClose.Error)
	case e.WebSocketClose != nil:
		return fmt.Sprintf("websocket(code=%d reason=%q clean=%v)", e.WebSocketClose.Code, e.WebSocketClose.Reason, e.WebSocketClose.WasClean)
	default:
		return "unknown"
	}
}

// DataListener receives a chunk of bytes exactly as read from the
// transport; chunk boundaries carry no protocol meaning.
type DataListener func(chunk []byte)

// CloseListener is invoked exactly once per socket, with the terminal
// close reason. It is never invoked from inside a data-read callback.
type CloseListener func(e CloseEvent)

// EndListener is invoked when the peer performs an orderly half-close
// (EOF on read) prior to the socket fully closing.
type EndListener func()

// Socket is the L0 duplex transport contract. Implementations must never
// let a read-path error surface through a DataListener: errors are always
// reported as a CloseEvent.
type Socket interface {
	// OnData registers a listener for incoming chunks. Returns a function
	// that unregisters it.
	OnData(DataListener) (unregister func())
	// OnClose registers a listener for the terminal close event.
	OnClose(CloseListener) (unregister func())
	// OnEnd registers a listener for peer half-close.
	OnEnd(EndListener) (unregister func())

	// Write enqueues bytes for transmission. It may return before the
	// bytes have actually reached the transport; use Drain to wait for
	// the backlog to flush.
	Write(p []byte) error
	// End performs a graceful half-close of the write side.
	End() error
	// Drain blocks until the current write backlog has been flushed.
	Drain() error

	// TraceSocketEvent records a diagnostic event for tooling; kind is a
	// short tag (e.g. "read", "write", "close").
	TraceSocketEvent(kind string, data any)

	// StartReceiving begins delivering DataListener/CloseListener/
	// EndListener callbacks. Registrations made before this call are not
	// missed; this simply starts the pump.
	StartReceiving()
}

// Package protocol implements L1 (ProtocolReader/ProtocolWriter) and L2
// (PersistentProtocol) of the wire-level IPC/RPC core: framing, ordering,
// reliability, reconnection, and liveness, layered on an internal/socket.Socket.
package protocol

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/stepherg/vshostbridge/internal/eventutil"
	"github.com/stepherg/vshostbridge/internal/wire"
)

// chunkStream is an append-only FIFO of byte chunks supporting a
// byteLength query and a coalescing read(n). It exists so the reader
// never needs to know how the underlying socket chose to slice its
// chunks.
type chunkStream struct {
	chunks []byte
}

func (c *chunkStream) acceptChunk(b []byte) {
	c.chunks = append(c.chunks, b...)
}

func (c *chunkStream) byteLength() int { return len(c.chunks) }

// read returns exactly n bytes and advances past them. Caller must have
// checked byteLength() >= n first.
func (c *chunkStream) read(n int) []byte {
	out := c.chunks[:n:n]
	c.chunks = c.chunks[n:]
	return out
}

type readerState int

const (
	stateHeader readerState = iota
	stateBody
)

// Reader parses a byte stream into framed wire.Message values. It
// alternates between header mode (HeaderLength bytes) and body mode
// (the header's declared size), delivering one wire.Message per
// registered listener for every complete frame. Listener errors are
// swallowed (logged) so a misbehaving listener cannot stall reading.
type Reader struct {
	log  logr.Logger
	buf  chunkStream
	st   readerState
	typ  wire.Type
	id   uint32
	ack  uint32
	size uint32

	onMessage    *eventutil.Emitter[*wire.Message]
	lastReadTime time.Time
}

// NewReader constructs an empty Reader.
func NewReader(log logr.Logger) *Reader {
	return &Reader{
		log:       log.WithValues("component", "protocol.Reader"),
		st:        stateHeader,
		onMessage: eventutil.NewEmitter[*wire.Message](),
	}
}

// OnMessage registers a listener for fully-parsed frames.
func (r *Reader) OnMessage(l func(*wire.Message)) func() { return r.onMessage.On(l) }

// LastReadTime returns the time of the most recently accepted chunk.
func (r *Reader) LastReadTime() time.Time { return r.lastReadTime }

// AcceptChunk feeds a raw chunk from the socket into the parser and
// drains as many complete frames as are now available. It never blocks
// and never returns an error: malformed framing is impossible given a
// correct sender, and any listener panic/error is logged and ignored.
func (r *Reader) AcceptChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.lastReadTime = time.Now()
	r.buf.acceptChunk(chunk)
	r.drain()
}

func (r *Reader) drain() {
	for {
		switch r.st {
		case stateHeader:
			if r.buf.byteLength() < wire.HeaderLength {
				return
			}
			hdr := r.buf.read(wire.HeaderLength)
			typ, id, ack, size, err := wire.DecodeHeader(hdr)
			if err != nil {
				// Unreachable given the length check above; defensive only.
				r.log.Error(err, "malformed header")
				return
			}
			r.typ, r.id, r.ack, r.size = typ, id, ack, size
			r.st = stateBody
		case stateBody:
			if uint32(r.buf.byteLength()) < r.size {
				return
			}
			var payload []byte
			if r.size > 0 {
				payload = r.buf.read(int(r.size))
			}
			msg := &wire.Message{Type: r.typ, ID: r.id, Ack: r.ack, Payload: payload}
			r.st = stateHeader
			r.dispatch(msg)
		}
	}
}

func (r *Reader) dispatch(msg *wire.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(nil, "protocol reader listener panicked", "panic", p)
		}
	}()
	r.onMessage.Emit(msg)
}

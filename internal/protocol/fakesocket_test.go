package protocol

import (
	"sync"

	"github.com/stepherg/vshostbridge/internal/eventutil"
	"github.com/stepherg/vshostbridge/internal/socket"
)

// fakeSocket is an in-memory socket.Socket used to drive protocol tests
// without a real transport. Write appends to a buffer the test can
// inspect; feed() simulates inbound bytes.
type fakeSocket struct {
	mu      sync.Mutex
	written [][]byte
	onData  *eventutil.Emitter[[]byte]
	onClose *eventutil.Emitter[socket.CloseEvent]
	onEnd   *eventutil.Emitter[struct{}]
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		onData:  eventutil.NewEmitter[[]byte](),
		onClose: eventutil.NewEmitter[socket.CloseEvent](),
		onEnd:   eventutil.NewEmitter[struct{}](),
	}
}

func (s *fakeSocket) OnData(l socket.DataListener) func()   { return s.onData.On(l) }
func (s *fakeSocket) OnClose(l socket.CloseListener) func()  { return s.onClose.On(l) }
func (s *fakeSocket) OnEnd(l socket.EndListener) func()      { return s.onEnd.On(func(struct{}) { l() }) }

func (s *fakeSocket) Write(p []byte) error {
	s.mu.Lock()
	cp := append([]byte(nil), p...)
	s.written = append(s.written, cp)
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) End() error  { return nil }
func (s *fakeSocket) Drain() error { return nil }

func (s *fakeSocket) TraceSocketEvent(kind string, data any) {}

func (s *fakeSocket) StartReceiving() {}

// feed simulates the peer sending b.
func (s *fakeSocket) feed(b []byte) { s.onData.Emit(b) }

// closeNow simulates the transport closing, as a real NodeSocket would
// report on a dropped connection.
func (s *fakeSocket) closeNow() {
	s.onClose.Emit(socket.CloseEvent{NodeSocketClose: &socket.NodeSocketCloseEvent{HadError: true}})
}

// writtenBytes concatenates everything written so far.
func (s *fakeSocket) writtenBytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, w := range s.written {
		out = append(out, w...)
	}
	return out
}

var _ socket.Socket = (*fakeSocket)(nil)

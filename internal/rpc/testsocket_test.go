package rpc

import (
	"sync"

	"github.com/stepherg/vshostbridge/internal/eventutil"
	"github.com/stepherg/vshostbridge/internal/socket"
)

// pipeSocket is an in-memory socket.Socket whose Write feeds a peer's
// onData listeners directly and synchronously, letting tests wire two
// PersistentProtocol/RPCProtocol instances together without a real
// transport.
type pipeSocket struct {
	mu      sync.Mutex
	peer    *pipeSocket
	onData  *eventutil.Emitter[[]byte]
	onClose *eventutil.Emitter[socket.CloseEvent]
	onEnd   *eventutil.Emitter[struct{}]
}

func newPipe() (a, b *pipeSocket) {
	a = &pipeSocket{
		onData:  eventutil.NewEmitter[[]byte](),
		onClose: eventutil.NewEmitter[socket.CloseEvent](),
		onEnd:   eventutil.NewEmitter[struct{}](),
	}
	b = &pipeSocket{
		onData:  eventutil.NewEmitter[[]byte](),
		onClose: eventutil.NewEmitter[socket.CloseEvent](),
		onEnd:   eventutil.NewEmitter[struct{}](),
	}
	a.peer, b.peer = b, a
	return a, b
}

func (s *pipeSocket) OnData(l socket.DataListener) func()  { return s.onData.On(l) }
func (s *pipeSocket) OnClose(l socket.CloseListener) func() { return s.onClose.On(l) }
func (s *pipeSocket) OnEnd(l socket.EndListener) func()     { return s.onEnd.On(func(struct{}) { l() }) }

func (s *pipeSocket) Write(p []byte) error {
	cp := append([]byte(nil), p...)
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	peer.onData.Emit(cp)
	return nil
}

func (s *pipeSocket) End() error          { return nil }
func (s *pipeSocket) Drain() error        { return nil }
func (s *pipeSocket) TraceSocketEvent(string, any) {}
func (s *pipeSocket) StartReceiving()     {}

var _ socket.Socket = (*pipeSocket)(nil)

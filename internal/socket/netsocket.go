package socket

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/stepherg/vshostbridge/internal/eventutil"
)

// NodeSocket wraps a net.Conn (TCP on Windows, Unix domain socket
// elsewhere, per spec) as a Socket. Structured after the teacher's
// internal/ws.Handler connection loop (internal/ws/handler.go): one
// goroutine pumps reads and a mutex serializes writes; Drain waits on that
// same mutex.
type NodeSocket struct {
	id   string
	conn net.Conn
	log  logr.Logger

	onData  *eventutil.Emitter[[]byte]
	onClose *eventutil.Emitter[CloseEvent]
	onEnd   *eventutil.Emitter[struct{}]

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	readBufSize int
}

// NewNodeSocket constructs a NodeSocket around an already-connected
// net.Conn. Call StartReceiving to begin the read pump.
func NewNodeSocket(conn net.Conn, log logr.Logger) *NodeSocket {
	return &NodeSocket{
		id:          uuid.NewString(),
		conn:        conn,
		log:         log.WithValues("socket", "node"),
		onData:      eventutil.NewEmitter[[]byte](),
		onClose:     eventutil.NewEmitter[CloseEvent](),
		onEnd:       eventutil.NewEmitter[struct{}](),
		closed:      make(chan struct{}),
		readBufSize: 64 * 1024,
	}
}

// ID returns the connection's diagnostic identifier.
func (s *NodeSocket) ID() string { return s.id }

func (s *NodeSocket) OnData(l DataListener) func()  { return s.onData.On(l) }
func (s *NodeSocket) OnEnd(l EndListener) func()     { return s.onEnd.On(func(struct{}) { l() }) }
func (s *NodeSocket) OnClose(l CloseListener) func() { return s.onClose.On(l) }

func (s *NodeSocket) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(p)
	if err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *NodeSocket) End() error {
	if tc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		return tc.CloseWrite()
	}
	return s.conn.Close()
}

// Drain serializes on the write mutex so that, once it returns, every
// Write call that happened-before it has reached the kernel socket
// buffer. There is no further userspace buffering to flush.
func (s *NodeSocket) Drain() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return nil
}

func (s *NodeSocket) TraceSocketEvent(kind string, data any) {
	s.log.V(2).Info("socket event", "kind", kind, "data", data, "conn", s.id)
}

func (s *NodeSocket) StartReceiving() {
	go s.readLoop()
}

func (s *NodeSocket) readLoop() {
	buf := make([]byte, s.readBufSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onData.Emit(chunk)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.onEnd.Emit(struct{}{})
				s.fail(nil)
				return
			}
			s.fail(err)
			return
		}
	}
}

func (s *NodeSocket) fail(err error) {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
		s.onClose.Emit(CloseEvent{NodeSocketClose: &NodeSocketCloseEvent{
			HadError: err != nil,
			Error:    err,
		}})
	})
}

var _ Socket = (*NodeSocket)(nil)

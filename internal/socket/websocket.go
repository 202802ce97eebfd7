package socket

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stepherg/vshostbridge/internal/eventutil"
)

// Keepalive timing, carried over from the teacher's internal/ws.Handler
// (pongWait/pingPeriod/writeWait), which itself follows the gorilla/
// websocket chat-example convention.
const (
	wsPongWait   = 75 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsWriteWait  = 10 * time.Second
)

// WebSocketSocket adapts a *websocket.Conn into the Socket interface,
// backing the spec's WebSocketClose close-event variant. Binary/text
// frames are delivered whole as DataListener chunks (WebSocket already
// preserves message boundaries, so — unlike NodeSocket — a "chunk" here
// is exactly one WS frame's payload; the protocol layer must not rely on
// that, since NodeSocket chunks arbitrarily).
type WebSocketSocket struct {
	id   string
	conn *websocket.Conn
	log  logr.Logger

	onData  *eventutil.Emitter[[]byte]
	onClose *eventutil.Emitter[CloseEvent]
	onEnd   *eventutil.Emitter[struct{}]

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketSocket wraps an already-upgraded *websocket.Conn.
func NewWebSocketSocket(conn *websocket.Conn, log logr.Logger) *WebSocketSocket {
	return &WebSocketSocket{
		id:      uuid.NewString(),
		conn:    conn,
		log:     log.WithValues("socket", "websocket"),
		onData:  eventutil.NewEmitter[[]byte](),
		onClose: eventutil.NewEmitter[CloseEvent](),
		onEnd:   eventutil.NewEmitter[struct{}](),
		done:    make(chan struct{}),
	}
}

func (s *WebSocketSocket) ID() string { return s.id }

func (s *WebSocketSocket) OnData(l DataListener) func()  { return s.onData.On(l) }
func (s *WebSocketSocket) OnEnd(l EndListener) func()     { return s.onEnd.On(func(struct{}) { l() }) }
func (s *WebSocketSocket) OnClose(l CloseListener) func() { return s.onClose.On(l) }

func (s *WebSocketSocket) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		s.fail(err, 0, "")
		return err
	}
	return nil
}

func (s *WebSocketSocket) End() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *WebSocketSocket) Drain() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return nil
}

func (s *WebSocketSocket) TraceSocketEvent(kind string, data any) {
	s.log.V(2).Info("socket event", "kind", kind, "data", data, "conn", s.id)
}

func (s *WebSocketSocket) StartReceiving() {
	s.conn.SetReadLimit(512 * 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	go s.pingLoop()
	go s.readLoop()
}

func (s *WebSocketSocket) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *WebSocketSocket) readLoop() {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				s.fail(nil, ce.Code, ce.Text)
			} else {
				s.fail(err, websocket.CloseAbnormalClosure, err.Error())
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.onData.Emit(data)
	}
}

func (s *WebSocketSocket) fail(err error, code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.onEnd.Emit(struct{}{})
		s.onClose.Emit(CloseEvent{WebSocketClose: &WebSocketCloseEvent{
			Code:     code,
			Reason:   reason,
			WasClean: err == nil,
		}})
	})
}

var _ Socket = (*WebSocketSocket)(nil)

// NewUpgrader builds a gorilla/websocket.Upgrader whose CheckOrigin
// enforces allowedOrigin as an exact match against the request's Origin
// header. An empty allowedOrigin permits any origin; a non-empty one
// rejects every upgrade request whose Origin header does not match
// exactly, so the bridge does not silently accept upgrades from an
// unexpected page or app embedding it.
func NewUpgrader(allowedOrigin string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
}

// UpgradeHTTP upgrades an inbound HTTP request to a WebSocket connection
// enforcing allowedOrigin, and wraps the result as a Socket. Callers that
// embed the websocket transport (cmd/vshostbridge's "serve" command, or
// any other HTTP mux) use this instead of driving gorilla/websocket
// directly.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request, allowedOrigin string, log logr.Logger) (*WebSocketSocket, error) {
	conn, err := NewUpgrader(allowedOrigin).Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketSocket(conn, log), nil
}

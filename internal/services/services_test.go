package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepherg/vshostbridge/internal/eventutil"
	"github.com/stepherg/vshostbridge/internal/protocol"
	"github.com/stepherg/vshostbridge/internal/rpc"
	"github.com/stepherg/vshostbridge/internal/socket"
)

type pipeSocket struct {
	mu      sync.Mutex
	peer    *pipeSocket
	onData  *eventutil.Emitter[[]byte]
	onClose *eventutil.Emitter[socket.CloseEvent]
	onEnd   *eventutil.Emitter[struct{}]
}

func newPipe() (a, b *pipeSocket) {
	a = &pipeSocket{onData: eventutil.NewEmitter[[]byte](), onClose: eventutil.NewEmitter[socket.CloseEvent](), onEnd: eventutil.NewEmitter[struct{}]()}
	b = &pipeSocket{onData: eventutil.NewEmitter[[]byte](), onClose: eventutil.NewEmitter[socket.CloseEvent](), onEnd: eventutil.NewEmitter[struct{}]()}
	a.peer, b.peer = b, a
	return a, b
}

func (s *pipeSocket) OnData(l socket.DataListener) func()   { return s.onData.On(l) }
func (s *pipeSocket) OnClose(l socket.CloseListener) func()  { return s.onClose.On(l) }
func (s *pipeSocket) OnEnd(l socket.EndListener) func()      { return s.onEnd.On(func(struct{}) { l() }) }
func (s *pipeSocket) Write(p []byte) error {
	cp := append([]byte(nil), p...)
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()
	peer.onData.Emit(cp)
	return nil
}
func (s *pipeSocket) End() error               { return nil }
func (s *pipeSocket) Drain() error              { return nil }
func (s *pipeSocket) TraceSocketEvent(string, any) {}
func (s *pipeSocket) StartReceiving()          {}

var _ socket.Socket = (*pipeSocket)(nil)

func newPairedRPC(t *testing.T) (host *rpc.RPCProtocol, extHost *rpc.RPCProtocol) {
	t.Helper()
	sa, sb := newPipe()
	pa := protocol.NewPersistentProtocol(sa, logr.Discard(), protocol.WithKeepAlive(false))
	pb := protocol.NewPersistentProtocol(sb, logr.Discard(), protocol.WithKeepAlive(false))
	t.Cleanup(func() { pa.Dispose(); pb.Dispose() })
	return rpc.NewRPCProtocol(pa, logr.Discard()), rpc.NewRPCProtocol(pb, logr.Discard())
}

// TestDocumentsShapeRoundTrip exercises the ExtHost -> host direction:
// the extension host side calls AcceptModelAdd on its MainThreadDocuments
// proxy, the host side's mock implementation records it.
func TestDocumentsShapeRoundTrip(t *testing.T) {
	host, extHost := newPairedRPC(t)
	mock := &MockMainThreadDocuments{}
	host.RegisterLocal(MainThreadDocuments, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := extHost.Call(ctx, MainThreadDocuments, "acceptModelAdd", ModelAddedData{
		URI: "file:///a.go", LanguageID: "go", Lines: []string{"package main"}, VersionID: 1,
	})
	require.NoError(t, err)

	assert.Len(t, mock.Added, 1)
	assert.Equal(t, "file:///a.go", mock.Added[0].URI)
}

func TestCommandsShapeRoundTrip(t *testing.T) {
	host, extHost := newPairedRPC(t)
	mock := NewMockMainThreadCommands()
	host.RegisterLocal(MainThreadCommands, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := extHost.Call(ctx, MainThreadCommands, "registerCommand", "myExt.sayHello")
	require.NoError(t, err)
	assert.True(t, mock.Registered["myExt.sayHello"])
}

func TestStorageShapeRoundTrip(t *testing.T) {
	host, extHost := newPairedRPC(t)
	mock := NewMockMainThreadStorage()
	host.RegisterLocal(MainThreadStorage, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := extHost.Call(ctx, MainThreadStorage, "setValue", "myExt", "greeting", []byte("hello"))
	require.NoError(t, err)

	got, err := extHost.Call(ctx, MainThreadStorage, "getValue", "myExt", "greeting")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

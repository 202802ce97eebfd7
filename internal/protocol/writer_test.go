package protocol

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepherg/vshostbridge/internal/wire"
)

func TestWriterEmitsInOrderDespiteOutOfOrderWrites(t *testing.T) {
	sock := newFakeSocket()
	w := NewWriter(sock, logr.Discard())
	defer w.Dispose()

	require.NoError(t, w.Write(&wire.Message{Type: wire.TypeRegular, ID: 2, Payload: []byte("b")}))
	assert.Empty(t, sock.writtenBytes(), "id 2 must wait for id 1")

	require.NoError(t, w.Write(&wire.Message{Type: wire.TypeRegular, ID: 1, Payload: []byte("a")}))

	r := NewReader(logr.Discard())
	var got []*wire.Message
	r.OnMessage(func(m *wire.Message) { got = append(got, m) })
	r.AcceptChunk(sock.writtenBytes())

	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].ID)
	assert.Equal(t, uint32(2), got[1].ID)
}

func TestWriterRejectsRegularIDZero(t *testing.T) {
	sock := newFakeSocket()
	w := NewWriter(sock, logr.Discard())
	defer w.Dispose()

	err := w.Write(&wire.Message{Type: wire.TypeRegular, ID: 0, Payload: []byte("x")})
	assert.Error(t, err)
}

func TestWriterSpecialFramesBypassOrdering(t *testing.T) {
	sock := newFakeSocket()
	w := NewWriter(sock, logr.Discard())
	defer w.Dispose()

	require.NoError(t, w.Write(&wire.Message{Type: wire.TypeRegular, ID: 5, Payload: []byte("blocked")}))
	require.NoError(t, w.Write(&wire.Message{Type: wire.TypeKeepAlive}))

	r := NewReader(logr.Discard())
	var got []*wire.Message
	r.OnMessage(func(m *wire.Message) { got = append(got, m) })
	r.AcceptChunk(sock.writtenBytes())

	require.Len(t, got, 1)
	assert.Equal(t, wire.TypeKeepAlive, got[0].Type)
}

func TestWriterPauseResume(t *testing.T) {
	sock := newFakeSocket()
	w := NewWriter(sock, logr.Discard())
	defer w.Dispose()

	w.Pause()
	require.NoError(t, w.Write(&wire.Message{Type: wire.TypeRegular, ID: 1, Payload: []byte("a")}))
	assert.Empty(t, sock.writtenBytes())

	w.Resume()
	assert.NotEmpty(t, sock.writtenBytes())
}

func TestWriterSetNextExpectedID(t *testing.T) {
	sock := newFakeSocket()
	w := NewWriter(sock, logr.Discard())
	defer w.Dispose()

	w.SetNextExpectedID(4)
	require.NoError(t, w.Write(&wire.Message{Type: wire.TypeRegular, ID: 4, Payload: []byte("d")}))

	r := NewReader(logr.Discard())
	var got []*wire.Message
	r.OnMessage(func(m *wire.Message) { got = append(got, m) })
	r.AcceptChunk(sock.writtenBytes())

	require.Len(t, got, 1)
	assert.Equal(t, uint32(4), got[0].ID)
}

func TestWriterDisposeRejectsFurtherWrites(t *testing.T) {
	sock := newFakeSocket()
	w := NewWriter(sock, logr.Discard())
	w.Dispose()

	err := w.Write(&wire.Message{Type: wire.TypeRegular, ID: 1, Payload: []byte("a")})
	assert.ErrorIs(t, err, ErrWriterDisposed)
}

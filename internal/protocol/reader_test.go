package protocol

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepherg/vshostbridge/internal/wire"
)

func TestReaderParsesSingleFrame(t *testing.T) {
	r := NewReader(logr.Discard())
	var got *wire.Message
	r.OnMessage(func(m *wire.Message) { got = m })

	msg := &wire.Message{Type: wire.TypeRegular, ID: 1, Ack: 0, Payload: []byte("ping")}
	r.AcceptChunk(wire.Encode(msg))

	require.NotNil(t, got)
	assert.True(t, got.Equal(msg))
}

func TestReaderHandlesSplitChunks(t *testing.T) {
	r := NewReader(logr.Discard())
	var got []*wire.Message
	r.OnMessage(func(m *wire.Message) { got = append(got, m) })

	frame := wire.Encode(&wire.Message{Type: wire.TypeRegular, ID: 1, Payload: []byte("hello world")})
	for _, b := range frame {
		r.AcceptChunk([]byte{b})
	}

	require.Len(t, got, 1)
	assert.Equal(t, "hello world", string(got[0].Payload))
}

func TestReaderHandlesMultipleFramesInOneChunk(t *testing.T) {
	r := NewReader(logr.Discard())
	var got []*wire.Message
	r.OnMessage(func(m *wire.Message) { got = append(got, m) })

	a := wire.Encode(&wire.Message{Type: wire.TypeRegular, ID: 1, Payload: []byte("a")})
	b := wire.Encode(&wire.Message{Type: wire.TypeRegular, ID: 2, Payload: []byte("b")})
	r.AcceptChunk(append(a, b...))

	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].ID)
	assert.Equal(t, uint32(2), got[1].ID)
}

func TestReaderZeroLengthPayload(t *testing.T) {
	r := NewReader(logr.Discard())
	var got *wire.Message
	r.OnMessage(func(m *wire.Message) { got = m })

	r.AcceptChunk(wire.Encode(&wire.Message{Type: wire.TypeKeepAlive, Ack: 5}))

	require.NotNil(t, got)
	assert.Empty(t, got.Payload)
	assert.Equal(t, uint32(5), got.Ack)
}

func TestReaderListenerPanicIsContained(t *testing.T) {
	r := NewReader(logr.Discard())
	r.OnMessage(func(m *wire.Message) { panic("boom") })

	assert.NotPanics(t, func() {
		r.AcceptChunk(wire.Encode(&wire.Message{Type: wire.TypeRegular, ID: 1, Payload: []byte("x")}))
	})
}

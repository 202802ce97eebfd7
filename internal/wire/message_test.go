package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	msg := &Message{Type: TypeRegular, ID: 7, Ack: 3, Payload: []byte("hello")}
	frame := Encode(msg)

	require.Len(t, frame, HeaderLength+len("hello"))

	typ, id, ack, size, err := DecodeHeader(frame[:HeaderLength])
	require.NoError(t, err)
	assert.Equal(t, TypeRegular, typ)
	assert.Equal(t, uint32(7), id)
	assert.Equal(t, uint32(3), ack)
	assert.Equal(t, uint32(5), size)
	assert.Equal(t, "hello", string(frame[HeaderLength:]))
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, _, _, _, err := DecodeHeader([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestMessageEqual(t *testing.T) {
	a := &Message{Type: TypeRegular, ID: 1, Ack: 0, Payload: []byte("x")}
	b := &Message{Type: TypeRegular, ID: 1, Ack: 0, Payload: []byte("x")}
	c := &Message{Type: TypeRegular, ID: 2, Ack: 0, Payload: []byte("x")}
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestTypeIsSpecial(t *testing.T) {
	assert.False(t, TypeRegular.IsSpecial())
	for _, typ := range []Type{TypeControl, TypeAck, TypeDisconnect, TypeReplayRequest, TypePause, TypeResume, TypeKeepAlive} {
		assert.True(t, typ.IsSpecial(), "%s should be special", typ)
	}
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "Regular", TypeRegular.String())
	assert.Contains(t, Type(99).String(), "Type(99)")
}

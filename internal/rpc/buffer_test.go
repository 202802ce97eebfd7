package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriterReaderRoundTrip(t *testing.T) {
	w := NewBufferWriter()
	w.WriteUint8(7).WriteUint32(1234).WriteShortString("hi").WriteLongString("hello world").WriteBuffer([]byte{1, 2, 3})

	r := NewBufferReader(w.Bytes())
	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), u32)

	short, err := r.ReadShortString()
	require.NoError(t, err)
	assert.Equal(t, "hi", short)

	long, err := r.ReadLongString()
	require.NoError(t, err)
	assert.Equal(t, "hello world", long)

	buf, err := r.ReadBuffer()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestBufferReaderUnderrun(t *testing.T) {
	r := NewBufferReader([]byte{1})
	_, err := r.ReadUint32()
	assert.Error(t, err)
}

func TestMixedArrayRoundTrip(t *testing.T) {
	args := []Arg{
		{Kind: ArgString, JSON: []byte(`"hello"`)},
		{Kind: ArgBuffer, Buffer: []byte{9, 9, 9}},
		{Kind: ArgUndefined},
	}
	encoded := EncodeMixedArray(args)
	decoded, err := DecodeMixedArray(NewBufferReader(encoded))
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, ArgString, decoded[0].Kind)
	assert.Equal(t, []byte{9, 9, 9}, decoded[1].Buffer)
	assert.Equal(t, ArgUndefined, decoded[2].Kind)
}

func TestRequestReplyEnvelopeRoundTrip(t *testing.T) {
	frame := EncodeRequestJSON(42, 3, "ping", []byte(`["a","b"]`), false)
	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, InnerRequestJSONArgs, env.Type)
	assert.Equal(t, uint32(42), env.Req)

	rpcID, err := env.Body.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(3), rpcID)

	method, err := env.Body.ReadShortString()
	require.NoError(t, err)
	assert.Equal(t, "$ping", method)
	assert.Equal(t, "ping", stripMethodMarker(method))

	argsJSON, err := env.Body.ReadLongString()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, argsJSON)
}

func TestReplyOKJSONWithBuffersRoundTrip(t *testing.T) {
	frame := EncodeReplyOKJSONWithBuffers(5, []byte(`{"$$ref$$":0}`), [][]byte{{1, 2, 3}})
	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, InnerReplyOKJSONWithBuffers, env.Type)

	n, err := env.Body.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), n)

	j, err := env.Body.ReadLongString()
	require.NoError(t, err)

	buf, err := env.Body.ReadBuffer()
	require.NoError(t, err)

	v, err := DecodeSerializedWithBuffers([]byte(j), [][]byte{buf})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v)
}

func TestErrorSerializationRoundTrip(t *testing.T) {
	err := &RemoteError{Name: "TypeError", Message: "bad arg", Stack: "at foo"}
	data := MarshalError(err)
	got := UnmarshalError(data)
	re, ok := got.(*RemoteError)
	require.True(t, ok)
	assert.Equal(t, "TypeError", re.Name)
	assert.Equal(t, "bad arg", re.Message)
}

func TestUnmarshalErrorEmptyDegradesToUnknown(t *testing.T) {
	got := UnmarshalError(nil)
	re, ok := got.(*RemoteError)
	require.True(t, ok)
	assert.Equal(t, "unknown error", re.Message)
}

// Package rpc implements L3 of the wire-level IPC/RPC core: the
// MessageBuffer codec, proxy identifiers, pending replies, and the
// RPCProtocol dispatcher that sits on top of a protocol.PersistentProtocol.
package rpc

import (
	"encoding/binary"
	"fmt"
)

// BufferWriter accumulates the big-endian, length-prefixed primitives that
// make up an inner RPC frame's body: u8, u32, shortString (u8-prefixed),
// longString (u32-prefixed), and raw buffers (u32-prefixed).
type BufferWriter struct {
	buf []byte
}

// NewBufferWriter returns an empty writer.
func NewBufferWriter() *BufferWriter { return &BufferWriter{} }

func (w *BufferWriter) WriteUint8(v uint8) *BufferWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *BufferWriter) WriteUint32(v uint32) *BufferWriter {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

func (w *BufferWriter) WriteShortString(s string) *BufferWriter {
	if len(s) > 255 {
		s = s[:255]
	}
	w.WriteUint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *BufferWriter) WriteLongString(s string) *BufferWriter {
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func (w *BufferWriter) WriteBuffer(b []byte) *BufferWriter {
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return w
}

// WriteRaw appends already-encoded bytes (used to splice a nested
// mixedArray or sub-message into the outer buffer).
func (w *BufferWriter) WriteRaw(b []byte) *BufferWriter {
	w.buf = append(w.buf, b...)
	return w
}

func (w *BufferWriter) Bytes() []byte { return w.buf }

// BufferReader consumes primitives written by BufferWriter, tracking a
// read cursor over a shared byte slice.
type BufferReader struct {
	buf []byte
	pos int
}

// NewBufferReader wraps b for sequential reads starting at offset 0.
func NewBufferReader(b []byte) *BufferReader { return &BufferReader{buf: b} }

func (r *BufferReader) remaining() int { return len(r.buf) - r.pos }

func (r *BufferReader) ReadUint8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("rpc: buffer underrun reading u8")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *BufferReader) ReadUint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("rpc: buffer underrun reading u32")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *BufferReader) ReadShortString() (string, error) {
	n, err := r.ReadUint8()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", fmt.Errorf("rpc: buffer underrun reading shortString")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *BufferReader) ReadLongString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", fmt.Errorf("rpc: buffer underrun reading longString")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *BufferReader) ReadBuffer() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, fmt.Errorf("rpc: buffer underrun reading buffer")
	}
	b := r.buf[r.pos : r.pos+int(n) : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// Rest returns whatever bytes remain unconsumed.
func (r *BufferReader) Rest() []byte { return r.buf[r.pos:] }

// Package wire defines the outer, fixed-header framed message that travels
// between the JetBrains host and the extension host: the L1/L2 protocol
// frame described by the wire-level IPC core.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderLength is the size in bytes of the fixed outer frame header:
// type:u8 | id:u32 | ack:u32 | size:u32.
const HeaderLength = 13

// Type enumerates the outer-frame message kinds. Regular carries RPC
// payloads in strict id order; all others are "special" and bypass
// ordering.
type Type uint8

const (
	TypeNone Type = iota
	TypeRegular
	TypeControl
	TypeAck
	TypeDisconnect
	TypeReplayRequest
	TypePause
	TypeResume
	TypeKeepAlive
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeRegular:
		return "Regular"
	case TypeControl:
		return "Control"
	case TypeAck:
		return "Ack"
	case TypeDisconnect:
		return "Disconnect"
	case TypeReplayRequest:
		return "ReplayRequest"
	case TypePause:
		return "Pause"
	case TypeResume:
		return "Resume"
	case TypeKeepAlive:
		return "KeepAlive"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// IsSpecial reports whether messages of this type bypass the writer's
// strict in-order delivery (id is not assigned from the Regular sequence).
func (t Type) IsSpecial() bool { return t != TypeRegular }

// Message is one outer protocol frame: {type, id, ack, payload}. Two
// messages are equal iff all four fields match. WrittenTime is set by
// PersistentProtocol when it hands a Regular message to the writer, for
// timeout accounting; it is not part of the wire image or of equality.
type Message struct {
	Type        Type
	ID          uint32
	Ack         uint32
	Payload     []byte
	WrittenTime time.Time
}

// Equal compares the wire-significant fields only.
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Type != o.Type || m.ID != o.ID || m.Ack != o.Ack {
		return false
	}
	if len(m.Payload) != len(o.Payload) {
		return false
	}
	for i := range m.Payload {
		if m.Payload[i] != o.Payload[i] {
			return false
		}
	}
	return true
}

// Encode serializes the frame (header + payload) into a single buffer.
func Encode(m *Message) []byte {
	buf := make([]byte, HeaderLength+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[1:5], m.ID)
	binary.BigEndian.PutUint32(buf[5:9], m.Ack)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(m.Payload)))
	copy(buf[HeaderLength:], m.Payload)
	return buf
}

// DecodeHeader parses the 13-byte header. Callers are responsible for
// having exactly HeaderLength bytes available.
func DecodeHeader(b []byte) (typ Type, id, ack, size uint32, err error) {
	if len(b) < HeaderLength {
		return 0, 0, 0, 0, fmt.Errorf("wire: short header: have %d want %d", len(b), HeaderLength)
	}
	typ = Type(b[0])
	id = binary.BigEndian.Uint32(b[1:5])
	ack = binary.BigEndian.Uint32(b[5:9])
	size = binary.BigEndian.Uint32(b[9:13])
	return typ, id, ack, size, nil
}

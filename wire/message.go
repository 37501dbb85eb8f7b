package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the fixed message header.
	HeaderSize = 8
	// MaxMessageSize is the largest frame the 16-bit size field can describe
	// while staying 4-byte aligned.
	MaxMessageSize = 0xFFFC
	// MaxFDs is the most descriptors one message may carry.
	MaxFDs = 28
)

// errShortFrame is returned by DecodeFrame when buf does not yet hold a
// whole frame.
var errShortFrame = errors.New("short frame")

// Header is the 8-byte little-endian frame header: a 4-byte sender, a 2-byte
// total size, then a 2-byte opcode.
type Header struct {
	Sender ObjectID
	Size   uint16
	Opcode uint16
}

// ParseHeader decodes and validates the header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(data))
	}
	h := Header{
		Sender: ObjectID(binary.LittleEndian.Uint32(data[0:4])),
		Size:   binary.LittleEndian.Uint16(data[4:6]),
		Opcode: binary.LittleEndian.Uint16(data[6:8]),
	}
	if h.Size < HeaderSize || h.Size%4 != 0 {
		return h, fmt.Errorf("%w: size %d (object %d, opcode %d)", ErrMalformedHeader, h.Size, h.Sender, h.Opcode)
	}
	return h, nil
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.Sender))
	dst = binary.LittleEndian.AppendUint16(dst, h.Size)
	return binary.LittleEndian.AppendUint16(dst, h.Opcode)
}

// Message is one framed Wayland message.
type Message struct {
	Sender  ObjectID
	Opcode  uint16
	Payload []byte
	// FDs holds the descriptors belonging to this message. On the receive
	// side it is the socket's shared queue.
	FDs *FDQueue
}

// Size returns the encoded frame size including the header.
func (m *Message) Size() int {
	return HeaderSize + len(m.Payload)
}

// EncodeFrame appends the framed bytes of m to dst. The descriptors of m are
// not touched.
func EncodeFrame(dst []byte, m *Message) ([]byte, error) {
	if len(m.Payload)%4 != 0 {
		return dst, malformed("payload length %d is not 4-byte aligned", len(m.Payload))
	}
	size := m.Size()
	if size > MaxMessageSize {
		return dst, malformed("message size %d exceeds %d", size, MaxMessageSize)
	}
	dst = Header{Sender: m.Sender, Size: uint16(size), Opcode: m.Opcode}.AppendTo(dst)
	return append(dst, m.Payload...), nil
}

// DecodeFrame parses the frame at the start of buf. It returns the message,
// the number of bytes consumed, and errShortFrame when buf holds an
// incomplete frame. The payload is copied out of buf.
func DecodeFrame(buf []byte) (*Message, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, errShortFrame
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) < int(h.Size) {
		return nil, 0, errShortFrame
	}
	m := &Message{Sender: h.Sender, Opcode: h.Opcode}
	if h.Size > HeaderSize {
		m.Payload = append([]byte(nil), buf[HeaderSize:h.Size]...)
	}
	return m, int(h.Size), nil
}

// IsShortFrame reports whether err means more bytes are needed.
func IsShortFrame(err error) bool {
	return errors.Is(err, errShortFrame)
}

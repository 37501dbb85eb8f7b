package wire

import (
	"encoding/binary"
	"unicode/utf8"
)

// MessageReader decodes the arguments of one message in order. Each call
// advances a cursor over the payload; FD pops from the message's
// descriptor queue.
type MessageReader struct {
	msg *Message
	off int
}

// NewMessageReader returns a reader positioned at the start of m's payload.
func NewMessageReader(m *Message) *MessageReader {
	return &MessageReader{msg: m}
}

// Remaining returns the number of unread payload bytes.
func (r *MessageReader) Remaining() int {
	return len(r.msg.Payload) - r.off
}

func (r *MessageReader) uint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, malformed("object %d opcode %d: payload ends at offset %d", r.msg.Sender, r.msg.Opcode, r.off)
	}
	v := binary.LittleEndian.Uint32(r.msg.Payload[r.off:])
	r.off += 4
	return v, nil
}

// Int reads an int argument.
func (r *MessageReader) Int() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

// Uint reads a uint argument.
func (r *MessageReader) Uint() (uint32, error) {
	return r.uint32()
}

// Fixed reads a fixed argument.
func (r *MessageReader) Fixed() (Fixed, error) {
	v, err := r.uint32()
	return Fixed(int32(v)), err
}

// Object reads a non-nullable object argument.
func (r *MessageReader) Object() (ObjectID, error) {
	id, err := r.NullableObject()
	if err != nil {
		return 0, err
	}
	if id == NullID {
		return 0, malformed("object %d opcode %d: null object for non-nullable argument", r.msg.Sender, r.msg.Opcode)
	}
	return id, nil
}

// NullableObject reads an object argument that may be null.
func (r *MessageReader) NullableObject() (ObjectID, error) {
	v, err := r.uint32()
	return ObjectID(v), err
}

// NewID reads a new_id argument of a statically known interface.
func (r *MessageReader) NewID() (ObjectID, error) {
	v, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, malformed("object %d opcode %d: null new_id", r.msg.Sender, r.msg.Opcode)
	}
	return ObjectID(v), nil
}

// GenericNewID reads a new_id that carries its interface name and version.
func (r *MessageReader) GenericNewID() (GenericNewID, error) {
	var n GenericNewID
	var err error
	if n.Interface, err = r.String(); err != nil {
		return n, err
	}
	if n.Version, err = r.Uint(); err != nil {
		return n, err
	}
	if n.ID, err = r.NewID(); err != nil {
		return n, err
	}
	return n, nil
}

// String reads a non-null string argument.
func (r *MessageReader) String() (string, error) {
	s, err := r.NullableString()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", malformed("object %d opcode %d: null string for non-nullable argument", r.msg.Sender, r.msg.Opcode)
	}
	return *s, nil
}

// NullableString reads a string argument; nil means null.
func (r *MessageReader) NullableString() (*string, error) {
	data, err := r.bytes()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if data[len(data)-1] != 0 {
		return nil, malformed("object %d opcode %d: string is not NUL terminated", r.msg.Sender, r.msg.Opcode)
	}
	data = data[:len(data)-1]
	if !utf8.Valid(data) {
		return nil, malformed("object %d opcode %d: string is not valid UTF-8", r.msg.Sender, r.msg.Opcode)
	}
	s := string(data)
	return &s, nil
}

// Array reads an array argument. The returned slice is a copy.
func (r *MessageReader) Array() ([]byte, error) {
	data, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return append([]byte{}, data...), nil
}

// bytes reads a length-prefixed, padded byte run. Padding content is not
// checked.
func (r *MessageReader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	padded := (uint64(n) + 3) &^ 3
	if padded > uint64(r.Remaining()) {
		return nil, malformed("object %d opcode %d: length %d overruns payload", r.msg.Sender, r.msg.Opcode, n)
	}
	data := r.msg.Payload[r.off : r.off+int(n)]
	r.off += int(padded)
	return data, nil
}

// FD pops the next descriptor belonging to the message. The caller owns it.
func (r *MessageReader) FD() (int, error) {
	return r.msg.FDs.Pop()
}

// Finish reports an error when payload bytes remain unread.
func (r *MessageReader) Finish() error {
	if n := r.Remaining(); n != 0 {
		return malformed("object %d opcode %d: %d trailing payload bytes", r.msg.Sender, r.msg.Opcode, n)
	}
	return nil
}

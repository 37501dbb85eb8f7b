package wire

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// PayloadBuilder accumulates typed arguments into a 4-byte aligned payload
// and an ordered descriptor list.
//
// The first failing Put records an error; later calls are no-ops and the
// error is reported by Build.
type PayloadBuilder struct {
	buf []byte
	fds []int
	err error
}

// NewPayloadBuilder returns an empty builder.
func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{}
}

func (b *PayloadBuilder) putUint32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

// PutInt appends an int argument.
func (b *PayloadBuilder) PutInt(v int32) {
	if b.err != nil {
		return
	}
	b.putUint32(uint32(v))
}

// PutUint appends a uint argument.
func (b *PayloadBuilder) PutUint(v uint32) {
	if b.err != nil {
		return
	}
	b.putUint32(v)
}

// PutFixed appends a fixed argument.
func (b *PayloadBuilder) PutFixed(v Fixed) {
	if b.err != nil {
		return
	}
	b.putUint32(uint32(v))
}

// PutObject appends a non-nullable object argument.
func (b *PayloadBuilder) PutObject(id ObjectID) {
	if b.err != nil {
		return
	}
	if id == NullID {
		b.err = malformed("null object for non-nullable argument")
		return
	}
	b.putUint32(uint32(id))
}

// PutNullableObject appends an object argument that may be null.
func (b *PayloadBuilder) PutNullableObject(id ObjectID) {
	if b.err != nil {
		return
	}
	b.putUint32(uint32(id))
}

// PutNewID appends a new_id argument of a statically known interface.
func (b *PayloadBuilder) PutNewID(id ObjectID) {
	if b.err != nil {
		return
	}
	if id == NullID {
		b.err = malformed("null new_id")
		return
	}
	b.putUint32(uint32(id))
}

// PutGenericNewID appends a new_id whose interface travels in band as an
// interface name and version preceding the id.
func (b *PayloadBuilder) PutGenericNewID(n GenericNewID) {
	b.PutString(n.Interface)
	b.PutUint(n.Version)
	b.PutNewID(n.ID)
}

// PutString appends a non-null string argument.
func (b *PayloadBuilder) PutString(s string) {
	if b.err != nil {
		return
	}
	if !utf8.ValidString(s) {
		b.err = malformed("string argument is not valid UTF-8")
		return
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			b.err = malformed("string argument contains NUL")
			return
		}
	}
	b.putUint32(uint32(len(s) + 1))
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, 0)
	b.pad(len(s) + 1)
}

// PutNullableString appends a string argument that may be null.
func (b *PayloadBuilder) PutNullableString(s *string) {
	if b.err != nil {
		return
	}
	if s == nil {
		b.putUint32(0)
		return
	}
	b.PutString(*s)
}

// PutArray appends an array argument.
func (b *PayloadBuilder) PutArray(data []byte) {
	if b.err != nil {
		return
	}
	b.putUint32(uint32(len(data)))
	b.buf = append(b.buf, data...)
	b.pad(len(data))
}

// PutFD queues a duplicate of fd for transfer. The caller keeps ownership of
// fd; the duplicate is closed once sent or when Close is called.
func (b *PayloadBuilder) PutFD(fd int) {
	if b.err != nil {
		return
	}
	if len(b.fds) >= MaxFDs {
		b.err = fmt.Errorf("%w: more than %d descriptors in one message", ErrTooManyFDs, MaxFDs)
		return
	}
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		b.err = ioError("dup fd", err)
		return
	}
	b.fds = append(b.fds, dup)
}

func (b *PayloadBuilder) pad(n int) {
	for ; n%4 != 0; n++ {
		b.buf = append(b.buf, 0)
	}
}

// Len returns the current payload length in bytes.
func (b *PayloadBuilder) Len() int {
	return len(b.buf)
}

// Build returns the payload bytes and queued descriptors. On error any
// duplicated descriptors are closed.
func (b *PayloadBuilder) Build() ([]byte, []int, error) {
	if b.err == nil && HeaderSize+len(b.buf) > MaxMessageSize {
		b.err = malformed("payload of %d bytes does not fit in one message", len(b.buf))
	}
	if b.err != nil {
		b.Close()
		return nil, nil, b.err
	}
	return b.buf, b.fds, nil
}

// Message builds a message sent by sender with the given opcode.
func (b *PayloadBuilder) Message(sender ObjectID, opcode uint16) (*Message, error) {
	payload, fds, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &Message{Sender: sender, Opcode: opcode, Payload: payload, FDs: NewFDQueue(fds...)}, nil
}

// Close releases descriptors queued by PutFD.
func (b *PayloadBuilder) Close() {
	for _, fd := range b.fds {
		_ = unix.Close(fd)
	}
	b.fds = nil
}

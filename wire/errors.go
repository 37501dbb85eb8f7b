package wire

import (
	"errors"
	"fmt"
)

// Error kinds. Every error produced by this package, conn and generated
// bindings matches exactly one of these with errors.Is.
var (
	ErrMalformedHeader  = errors.New("malformed header")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownOpcode    = errors.New("unknown opcode")
	ErrUnknownObject    = errors.New("unknown object")
	ErrTooManyFDs       = errors.New("too many file descriptors")
	ErrIDInUse          = errors.New("object id in use")
	ErrIO               = errors.New("i/o error")
)

// ProtocolError describes a failure tied to a specific object and opcode.
type ProtocolError struct {
	Kind     error
	ObjectID ObjectID
	Opcode   uint16
	Detail   string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%v (object %d, opcode %d)", e.Kind, e.ObjectID, e.Opcode)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Kind
}

// UnknownOpcodeError reports an opcode outside the interface's table.
func UnknownOpcodeError(id ObjectID, opcode uint16) error {
	return &ProtocolError{Kind: ErrUnknownOpcode, ObjectID: id, Opcode: opcode}
}

// UnknownObjectError reports a message addressed to an id with no object.
func UnknownObjectError(id ObjectID, opcode uint16) error {
	return &ProtocolError{Kind: ErrUnknownObject, ObjectID: id, Opcode: opcode}
}

// InvalidEnumError reports a wire value that is not a declared entry of the
// named enum.
func InvalidEnumError(enum string, v uint32) error {
	return fmt.Errorf("%w: %d is not a valid %s value", ErrMalformedPayload, v, enum)
}

// InvalidBitsError reports bits outside the declared mask of a bitfield enum.
func InvalidBitsError(enum string, v, mask uint32) error {
	return fmt.Errorf("%w: %#x has bits outside %s mask %#x", ErrMalformedPayload, v, enum, mask)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}

// IsFatal reports whether err must tear the connection down. Unknown
// opcodes and unknown objects are reported but survivable; everything else
// is fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrUnknownOpcode) && !errors.Is(err, ErrUnknownObject)
}

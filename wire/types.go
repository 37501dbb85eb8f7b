// Package wire implements the Wayland wire format: message framing, typed
// argument encoding and decoding, and a Unix socket transport that passes
// file descriptors alongside message bytes.
//
// It is primarily intended for use by the conn package and by bindings
// generated by the scanner package.
package wire

import (
	"fmt"
	"math"
	"strconv"
)

// ObjectID names a live object on one connection. Zero is the null object.
type ObjectID uint32

// Object id ranges. Clients allocate below ServerIDMin, servers at or above it.
const (
	NullID      ObjectID = 0
	ClientIDMin ObjectID = 1
	ClientIDMax ObjectID = 0xFEFFFFFF
	ServerIDMin ObjectID = 0xFF000000
	ServerIDMax ObjectID = 0xFFFFFFFF
)

// IsServerID reports whether id lies in the server-allocated range.
func (id ObjectID) IsServerID() bool {
	return id >= ServerIDMin
}

func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Fixed is a signed 24.8 fixed-point number.
type Fixed int32

// FixedFromInt converts an integer to Fixed.
func FixedFromInt(v int) Fixed {
	return Fixed(int32(v) << 8)
}

// FixedFromFloat converts v to the nearest representable Fixed value.
// Values outside the representable range are clamped.
func FixedFromFloat(v float64) Fixed {
	scaled := math.Round(v * 256.0)
	switch {
	case scaled > math.MaxInt32:
		return Fixed(math.MaxInt32)
	case scaled < math.MinInt32:
		return Fixed(math.MinInt32)
	}
	return Fixed(int32(scaled))
}

// Float64 converts f to a float64. The conversion is exact.
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// Int returns the integer part of f, rounded toward negative infinity.
func (f Fixed) Int() int {
	return int(f >> 8)
}

func (f Fixed) String() string {
	return fmt.Sprintf("%g", f.Float64())
}

// GenericNewID is a new_id argument whose interface is not fixed by the
// protocol description and so travels in band.
type GenericNewID struct {
	Interface string
	Version   uint32
	ID        ObjectID
}

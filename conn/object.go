// Package conn holds the per-connection object registry and dispatcher.
//
// A Conn owns a transport and a Store mapping object ids to Objects. Each
// inbound message is routed to the Object registered for its sender id;
// generated bindings provide Objects that decode arguments and call typed
// handler methods.
package conn

import (
	"github.com/bnema/wlproto/wire"
)

// Object is the interface-agnostic view of a registered protocol object.
// Generated bindings implement it with small shim types wrapping a typed
// handler.
type Object interface {
	// Interface returns the protocol interface name, e.g. "wl_surface".
	Interface() string
	// Dispatch decodes m and invokes the matching typed handler method.
	Dispatch(c *Conn, m *wire.Message) error
	// Destructor reports whether opcode destroys the receiving object.
	Destructor(opcode uint16) bool
}

// FDCounter is implemented by Objects that can report how many descriptors
// an opcode carries without decoding it. The dispatcher uses it to release
// descriptors sent to objects that are already gone.
type FDCounter interface {
	FDCount(opcode uint16) int
}

// Proxy is the handle embedded by generated client and server object types.
type Proxy struct {
	Conn *Conn
	ID   wire.ObjectID
}

// Valid reports whether p refers to an object on a connection.
func (p Proxy) Valid() bool {
	return p.Conn != nil && p.ID != wire.NullID
}

// Side selects which end of the protocol a connection plays.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ServerSide {
		return "server"
	}
	return "client"
}

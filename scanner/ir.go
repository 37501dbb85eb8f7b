// Package scanner reads Wayland protocol XML descriptions and generates Go
// bindings for them on top of the wire and conn packages.
//
// Parsing produces a small intermediate representation mirroring the XML
// schema. The Generator turns one or more parsed protocols into formatted Go
// source: typed enums, client handles with request methods, server resource
// handles with event methods, and the dispatch shims that decode inbound
// messages into calls on typed handler interfaces.
package scanner

import (
	"fmt"
)

// ArgType is the wire type of a message argument.
type ArgType int

const (
	ArgInt ArgType = iota
	ArgUint
	ArgFixed
	ArgString
	ArgObject
	ArgNewID
	ArgArray
	ArgFD
)

var argTypeNames = [...]string{
	ArgInt:    "int",
	ArgUint:   "uint",
	ArgFixed:  "fixed",
	ArgString: "string",
	ArgObject: "object",
	ArgNewID:  "new_id",
	ArgArray:  "array",
	ArgFD:     "fd",
}

// ParseArgType maps an XML type attribute to an ArgType.
func ParseArgType(s string) (ArgType, bool) {
	for i, name := range argTypeNames {
		if name == s {
			return ArgType(i), true
		}
	}
	return 0, false
}

func (t ArgType) String() string {
	if t >= 0 && int(t) < len(argTypeNames) {
		return argTypeNames[t]
	}
	return fmt.Sprintf("ArgType(%d)", int(t))
}

// MarshalYAML renders the type by its XML name.
func (t ArgType) MarshalYAML() (any, error) {
	return t.String(), nil
}

// Protocol is a parsed <protocol> element.
type Protocol struct {
	Name        string       `yaml:"name"`
	Copyright   string       `yaml:"copyright,omitempty"`
	Description *Description `yaml:"description,omitempty"`
	Interfaces  []Interface  `yaml:"interfaces"`
}

// Description is a <description> element.
type Description struct {
	Summary string `yaml:"summary,omitempty"`
	Text    string `yaml:"text,omitempty"`
}

// Interface is a parsed <interface> element. Requests and Events are in
// document order, so a message's index is its opcode.
type Interface struct {
	Name        string       `yaml:"name"`
	Version     uint32       `yaml:"version"`
	Description *Description `yaml:"description,omitempty"`
	Requests    []Message    `yaml:"requests,omitempty"`
	Events      []Message    `yaml:"events,omitempty"`
	Enums       []Enum       `yaml:"enums,omitempty"`
}

// Message is a <request> or <event>.
type Message struct {
	Name            string       `yaml:"name"`
	Opcode          uint16       `yaml:"opcode"`
	Destructor      bool         `yaml:"destructor,omitempty"`
	Since           uint32       `yaml:"since"`
	DeprecatedSince uint32       `yaml:"deprecated_since,omitempty"`
	Description     *Description `yaml:"description,omitempty"`
	Args            []Arg        `yaml:"args,omitempty"`
}

// FDCount returns the number of fd arguments.
func (m *Message) FDCount() int {
	n := 0
	for _, a := range m.Args {
		if a.Type == ArgFD {
			n++
		}
	}
	return n
}

// NewID returns the new_id argument, if any.
func (m *Message) NewID() (Arg, bool) {
	for _, a := range m.Args {
		if a.Type == ArgNewID {
			return a, true
		}
	}
	return Arg{}, false
}

// Arg is an <arg> element. Interface is set for typed object and new_id
// arguments; a new_id without one is generic. Enum names an enum of the
// enclosing interface, or "iface.enum" for another interface's.
type Arg struct {
	Name      string  `yaml:"name"`
	Type      ArgType `yaml:"type"`
	Interface string  `yaml:"interface,omitempty"`
	Enum      string  `yaml:"enum,omitempty"`
	AllowNull bool    `yaml:"allow_null,omitempty"`
	Summary   string  `yaml:"summary,omitempty"`
}

// Enum is an <enum> element.
type Enum struct {
	Name        string       `yaml:"name"`
	Since       uint32       `yaml:"since"`
	Bitfield    bool         `yaml:"bitfield,omitempty"`
	Description *Description `yaml:"description,omitempty"`
	Entries     []Entry      `yaml:"entries"`
}

// Mask returns the union of all entry values.
func (e *Enum) Mask() uint32 {
	var m uint32
	for _, en := range e.Entries {
		m |= en.Value
	}
	return m
}

// Entry is an <entry> element.
type Entry struct {
	Name    string `yaml:"name"`
	Value   uint32 `yaml:"value"`
	Summary string `yaml:"summary,omitempty"`
	Since   uint32 `yaml:"since"`
}

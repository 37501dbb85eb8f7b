package scanner

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrInvalidProtocol is wrapped by every error describing a document that
// does not follow the protocol schema.
var ErrInvalidProtocol = errors.New("invalid protocol description")

// maxMessages is the number of opcodes a 16-bit field can address.
const maxMessages = math.MaxUint16 + 1

type parser struct {
	d *xml.Decoder
}

// ParseFile parses the protocol description at path.
func ParseFile(path string) (*Protocol, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open protocol file: %w", err)
	}
	defer func() { _ = f.Close() }()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse reads one protocol description. Elements outside the schema are
// rejected; unknown attributes are ignored.
func Parse(r io.Reader) (*Protocol, error) {
	p := &parser{d: xml.NewDecoder(r)}
	for {
		tok, err := p.d.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no <protocol> element", ErrInvalidProtocol)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read XML: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != "protocol" {
				return nil, p.errorf("unexpected root element <%s>", se.Name.Local)
			}
			return p.protocol(se)
		}
	}
}

func (p *parser) errorf(format string, args ...any) error {
	line, col := p.d.InputPos()
	return fmt.Errorf("%w: line %d:%d: %s", ErrInvalidProtocol, line, col, fmt.Sprintf(format, args...))
}

// children walks the content of the element opened by parent until its end
// tag, handing child elements to fn and character data to text.
func (p *parser) children(parent string, fn func(xml.StartElement) error, text *strings.Builder) error {
	for {
		tok, err := p.d.Token()
		if errors.Is(err, io.EOF) {
			return p.errorf("unexpected end of document inside <%s>", parent)
		}
		if err != nil {
			return fmt.Errorf("failed to read XML: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if fn == nil {
				return p.errorf("unexpected element <%s> inside <%s>", t.Name.Local, parent)
			}
			if err := fn(t); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		case xml.CharData:
			if text != nil {
				text.Write(t)
			}
		}
	}
}

func attr(se xml.StartElement, name string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (p *parser) required(se xml.StartElement, name string) (string, error) {
	v, ok := attr(se, name)
	if !ok || v == "" {
		return "", p.errorf("<%s> is missing the %q attribute", se.Name.Local, name)
	}
	return v, nil
}

func (p *parser) boolAttr(se xml.StartElement, name string) (bool, error) {
	v, ok := attr(se, name)
	if !ok {
		return false, nil
	}
	switch v {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, p.errorf("<%s> %s=%q is not a boolean", se.Name.Local, name, v)
}

// version parses a positive version number.
func (p *parser) version(se xml.StartElement, name string, def uint32) (uint32, error) {
	v, ok := attr(se, name)
	if !ok {
		if def == 0 {
			return 0, p.errorf("<%s> is missing the %q attribute", se.Name.Local, name)
		}
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return 0, p.errorf("<%s> %s=%q is not a positive version", se.Name.Local, name, v)
	}
	return uint32(n), nil
}

func (p *parser) protocol(se xml.StartElement) (*Protocol, error) {
	name, err := p.required(se, "name")
	if err != nil {
		return nil, err
	}
	proto := &Protocol{Name: name}
	seen := make(map[string]bool)

	err = p.children("protocol", func(c xml.StartElement) error {
		switch c.Name.Local {
		case "copyright":
			var b strings.Builder
			if err := p.children("copyright", nil, &b); err != nil {
				return err
			}
			proto.Copyright = trimText(b.String())
		case "description":
			d, err := p.description(c)
			if err != nil {
				return err
			}
			proto.Description = d
		case "interface":
			iface, err := p.iface(c)
			if err != nil {
				return err
			}
			if seen[iface.Name] {
				return p.errorf("duplicate interface %q", iface.Name)
			}
			seen[iface.Name] = true
			proto.Interfaces = append(proto.Interfaces, iface)
		default:
			return p.errorf("unexpected element <%s> inside <protocol>", c.Name.Local)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return proto, nil
}

func (p *parser) description(se xml.StartElement) (*Description, error) {
	summary, _ := attr(se, "summary")
	var b strings.Builder
	if err := p.children("description", nil, &b); err != nil {
		return nil, err
	}
	return &Description{Summary: summary, Text: trimText(b.String())}, nil
}

func (p *parser) iface(se xml.StartElement) (Interface, error) {
	var iface Interface
	var err error
	if iface.Name, err = p.required(se, "name"); err != nil {
		return iface, err
	}
	if iface.Version, err = p.version(se, "version", 0); err != nil {
		return iface, err
	}

	requests := make(map[string]bool)
	events := make(map[string]bool)
	enums := make(map[string]bool)

	err = p.children("interface", func(c xml.StartElement) error {
		switch c.Name.Local {
		case "description":
			d, err := p.description(c)
			if err != nil {
				return err
			}
			iface.Description = d
		case "request", "event":
			list, seen := &iface.Requests, requests
			if c.Name.Local == "event" {
				list, seen = &iface.Events, events
			}
			if len(*list) == maxMessages {
				return p.errorf("interface %q has more than %d %ss", iface.Name, maxMessages, c.Name.Local)
			}
			m, err := p.message(c, uint16(len(*list)))
			if err != nil {
				return err
			}
			if seen[m.Name] {
				return p.errorf("duplicate %s %q in interface %q", c.Name.Local, m.Name, iface.Name)
			}
			seen[m.Name] = true
			*list = append(*list, m)
		case "enum":
			e, err := p.enum(c)
			if err != nil {
				return err
			}
			if enums[e.Name] {
				return p.errorf("duplicate enum %q in interface %q", e.Name, iface.Name)
			}
			enums[e.Name] = true
			iface.Enums = append(iface.Enums, e)
		default:
			return p.errorf("unexpected element <%s> inside <interface>", c.Name.Local)
		}
		return nil
	}, nil)
	return iface, err
}

func (p *parser) message(se xml.StartElement, opcode uint16) (Message, error) {
	kind := se.Name.Local
	m := Message{Opcode: opcode}
	var err error
	if m.Name, err = p.required(se, "name"); err != nil {
		return m, err
	}
	switch typ, _ := attr(se, "type"); typ {
	case "":
	case "destructor":
		m.Destructor = true
	default:
		return m, p.errorf("%s %q has unknown type %q", kind, m.Name, typ)
	}
	if m.Since, err = p.version(se, "since", 1); err != nil {
		return m, err
	}
	if _, ok := attr(se, "deprecated-since"); ok {
		if m.DeprecatedSince, err = p.version(se, "deprecated-since", 1); err != nil {
			return m, err
		}
	}

	names := make(map[string]bool)
	newIDs := 0
	err = p.children(kind, func(c xml.StartElement) error {
		switch c.Name.Local {
		case "description":
			d, err := p.description(c)
			if err != nil {
				return err
			}
			m.Description = d
		case "arg":
			a, err := p.arg(c)
			if err != nil {
				return err
			}
			if names[a.Name] {
				return p.errorf("duplicate argument %q in %s %q", a.Name, kind, m.Name)
			}
			names[a.Name] = true
			if a.Type == ArgNewID {
				newIDs++
				if newIDs > 1 {
					return p.errorf("%s %q has more than one new_id argument", kind, m.Name)
				}
			}
			m.Args = append(m.Args, a)
		default:
			return p.errorf("unexpected element <%s> inside <%s>", c.Name.Local, kind)
		}
		return nil
	}, nil)
	return m, err
}

func (p *parser) arg(se xml.StartElement) (Arg, error) {
	var a Arg
	var err error
	if a.Name, err = p.required(se, "name"); err != nil {
		return a, err
	}
	typ, err := p.required(se, "type")
	if err != nil {
		return a, err
	}
	var ok bool
	if a.Type, ok = ParseArgType(typ); !ok {
		return a, p.errorf("argument %q has unknown type %q", a.Name, typ)
	}
	a.Interface, _ = attr(se, "interface")
	a.Enum, _ = attr(se, "enum")
	a.Summary, _ = attr(se, "summary")
	if a.AllowNull, err = p.boolAttr(se, "allow-null"); err != nil {
		return a, err
	}

	if a.Interface != "" && a.Type != ArgObject && a.Type != ArgNewID {
		return a, p.errorf("argument %q of type %s cannot name an interface", a.Name, a.Type)
	}
	if a.Enum != "" && a.Type != ArgInt && a.Type != ArgUint {
		return a, p.errorf("argument %q of type %s cannot reference an enum", a.Name, a.Type)
	}
	if a.AllowNull && a.Type != ArgObject && a.Type != ArgString {
		return a, p.errorf("argument %q of type %s cannot be nullable", a.Name, a.Type)
	}

	if err := p.children("arg", func(c xml.StartElement) error {
		if c.Name.Local != "description" {
			return p.errorf("unexpected element <%s> inside <arg>", c.Name.Local)
		}
		d, err := p.description(c)
		if err == nil && a.Summary == "" {
			a.Summary = d.Summary
		}
		return err
	}, nil); err != nil {
		return a, err
	}
	return a, nil
}

func (p *parser) enum(se xml.StartElement) (Enum, error) {
	var e Enum
	var err error
	if e.Name, err = p.required(se, "name"); err != nil {
		return e, err
	}
	if e.Since, err = p.version(se, "since", 1); err != nil {
		return e, err
	}
	if e.Bitfield, err = p.boolAttr(se, "bitfield"); err != nil {
		return e, err
	}

	names := make(map[string]bool)
	values := make(map[uint32]string)
	err = p.children("enum", func(c xml.StartElement) error {
		switch c.Name.Local {
		case "description":
			d, err := p.description(c)
			if err != nil {
				return err
			}
			e.Description = d
		case "entry":
			en, err := p.entry(c)
			if err != nil {
				return err
			}
			if names[en.Name] {
				return p.errorf("duplicate entry %q in enum %q", en.Name, e.Name)
			}
			names[en.Name] = true
			if prev, dup := values[en.Value]; dup && !e.Bitfield {
				return p.errorf("entries %q and %q of enum %q share the value %d", prev, en.Name, e.Name, en.Value)
			}
			values[en.Value] = en.Name
			e.Entries = append(e.Entries, en)
		default:
			return p.errorf("unexpected element <%s> inside <enum>", c.Name.Local)
		}
		return nil
	}, nil)
	if err != nil {
		return e, err
	}
	if len(e.Entries) == 0 {
		return e, p.errorf("enum %q has no entries", e.Name)
	}
	return e, nil
}

func (p *parser) entry(se xml.StartElement) (Entry, error) {
	var en Entry
	var err error
	if en.Name, err = p.required(se, "name"); err != nil {
		return en, err
	}
	raw, err := p.required(se, "value")
	if err != nil {
		return en, err
	}
	v, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return en, p.errorf("entry %q has invalid value %q", en.Name, raw)
	}
	en.Value = uint32(v)
	en.Summary, _ = attr(se, "summary")
	if en.Since, err = p.version(se, "since", 1); err != nil {
		return en, err
	}

	if err := p.children("entry", func(c xml.StartElement) error {
		if c.Name.Local != "description" {
			return p.errorf("unexpected element <%s> inside <entry>", c.Name.Local)
		}
		d, err := p.description(c)
		if err == nil && en.Summary == "" {
			en.Summary = d.Summary
		}
		return err
	}, nil); err != nil {
		return en, err
	}
	return en, nil
}

// trimText strips the common indentation of a text block and surrounding
// blank lines.
func trimText(s string) string {
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	indent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	for i, l := range lines {
		if len(l) >= indent && indent > 0 {
			l = l[indent:]
		}
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

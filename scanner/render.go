package scanner

import (
	"fmt"
	"strings"
)

// scope hands out local identifiers unique within one generated function.
type scope map[string]bool

func (s scope) use(name string) string {
	for s[name] || reserved[name] {
		name += "_"
	}
	s[name] = true
	return name
}

func (s scope) local(argName string) string {
	return s.use(localName(argName))
}

// sender renders the method that sends m: a client request method on the
// handle, or a Send method on the server resource.
func (g *Generator) sender(iface *Interface, m *Message, server bool) (methodData, error) {
	t := exportedName(iface.Name)
	md := methodData{Recv: t, Name: exportedName(m.Name), Results: "error"}
	op := requestConst(t, m.Name)
	kind := "request"
	if server {
		md.Recv = t + "Resource"
		md.Name = "Send" + md.Name
		op = eventConst(t, m.Name)
		kind = "event"
	}
	md.Doc = docComment(md.Name+" sends the "+iface.Name+"."+m.Name+" "+kind+summarySuffix(m.Description)+".",
		textOnly(m.Description), m.Since, m.DeprecatedSince)

	sc := scope{}
	var params []string
	var alloc, enc strings.Builder
	newID, zero, made := "", "", ""

	for i := range m.Args {
		a := &m.Args[i]
		l := sc.local(a.Name)
		switch a.Type {
		case ArgInt, ArgUint:
			goType, put := "int32", "PutInt"
			if a.Type == ArgUint {
				goType, put = "uint32", "PutUint"
			}
			if e, ok := g.enumType(iface, a.Enum); ok {
				params = append(params, l+" "+e.Type)
				fmt.Fprintf(&enc, "b.%s(%s(%s))\n", put, goType, l)
			} else {
				params = append(params, l+" "+goType)
				fmt.Fprintf(&enc, "b.%s(%s)\n", put, l)
			}
		case ArgFixed:
			params = append(params, l+" wire.Fixed")
			fmt.Fprintf(&enc, "b.PutFixed(%s)\n", l)
		case ArgString:
			if a.AllowNull {
				params = append(params, l+" *string")
				fmt.Fprintf(&enc, "b.PutNullableString(%s)\n", l)
			} else {
				params = append(params, l+" string")
				fmt.Fprintf(&enc, "b.PutString(%s)\n", l)
			}
		case ArgObject:
			params = append(params, l+" wire.ObjectID")
			if a.AllowNull {
				fmt.Fprintf(&enc, "b.PutNullableObject(%s)\n", l)
			} else {
				fmt.Fprintf(&enc, "b.PutObject(%s)\n", l)
			}
		case ArgArray:
			params = append(params, l+" []byte")
			fmt.Fprintf(&enc, "b.PutArray(%s)\n", l)
		case ArgFD:
			params = append(params, l+" int")
			fmt.Fprintf(&enc, "b.PutFD(%s)\n", l)
		case ArgNewID:
			newID = sc.use("newID")
			if a.Interface == "" {
				version, obj := sc.use("version"), sc.use("obj")
				params = append(params, version+" uint32", obj+" conn.Object")
				md.Results, zero, made = "(wire.ObjectID, error)", "wire.NullID", newID
				fmt.Fprintf(&alloc, "%s, err := p.Proxy.Conn.NewObject(%s)\nif err != nil {\nreturn %s, err\n}\n", newID, obj, zero)
				fmt.Fprintf(&enc, "b.PutGenericNewID(wire.GenericNewID{Interface: %s.Interface(), Version: %s, ID: %s})\n", obj, version, newID)
				continue
			}
			nt, err := g.target(a)
			if err != nil {
				return md, err
			}
			handle, shim, handler := nt, nt+"Events", nt+"EventHandler"
			if server {
				handle, shim, handler = nt+"Resource", nt+"Requests", nt+"RequestHandler"
			}
			h := sc.use("h")
			params = append(params, h+" "+handler)
			md.Results, zero = "("+handle+", error)", handle+"{}"
			made = fmt.Sprintf("%s{conn.Proxy{Conn: p.Proxy.Conn, ID: %s}}", handle, newID)
			fmt.Fprintf(&alloc, "%s, err := p.Proxy.Conn.NewObject(&%s{Handler: %s})\nif err != nil {\nreturn %s, err\n}\n", newID, shim, h, zero)
			fmt.Fprintf(&enc, "b.PutNewID(%s)\n", newID)
		}
	}
	md.Params = strings.Join(params, ", ")

	var body strings.Builder
	body.WriteString(alloc.String())
	body.WriteString("b := wire.NewPayloadBuilder()\n")
	body.WriteString(enc.String())
	send := fmt.Sprintf("p.Proxy.Conn.Send(p.Proxy.ID, %s, b)", op)
	switch {
	case newID != "":
		fmt.Fprintf(&body, "if err := %s; err != nil {\np.Proxy.Conn.Remove(%s)\nreturn %s, err\n}\n", send, newID, zero)
		if m.Destructor {
			body.WriteString("p.Proxy.Conn.Retire(p.Proxy.ID)\n")
		}
		fmt.Fprintf(&body, "return %s, nil", made)
	case m.Destructor:
		fmt.Fprintf(&body, "if err := %s; err != nil {\nreturn err\n}\np.Proxy.Conn.Retire(p.Proxy.ID)\nreturn nil", send)
	default:
		fmt.Fprintf(&body, "return %s", send)
	}
	md.Body = body.String()
	return md, nil
}

// receiverFor renders the handler interface and dispatch shim for the
// messages one side receives: events on the client, requests on the server.
func (g *Generator) receiverFor(iface *Interface, msgs []Message, server bool) (receiverData, error) {
	t := exportedName(iface.Name)
	rd := receiverData{
		Iface:   iface.Name,
		Type:    t,
		Kind:    "event",
		Handle:  t,
		Handler: t + "EventHandler",
		Shim:    t + "Events",
	}
	if server {
		rd.Kind, rd.Handle, rd.Handler, rd.Shim = "request", t+"Resource", t+"RequestHandler", t+"Requests"
	}

	for i := range msgs {
		m := &msgs[i]
		op := eventConst(t, m.Name)
		if server {
			op = requestConst(t, m.Name)
		}
		hm, body, err := g.receiver(iface, m, server, rd.Handle)
		if err != nil {
			return rd, err
		}
		rd.Methods = append(rd.Methods, hm)
		rd.Cases = append(rd.Cases, caseData{Opcode: op, Body: body})
		if m.Destructor {
			rd.Destructors = append(rd.Destructors, "opcode == "+op)
		}
		if n := m.FDCount(); n > 0 {
			rd.FDCounts = append(rd.FDCounts, fdCount{Opcode: op, N: n})
		}
	}
	return rd, nil
}

func (g *Generator) receiver(iface *Interface, m *Message, server bool, handle string) (handlerMethod, string, error) {
	hm := handlerMethod{Name: exportedName(m.Name)}
	kind := "event"
	if server {
		kind = "request"
	}
	hm.Doc = docComment(hm.Name+" handles the "+iface.Name+"."+m.Name+" "+kind+summarySuffix(m.Description)+".",
		textOnly(m.Description), m.Since, m.DeprecatedSince)

	sc := scope{}
	params := []string{"p " + handle}
	call := []string{"p"}
	var dec strings.Builder
	var fds []string
	newID, newShim := "", ""

	read := func(l, method string) {
		fmt.Fprintf(&dec, "%s, err := r.%s()\nif err != nil {\nreturn err\n}\n", l, method)
	}

	for i := range m.Args {
		a := &m.Args[i]
		l := sc.local(a.Name)
		switch a.Type {
		case ArgInt, ArgUint:
			goType, method := "int32", "Int"
			if a.Type == ArgUint {
				goType, method = "uint32", "Uint"
			}
			e, ok := g.enumType(iface, a.Enum)
			if !ok {
				read(l, method)
				params = append(params, l+" "+goType)
				break
			}
			raw := sc.use(l + "Raw")
			read(raw, method)
			conv := "Parse" + e.Type
			if e.Bitfield {
				conv = e.Type + "FromBits"
			}
			arg := raw
			if a.Type == ArgInt {
				arg = "uint32(" + raw + ")"
			}
			fmt.Fprintf(&dec, "%s, err := %s(%s)\nif err != nil {\nreturn err\n}\n", l, conv, arg)
			params = append(params, l+" "+e.Type)
		case ArgFixed:
			read(l, "Fixed")
			params = append(params, l+" wire.Fixed")
		case ArgString:
			if a.AllowNull {
				read(l, "NullableString")
				params = append(params, l+" *string")
			} else {
				read(l, "String")
				params = append(params, l+" string")
			}
		case ArgObject:
			if a.AllowNull {
				read(l, "NullableObject")
			} else {
				read(l, "Object")
			}
			params = append(params, l+" wire.ObjectID")
		case ArgArray:
			read(l, "Array")
			params = append(params, l+" []byte")
		case ArgFD:
			fds = append(fds, l)
			params = append(params, l+" int")
		case ArgNewID:
			if a.Interface == "" {
				read(l, "GenericNewID")
				params = append(params, l+" wire.GenericNewID")
				newID = l + ".ID"
				break
			}
			nt, err := g.target(a)
			if err != nil {
				return hm, "", err
			}
			nh, ns := nt, nt+"Events"
			if server {
				nh, ns = nt+"Resource", nt+"Requests"
			}
			read(l, "NewID")
			params = append(params, l+" "+nh)
			call = append(call, fmt.Sprintf("%s{conn.Proxy{Conn: c, ID: %s}}", nh, l))
			newID, newShim = l, ns
			continue
		}
		call = append(call, l)
	}
	hm.Params = strings.Join(params, ", ")

	dec.WriteString("if err := r.Finish(); err != nil {\nreturn err\n}\n")
	if newID != "" {
		fmt.Fprintf(&dec, "if err := c.CheckNewID(%s); err != nil {\nreturn err\n}\n", newID)
	}
	for i, fd := range fds {
		if i == 0 {
			fmt.Fprintf(&dec, "%s, err := r.FD()\nif err != nil {\nreturn err\n}\n", fd)
			continue
		}
		fmt.Fprintf(&dec, "%s, err := r.FD()\nif err != nil {\nwire.CloseFDs(%s)\nreturn err\n}\n", fd, strings.Join(fds[:i], ", "))
	}

	dec.WriteString("if o.Handler == nil {\n")
	if len(fds) > 0 {
		fmt.Fprintf(&dec, "wire.CloseFDs(%s)\n", strings.Join(fds, ", "))
	}
	switch {
	case newShim != "":
		fmt.Fprintf(&dec, "return c.Insert(%s, &%s{})\n", newID, newShim)
	default:
		dec.WriteString("return nil\n")
	}
	dec.WriteString("}\n")

	invoke := fmt.Sprintf("o.Handler.%s(%s)", hm.Name, strings.Join(call, ", "))
	if newID != "" {
		fmt.Fprintf(&dec, "if err := %s; err != nil {\nreturn err\n}\nreturn c.Bound(%s)", invoke, newID)
	} else {
		fmt.Fprintf(&dec, "return %s", invoke)
	}
	return hm, dec.String(), nil
}

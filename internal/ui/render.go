package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/wlproto/internal/probe"
	"github.com/bnema/wlproto/scanner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"
)

// ProtocolTree renders the interfaces of p with their messages and enums.
func ProtocolTree(p *scanner.Protocol) string {
	root := tree.Root(HeaderStyle.Render(p.Name)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(SubtleStyle)

	for i := range p.Interfaces {
		iface := &p.Interfaces[i]
		label := InterfaceStyle.Render(iface.Name) + SubtleStyle.Render(" v"+strconv.FormatUint(uint64(iface.Version), 10))
		if iface.Description != nil && iface.Description.Summary != "" {
			label += " " + TextStyle.Render(iface.Description.Summary)
		}
		node := tree.Root(label)
		if len(iface.Requests) > 0 {
			node.Child(messageTree("requests", iface.Requests))
		}
		if len(iface.Events) > 0 {
			node.Child(messageTree("events", iface.Events))
		}
		if len(iface.Enums) > 0 {
			enums := tree.Root(SectionStyle.Render("enums"))
			for _, e := range iface.Enums {
				enums.Child(EnumLine(e))
			}
			node.Child(enums)
		}
		root.Child(node)
	}
	return root.String()
}

func messageTree(section string, ms []scanner.Message) *tree.Tree {
	t := tree.Root(SectionStyle.Render(section))
	for _, m := range ms {
		t.Child(MessageLine(m))
	}
	return t
}

// MessageLine formats m as "opcode name(arg: type, ...)" with its since
// version and destructor marker.
func MessageLine(m scanner.Message) string {
	args := make([]string, 0, len(m.Args))
	for _, a := range m.Args {
		args = append(args, a.Name+": "+argType(a))
	}
	line := fmt.Sprintf("%d %s(%s)", m.Opcode, m.Name, strings.Join(args, ", "))
	if m.Since > 1 {
		line += SubtleStyle.Render(fmt.Sprintf(" since %d", m.Since))
	}
	if m.DeprecatedSince > 0 {
		line += WarningStyle.Render(fmt.Sprintf(" deprecated since %d", m.DeprecatedSince))
	}
	if m.Destructor {
		line += " " + DestructorStyle.Render("destructor")
	}
	return line
}

func argType(a scanner.Arg) string {
	s := a.Type.String()
	switch {
	case a.Interface != "":
		s += "<" + a.Interface + ">"
	case a.Enum != "":
		s += "<" + a.Enum + ">"
	}
	if a.AllowNull {
		s = "?" + s
	}
	return s
}

// EnumLine formats e as "name: entry=value, ...".
func EnumLine(e scanner.Enum) string {
	entries := make([]string, 0, len(e.Entries))
	for _, en := range e.Entries {
		v := strconv.FormatUint(uint64(en.Value), 10)
		if e.Bitfield {
			v = "0x" + strconv.FormatUint(uint64(en.Value), 16)
		}
		entries = append(entries, en.Name+"="+v)
	}
	name := e.Name
	if e.Bitfield {
		name += SubtleStyle.Render(" (bitfield)")
	}
	return name + ": " + strings.Join(entries, ", ")
}

// GlobalsTable renders the globals advertised by a compositor.
func GlobalsTable(globals []probe.Global) string {
	rows := make([][]string, 0, len(globals))
	for _, g := range globals {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(g.Name), 10),
			g.Interface,
			strconv.FormatUint(uint64(g.Version), 10),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().
					Foreground(ColorPrimary).
					Bold(true).
					Padding(0, 1)
			case col == 1:
				return lipgloss.NewStyle().
					Foreground(ColorSecondary).
					Padding(0, 1)
			default:
				return lipgloss.NewStyle().
					Foreground(ColorText).
					Padding(0, 1)
			}
		}).
		Headers("NAME", "INTERFACE", "VERSION").
		Rows(rows...)

	return t.String()
}

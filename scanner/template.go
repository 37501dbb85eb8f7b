package scanner

// fileTemplate lays out one generated file. Method bodies and dispatch
// cases are rendered in Go and go/format fixes their indentation.
const fileTemplate = `// Code generated by wlproto from the {{ .Protocol }} protocol. DO NOT EDIT.

package {{ .Package }}
{{ if .Imports }}
import (
{{- range .StdImports }}
	{{ quote . }}
{{- end }}
{{- if .StdImports }}
{{ end }}
{{- range .Imports }}
	{{ quote . }}
{{- end }}
)
{{ end }}
{{- if .Copyright }}
{{ .Copyright }}
{{ end }}
{{- range .Interfaces }}
{{ template "interface" . }}
{{- end }}

{{- define "interface" }}
{{ .ConstDoc }}
const {{ .Type }}Interface = {{ quote .Name }}

// {{ .Type }}Version is the highest {{ .Name }} version these bindings implement.
const {{ .Type }}Version = {{ .Version }}
{{ if .Opcodes }}
const (
{{- range .Opcodes }}
	{{ .Name }} uint16 = {{ .Value }}
{{- end }}
)
{{ end }}
{{- range .Enums }}
{{ template "enum" . }}
{{- end }}
{{- if .Client }}
{{ .HandleDoc }}
type {{ .Type }} struct {
	conn.Proxy
}
{{ range .ClientMethods }}
{{ template "method" . }}
{{ end }}
{{ template "receiver" .ClientRecv }}
{{- end }}
{{- if .Server }}
{{ .ResourceDoc }}
type {{ .Type }}Resource struct {
	conn.Proxy
}
{{ range .ServerMethods }}
{{ template "method" . }}
{{ end }}
{{ template "receiver" .ServerRecv }}
{{- end }}
{{- end }}

{{- define "enum" }}
{{ .Doc }}
type {{ .Type }} uint32

const (
{{- range .Entries }}
{{- if .Doc }}
{{ .Doc }}
{{- end }}
	{{ .Const }} {{ $.Type }} = {{ .Value }}
{{- end }}
)
{{ if .Bitfield }}
// {{ .Mask }} holds every bit declared by {{ .Type }}.
const {{ .Mask }} {{ .Type }} = {{ .MaskValue }}

// {{ .Type }}FromBits validates v against the declared bits.
func {{ .Type }}FromBits(v uint32) ({{ .Type }}, error) {
	if v&^uint32({{ .Mask }}) != 0 {
		return 0, wire.InvalidBitsError({{ quote .Name }}, v, uint32({{ .Mask }}))
	}
	return {{ .Type }}(v), nil
}

// Has reports whether every bit of flag is set in f.
func (f {{ .Type }}) Has(flag {{ .Type }}) bool {
	return f&flag == flag
}

var {{ .Table }} = [...]struct {
	v    {{ .Type }}
	name string
}{
{{- range .Entries }}
	{ {{- .Const }}, {{ quote .Name }}},
{{- end }}
}

func (f {{ .Type }}) String() string {
	var parts []string
	rest := f
	for _, e := range {{ .Table }} {
		if e.v != 0 && f&e.v == e.v {
			parts = append(parts, e.name)
			rest &^= e.v
		}
	}
	if rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	if len(parts) == 0 {
		for _, e := range {{ .Table }} {
			if e.v == 0 {
				return e.name
			}
		}
		return "0"
	}
	return strings.Join(parts, "|")
}
{{ else }}
// Parse{{ .Type }} validates v against the declared entries.
func Parse{{ .Type }}(v uint32) ({{ .Type }}, error) {
	switch {{ .Type }}(v) {
	case {{ range $i, $e := .Entries }}{{ if $i }}, {{ end }}{{ $e.Const }}{{ end }}:
		return {{ .Type }}(v), nil
	}
	return 0, wire.InvalidEnumError({{ quote .Name }}, v)
}

func (e {{ .Type }}) String() string {
	switch e {
{{- range .Entries }}
	case {{ .Const }}:
		return {{ quote .Name }}
{{- end }}
	}
	return "{{ .Type }}(" + strconv.FormatUint(uint64(e), 10) + ")"
}
{{ end }}
{{- end }}

{{- define "method" }}
{{ .Doc }}
func (p {{ .Recv }}) {{ .Name }}({{ .Params }}) {{ .Results }} {
{{ .Body }}
}
{{- end }}

{{- define "receiver" }}
// {{ .Handler }} receives {{ .Iface }} {{ .Kind }}s.
type {{ .Handler }} interface {
{{- range .Methods }}
{{ .Doc }}
	{{ .Name }}({{ .Params }}) error
{{- end }}
}

// {{ .Shim }} dispatches {{ .Iface }} {{ .Kind }}s to Handler. A nil Handler
// decodes and drops every message.
type {{ .Shim }} struct {
	Handler {{ .Handler }}
}

func (o *{{ .Shim }}) Interface() string { return {{ .Type }}Interface }

func (o *{{ .Shim }}) Destructor(opcode uint16) bool {
	return {{ if .Destructors }}{{ join " || " .Destructors }}{{ else }}false{{ end }}
}

func (o *{{ .Shim }}) FDCount(opcode uint16) int {
{{- if .FDCounts }}
	switch opcode {
{{- range .FDCounts }}
	case {{ .Opcode }}:
		return {{ .N }}
{{- end }}
	}
{{- end }}
	return 0
}

func (o *{{ .Shim }}) Dispatch(c *conn.Conn, m *wire.Message) error {
{{- if .Cases }}
	r := wire.NewMessageReader(m)
	p := {{ .Handle }}{conn.Proxy{Conn: c, ID: m.Sender}}
	switch m.Opcode {
{{- range .Cases }}
	case {{ .Opcode }}:
{{ .Body }}
{{- end }}
	}
{{- end }}
	return wire.UnknownOpcodeError(m.Sender, m.Opcode)
}
{{- end }}
`

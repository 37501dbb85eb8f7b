package scanner

import (
	"go/token"
	"strings"
	"unicode"
)

// initialisms are rendered upper case inside identifiers.
var initialisms = map[string]string{
	"id":  "ID",
	"fd":  "FD",
	"ids": "IDs",
	"fds": "FDs",
}

// reserved are identifiers the generated code uses itself, plus Go's
// predeclared names. Argument names matching one get a trailing underscore.
var reserved = map[string]bool{
	"b": true, "c": true, "m": true, "o": true, "p": true, "r": true, "err": true,
	"conn": true, "wire": true, "fmt": true, "strconv": true, "strings": true,

	"any": true, "append": true, "bool": true, "byte": true, "cap": true, "clear": true,
	"close": true, "complex": true, "copy": true, "delete": true, "error": true,
	"false": true, "float32": true, "float64": true, "imag": true, "int": true,
	"int8": true, "int16": true, "int32": true, "int64": true, "iota": true,
	"len": true, "make": true, "max": true, "min": true, "new": true, "nil": true,
	"panic": true, "print": true, "println": true, "real": true, "recover": true,
	"rune": true, "string": true, "true": true, "uint": true, "uint8": true,
	"uint16": true, "uint32": true, "uint64": true, "uintptr": true,
}

// exportedName converts a snake_case schema name to CamelCase:
// "wl_surface" becomes "WlSurface", "delete_id" becomes "DeleteID".
func exportedName(s string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == '.' }) {
		if up, ok := initialisms[part]; ok {
			b.WriteString(up)
			continue
		}
		rs := []rune(part)
		rs[0] = unicode.ToUpper(rs[0])
		b.WriteString(string(rs))
	}
	return b.String()
}

// localName converts a schema name to a lowerCamel Go identifier that
// cannot clash with keywords or names used by generated code.
func localName(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	if len(parts) == 0 {
		return "arg_"
	}
	name := strings.ToLower(parts[0]) + exportedName(strings.Join(parts[1:], "_"))
	if unicode.IsDigit(rune(name[0])) {
		name = "v" + name
	}
	if token.IsKeyword(name) || reserved[name] {
		name += "_"
	}
	return name
}

// entryName renders an enum entry constant. Entries may start with a digit,
// which is fine once prefixed by the enum's type name.
func entryName(enumType, entry string) string {
	return enumType + exportedName(entry)
}

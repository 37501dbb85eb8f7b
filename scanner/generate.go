package scanner

import (
	"bytes"
	"errors"
	"fmt"
	"go/format"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// DefaultRuntimeImport is the module generated code imports conn and wire from.
const DefaultRuntimeImport = "github.com/bnema/wlproto"

// Mode selects which side of the protocol is generated.
type Mode string

const (
	ModeClient Mode = "client"
	ModeServer Mode = "server"
	ModeBoth   Mode = "both"
)

// ParseMode validates a mode name. The empty string means ModeBoth.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBoth:
		return ModeBoth, nil
	case ModeClient, ModeServer:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want client, server or both)", s)
}

func (m Mode) client() bool { return m != ModeServer }
func (m Mode) server() bool { return m != ModeClient }

// Options configures a Generator.
type Options struct {
	// Package is the package clause of the generated files.
	Package string
	Mode    Mode
	// RuntimeImport defaults to DefaultRuntimeImport.
	RuntimeImport string
}

// File is one generated source file.
type File struct {
	Name   string
	Source []byte
}

type enumInfo struct {
	Type     string
	Bitfield bool
}

// Generator emits Go bindings. All protocols added to one Generator are
// assumed to share a package, so typed new_id arguments and enum
// references may cross protocol boundaries.
type Generator struct {
	opts      Options
	protocols []*Protocol
	ifaces    map[string]*Interface
	enums     map[string]enumInfo
	tmpl      *template.Template
}

// NewGenerator validates opts and returns an empty Generator.
func NewGenerator(opts Options) (*Generator, error) {
	if !isIdent(opts.Package) {
		return nil, fmt.Errorf("invalid package name %q", opts.Package)
	}
	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	if opts.RuntimeImport == "" {
		opts.RuntimeImport = DefaultRuntimeImport
	}
	tmpl, err := template.New("file").Funcs(sprig.TxtFuncMap()).Parse(fileTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Generator{
		opts:   opts,
		ifaces: make(map[string]*Interface),
		enums:  make(map[string]enumInfo),
		tmpl:   tmpl,
	}, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// Add registers p's interfaces and enums in the symbol table.
func (g *Generator) Add(p *Protocol) error {
	for i := range p.Interfaces {
		iface := &p.Interfaces[i]
		if _, dup := g.ifaces[iface.Name]; dup {
			return fmt.Errorf("interface %q is declared by more than one protocol", iface.Name)
		}
	}
	for i := range p.Interfaces {
		iface := &p.Interfaces[i]
		g.ifaces[iface.Name] = iface
		for _, e := range iface.Enums {
			g.enums[iface.Name+"."+e.Name] = enumInfo{
				Type:     exportedName(iface.Name) + exportedName(e.Name),
				Bitfield: e.Bitfield,
			}
		}
	}
	g.protocols = append(g.protocols, p)
	return nil
}

// GenerateAll generates every added protocol, in the order added.
func (g *Generator) GenerateAll() ([]File, error) {
	files := make([]File, 0, len(g.protocols))
	for _, p := range g.protocols {
		src, err := g.Generate(p)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: FileName(p), Source: src})
	}
	return files, nil
}

// FileName returns the conventional output file name for p.
func FileName(p *Protocol) string {
	return strings.ReplaceAll(p.Name, "-", "_") + ".go"
}

// Generate returns the formatted bindings for p, which must have been
// added. When formatting fails the unformatted source is returned with the
// error to help debugging.
func (g *Generator) Generate(p *Protocol) ([]byte, error) {
	added := false
	for _, q := range g.protocols {
		added = added || q == p
	}
	if !added {
		return nil, errors.New("protocol " + strconv.Quote(p.Name) + " was not added to the generator")
	}

	data, err := g.fileData(p)
	if err != nil {
		return nil, fmt.Errorf("protocol %s: %w", p.Name, err)
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	formatted, err := format.Source(buf.Bytes())
	if err != nil {
		return buf.Bytes(), fmt.Errorf("failed to format generated code: %w", err)
	}
	return formatted, nil
}

type fileData struct {
	Package    string
	Protocol   string
	Copyright  string
	StdImports []string
	Imports    []string
	Interfaces []ifaceData
}

type ifaceData struct {
	Name    string
	Type    string
	Version uint32
	Client  bool
	Server  bool

	ConstDoc      string
	HandleDoc     string
	ResourceDoc   string
	Opcodes       []opcodeData
	Enums         []enumData
	ClientMethods []methodData
	ServerMethods []methodData
	ClientRecv    receiverData
	ServerRecv    receiverData
}

type opcodeData struct {
	Name  string
	Value uint16
}

type enumData struct {
	Name      string
	Type      string
	Doc       string
	Bitfield  bool
	Mask      string
	MaskValue string
	Table     string
	Entries   []entryData
}

type entryData struct {
	Const string
	Name  string
	Value string
	Doc   string
}

type methodData struct {
	Doc     string
	Recv    string
	Name    string
	Params  string
	Results string
	Body    string
}

type receiverData struct {
	Iface       string
	Type        string
	Kind        string
	Handle      string
	Handler     string
	Shim        string
	Methods     []handlerMethod
	Cases       []caseData
	Destructors []string
	FDCounts    []fdCount
}

type handlerMethod struct {
	Doc    string
	Name   string
	Params string
}

type caseData struct {
	Opcode string
	Body   string
}

type fdCount struct {
	Opcode string
	N      int
}

func (g *Generator) fileData(p *Protocol) (*fileData, error) {
	fd := &fileData{
		Package:  g.opts.Package,
		Protocol: p.Name,
	}
	if p.Copyright != "" {
		fd.Copyright = commentLines(strings.Split(p.Copyright, "\n"))
	}

	imports := map[string]bool{}
	for i := range p.Interfaces {
		iface := &p.Interfaces[i]
		id, err := g.ifaceData(iface)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", iface.Name, err)
		}
		fd.Interfaces = append(fd.Interfaces, id)

		imports[g.opts.RuntimeImport+"/conn"] = true
		imports[g.opts.RuntimeImport+"/wire"] = true
		for _, e := range iface.Enums {
			imports["strconv"] = true
			if e.Bitfield {
				imports["strings"] = true
			}
		}
	}
	for imp := range imports {
		if strings.Contains(imp, ".") {
			fd.Imports = append(fd.Imports, imp)
		} else {
			fd.StdImports = append(fd.StdImports, imp)
		}
	}
	sort.Strings(fd.StdImports)
	sort.Strings(fd.Imports)
	return fd, nil
}

func (g *Generator) ifaceData(iface *Interface) (ifaceData, error) {
	t := exportedName(iface.Name)
	d := ifaceData{
		Name:    iface.Name,
		Type:    t,
		Version: iface.Version,
		Client:  g.opts.Mode.client(),
		Server:  g.opts.Mode.server(),
	}
	d.ConstDoc = docComment(t+"Interface is the protocol name of "+iface.Name+summarySuffix(iface.Description)+".", textOnly(iface.Description), 0, 0)
	d.HandleDoc = commentLines([]string{t + " is a client handle for a " + iface.Name + " object."})
	d.ResourceDoc = commentLines([]string{t + "Resource is a server handle for a " + iface.Name + " object."})

	for _, m := range iface.Requests {
		d.Opcodes = append(d.Opcodes, opcodeData{Name: requestConst(t, m.Name), Value: m.Opcode})
	}
	for _, m := range iface.Events {
		d.Opcodes = append(d.Opcodes, opcodeData{Name: eventConst(t, m.Name), Value: m.Opcode})
	}

	for i := range iface.Enums {
		d.Enums = append(d.Enums, enumDataFor(iface, &iface.Enums[i]))
	}

	var err error
	if d.Client {
		for i := range iface.Requests {
			md, err := g.sender(iface, &iface.Requests[i], false)
			if err != nil {
				return d, err
			}
			d.ClientMethods = append(d.ClientMethods, md)
		}
		if d.ClientRecv, err = g.receiverFor(iface, iface.Events, false); err != nil {
			return d, err
		}
	}
	if d.Server {
		for i := range iface.Events {
			md, err := g.sender(iface, &iface.Events[i], true)
			if err != nil {
				return d, err
			}
			d.ServerMethods = append(d.ServerMethods, md)
		}
		if d.ServerRecv, err = g.receiverFor(iface, iface.Requests, true); err != nil {
			return d, err
		}
	}
	return d, nil
}

func requestConst(t, name string) string { return t + "Request" + exportedName(name) }
func eventConst(t, name string) string   { return t + "Event" + exportedName(name) }

func enumDataFor(iface *Interface, e *Enum) enumData {
	t := exportedName(iface.Name) + exportedName(e.Name)
	kind := "enum"
	if e.Bitfield {
		kind = "bitfield"
	}
	ed := enumData{
		Name:     iface.Name + "." + e.Name,
		Type:     t,
		Bitfield: e.Bitfield,
		Doc:      docComment(t+" is the "+iface.Name+"."+e.Name+" "+kind+summarySuffix(e.Description)+".", textOnly(e.Description), e.Since, 0),
		Mask:     t + "Mask",
		Table:    strings.ToLower(t[:1]) + t[1:] + "Names",
	}
	for _, en := range e.Entries {
		c := entryName(t, en.Name)
		if c == ed.Mask {
			ed.Mask = t + "ValidMask"
		}
		var lines []string
		if en.Summary != "" {
			lines = append(lines, en.Summary)
		}
		if en.Since > 1 {
			lines = append(lines, fmt.Sprintf("Available since version %d.", en.Since))
		}
		ed.Entries = append(ed.Entries, entryData{
			Const: c,
			Name:  en.Name,
			Value: formatValue(en.Value, e.Bitfield),
			Doc:   commentLines(lines),
		})
	}
	ed.MaskValue = formatValue(e.Mask(), true)
	return ed
}

func formatValue(v uint32, hex bool) string {
	if hex {
		return "0x" + strconv.FormatUint(uint64(v), 16)
	}
	return strconv.FormatUint(uint64(v), 10)
}

func summarySuffix(d *Description) string {
	if d == nil || d.Summary == "" {
		return ""
	}
	return ": " + strings.TrimSuffix(strings.TrimSpace(d.Summary), ".")
}

func textOnly(d *Description) *Description {
	if d == nil || d.Text == "" {
		return nil
	}
	return &Description{Text: d.Text}
}

// docComment renders a Go comment: the lead sentence, the description
// text and version notes.
func docComment(lead string, d *Description, since, deprecated uint32) string {
	lines := []string{lead}
	if d != nil && d.Text != "" {
		lines = append(lines, "")
		lines = append(lines, strings.Split(d.Text, "\n")...)
	}
	if since > 1 {
		lines = append(lines, "", fmt.Sprintf("Available since version %d.", since))
	}
	if deprecated > 0 {
		lines = append(lines, "", fmt.Sprintf("Deprecated: since version %d.", deprecated))
	}
	return commentLines(lines)
}

func commentLines(lines []string) string {
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			b.WriteString("//\n")
			continue
		}
		b.WriteString("// ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// enumType resolves an arg's enum reference, local or "iface.enum".
func (g *Generator) enumType(iface *Interface, ref string) (enumInfo, bool) {
	if ref == "" {
		return enumInfo{}, false
	}
	key := ref
	if !strings.Contains(ref, ".") {
		key = iface.Name + "." + ref
	}
	e, ok := g.enums[key]
	return e, ok
}

func (g *Generator) target(a *Arg) (string, error) {
	if _, ok := g.ifaces[a.Interface]; !ok {
		return "", fmt.Errorf("argument %s creates unknown interface %q; add the protocol that declares it", a.Name, a.Interface)
	}
	return exportedName(a.Interface), nil
}

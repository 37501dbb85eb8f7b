package ui

import (
	"strings"
	"testing"

	"github.com/bnema/wlproto/internal/probe"
	"github.com/bnema/wlproto/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const protocolXML = `<protocol name="demo">
  <interface name="demo_surface" version="4">
    <description summary="a surface"/>
    <request name="destroy" type="destructor"/>
    <request name="attach" since="2">
      <arg name="buffer" type="object" interface="wl_buffer" allow-null="true"/>
      <arg name="transform" type="int" enum="wl_output.transform"/>
    </request>
    <event name="enter">
      <arg name="output" type="object" interface="wl_output"/>
    </event>
    <enum name="caps" bitfield="true">
      <entry name="a" value="1"/>
      <entry name="b" value="16"/>
    </enum>
  </interface>
</protocol>`

func TestProtocolTree(t *testing.T) {
	p, err := scanner.Parse(strings.NewReader(protocolXML))
	require.NoError(t, err)

	out := ProtocolTree(p)
	for _, want := range []string{
		"demo",
		"demo_surface",
		"v4",
		"a surface",
		"requests",
		"0 destroy()",
		"destructor",
		"1 attach(buffer: ?object<wl_buffer>, transform: int<wl_output.transform>)",
		"since 2",
		"events",
		"0 enter(output: object<wl_output>)",
		"enums",
		"caps",
		"a=0x1, b=0x10",
	} {
		assert.Contains(t, out, want)
	}
}

func TestMessageLine(t *testing.T) {
	m := scanner.Message{Name: "old", Opcode: 3, Since: 1, DeprecatedSince: 5}
	assert.Contains(t, MessageLine(m), "3 old()")
	assert.Contains(t, MessageLine(m), "deprecated since 5")
	assert.NotContains(t, MessageLine(m), "since 1")
}

func TestEnumLine(t *testing.T) {
	e := scanner.Enum{Name: "error", Entries: []scanner.Entry{{Name: "invalid", Value: 0}, {Name: "busy", Value: 12}}}
	assert.Equal(t, "error: invalid=0, busy=12", EnumLine(e))
}

func TestGlobalsTable(t *testing.T) {
	out := GlobalsTable([]probe.Global{
		{Name: 1, Interface: "wl_compositor", Version: 6},
		{Name: 12, Interface: "xdg_wm_base", Version: 5},
	})
	for _, want := range []string{"NAME", "INTERFACE", "VERSION", "wl_compositor", "xdg_wm_base", "12"} {
		assert.Contains(t, out, want)
	}
}

func TestCreateSeparator(t *testing.T) {
	assert.Contains(t, CreateSeparator(3, "="), "===")
	assert.Contains(t, CreateSeparator(0, ""), strings.Repeat("─", 50))
}

func TestFormatHelpers(t *testing.T) {
	assert.Contains(t, FormatSuccess("Wrote core.go"), IconSuccess)
	assert.Contains(t, FormatSuccess("Wrote core.go"), "Wrote core.go")
	assert.Contains(t, FormatWarning("no globals"), IconWarning)
	assert.Contains(t, FormatError("Generation failed"), IconError)
	assert.True(t, strings.HasSuffix(FormatError("Generation failed"), " Generation failed"))
}

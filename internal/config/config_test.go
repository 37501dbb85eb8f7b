package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reset clears the package and viper state a test leaves behind.
func reset(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetConfigPath("")
	Set(nil)
	t.Cleanup(func() {
		viper.Reset()
		SetConfigPath("")
		Set(nil)
	})
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		reset(t)
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		t.Setenv("HOME", dir)
		t.Chdir(dir)

		require.NoError(t, Init())

		c := Get()
		require.NotNil(t, c)
		assert.Equal(t, "protocol", c.Generate.Package)
		assert.Equal(t, "both", c.Generate.Mode)
		assert.Equal(t, "github.com/bnema/wlproto", c.Generate.RuntimeImport)
		assert.Empty(t, c.Socket.Display)
		assert.False(t, c.Logging.Trace)
	})

	t.Run("reads an explicit config file", func(t *testing.T) {
		reset(t)
		path := filepath.Join(t.TempDir(), "custom.toml")
		require.NoError(t, os.WriteFile(path, []byte(`[generate]
package = "wlclient"
mode = "client"
protocols = ["xdg-shell.xml", "viewporter.xml"]

[socket]
display = "wayland-9"

[logging]
log_level = "debug"
trace = true
`), 0o644))
		SetConfigPath(path)

		require.NoError(t, Init())

		c := Get()
		assert.Equal(t, "wlclient", c.Generate.Package)
		assert.Equal(t, "client", c.Generate.Mode)
		assert.Equal(t, []string{"xdg-shell.xml", "viewporter.xml"}, c.Generate.Protocols)
		assert.Equal(t, ".", c.Generate.OutputDir, "unset keys keep their defaults")
		assert.Equal(t, "wayland-9", c.Socket.Display)
		assert.Equal(t, "debug", c.Logging.LogLevel)
		assert.True(t, c.Logging.Trace)
		assert.Equal(t, path, GetConfigPath())
	})

	t.Run("finds the config under XDG_CONFIG_HOME", func(t *testing.T) {
		reset(t)
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		t.Chdir(t.TempDir())
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "wlproto"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "wlproto", "wlproto.toml"), []byte("[generate]\npackage = \"xdg\"\n"), 0o644))

		require.NoError(t, Init())
		assert.Equal(t, "xdg", Get().Generate.Package)
	})

	t.Run("rejects invalid TOML", func(t *testing.T) {
		reset(t)
		path := filepath.Join(t.TempDir(), "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[generate\npackage = 1"), 0o644))
		SetConfigPath(path)

		err := Init()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error reading config file")
	})
}

func TestGetReturnsDefaultsBeforeInit(t *testing.T) {
	reset(t)
	assert.Equal(t, &DefaultConfig, Get())

	c := &Config{Generate: GenerateConfig{Package: "other"}}
	Set(c)
	assert.Same(t, c, Get())
}

func TestConfigPathResolution(t *testing.T) {
	tests := []struct {
		name string
		xdg  string
		home string
		want string
	}{
		{name: "xdg config home", xdg: "/tmp/xdg", home: "/home/testuser", want: "/tmp/xdg/wlproto/wlproto.toml"},
		{name: "home fallback", home: "/home/testuser", want: "/home/testuser/.config/wlproto/wlproto.toml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reset(t)
			t.Setenv("XDG_CONFIG_HOME", tt.xdg)
			t.Setenv("HOME", tt.home)
			assert.Equal(t, tt.want, GetConfigPath())
		})
	}

	t.Run("override wins", func(t *testing.T) {
		reset(t)
		SetConfigPath("/etc/wlproto.toml")
		assert.Equal(t, "/etc/wlproto.toml", GetConfigPath())
	})
}

func TestSave(t *testing.T) {
	reset(t)
	path := filepath.Join(t.TempDir(), "nested", "wlproto.toml")
	SetConfigPath(path)
	viper.Set("generate.package", "saved")

	require.NoError(t, Save())

	viper.Reset()
	require.NoError(t, Init())
	assert.Equal(t, "saved", Get().Generate.Package)
}

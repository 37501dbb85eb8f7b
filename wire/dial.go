package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// DefaultDisplay is the socket name used when WAYLAND_DISPLAY is unset.
const DefaultDisplay = "wayland-0"

// ErrNoRuntimeDir is returned when a relative socket name cannot be
// resolved because XDG_RUNTIME_DIR is unset.
var ErrNoRuntimeDir = errors.New("XDG_RUNTIME_DIR is not set")

// SocketPath resolves a display name to a socket path. An empty name falls
// back to $WAYLAND_DISPLAY and then DefaultDisplay. Absolute names are used
// as is; relative names are joined to $XDG_RUNTIME_DIR.
func SocketPath(display string) (string, error) {
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		display = DefaultDisplay
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(dir, display), nil
}

// Dial connects to a compositor. When display is empty and WAYLAND_SOCKET
// names an inherited descriptor, that connection is adopted and the
// variable is cleared so child processes do not inherit it.
func Dial(ctx context.Context, display string) (*Socket, error) {
	if display == "" {
		if v, ok := os.LookupEnv("WAYLAND_SOCKET"); ok {
			_ = os.Unsetenv("WAYLAND_SOCKET")
			return adoptFD(v)
		}
	}
	path, err := SocketPath(display)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return NewSocket(c.(*net.UnixConn)), nil
}

func adoptFD(v string) (*Socket, error) {
	fd, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("parse WAYLAND_SOCKET %q: %w", v, err)
	}
	unix.CloseOnExec(fd)
	f := os.NewFile(uintptr(fd), "WAYLAND_SOCKET")
	defer f.Close()

	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("open WAYLAND_SOCKET connection: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("WAYLAND_SOCKET %d is not a unix socket", fd)
	}
	return NewSocket(uc), nil
}

// SocketPair returns two connected sockets. It is mostly useful for tests
// and for handing one end to a child process.
func SocketPair() (*Socket, *Socket, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, ioError("socketpair", err)
	}
	a, err := fileConn(fds[0], "wayland-a")
	if err != nil {
		_ = unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := fileConn(fds[1], "wayland-b")
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return NewSocket(a), NewSocket(b), nil
}

func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, ioError("file conn", err)
	}
	return c.(*net.UnixConn), nil
}

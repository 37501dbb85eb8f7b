// Package server listens on a Wayland display socket and runs one
// connection dispatcher per client.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/bnema/wlproto/conn"
	"github.com/bnema/wlproto/internal/logger"
	"github.com/bnema/wlproto/wire"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// maxAutoDisplays bounds the wayland-N names tried when no name is given.
const maxAutoDisplays = 32

// ErrDisplayInUse is returned when another process holds the display lock.
var ErrDisplayInUse = errors.New("display socket is in use")

// SetupFunc installs the initial objects on a freshly accepted connection,
// typically wl_display at id 1.
type SetupFunc func(ctx context.Context, c *conn.Conn) error

// Options configures Listen.
type Options struct {
	// Name is a display name relative to RuntimeDir or an absolute socket
	// path. When empty the first free wayland-N is used.
	Name string
	// RuntimeDir defaults to $XDG_RUNTIME_DIR.
	RuntimeDir string
	Logger     *log.Logger
	// ConnOptions are applied to every accepted connection.
	ConnOptions []conn.Option
}

// Server is a listening display socket.
type Server struct {
	mu       sync.Mutex
	listener *net.UnixListener
	lock     *os.File
	name     string
	path     string
	closed   bool

	log      *log.Logger
	connOpts []conn.Option
}

// Listen binds a display socket, guarded by an exclusive lock on
// "<path>.lock" so that a stale socket left by a dead compositor can be
// replaced safely.
func Listen(opts Options) (*Server, error) {
	dir := opts.RuntimeDir
	if dir == "" {
		dir = os.Getenv("XDG_RUNTIME_DIR")
	}
	l := opts.Logger
	if l == nil {
		l = logger.Logger.WithPrefix("server")
	}

	if opts.Name != "" {
		return listen(dir, opts.Name, l, opts.ConnOptions)
	}
	for i := 0; i < maxAutoDisplays; i++ {
		s, err := listen(dir, "wayland-"+strconv.Itoa(i), l, opts.ConnOptions)
		if errors.Is(err, ErrDisplayInUse) {
			continue
		}
		return s, err
	}
	return nil, fmt.Errorf("no free display among wayland-0..%d: %w", maxAutoDisplays-1, ErrDisplayInUse)
}

func listen(dir, name string, l *log.Logger, connOpts []conn.Option) (*Server, error) {
	path := name
	if !filepath.IsAbs(path) {
		if dir == "" {
			return nil, wire.ErrNoRuntimeDir
		}
		path = filepath.Join(dir, name)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	// holding the lock means any socket file left behind is stale
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = releaseLock(lock)
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		_ = releaseLock(lock)
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(false)

	l.Infof("Listening on %s", path)
	return &Server{
		listener: ln,
		lock:     lock,
		name:     name,
		path:     path,
		log:      l,
		connOpts: connOpts,
	}, nil
}

func acquireLock(path string) (*os.File, error) {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o660)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock file: %w", err)
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, fmt.Errorf("%w: %s", ErrDisplayInUse, path)
			}
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}
		current, err := lockIsCurrent(f, path)
		if err != nil {
			f.Close()
			return nil, err
		}
		if current {
			return f, nil
		}
		// the previous owner unlinked the file between our open and flock
		f.Close()
	}
}

// lockIsCurrent reports whether f is still the file linked at path.
func lockIsCurrent(f *os.File, path string) (bool, error) {
	var held, linked unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &held); err != nil {
		return false, fmt.Errorf("failed to stat lock file: %w", err)
	}
	if err := unix.Stat(path, &linked); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return held.Dev == linked.Dev && held.Ino == linked.Ino, nil
}

// releaseLock unlinks the lock file while still holding it, so no other
// server can lock this inode and then lose it to the unlink.
func releaseLock(f *os.File) error {
	_ = os.Remove(f.Name())
	return f.Close()
}

// Name returns the display name clients should put in WAYLAND_DISPLAY.
func (s *Server) Name() string { return s.name }

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Accept waits for the next client.
func (s *Server) Accept() (*wire.Socket, error) {
	c, err := s.listener.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return wire.NewSocket(c), nil
}

// Serve accepts clients until ctx is cancelled or the server is closed,
// running each connection on its own goroutine: setup installs the initial
// objects, then the connection dispatches until the client leaves. A
// failing client is logged and dropped without affecting the others.
func (s *Server) Serve(ctx context.Context, setup SetupFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.Close()
	})
	defer stop()

	g.Go(func() error {
		defer cancel()
		for {
			sock, err := s.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return fmt.Errorf("failed to accept connection: %w", err)
			}
			g.Go(func() error {
				s.handle(ctx, sock, setup)
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) handle(ctx context.Context, sock *wire.Socket, setup SetupFunc) {
	defer sock.Close()

	opts := append([]conn.Option{conn.WithLogger(s.log)}, s.connOpts...)
	c := conn.New(sock, conn.ServerSide, opts...)
	s.log.Debug("Client connected", "display", s.name)

	if setup != nil {
		if err := setup(ctx, c); err != nil {
			s.log.Warn("Client setup failed", "err", err)
			return
		}
	}

	err := c.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.log.Debug("Client disconnected", "display", s.name)
	default:
		s.log.Warn("Client connection failed", "err", err)
	}
}

// Close stops accepting clients and removes the socket and lock files.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	_ = os.Remove(s.path)
	if lerr := releaseLock(s.lock); err == nil {
		err = lerr
	}
	s.log.Infof("Stopped listening on %s", s.path)
	return err
}

package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	readChunk = 4096
	// scmMaxFD is the kernel's per-control-message descriptor limit.
	scmMaxFD = 253
	// maxQueuedFDs bounds descriptors received but not yet claimed by a
	// decoded message.
	maxQueuedFDs = 1024
	// maxBatch bounds the bytes handed to one sendmsg call.
	maxBatch = 16 * 1024
)

var errClosed = errors.New("socket closed")

type outFrame struct {
	data []byte
	fds  []int
}

// Socket frames Wayland messages over a Unix stream socket.
//
// Reading delivers one message at a time; descriptors received with the
// bytes accumulate in a queue shared by every delivered message. Writing is
// split into Enqueue and Flush so callers control when bytes hit the kernel.
// A frame's descriptors always ride the sendmsg call that carries the start
// of its bytes.
//
// A Socket is not safe for concurrent use.
type Socket struct {
	conn *net.UnixConn

	in   []byte
	rbuf []byte
	oob  []byte
	fds  *FDQueue

	out  []outFrame
	wbuf []byte

	err    error
	closed bool
}

// NewSocket wraps an established Unix stream connection.
func NewSocket(c *net.UnixConn) *Socket {
	return &Socket{
		conn: c,
		rbuf: make([]byte, readChunk),
		oob:  make([]byte, unix.CmsgSpace(scmMaxFD*4)),
		fds:  &FDQueue{},
	}
}

// Next returns the next complete message. It returns io.EOF when the peer
// closes the connection cleanly between frames. Malformed headers and I/O
// failures are sticky: every later call returns the same error.
func (s *Socket) Next(ctx context.Context) (*Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	for {
		m, n, err := DecodeFrame(s.in)
		if err == nil {
			s.consume(n)
			m.FDs = s.fds
			return m, nil
		}
		if !IsShortFrame(err) {
			return nil, s.fail(err)
		}
		if err := s.fill(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *Socket) consume(n int) {
	rest := copy(s.in, s.in[n:])
	s.in = s.in[:rest]
}

func (s *Socket) fill(ctx context.Context) error {
	if s.closed {
		return ioError("read", errClosed)
	}
	stop := watchContext(ctx, s.conn.SetReadDeadline)
	n, oobn, flags, _, err := s.conn.ReadMsgUnix(s.rbuf, s.oob)
	stop()
	// a failed read reports -1
	n, oobn = max(n, 0), max(oobn, 0)

	if oobn > 0 {
		if perr := s.receiveFDs(s.oob[:oobn]); perr != nil {
			return s.fail(perr)
		}
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return s.fail(fmt.Errorf("%w: control message truncated", ErrTooManyFDs))
	}
	if s.fds.Len() > maxQueuedFDs {
		return s.fail(fmt.Errorf("%w: %d unclaimed descriptors", ErrTooManyFDs, s.fds.Len()))
	}
	s.in = append(s.in, s.rbuf[:n]...)

	if err != nil {
		if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// deadline left over from an earlier cancellation
			_ = s.conn.SetReadDeadline(time.Time{})
			return nil
		}
		if errors.Is(err, io.EOF) {
			return s.eof()
		}
		return s.fail(ioError("read", err))
	}
	if n == 0 && oobn == 0 {
		return s.eof()
	}
	return nil
}

func (s *Socket) eof() error {
	if len(s.in) > 0 {
		return s.fail(ioError("read", io.ErrUnexpectedEOF))
	}
	s.err = io.EOF
	return io.EOF
}

func (s *Socket) receiveFDs(oob []byte) error {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return ioError("parse control message", err)
	}
	for i := range msgs {
		if msgs[i].Header.Level != unix.SOL_SOCKET || msgs[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return ioError("parse rights", err)
		}
		s.fds.Push(fds...)
	}
	return nil
}

func (s *Socket) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return s.err
}

// Ready reports whether the socket accepts new messages.
func (s *Socket) Ready() error {
	if s.closed {
		return ioError("send", errClosed)
	}
	if s.err != nil && !errors.Is(s.err, io.EOF) {
		return s.err
	}
	return nil
}

// Enqueue frames m and queues it for the next Flush. The socket takes
// ownership of m's descriptors and closes them once sent, or on failure.
func (s *Socket) Enqueue(m *Message) error {
	if err := s.Ready(); err != nil {
		m.FDs.Close()
		return err
	}
	if m.FDs.Len() > MaxFDs {
		m.FDs.Close()
		return fmt.Errorf("%w: %d descriptors (object %d, opcode %d)", ErrTooManyFDs, m.FDs.Len(), m.Sender, m.Opcode)
	}
	data, err := EncodeFrame(nil, m)
	if err != nil {
		m.FDs.Close()
		return err
	}
	var fds []int
	if m.FDs != nil {
		fds = m.FDs.take()
	}
	s.out = append(s.out, outFrame{data: data, fds: fds})
	return nil
}

// Pending returns the number of queued frames not yet flushed.
func (s *Socket) Pending() int {
	return len(s.out)
}

// Flush writes every queued frame. If ctx is cancelled before a batch is
// started the remaining frames stay queued; a batch interrupted after some
// of its bytes were written leaves the socket failed.
func (s *Socket) Flush(ctx context.Context) error {
	if err := s.Ready(); err != nil {
		return err
	}
	stop := watchContext(ctx, s.conn.SetWriteDeadline)
	defer stop()

	for len(s.out) > 0 {
		k := 1
		s.wbuf = append(s.wbuf[:0], s.out[0].data...)
		for k < len(s.out) && len(s.out[k].fds) == 0 && len(s.wbuf)+len(s.out[k].data) <= maxBatch {
			s.wbuf = append(s.wbuf, s.out[k].data...)
			k++
		}
		fds := s.out[0].fds

		var oob []byte
		if len(fds) > 0 {
			oob = unix.UnixRights(fds...)
		}
		n, _, err := s.conn.WriteMsgUnix(s.wbuf, oob, nil)
		if err != nil && n == 0 {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				_ = s.conn.SetWriteDeadline(time.Time{})
				continue
			}
			return s.fail(ioError("write", err))
		}
		for _, fd := range fds {
			_ = unix.Close(fd)
		}
		s.out[0].fds = nil
		if n < len(s.wbuf) {
			if _, err := s.conn.Write(s.wbuf[n:]); err != nil {
				return s.fail(ioError("write", err))
			}
		}
		clear(s.out[:k])
		s.out = s.out[k:]
	}
	s.out = nil
	return nil
}

// Close closes the connection, discarding unflushed frames and closing any
// received but unclaimed descriptors.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, f := range s.out {
		for _, fd := range f.fds {
			_ = unix.Close(fd)
		}
	}
	s.out = nil
	_ = s.fds.Close()
	return s.conn.Close()
}

// File returns a duplicate of the underlying socket descriptor, for
// protocols that hand the connection itself to another process.
func (s *Socket) File() (*os.File, error) {
	return s.conn.File()
}

// watchContext arms set with a past deadline when ctx is cancelled. The
// returned function disarms it and clears any deadline that fired.
func watchContext(ctx context.Context, set func(time.Time) error) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Unix(1, 0))
	})
	return func() {
		if !stop() {
			_ = set(time.Time{})
		}
	}
}

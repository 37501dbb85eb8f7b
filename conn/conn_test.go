package conn

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/bnema/wlproto/wire"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	opValue   = 0
	opDestroy = 1
	opAttach  = 2
)

// counter is a hand-written object: opcode 0 carries a uint, 1 destroys the
// object and 2 carries a single descriptor.
type counter struct {
	values []uint32
	fds    []int
	err    error
}

func (o *counter) Interface() string { return "test_counter" }

func (o *counter) Destructor(opcode uint16) bool { return opcode == opDestroy }

func (o *counter) FDCount(opcode uint16) int {
	if opcode == opAttach {
		return 1
	}
	return 0
}

func (o *counter) Dispatch(c *Conn, m *wire.Message) error {
	r := wire.NewMessageReader(m)
	switch m.Opcode {
	case opValue:
		v, err := r.Uint()
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		o.values = append(o.values, v)
		return o.err
	case opDestroy:
		return r.Finish()
	case opAttach:
		fd, err := r.FD()
		if err != nil {
			return err
		}
		o.fds = append(o.fds, fd)
		return unix.Close(fd)
	default:
		return wire.UnknownOpcodeError(m.Sender, m.Opcode)
	}
}

type fakeTransport struct {
	in      []*wire.Message
	sent    []*wire.Message
	flushes int
	closed  bool
}

func (f *fakeTransport) Next(ctx context.Context) (*wire.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.in) == 0 {
		return nil, io.EOF
	}
	m := f.in[0]
	f.in = f.in[1:]
	return m, nil
}

func (f *fakeTransport) Enqueue(m *wire.Message) error {
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) Flush(ctx context.Context) error {
	f.flushes++
	return ctx.Err()
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard)
}

func valueMessage(t *testing.T, sender wire.ObjectID, v uint32) *wire.Message {
	t.Helper()
	b := wire.NewPayloadBuilder()
	b.PutUint(v)
	m, err := b.Message(sender, opValue)
	require.NoError(t, err)
	return m
}

func TestServerAllocatesFromServerRange(t *testing.T) {
	c := New(&fakeTransport{}, ServerSide, WithLogger(quietLogger()))

	a, err := c.NewObject(&counter{})
	require.NoError(t, err)
	b, err := c.NewObject(&counter{})
	require.NoError(t, err)

	assert.Equal(t, wire.ObjectID(0xFF000000), a)
	assert.Equal(t, wire.ObjectID(0xFF000001), b)
	assert.True(t, a.IsServerID())
}

func TestRunSkipsUnknownOpcode(t *testing.T) {
	var reported []error
	tr := &fakeTransport{}
	tr.in = append(tr.in, &wire.Message{Sender: 5, Opcode: 9}, valueMessage(t, 5, 42))

	c := New(tr, ServerSide, WithLogger(quietLogger()), WithErrorHandler(func(err error) {
		reported = append(reported, err)
	}))
	obj := &counter{}
	require.NoError(t, c.Insert(5, obj))

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], wire.ErrUnknownOpcode)
	assert.Equal(t, []uint32{42}, obj.values)
}

func TestDestructorRemovesObject(t *testing.T) {
	var deleted []wire.ObjectID
	var reported []error
	tr := &fakeTransport{in: []*wire.Message{
		{Sender: 5, Opcode: opDestroy},
	}}
	tr.in = append(tr.in, valueMessage(t, 5, 1))

	c := New(tr, ServerSide,
		WithLogger(quietLogger()),
		WithErrorHandler(func(err error) { reported = append(reported, err) }),
		WithDeleteHook(func(_ *Conn, id wire.ObjectID) error {
			deleted = append(deleted, id)
			return nil
		}),
	)
	require.NoError(t, c.Insert(5, &counter{}))

	require.NoError(t, c.Run(context.Background()))
	_, ok := c.Get(5)
	assert.False(t, ok)
	assert.Equal(t, []wire.ObjectID{5}, deleted)
	require.Len(t, reported, 1)
	assert.ErrorIs(t, reported[0], wire.ErrUnknownObject)
}

func TestDeleteHookSkipsServerIDs(t *testing.T) {
	called := false
	c := New(&fakeTransport{}, ServerSide, WithLogger(quietLogger()), WithDeleteHook(func(*Conn, wire.ObjectID) error {
		called = true
		return nil
	}))
	id, err := c.NewObject(&counter{})
	require.NoError(t, err)

	require.NoError(t, c.Dispatch(&wire.Message{Sender: id, Opcode: opDestroy}))
	assert.False(t, called)
	assert.Zero(t, c.Store().Len())
}

func TestClientUnknownObjectIsFatal(t *testing.T) {
	tr := &fakeTransport{}
	tr.in = append(tr.in, valueMessage(t, 7, 1))
	c := New(tr, ClientSide, WithLogger(quietLogger()))

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, wire.ErrUnknownObject)
}

func TestClientDropsMessagesForZombies(t *testing.T) {
	c := New(&fakeTransport{}, ClientSide, WithLogger(quietLogger()))
	id, err := c.NewObject(&counter{})
	require.NoError(t, err)
	c.Retire(id)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	fd, err := unix.Dup(int(w.Fd()))
	require.NoError(t, err)

	q := wire.NewFDQueue()
	q.Push(fd)
	require.NoError(t, c.Dispatch(&wire.Message{Sender: id, Opcode: opAttach, FDs: q}))
	assert.Zero(t, q.Len())

	_, err = unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)

	// the id stays reserved until the server acknowledges the deletion
	assert.ErrorIs(t, c.Insert(id, &counter{}), wire.ErrIDInUse)
	c.Release(id)
	assert.NoError(t, c.Insert(id, &counter{}))
}

func TestClientDestructorEventRetires(t *testing.T) {
	c := New(&fakeTransport{}, ClientSide, WithLogger(quietLogger()))
	id, err := c.NewObject(&counter{})
	require.NoError(t, err)

	require.NoError(t, c.Dispatch(&wire.Message{Sender: id, Opcode: opDestroy}))
	_, ok := c.Get(id)
	assert.False(t, ok)
	_, ok = c.Store().Zombie(id)
	assert.True(t, ok)
}

func TestHandlerErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	tr := &fakeTransport{}
	tr.in = append(tr.in, valueMessage(t, 3, 1), valueMessage(t, 3, 2))
	c := New(tr, ServerSide, WithLogger(quietLogger()))
	obj := &counter{err: boom}
	require.NoError(t, c.Insert(3, obj))

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []uint32{1}, obj.values)
}

func TestMalformedPayloadStopsRun(t *testing.T) {
	tr := &fakeTransport{in: []*wire.Message{{Sender: 3, Opcode: opValue, Payload: []byte{1, 0}}}}
	c := New(tr, ServerSide, WithLogger(quietLogger()))
	require.NoError(t, c.Insert(3, &counter{}))

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, wire.ErrMalformedPayload)
}

func TestCheckNewID(t *testing.T) {
	c := New(&fakeTransport{}, ServerSide, WithLogger(quietLogger()))
	require.NoError(t, c.Insert(4, &counter{}))

	assert.NoError(t, c.CheckNewID(5))
	assert.ErrorIs(t, c.CheckNewID(4), wire.ErrIDInUse)
	assert.ErrorIs(t, c.CheckNewID(0xFF000010), wire.ErrMalformedPayload)

	assert.ErrorIs(t, c.Bound(5), ErrUnboundNewID)
	assert.NoError(t, c.Bound(4))
}

func TestSendEnqueues(t *testing.T) {
	tr := &fakeTransport{}
	c := New(tr, ClientSide, WithLogger(quietLogger()), WithTrace(true))
	require.NoError(t, c.Insert(1, &counter{}))

	b := wire.NewPayloadBuilder()
	b.PutUint(7)
	require.NoError(t, c.Send(1, 3, b))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, wire.ObjectID(1), tr.sent[0].Sender)
	assert.Equal(t, uint16(3), tr.sent[0].Opcode)
	assert.Equal(t, []byte{7, 0, 0, 0}, tr.sent[0].Payload)

	require.NoError(t, c.Close(context.Background()))
	assert.True(t, tr.closed)
	assert.Equal(t, 1, tr.flushes)
}

func TestSerialsAndUserData(t *testing.T) {
	c := New(&fakeTransport{}, ServerSide, WithUserData("seat0"))
	assert.Equal(t, uint32(1), c.NextSerial())
	assert.Equal(t, uint32(2), c.NextSerial())
	assert.Equal(t, "seat0", c.UserData())
	c.SetUserData(3)
	assert.Equal(t, 3, c.UserData())
	assert.Equal(t, ServerSide, c.Side())
}

func TestTraceFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		side Side
		want bool
	}{
		{"", ClientSide, false},
		{"1", ClientSide, true},
		{"1", ServerSide, true},
		{"client", ClientSide, true},
		{"client", ServerSide, false},
		{"server", ServerSide, true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.side.String(), func(t *testing.T) {
			t.Setenv("WAYLAND_DEBUG", tt.env)
			assert.Equal(t, tt.want, traceFromEnv(tt.side))
		})
	}
}

func TestRunOverSocketPair(t *testing.T) {
	a, b, err := wire.SocketPair()
	require.NoError(t, err)
	defer a.Close()

	client := New(a, ClientSide, WithLogger(quietLogger()))
	server := New(b, ServerSide, WithLogger(quietLogger()))
	obj := &counter{}
	require.NoError(t, server.Insert(2, obj))

	ctx := context.Background()
	for _, v := range []uint32{10, 20, 30} {
		bld := wire.NewPayloadBuilder()
		bld.PutUint(v)
		require.NoError(t, client.Send(2, opValue, bld))
	}
	require.NoError(t, client.Close(ctx))

	require.NoError(t, server.Run(ctx))
	assert.Equal(t, []uint32{10, 20, 30}, obj.values)
	require.NoError(t, b.Close())
}

func TestStepDispatchesOneMessage(t *testing.T) {
	obj := &counter{}
	tr := &fakeTransport{}
	tr.in = append(tr.in, valueMessage(t, 5, 1), valueMessage(t, 5, 2))
	c := New(tr, ServerSide, WithLogger(quietLogger()))
	require.NoError(t, c.Insert(5, obj))

	require.NoError(t, c.Step(context.Background()))
	assert.Equal(t, []uint32{1}, obj.values)
	assert.Equal(t, 1, tr.flushes)

	require.NoError(t, c.Step(context.Background()))
	assert.ErrorIs(t, c.Step(context.Background()), io.EOF)
	assert.Equal(t, []uint32{1, 2}, obj.values)
}

func pipeFD(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	fd, err := unix.Dup(int(w.Fd()))
	require.NoError(t, err)
	return fd
}

func TestServerDrainsFDsOfDestroyedObject(t *testing.T) {
	c := New(&fakeTransport{}, ServerSide, WithLogger(quietLogger()))
	require.NoError(t, c.Insert(5, &counter{}))
	live := &counter{}
	require.NoError(t, c.Insert(6, live))

	require.NoError(t, c.Dispatch(&wire.Message{Sender: 5, Opcode: opDestroy}))

	late, own := pipeFD(t), pipeFD(t)
	q := wire.NewFDQueue(late, own)

	err := c.Dispatch(&wire.Message{Sender: 5, Opcode: opAttach, FDs: q})
	assert.ErrorIs(t, err, wire.ErrUnknownObject)
	assert.Equal(t, 1, q.Len())
	_, err = unix.FcntlInt(uintptr(late), unix.F_GETFD, 0)
	assert.ErrorIs(t, err, unix.EBADF)

	require.NoError(t, c.Dispatch(&wire.Message{Sender: 6, Opcode: opAttach, FDs: q}))
	assert.Equal(t, []int{own}, live.fds)
	assert.Zero(t, q.Len())
}

func TestBoundAcceptsObjectDestroyedByHandler(t *testing.T) {
	c := New(&fakeTransport{}, ServerSide, WithLogger(quietLogger()))
	require.NoError(t, c.Insert(5, &counter{}))
	c.Retire(5)

	// a tombstone from the previous use of the id does not count
	require.NoError(t, c.CheckNewID(5))
	assert.ErrorIs(t, c.Bound(5), ErrUnboundNewID)

	require.NoError(t, c.Insert(5, &counter{}))
	c.Retire(5)
	assert.NoError(t, c.Bound(5))
}

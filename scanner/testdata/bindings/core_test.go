package wlgen

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/bnema/wlproto/conn"
	"github.com/bnema/wlproto/wire"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseEnumAcceptsDeclaredValues(t *testing.T) {
	for v, want := range map[uint32]WlOutputTransform{
		0: WlOutputTransformNormal,
		1: WlOutputTransform90,
		2: WlOutputTransform180,
		3: WlOutputTransform270,
	} {
		got, err := ParseWlOutputTransform(v)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, v := range []uint32{4, 0xFFFFFFFF} {
		_, err := ParseWlOutputTransform(v)
		assert.ErrorIs(t, err, wire.ErrMalformedPayload)
	}
	assert.Equal(t, "90", WlOutputTransform90.String())
	assert.Equal(t, "WlOutputTransform(7)", WlOutputTransform(7).String())
}

func TestBitfieldRejectsUndeclaredBits(t *testing.T) {
	assert.Equal(t, WlSeatCapability(7), WlSeatCapabilityMask)

	for _, v := range []uint32{0, 1, 5, 7} {
		got, err := WlSeatCapabilityFromBits(v)
		require.NoError(t, err)
		assert.Equal(t, WlSeatCapability(v), got)
	}
	for _, v := range []uint32{8, 9, 0x80000000} {
		_, err := WlSeatCapabilityFromBits(v)
		assert.ErrorIs(t, err, wire.ErrMalformedPayload)
	}

	c := WlSeatCapabilityPointer | WlSeatCapabilityTouch
	assert.True(t, c.Has(WlSeatCapabilityTouch))
	assert.False(t, c.Has(WlSeatCapabilityKeyboard))
	assert.Equal(t, "pointer|touch", c.String())
}

type displayServer struct {
	shm *shmServer
}

func (displayServer) Sync(p WlDisplayResource, callback WlCallbackResource) error {
	if err := p.Conn.Insert(callback.ID, &WlCallbackRequests{}); err != nil {
		return err
	}
	return callback.SendDone(7)
}

func (d displayServer) GetRegistry(p WlDisplayResource, registry WlRegistryResource) error {
	if err := p.Conn.Insert(registry.ID, &WlRegistryRequests{Handler: &registryServer{shm: d.shm}}); err != nil {
		return err
	}
	if err := registry.SendGlobal(1, WlSeatInterface, 9); err != nil {
		return err
	}
	return registry.SendGlobal(2, WlShmInterface, 1)
}

type registryServer struct {
	shm *shmServer
}

func (s *registryServer) Bind(p WlRegistryResource, name uint32, id wire.GenericNewID) error {
	switch id.Interface {
	case WlSeatInterface:
		if err := p.Conn.Insert(id.ID, &WlSeatRequests{}); err != nil {
			return err
		}
		seat := WlSeatResource{conn.Proxy{Conn: p.Conn, ID: id.ID}}
		return seat.SendCapabilities(WlSeatCapabilityPointer | WlSeatCapabilityKeyboard)
	case WlShmInterface:
		return p.Conn.Insert(id.ID, &WlShmRequests{Handler: s.shm})
	}
	return nil
}

type shmServer struct {
	size int32
	fd   int
}

func (s *shmServer) CreatePool(p WlShmResource, id WlShmPoolResource, fd int, size int32) error {
	s.size, s.fd = size, fd
	return p.Conn.Insert(id.ID, &WlShmPoolRequests{})
}

type registryClient struct {
	globals map[string]uint32
}

func (r *registryClient) Global(p WlRegistry, name uint32, interface_ string, version uint32) error {
	r.globals[interface_] = name
	return nil
}

func (r *registryClient) GlobalRemove(p WlRegistry, name uint32) error { return nil }

type seatClient struct {
	caps WlSeatCapability
}

func (s *seatClient) Capabilities(p WlSeat, capabilities WlSeatCapability) error {
	s.caps = capabilities
	return nil
}

func (s *seatClient) Name(p WlSeat, name string) error { return nil }

type callbackClient struct {
	data uint32
}

func (c *callbackClient) Done(p WlCallback, callbackData uint32) error {
	c.data = callbackData
	return nil
}

type peers struct {
	client, server *conn.Conn
	shm            *shmServer
	display        WlDisplay
}

func newPeers(t *testing.T) *peers {
	t.Helper()
	a, b, err := wire.SocketPair()
	require.NoError(t, err)
	quiet := conn.WithLogger(log.New(io.Discard))
	p := &peers{
		client: conn.New(a, conn.ClientSide, quiet),
		server: conn.New(b, conn.ServerSide, quiet),
		shm:    &shmServer{fd: -1},
	}
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	require.NoError(t, p.client.Insert(1, &WlDisplayEvents{}))
	require.NoError(t, p.server.Insert(1, &WlDisplayRequests{Handler: displayServer{shm: p.shm}}))
	p.display = WlDisplay{conn.Proxy{Conn: p.client, ID: 1}}
	return p
}

// exchange dispatches the given number of requests on the server, then the
// given number of events on the client.
func (p *peers) exchange(t *testing.T, requests, events int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.client.Flush(ctx))
	for i := 0; i < requests; i++ {
		require.NoError(t, p.server.Step(ctx))
	}
	require.NoError(t, p.server.Flush(ctx))
	for i := 0; i < events; i++ {
		require.NoError(t, p.client.Step(ctx))
	}
}

func TestRequestAndEventRoundTrip(t *testing.T) {
	p := newPeers(t)

	cb := &callbackClient{}
	callback, err := p.display.Sync(cb)
	require.NoError(t, err)
	p.exchange(t, 1, 1)
	assert.Equal(t, uint32(7), cb.data)

	// done is a destructor: the callback id waits for delete_id
	_, ok := p.client.Get(callback.ID)
	assert.False(t, ok)
	_, ok = p.client.Store().Zombie(callback.ID)
	assert.True(t, ok)
}

func TestGenericNewIDAndEnumEvent(t *testing.T) {
	p := newPeers(t)

	reg := &registryClient{globals: map[string]uint32{}}
	registry, err := p.display.GetRegistry(reg)
	require.NoError(t, err)
	p.exchange(t, 1, 2)
	require.Contains(t, reg.globals, WlSeatInterface)

	seat := &seatClient{}
	id, err := registry.Bind(reg.globals[WlSeatInterface], 9, &WlSeatEvents{Handler: seat})
	require.NoError(t, err)
	p.exchange(t, 1, 1)
	assert.Equal(t, WlSeatCapabilityPointer|WlSeatCapabilityKeyboard, seat.caps)

	// undeclared bits on the wire are a fatal decode error
	b := wire.NewPayloadBuilder()
	b.PutUint(8)
	require.NoError(t, p.server.Send(id, WlSeatEventCapabilities, b))
	require.NoError(t, p.server.Flush(context.Background()))
	err = p.client.Step(context.Background())
	assert.ErrorIs(t, err, wire.ErrMalformedPayload)
}

func TestFDRequestRoundTrip(t *testing.T) {
	p := newPeers(t)

	reg := &registryClient{globals: map[string]uint32{}}
	registry, err := p.display.GetRegistry(reg)
	require.NoError(t, err)
	p.exchange(t, 1, 2)
	require.Contains(t, reg.globals, WlShmInterface)

	shmID, err := registry.Bind(reg.globals[WlShmInterface], 1, &WlShmEvents{})
	require.NoError(t, err)
	shm := WlShm{conn.Proxy{Conn: p.client, ID: shmID}}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = shm.CreatePool(nil, int(w.Fd()), 4096)
	require.NoError(t, err)
	p.exchange(t, 2, 0)

	assert.Equal(t, int32(4096), p.shm.size)
	require.GreaterOrEqual(t, p.shm.fd, 0)
	assert.NotEqual(t, int(w.Fd()), p.shm.fd, "the descriptor arrives as a new fd")
	_, err = unix.FcntlInt(uintptr(p.shm.fd), unix.F_GETFD, 0)
	assert.NoError(t, err)
	assert.NoError(t, unix.Close(p.shm.fd))
}

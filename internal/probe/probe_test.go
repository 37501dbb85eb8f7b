package probe

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bnema/wlproto/conn"
	"github.com/bnema/wlproto/wire"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() conn.Option {
	return conn.WithLogger(log.New(io.Discard))
}

// scripted replays canned server messages and records what the client sent.
type scripted struct {
	in   []*wire.Message
	sent []*wire.Message
}

func (s *scripted) Next(ctx context.Context) (*wire.Message, error) {
	if len(s.in) == 0 {
		return nil, io.EOF
	}
	m := s.in[0]
	s.in = s.in[1:]
	return m, nil
}

func (s *scripted) Enqueue(m *wire.Message) error {
	s.sent = append(s.sent, m)
	return nil
}

func (s *scripted) Flush(ctx context.Context) error { return nil }
func (s *scripted) Close() error                    { return nil }

func event(t *testing.T, sender wire.ObjectID, opcode uint16, fill func(b *wire.PayloadBuilder)) *wire.Message {
	t.Helper()
	b := wire.NewPayloadBuilder()
	fill(b)
	m, err := b.Message(sender, opcode)
	require.NoError(t, err)
	return m
}

func global(t *testing.T, reg wire.ObjectID, g Global) *wire.Message {
	return event(t, reg, registryGlobal, func(b *wire.PayloadBuilder) {
		b.PutUint(g.Name)
		b.PutString(g.Interface)
		b.PutUint(g.Version)
	})
}

func done(t *testing.T, cb wire.ObjectID) *wire.Message {
	return event(t, cb, callbackDone, func(b *wire.PayloadBuilder) { b.PutUint(7) })
}

// Client ids start after wl_display: the registry is 2, the callback 3.
const (
	registryID wire.ObjectID = 2
	callbackID wire.ObjectID = 3
)

func TestGlobalsScripted(t *testing.T) {
	tr := &scripted{in: []*wire.Message{
		global(t, registryID, Global{Name: 1, Interface: "wl_compositor", Version: 6}),
		global(t, registryID, Global{Name: 2, Interface: "wl_shm", Version: 1}),
		global(t, registryID, Global{Name: 3, Interface: "wl_seat", Version: 9}),
		event(t, registryID, registryGlobalRemove, func(b *wire.PayloadBuilder) { b.PutUint(2) }),
		done(t, callbackID),
	}}

	got, err := Globals(context.Background(), tr, quiet())
	require.NoError(t, err)
	assert.Equal(t, []Global{
		{Name: 1, Interface: "wl_compositor", Version: 6},
		{Name: 3, Interface: "wl_seat", Version: 9},
	}, got)

	require.Len(t, tr.sent, 2)
	assert.Equal(t, DisplayID, tr.sent[0].Sender)
	assert.Equal(t, displayGetRegistry, tr.sent[0].Opcode)
	assert.Equal(t, displaySync, tr.sent[1].Opcode)
	id, err := wire.NewMessageReader(tr.sent[1]).NewID()
	require.NoError(t, err)
	assert.Equal(t, callbackID, id)
}

func TestGlobalsDisplayError(t *testing.T) {
	tr := &scripted{in: []*wire.Message{
		event(t, DisplayID, displayError, func(b *wire.PayloadBuilder) {
			b.PutObject(registryID)
			b.PutUint(1)
			b.PutString("invalid method")
		}),
	}}

	_, err := Globals(context.Background(), tr, quiet())
	var de *DisplayError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, registryID, de.ObjectID)
	assert.Equal(t, uint32(1), de.Code)
	assert.Contains(t, err.Error(), "invalid method")
}

func TestGlobalsHangup(t *testing.T) {
	tr := &scripted{in: []*wire.Message{
		global(t, registryID, Global{Name: 1, Interface: "wl_output", Version: 4}),
	}}

	_, err := Globals(context.Background(), tr, quiet())
	assert.ErrorIs(t, err, io.EOF)
}

func TestGlobalsUnknownObjectIsFatal(t *testing.T) {
	tr := &scripted{in: []*wire.Message{
		global(t, 40, Global{Name: 1, Interface: "wl_output", Version: 4}),
	}}

	_, err := Globals(context.Background(), tr, quiet())
	assert.ErrorIs(t, err, wire.ErrUnknownObject)
}

func TestDeleteIDReleasesCallback(t *testing.T) {
	tr := &scripted{}
	c := conn.New(tr, conn.ClientSide, quiet())
	require.NoError(t, c.Insert(DisplayID, display{}))
	cb := &callback{}
	id, err := c.NewObject(cb)
	require.NoError(t, err)

	require.NoError(t, c.Dispatch(done(t, id)))
	assert.True(t, cb.done)
	_, zombie := c.Store().Zombie(id)
	assert.True(t, zombie)

	require.NoError(t, c.Dispatch(event(t, DisplayID, displayDeleteID, func(b *wire.PayloadBuilder) {
		b.PutUint(uint32(id))
	})))
	_, zombie = c.Store().Zombie(id)
	assert.False(t, zombie)
}

// fakeDisplay answers get_registry and sync the way a compositor does.
type fakeDisplay struct {
	globals []Global
}

func (*fakeDisplay) Interface() string { return "wl_display" }

func (*fakeDisplay) Destructor(opcode uint16) bool { return false }

func (d *fakeDisplay) Dispatch(c *conn.Conn, m *wire.Message) error {
	r := wire.NewMessageReader(m)
	id, err := r.NewID()
	if err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}
	if err := c.CheckNewID(id); err != nil {
		return err
	}
	switch m.Opcode {
	case displayGetRegistry:
		if err := c.Insert(id, &fakeRegistry{}); err != nil {
			return err
		}
		for _, g := range d.globals {
			b := wire.NewPayloadBuilder()
			b.PutUint(g.Name)
			b.PutString(g.Interface)
			b.PutUint(g.Version)
			if err := c.Send(id, registryGlobal, b); err != nil {
				return err
			}
		}
		return nil
	case displaySync:
		b := wire.NewPayloadBuilder()
		b.PutUint(c.NextSerial())
		return c.Send(id, callbackDone, b)
	}
	return wire.UnknownOpcodeError(m.Sender, m.Opcode)
}

type fakeRegistry struct{}

func (fakeRegistry) Interface() string { return "wl_registry" }

func (fakeRegistry) Destructor(opcode uint16) bool { return false }

func (fakeRegistry) Dispatch(c *conn.Conn, m *wire.Message) error {
	return wire.UnknownOpcodeError(m.Sender, m.Opcode)
}

func TestGlobalsOverSocketPair(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, server, err := wire.SocketPair()
	require.NoError(t, err)

	want := []Global{
		{Name: 1, Interface: "wl_compositor", Version: 6},
		{Name: 2, Interface: "xdg_wm_base", Version: 5},
	}
	var dispatchErrs []error
	srv := conn.New(server, conn.ServerSide, quiet(), conn.WithErrorHandler(func(err error) {
		dispatchErrs = append(dispatchErrs, err)
	}))
	require.NoError(t, srv.Insert(DisplayID, &fakeDisplay{globals: want}))

	served := make(chan error, 1)
	go func() { served <- srv.Run(ctx) }()

	got, err := Globals(ctx, client, quiet())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, client.Close())
	require.NoError(t, <-served)
	assert.Empty(t, dispatchErrs)
	_ = server.Close()
}

// Package probe lists the globals a compositor advertises. It carries its
// own small wl_display, wl_registry and wl_callback objects so the CLI does
// not depend on generated bindings.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bnema/wlproto/conn"
	"github.com/bnema/wlproto/wire"
)

// DisplayID is the fixed id of wl_display on every connection.
const DisplayID wire.ObjectID = 1

const (
	displaySync        uint16 = 0
	displayGetRegistry uint16 = 1
	displayError       uint16 = 0
	displayDeleteID    uint16 = 1

	registryGlobal       uint16 = 0
	registryGlobalRemove uint16 = 1

	callbackDone uint16 = 0
)

// Global is one wl_registry.global advertisement.
type Global struct {
	Name      uint32 `yaml:"name"`
	Interface string `yaml:"interface"`
	Version   uint32 `yaml:"version"`
}

// DisplayError is a wl_display.error event sent by the compositor.
type DisplayError struct {
	ObjectID wire.ObjectID
	Code     uint32
	Message  string
}

func (e *DisplayError) Error() string {
	return fmt.Sprintf("compositor error on object %d (code %d): %s", e.ObjectID, e.Code, e.Message)
}

type display struct{}

func (display) Interface() string { return "wl_display" }
func (display) Destructor(opcode uint16) bool { return false }

func (display) Dispatch(c *conn.Conn, m *wire.Message) error {
	r := wire.NewMessageReader(m)
	switch m.Opcode {
	case displayError:
		id, err := r.Object()
		if err != nil {
			return err
		}
		code, err := r.Uint()
		if err != nil {
			return err
		}
		msg, err := r.String()
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		return &DisplayError{ObjectID: id, Code: code, Message: msg}
	case displayDeleteID:
		id, err := r.Uint()
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		c.Release(wire.ObjectID(id))
		return nil
	}
	return wire.UnknownOpcodeError(m.Sender, m.Opcode)
}

type registry struct {
	globals []Global
}

func (*registry) Interface() string { return "wl_registry" }
func (*registry) Destructor(opcode uint16) bool { return false }

func (g *registry) Dispatch(c *conn.Conn, m *wire.Message) error {
	r := wire.NewMessageReader(m)
	switch m.Opcode {
	case registryGlobal:
		name, err := r.Uint()
		if err != nil {
			return err
		}
		iface, err := r.String()
		if err != nil {
			return err
		}
		version, err := r.Uint()
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		g.globals = append(g.globals, Global{Name: name, Interface: iface, Version: version})
		return nil
	case registryGlobalRemove:
		name, err := r.Uint()
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		for i, gl := range g.globals {
			if gl.Name == name {
				g.globals = append(g.globals[:i], g.globals[i+1:]...)
				break
			}
		}
		return nil
	}
	return wire.UnknownOpcodeError(m.Sender, m.Opcode)
}

type callback struct {
	done bool
}

func (*callback) Interface() string { return "wl_callback" }

func (*callback) Destructor(opcode uint16) bool { return opcode == callbackDone }

func (cb *callback) Dispatch(c *conn.Conn, m *wire.Message) error {
	if m.Opcode != callbackDone {
		return wire.UnknownOpcodeError(m.Sender, m.Opcode)
	}
	r := wire.NewMessageReader(m)
	if _, err := r.Uint(); err != nil {
		return err
	}
	if err := r.Finish(); err != nil {
		return err
	}
	cb.done = true
	return nil
}

// Globals binds the registry on a fresh client connection over t, waits
// for one roundtrip and returns the advertised globals in the order the
// compositor sent them. t is not closed.
func Globals(ctx context.Context, t conn.Transport, opts ...conn.Option) ([]Global, error) {
	c := conn.New(t, conn.ClientSide, opts...)
	if err := c.Insert(DisplayID, display{}); err != nil {
		return nil, err
	}

	reg := &registry{}
	regID, err := c.NewObject(reg)
	if err != nil {
		return nil, err
	}
	b := wire.NewPayloadBuilder()
	b.PutNewID(regID)
	if err := c.Send(DisplayID, displayGetRegistry, b); err != nil {
		return nil, fmt.Errorf("failed to send get_registry: %w", err)
	}

	if err := roundtrip(ctx, c); err != nil {
		return nil, err
	}
	return reg.globals, nil
}

func roundtrip(ctx context.Context, c *conn.Conn) error {
	cb := &callback{}
	id, err := c.NewObject(cb)
	if err != nil {
		return err
	}
	b := wire.NewPayloadBuilder()
	b.PutNewID(id)
	if err := c.Send(DisplayID, displaySync, b); err != nil {
		return fmt.Errorf("failed to send sync: %w", err)
	}
	for !cb.done {
		if err := c.Step(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("compositor hung up before the roundtrip completed: %w", err)
			}
			return err
		}
	}
	return nil
}

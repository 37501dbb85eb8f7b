package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bnema/wlproto/internal/logger"
	"github.com/bnema/wlproto/wire"
	"github.com/charmbracelet/log"
)

// ErrUnboundNewID is returned when a handler accepts a message carrying a
// new_id but does not register an object under that id.
var ErrUnboundNewID = errors.New("new_id left without an object")

// Transport is the message-at-a-time view of a connection. *wire.Socket
// implements it.
type Transport interface {
	Next(ctx context.Context) (*wire.Message, error)
	Enqueue(m *wire.Message) error
	Flush(ctx context.Context) error
	Close() error
}

// Conn is one end of a Wayland connection: a transport, the objects living
// on it, and the dispatch loop routing inbound messages to them.
//
// A Conn is driven by a single goroutine. Handlers run on that goroutine and
// may freely call back into the Conn, but other goroutines must not.
type Conn struct {
	t      Transport
	side   Side
	store  *Store
	serial uint32
	data   any

	log      *log.Logger
	trace    bool
	onError  func(error)
	onDelete func(c *Conn, id wire.ObjectID) error
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger used for warnings and message traces.
func WithLogger(l *log.Logger) Option {
	return func(c *Conn) {
		c.log = l
	}
}

// WithTrace logs every sent and dispatched message at debug level.
func WithTrace(on bool) Option {
	return func(c *Conn) {
		c.trace = on
	}
}

// WithErrorHandler receives non-fatal dispatch errors from Run.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Conn) {
		c.onError = fn
	}
}

// WithDeleteHook is called on the server after a client-allocated object is
// destroyed by a destructor request, typically to send wl_display.delete_id.
func WithDeleteHook(fn func(c *Conn, id wire.ObjectID) error) Option {
	return func(c *Conn) {
		c.onDelete = fn
	}
}

// WithUserData attaches application state to the connection.
func WithUserData(v any) Option {
	return func(c *Conn) {
		c.data = v
	}
}

// New returns a connection over t playing the given side.
func New(t Transport, side Side, opts ...Option) *Conn {
	c := &Conn{
		t:     t,
		side:  side,
		store: NewStore(side),
		log:   logger.Logger.WithPrefix("wayland"),
		trace: traceFromEnv(side),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func traceFromEnv(side Side) bool {
	switch os.Getenv("WAYLAND_DEBUG") {
	case "1":
		return true
	case side.String():
		return true
	}
	return false
}

// Side returns which end of the protocol c plays.
func (c *Conn) Side() Side { return c.side }

// Store returns the connection's object store.
func (c *Conn) Store() *Store { return c.store }

// UserData returns the application state attached to c.
func (c *Conn) UserData() any { return c.data }

// SetUserData replaces the application state attached to c.
func (c *Conn) SetUserData(v any) { c.data = v }

// NextSerial returns a fresh event serial.
func (c *Conn) NextSerial() uint32 {
	c.serial++
	return c.serial
}

// Insert registers obj under id.
func (c *Conn) Insert(id wire.ObjectID, obj Object) error {
	return c.store.Insert(id, obj)
}

// Get returns the object registered under id.
func (c *Conn) Get(id wire.ObjectID) (Object, bool) {
	return c.store.Get(id)
}

// Remove unregisters id immediately.
func (c *Conn) Remove(id wire.ObjectID) {
	c.store.Remove(id)
}

// Retire unregisters an object destroyed by the local side. See Store.Retire.
func (c *Conn) Retire(id wire.ObjectID) {
	c.store.Retire(id)
}

// Release frees a retired id once the peer acknowledged its deletion.
func (c *Conn) Release(id wire.ObjectID) {
	c.store.Release(id)
}

// NewObject allocates a local id and registers obj under it.
func (c *Conn) NewObject(obj Object) (wire.ObjectID, error) {
	id, err := c.store.AllocateID()
	if err != nil {
		return wire.NullID, err
	}
	if err := c.store.Insert(id, obj); err != nil {
		return wire.NullID, err
	}
	return id, nil
}

// CheckNewID validates a new_id received from the peer before a handler
// binds it: the id must come from the peer's range and be free.
func (c *Conn) CheckNewID(id wire.ObjectID) error {
	if c.store.Local(id) {
		return fmt.Errorf("%w: new_id %d is outside the %s-allocated range", wire.ErrMalformedPayload, id, c.peer())
	}
	if _, ok := c.store.Get(id); ok {
		return &wire.ProtocolError{Kind: wire.ErrIDInUse, ObjectID: id, Detail: "new_id already in use"}
	}
	// the peer reuses the id, so nothing addresses the old object any more
	c.store.dropTombstone(id)
	return nil
}

// Bound reports ErrUnboundNewID when no object was registered for id since
// CheckNewID. An object the handler registered and destroyed again counts
// as bound.
func (c *Conn) Bound(id wire.ObjectID) error {
	if _, ok := c.store.Get(id); ok {
		return nil
	}
	if _, ok := c.store.Tombstone(id); ok {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnboundNewID, id)
}

func (c *Conn) peer() Side {
	if c.side == ServerSide {
		return ClientSide
	}
	return ServerSide
}

// Send builds the payload in b and queues it as a message from sender.
func (c *Conn) Send(sender wire.ObjectID, opcode uint16, b *wire.PayloadBuilder) error {
	m, err := b.Message(sender, opcode)
	if err != nil {
		return err
	}
	return c.SendMessage(m)
}

// SendMessage queues m for the next Flush.
func (c *Conn) SendMessage(m *wire.Message) error {
	if c.trace {
		c.traceMessage("send", m)
	}
	return c.t.Enqueue(m)
}

// Flush writes queued messages to the peer.
func (c *Conn) Flush(ctx context.Context) error {
	return c.t.Flush(ctx)
}

// Dispatch routes one inbound message to the object registered for its
// sender. Destructor opcodes unregister the object after its handler
// returns successfully.
func (c *Conn) Dispatch(m *wire.Message) error {
	obj, ok := c.store.Get(m.Sender)
	if !ok {
		if z, ok := c.store.Zombie(m.Sender); ok {
			drainFDs(z, m)
			if c.trace {
				c.log.Debug("drop", "object", m.Sender, "interface", z.Interface(), "opcode", m.Opcode)
			}
			return nil
		}
		// the descriptors of a message to a destroyed object must not be
		// handed to the next message
		if dead, ok := c.store.Tombstone(m.Sender); ok {
			drainFDs(dead, m)
		}
		return wire.UnknownObjectError(m.Sender, m.Opcode)
	}
	if c.trace {
		c.traceMessage("recv", m)
	}
	if err := obj.Dispatch(c, m); err != nil {
		return err
	}
	if obj.Destructor(m.Opcode) {
		return c.destroyed(m.Sender)
	}
	return nil
}

func drainFDs(obj Object, m *wire.Message) {
	if fc, ok := obj.(FDCounter); ok {
		m.FDs.Drain(fc.FDCount(m.Opcode))
	}
}

func (c *Conn) destroyed(id wire.ObjectID) error {
	if c.side == ClientSide {
		c.store.Retire(id)
		return nil
	}
	c.store.Bury(id)
	if c.onDelete != nil && !id.IsServerID() {
		return c.onDelete(c, id)
	}
	return nil
}

// Run flushes, reads and dispatches messages until the peer disconnects,
// ctx is cancelled or a fatal error occurs. An orderly disconnect returns
// nil. Unknown opcodes are reported and skipped; unknown objects are
// reported and skipped on the server but fatal on the client.
func (c *Conn) Run(ctx context.Context) error {
	for {
		if err := c.Step(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Step is one iteration of Run: flush, read one message and dispatch it.
// Non-fatal dispatch errors are reported and Step returns nil. A peer
// disconnect surfaces as io.EOF.
func (c *Conn) Step(ctx context.Context) error {
	if err := c.t.Flush(ctx); err != nil {
		return err
	}
	m, err := c.t.Next(ctx)
	if err != nil {
		return err
	}
	if err := c.Dispatch(m); err != nil {
		if c.fatal(err) {
			return err
		}
		c.report(err)
	}
	return nil
}

func (c *Conn) fatal(err error) bool {
	if wire.IsFatal(err) {
		return true
	}
	return c.side == ClientSide && errors.Is(err, wire.ErrUnknownObject)
}

func (c *Conn) report(err error) {
	c.log.Warn("dispatch failed", "side", c.side, "err", err)
	if c.onError != nil {
		c.onError(err)
	}
}

func (c *Conn) traceMessage(dir string, m *wire.Message) {
	iface := "?"
	if obj, ok := c.store.Get(m.Sender); ok {
		iface = obj.Interface()
	}
	c.log.Debug(dir, "object", m.Sender, "interface", iface, "opcode", m.Opcode, "size", m.Size(), "fds", m.FDs.Len())
}

// Close flushes what it can within ctx and closes the transport.
func (c *Conn) Close(ctx context.Context) error {
	flushErr := c.t.Flush(ctx)
	if err := c.t.Close(); err != nil {
		return err
	}
	if flushErr != nil && !errors.Is(flushErr, context.Canceled) && !errors.Is(flushErr, context.DeadlineExceeded) {
		return flushErr
	}
	return nil
}

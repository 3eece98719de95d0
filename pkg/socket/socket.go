package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/rs/zerolog/log"

	"github.com/nlbkit/failover/pkg/emitter"
	"github.com/nlbkit/failover/pkg/endpoint"
)

const (
	EventConnect emitter.Event = "connect"
	EventData    emitter.Event = "data"
	EventEnd     emitter.Event = "end"
	EventTimeout emitter.Event = "timeout"
	EventDrain   emitter.Event = "drain"
	EventError   emitter.Event = "error"
	EventClose   emitter.Event = "close"
)

// Kinds is the fixed set of event kinds that travel with a connection
// across a migration. EventConnect stays out: it belongs to the dial
// lifecycle of one physical transport, not to caller behavior.
func Kinds() []emitter.Event {
	return []emitter.Event{
		EventData, EventEnd, EventTimeout, EventDrain, EventError, EventClose,
	}
}

const readBufSize = 64 * 1024

// Conn is an evented TCP connection. A read pump goroutine turns raw
// transport activity into emitter events:
//
//	connect()            — async dial settled
//	data(buf []byte)     — bytes arrived
//	end()                — remote sent EOF
//	timeout()            — idle deadline elapsed (connection stays up)
//	drain()              — a Write fully flushed
//	error(err)           — transport error
//	close(err, remote)   — teardown finished; remote reports who closed first
//
// Close and End mark the connection locally closed synchronously, before
// the asynchronous teardown propagates, so the close event can always tell
// a caller-driven close from a peer- or error-driven one.
type Conn struct {
	id string
	em *emitter.Emitter

	mu          sync.Mutex
	raw         net.Conn
	remote      endpoint.Addr
	connected   bool
	localClosed bool
	closed      bool
	idleTimeout time.Duration
	generation  uint64
}

func newConn(remote endpoint.Addr) *Conn {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// rand failure, fall back to something still unique enough
		id = fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return &Conn{
		id:     id,
		em:     emitter.New(),
		remote: remote,
	}
}

// Dial opens a connection to addr and starts the read pump. The returned
// Conn is already connected.
func Dial(ctx context.Context, addr endpoint.Addr, timeout time.Duration) (*Conn, error) {
	c := newConn(addr)
	raw, err := DialRaw(ctx, addr, timeout)
	if err != nil {
		return nil, err
	}
	c.attach(raw)
	return c, nil
}

// DialAsync returns a pending Conn immediately and dials in the background.
// Exactly one of connect or error fires when the dial settles; until then
// Connected reports false.
func DialAsync(ctx context.Context, addr endpoint.Addr, timeout time.Duration) *Conn {
	c := newConn(addr)
	go func() {
		raw, err := DialRaw(ctx, addr, timeout)
		if err != nil {
			c.em.Emit(EventError, err)
			return
		}
		c.attach(raw)
		c.em.Emit(EventConnect)
	}()
	return c
}

// DialRaw opens the bare transport without the evented wrapper. The
// failover engine uses it to dial replacement transports for Swap.
func DialRaw(ctx context.Context, addr endpoint.Addr, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   timeout,
		KeepAlive: -1,
	}
	raw, err := dialer.DialContext(ctx, "tcp", addr.Key())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return raw, nil
}

func (c *Conn) attach(raw net.Conn) {
	c.mu.Lock()
	c.raw = raw
	c.connected = true
	c.closed = false
	c.localClosed = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	go c.readPump(raw, gen)
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() endpoint.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

// LocalClosed reports whether this side requested the teardown. The flag
// is set before the close event is emitted, never after.
func (c *Conn) LocalClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localClosed
}

func (c *Conn) On(event emitter.Event, fn emitter.Callback) *emitter.Registration {
	return c.em.On(event, fn)
}

func (c *Conn) Once(event emitter.Event, fn emitter.Callback) *emitter.Registration {
	return c.em.Once(event, fn)
}

func (c *Conn) Off(reg *emitter.Registration) bool {
	return c.em.Off(reg)
}

// Emitter exposes the underlying registration store. The failover engine
// uses it to detach and reattach caller behavior during a migration.
func (c *Conn) Emitter() *emitter.Emitter { return c.em }

func (c *Conn) Write(buf []byte) (int, error) {
	c.mu.Lock()
	raw := c.raw
	c.mu.Unlock()
	if raw == nil {
		return 0, net.ErrClosed
	}
	n, err := raw.Write(buf)
	if err != nil {
		return n, err
	}
	c.em.Emit(EventDrain)
	return n, nil
}

// SetIdleTimeout makes the pump emit a timeout event after d of read
// silence. The connection is not torn down. Zero disables.
func (c *Conn) SetIdleTimeout(d time.Duration) {
	c.mu.Lock()
	c.idleTimeout = d
	raw := c.raw
	c.mu.Unlock()
	// wake a pump already blocked in Read
	if raw != nil && d > 0 {
		_ = raw.SetReadDeadline(time.Now().Add(d))
	}
}

// Close marks the connection locally closed and tears down the transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.localClosed = true
	raw := c.raw
	done := c.closed
	c.mu.Unlock()
	if raw == nil || done {
		return nil
	}
	return raw.Close()
}

// End half-closes the write side, letting the remote drain in-flight data.
// Like Close it counts as a local teardown for classification.
func (c *Conn) End() error {
	c.mu.Lock()
	c.localClosed = true
	raw := c.raw
	c.mu.Unlock()
	if tcp, ok := raw.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	if raw != nil {
		return raw.Close()
	}
	return nil
}

// Swap replaces the underlying transport with a freshly dialed one during a
// migration. The old pump (if any) is invalidated by the generation bump and
// caller behavior registered on the emitter is untouched.
func (c *Conn) Swap(raw net.Conn, remote endpoint.Addr) {
	c.mu.Lock()
	old := c.raw
	c.remote = remote
	// invalidate the old pump before its Read can observe the close
	c.generation++
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	c.attach(raw)
}

// current reports whether the pump for gen still owns the connection.
func (c *Conn) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Conn) readPump(raw net.Conn, gen uint64) {
	buf := make([]byte, readBufSize)
	for {
		c.mu.Lock()
		idle := c.idleTimeout
		c.mu.Unlock()
		if idle > 0 {
			_ = raw.SetReadDeadline(time.Now().Add(idle))
		} else {
			_ = raw.SetReadDeadline(time.Time{})
		}

		n, err := raw.Read(buf)
		if !c.current(gen) {
			return
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.em.Emit(EventData, data)
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.em.Emit(EventTimeout)
			continue
		}

		c.finish(raw, gen, err)
		return
	}
}

// finish settles the teardown exactly once per transport generation and
// emits the terminal events in wire order: end (remote EOF), error, close.
func (c *Conn) finish(raw net.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.generation != gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connected = false
	local := c.localClosed
	remote := c.remote
	c.mu.Unlock()

	_ = raw.Close()

	remoteEnded := errors.Is(err, io.EOF)
	failure := err
	if remoteEnded || (local && errors.Is(err, net.ErrClosed)) {
		failure = nil
	}

	log.Debug().
		Str("conn_id", c.id).
		Str("remote", remote.Key()).
		Bool("local", local).
		Bool("remote_ended", remoteEnded).
		Err(failure).
		Msg("socket teardown")

	if remoteEnded {
		c.em.Emit(EventEnd)
	}
	if failure != nil {
		c.em.Emit(EventError, failure)
	}
	c.em.Emit(EventClose, failure, remoteEnded)
}

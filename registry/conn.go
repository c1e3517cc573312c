// File: registry/conn.go
// Package registry
// Author: momentics <momentics@gmail.com>
//
// Conn is one upgraded peer: identity, state and the transport it owns.

package registry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/momentics/hioload-broadcast/api"
)

// Conn wraps a transport after a successful handshake.
type Conn struct {
	id        string
	transport api.Transport
	state     atomic.Int32

	sendMu    sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn assigns a fresh ID and starts in StateHandshaking.
func NewConn(t api.Transport) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		transport: t,
	}
	c.state.Store(int32(api.StateHandshaking))
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string { return c.transport.RemoteAddr() }

func (c *Conn) State() api.ConnState { return api.ConnState(c.state.Load()) }

// MarkOpen moves HANDSHAKING to OPEN. It fails if the connection is in any other state.
func (c *Conn) MarkOpen() bool {
	return c.state.CompareAndSwap(int32(api.StateHandshaking), int32(api.StateOpen))
}

// Recv reads the next chunk of stream bytes.
func (c *Conn) Recv() ([]byte, error) {
	if c.State() == api.StateClosed {
		return nil, api.ErrConnClosed
	}
	return c.transport.Recv()
}

// Send writes one encoded frame. Concurrent callers are serialized so
// frame bytes never interleave.
func (c *Conn) Send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.send(frame)
}

// TrySend writes frame only if no other write is in progress, and reports
// whether it was written.
func (c *Conn) TrySend(frame []byte) bool {
	if !c.sendMu.TryLock() {
		return false
	}
	defer c.sendMu.Unlock()
	return c.send(frame) == nil
}

func (c *Conn) send(frame []byte) error {
	if c.State() == api.StateClosed {
		return api.ErrConnClosed
	}
	if err := c.transport.Send(frame); err != nil {
		return &api.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close marks the connection CLOSED and releases the transport exactly once.
// Later calls return the result of the first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(api.StateClosed))
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// Package transport
// Author: momentics <momentics@gmail.com>
//
// net.Conn-backed implementation of api.Transport.

package transport

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-broadcast/api"
)

// DefaultReadSize is the read buffer size when none is configured.
const DefaultReadSize = 4096

var bufPools sync.Map // read size -> *sync.Pool

func poolFor(size int) *sync.Pool {
	if p, ok := bufPools.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := bufPools.LoadOrStore(size, &sync.Pool{
		New: func() any {
			b := make([]byte, size)
			return &b
		},
	})
	return p.(*sync.Pool)
}

// ConnTransport implements api.Transport over a net.Conn.
// The slice returned by Recv is only valid until the next Recv.
type ConnTransport struct {
	conn         net.Conn
	r            io.Reader
	writeTimeout time.Duration
	pool   *sync.Pool
	buf    *[]byte
	readMu sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

// NewConnTransport wraps conn. br may carry bytes the HTTP server had already
// buffered before the hijack; pass nil when there is none. A positive
// writeTimeout bounds every Send, so a peer that stops reading fails its own
// writes instead of blocking the writer.
func NewConnTransport(conn net.Conn, br *bufio.Reader, readSize int, writeTimeout time.Duration) *ConnTransport {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	var r io.Reader = conn
	if br != nil && br.Buffered() > 0 {
		r = io.MultiReader(io.LimitReader(br, int64(br.Buffered())), conn)
	}
	p := poolFor(readSize)
	return &ConnTransport{
		conn:         conn,
		r:            r,
		writeTimeout: writeTimeout,
		pool:         p,
		buf:          p.Get().(*[]byte),
	}
}

// Recv reads whatever bytes are available, at most one buffer's worth.
func (ct *ConnTransport) Recv() ([]byte, error) {
	ct.readMu.Lock()
	defer ct.readMu.Unlock()
	if ct.closed.Load() {
		ct.release()
		return nil, api.ErrTransportClosed
	}
	n, err := ct.r.Read(*ct.buf)
	if n > 0 {
		return (*ct.buf)[:n], nil
	}
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &api.TransportError{Op: "read", Err: err}
	}
	return nil, nil
}

// Send writes b in full.
func (ct *ConnTransport) Send(b []byte) error {
	if ct.closed.Load() {
		return api.ErrTransportClosed
	}
	if ct.writeTimeout > 0 {
		if err := ct.conn.SetWriteDeadline(time.Now().Add(ct.writeTimeout)); err != nil {
			return &api.TransportError{Op: "write", Err: err}
		}
	}
	if _, err := ct.conn.Write(b); err != nil {
		return &api.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Close closes the connection. Only the first call has an effect.
// The read buffer goes back to its pool on the next Recv, since the caller
// may still hold the slice returned by the last one.
func (ct *ConnTransport) Close() error {
	var err error
	ct.once.Do(func() {
		ct.closed.Store(true)
		err = ct.conn.Close()
	})
	return err
}

// release returns the read buffer to its pool. Callers hold readMu.
func (ct *ConnTransport) release() {
	if ct.buf != nil {
		ct.pool.Put(ct.buf)
		ct.buf = nil
	}
}

func (ct *ConnTransport) RemoteAddr() string {
	return ct.conn.RemoteAddr().String()
}

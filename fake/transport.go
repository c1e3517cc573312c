// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for api.Transport.

package fake

import (
	"io"
	"sync"

	"github.com/momentics/hioload-broadcast/api"
)

// Transport is an in-memory api.Transport. Recv blocks until data is queued,
// an error is injected, or the transport is closed.
type Transport struct {
	mu         sync.Mutex
	cond       *sync.Cond
	addr       string
	sendBuffer [][]byte
	recvBuffer [][]byte
	eof        bool
	closed     bool
	closeCalls int
	sendError  error
	recvError  error
	closeError error
	onSend     func([]byte)
}

// NewTransport creates a new fake transport reporting addr as its peer.
func NewTransport(addr string) *Transport {
	t := &Transport{addr: addr}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Send records a copy of b.
func (t *Transport) Send(b []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		err := t.sendError
		t.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), b...)
	t.sendBuffer = append(t.sendBuffer, cp)
	hook := t.onSend
	t.mu.Unlock()

	if hook != nil {
		hook(cp)
	}
	return nil
}

// Recv returns queued chunks one at a time, in order.
func (t *Transport) Recv() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.recvBuffer) == 0 && !t.closed && !t.eof && t.recvError == nil {
		t.cond.Wait()
	}
	switch {
	case t.closed:
		return nil, api.ErrTransportClosed
	case len(t.recvBuffer) > 0:
		b := t.recvBuffer[0]
		t.recvBuffer = t.recvBuffer[1:]
		return b, nil
	case t.recvError != nil:
		return nil, t.recvError
	default:
		return nil, io.EOF
	}
}

// Close marks the transport closed and wakes a blocked Recv.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	t.closed = true
	t.cond.Broadcast()
	return t.closeError
}

func (t *Transport) RemoteAddr() string { return t.addr }

// SetSendError configures the transport to return an error on Send.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetRecvError makes Recv fail once the queued data is drained.
func (t *Transport) SetRecvError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvError = err
	t.cond.Broadcast()
}

// SetCloseError configures the transport to return an error on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// OnSend registers a hook invoked after every successful Send.
func (t *Transport) OnSend(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSend = fn
}

// AddRecvData adds data to be returned by a later Recv call.
func (t *Transport) AddRecvData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recvBuffer = append(t.recvBuffer, append([]byte(nil), data...))
	t.cond.Broadcast()
}

// CloseRead makes Recv report io.EOF after the queued data.
func (t *Transport) CloseRead() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.eof = true
	t.cond.Broadcast()
}

// GetSentData returns all data that has been sent via Send.
func (t *Transport) GetSentData() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	sent := make([][]byte, len(t.sendBuffer))
	copy(sent, t.sendBuffer)
	return sent
}

// ClearSentData clears the internal send buffer.
func (t *Transport) ClearSentData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendBuffer = t.sendBuffer[:0]
}

// CloseCalls reports how many times Close was invoked.
func (t *Transport) CloseCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

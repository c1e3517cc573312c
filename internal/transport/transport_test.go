package transport_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/internal/transport"
)

func TestConnTransport_SendRecv(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	tr := transport.NewConnTransport(server, nil, 16, 0)
	go func() {
		_, _ = client.Write([]byte("hello"))
	}()

	b, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	go func() {
		assert.NoError(t, tr.Send([]byte("world")))
	}()
	buf := make([]byte, 5)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))

	assert.NotEmpty(t, tr.RemoteAddr())
	require.NoError(t, tr.Close())
	assert.NoError(t, tr.Close(), "close is idempotent")

	_, err = tr.Recv()
	assert.ErrorIs(t, err, api.ErrTransportClosed)
	assert.ErrorIs(t, tr.Send([]byte("x")), api.ErrTransportClosed)
}

func TestConnTransport_DrainsHijackedBuffer(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	br := bufio.NewReader(strings.NewReader("early"))
	_, err := br.Peek(5)
	require.NoError(t, err)

	tr := transport.NewConnTransport(server, br, 0, 0)
	defer tr.Close()

	b, err := tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "early", string(b))

	go func() { _, _ = client.Write([]byte("late")) }()
	b, err = tr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "late", string(b))
}

func TestConnTransport_EOF(t *testing.T) {
	client, server := net.Pipe()
	tr := transport.NewConnTransport(server, nil, 0, 0)
	defer tr.Close()

	require.NoError(t, client.Close())
	_, err := tr.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestListen(t *testing.T) {
	ln, err := transport.Listen(context.Background(), "127.0.0.1:0", transport.DefaultListenConfig())
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	c.Close()
	<-done
}

func TestConnTransport_WriteTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	// net.Pipe is unbuffered: with nobody reading the client end, Write blocks.
	tr := transport.NewConnTransport(server, nil, 0, 50*time.Millisecond)
	defer tr.Close()

	start := time.Now()
	err := tr.Send([]byte("stalled"))
	require.Error(t, err)
	assert.True(t, api.IsTransportError(err))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
	assert.Less(t, time.Since(start), 2*time.Second)
}

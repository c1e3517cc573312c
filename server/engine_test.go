package server_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/momentics/hioload-broadcast/adapters"
	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/control"
	"github.com/momentics/hioload-broadcast/fake"
	"github.com/momentics/hioload-broadcast/protocol"
	"github.com/momentics/hioload-broadcast/registry"
	"github.com/momentics/hioload-broadcast/relay"
	"github.com/momentics/hioload-broadcast/server"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func clientFrame(t *testing.T, op protocol.Opcode, payload string) []byte {
	t.Helper()
	key := [4]byte{0x11, 0x22, 0x33, 0x44}
	raw, err := protocol.EncodeFrame(op, []byte(payload), &key)
	require.NoError(t, err)
	return raw
}

// sentFrames decodes every chunk written to tr.
func sentFrames(t *testing.T, tr *fake.Transport) []*protocol.Frame {
	t.Helper()
	var out []*protocol.Frame
	for _, chunk := range tr.GetSentData() {
		f, _, err := protocol.DecodeFrame(chunk)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func texts(t *testing.T, tr *fake.Transport) []string {
	var out []string
	for _, f := range sentFrames(t, tr) {
		if f.Opcode == protocol.OpText {
			out = append(out, string(f.Payload))
		}
	}
	return out
}

func attach(t *testing.T, e *server.Engine, name string) *fake.Transport {
	t.Helper()
	tr := fake.NewTransport(name)
	_, err := e.Attach(tr)
	require.NoError(t, err)
	return tr
}

func TestEngine_BroadcastIncludesSender(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")
	require.Equal(t, 2, e.Registry().Len())

	a.AddRecvData(clientFrame(t, protocol.OpText, `{"id":5}`))

	require.Eventually(t, func() bool {
		return len(texts(t, a)) == 1 && len(texts(t, b)) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{`{"id":5}`}, texts(t, a))
	assert.Equal(t, []string{`{"id":5}`}, texts(t, b))

	stats := e.Stats()
	assert.Equal(t, int64(2), stats[control.MetricDeliveries])
	assert.Equal(t, int64(1), stats[control.MetricMessagesBroadcast])
}

func TestEngine_FrameSplitAcrossReads(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	raw := clientFrame(t, protocol.OpText, "hello there")
	a.AddRecvData(raw[:3])
	a.AddRecvData(raw[3:7])
	a.AddRecvData(append(raw[7:], clientFrame(t, protocol.OpText, "second")...))

	require.Eventually(t, func() bool { return len(texts(t, b)) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"hello there", "second"}, texts(t, b))
}

func TestEngine_CloseFrame(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	a.AddRecvData(clientFrame(t, protocol.OpClose, "\x03\xe8"))

	require.Eventually(t, a.Closed, waitFor, tick)
	require.Eventually(t, func() bool { return e.Registry().Len() == 1 }, waitFor, tick)
	assert.Equal(t, 1, a.CloseCalls(), "transport released exactly once")

	frames := sentFrames(t, a)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, protocol.OpClose, last.Opcode)
	assert.Equal(t, uint16(protocol.CloseNormalClosure), protocol.CloseCode(last.Payload))

	b.AddRecvData(clientFrame(t, protocol.OpText, "still here"))
	require.Eventually(t, func() bool { return len(texts(t, b)) == 1 }, waitFor, tick)
	assert.Empty(t, texts(t, a))
}

func TestEngine_DecodeFailureIsolated(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.MaxPayload = 8
	e := server.NewEngine(cfg)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	a.AddRecvData(clientFrame(t, protocol.OpText, "far too long"))
	require.Eventually(t, a.Closed, waitFor, tick)
	frames := sentFrames(t, a)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(protocol.CloseMessageTooBig), protocol.CloseCode(frames[0].Payload))

	b.AddRecvData(clientFrame(t, protocol.OpText, "ok"))
	require.Eventually(t, func() bool { return len(texts(t, b)) == 1 }, waitFor, tick)
	assert.Equal(t, 1, e.Registry().Len())
	assert.Equal(t, int64(1), e.Stats()[control.MetricDecodeErrors])
}

func TestEngine_FramesBeforeBadHeaderAreHandled(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	// A complete text frame, then a header whose 64-bit length has the high bit set.
	chunk := clientFrame(t, protocol.OpText, `{"id":1}`)
	chunk = append(chunk, 0x81, 0xFF, 0x80, 0, 0, 0, 0, 0, 0, 0)
	a.AddRecvData(chunk)

	require.Eventually(t, a.Closed, waitFor, tick)
	require.Eventually(t, func() bool { return len(texts(t, b)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{`{"id":1}`}, texts(t, b))

	frames := sentFrames(t, a)
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.OpText, frames[0].Opcode)
	assert.Equal(t, uint16(protocol.CloseProtocolError), protocol.CloseCode(frames[1].Payload))
}

func TestEngine_CloseBeforeBadHeaderIsHonored(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")

	chunk := clientFrame(t, protocol.OpClose, "\x03\xe8")
	chunk = append(chunk, 0x81, 0xFF, 0x80, 0, 0, 0, 0, 0, 0, 0)
	a.AddRecvData(chunk)

	require.Eventually(t, a.Closed, waitFor, tick)
	frames := sentFrames(t, a)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(protocol.CloseNormalClosure), protocol.CloseCode(frames[0].Payload))
	assert.Zero(t, e.Stats()[control.MetricDecodeErrors])
}

func TestEngine_CloseReplyCode(t *testing.T) {
	cases := []struct {
		name string
		body string
		want uint16
	}{
		{"empty body", "", protocol.CloseNormalClosure},
		{"application code", "\x0f\xa0", 4000},
		{"going away", "\x03\xe9", protocol.CloseGoingAway},
		{"no status received is local only", "\x03\xed", protocol.CloseNormalClosure},
		{"abnormal closure is local only", "\x03\xee", protocol.CloseNormalClosure},
		{"tls failure is local only", "\x03\xf7", protocol.CloseNormalClosure},
		{"out of range", "\x13\x88", protocol.CloseNormalClosure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := server.NewEngine(nil)
			defer e.Close()
			a := attach(t, e, "a")

			a.AddRecvData(clientFrame(t, protocol.OpClose, tc.body))
			require.Eventually(t, a.Closed, waitFor, tick)

			frames := sentFrames(t, a)
			require.Len(t, frames, 1)
			assert.Equal(t, tc.want, protocol.CloseCode(frames[0].Payload))
		})
	}
}

func TestEngine_UnsupportedOpcodes(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()

	bin := attach(t, e, "binary")
	bin.AddRecvData(clientFrame(t, protocol.OpBinary, "x"))

	frag := attach(t, e, "fragment")
	raw := clientFrame(t, protocol.OpText, "part")
	raw[0] &^= protocol.FinBit
	frag.AddRecvData(raw)

	require.Eventually(t, func() bool { return bin.Closed() && frag.Closed() }, waitFor, tick)
	assert.Equal(t, 0, e.Registry().Len())

	for _, tr := range []*fake.Transport{bin, frag} {
		frames := sentFrames(t, tr)
		require.Len(t, frames, 1)
		assert.Equal(t, uint16(protocol.CloseUnsupportedData), protocol.CloseCode(frames[0].Payload))
	}
}

func TestEngine_InvalidJSONStillBroadcast(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	a.AddRecvData(clientFrame(t, protocol.OpText, "not json"))

	require.Eventually(t, func() bool { return len(texts(t, b)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"not json"}, texts(t, b))
	assert.Equal(t, 2, e.Registry().Len(), "content errors never close the sender")
	assert.Equal(t, int64(1), e.Stats()[control.MetricContentErrors])
}

func TestEngine_FailedWriteClosesOnlyTarget(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")
	b.SetSendError(errors.New("broken pipe"))

	a.AddRecvData(clientFrame(t, protocol.OpText, "hi"))

	require.Eventually(t, b.Closed, waitFor, tick)
	require.Eventually(t, func() bool { return len(texts(t, a)) == 1 }, waitFor, tick)
	assert.False(t, a.Closed())
	assert.Equal(t, 1, e.Registry().Len())
	assert.Equal(t, int64(1), e.Stats()[control.MetricDeliveryFailures])
}

func TestEngine_RemovalDuringBroadcast(t *testing.T) {
	e := server.NewEngine(nil)
	defer e.Close()
	const n = 5
	var conns []*registry.Conn
	var trs []*fake.Transport
	for i := 0; i < n; i++ {
		tr := fake.NewTransport("peer")
		c, err := e.Attach(tr)
		require.NoError(t, err)
		conns = append(conns, c)
		trs = append(trs, tr)
	}

	// The first write to any peer closes a different one mid-broadcast.
	var once sync.Once
	for i, tr := range trs {
		victim := conns[(i+1)%n]
		tr.OnSend(func([]byte) { once.Do(func() { _ = victim.Close() }) })
	}

	delivered := e.Broadcast(context.Background(), []byte("x"))
	assert.Equal(t, n-1, delivered)
}

func TestEngine_HandlerPanicIsolated(t *testing.T) {
	h := api.HandlerFunc(func(m *api.Message) error {
		if string(m.Payload) == "boom" {
			panic("boom")
		}
		return nil
	})
	e := server.NewEngine(nil, server.WithHandler(h))
	defer e.Close()
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	a.AddRecvData(clientFrame(t, protocol.OpText, "boom"))
	require.Eventually(t, a.Closed, waitFor, tick)

	b.AddRecvData(clientFrame(t, protocol.OpText, "fine"))
	require.Eventually(t, func() bool { return len(texts(t, b)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"fine"}, texts(t, b))
}

func TestEngine_MaxConnections(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.MaxConnections = 1
	e := server.NewEngine(cfg)
	defer e.Close()
	attach(t, e, "a")

	b := fake.NewTransport("b")
	_, err := e.Attach(b)
	assert.ErrorIs(t, err, registry.ErrRegistryFull)
	assert.True(t, b.Closed())

	frames := sentFrames(t, b)
	require.Len(t, frames, 1)
	assert.Equal(t, uint16(protocol.CloseTryAgainLater), protocol.CloseCode(frames[0].Payload))
}

func TestEngine_CloseShutsEveryConnection(t *testing.T) {
	e := server.NewEngine(nil)
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	e.Close()
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, e.Registry().Len())
	assert.Equal(t, uint16(protocol.CloseGoingAway), protocol.CloseCode(sentFrames(t, a)[0].Payload))

	_, err := e.Attach(fake.NewTransport("late"))
	assert.ErrorIs(t, err, server.ErrServerClosed)
}

func TestEngine_CloseSkipsBusyConnection(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ShutdownTimeout = 100 * time.Millisecond
	e := server.NewEngine(cfg)
	a := attach(t, e, "a")
	b := attach(t, e, "b")

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	a.OnSend(func([]byte) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})
	broadcastDone := make(chan struct{})
	go func() {
		defer close(broadcastDone)
		e.Broadcast(context.Background(), []byte("hello"))
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close waited for a busy connection")
	}
	close(release)
	<-broadcastDone

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	for _, f := range sentFrames(t, a) {
		assert.NotEqual(t, protocol.OpClose, f.Opcode, "busy connection must not get a goodbye")
	}
}

func TestEngine_RegistryLenDebugStat(t *testing.T) {
	ctrl := adapters.NewControlAdapter()
	e := server.NewEngine(nil, server.WithControl(ctrl))
	attach(t, e, "a")

	assert.Contains(t, ctrl.DebugProbeNames(), "registry.len")
	assert.Equal(t, 1, ctrl.Stats()["debug.registry.len"])

	e.Close()
	assert.NotContains(t, ctrl.DebugProbeNames(), "registry.len")
}

func TestEngine_BroadcastSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e := server.NewEngine(nil, server.WithTracerProvider(tp))
	defer e.Close()
	attach(t, e, "a")
	attach(t, e, "b")

	assert.Equal(t, 2, e.Broadcast(context.Background(), []byte("traced")))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "broadcast", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("broadcast.delivered", 2))
}

func TestEngine_RelayBetweenInstances(t *testing.T) {
	hub := relay.NewHub()
	e1 := server.NewEngine(nil, server.WithRelay(hub.Join()))
	e2 := server.NewEngine(nil, server.WithRelay(hub.Join()))

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	for _, e := range []*server.Engine{e1, e2} {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		go func(e *server.Engine) { errs <- e.Serve(ctx, ln) }(e)
		<-e.Ready()
	}

	a := attach(t, e1, "a")
	b := attach(t, e2, "b")
	a.AddRecvData(clientFrame(t, protocol.OpText, `{"id":7}`))

	require.Eventually(t, func() bool { return len(texts(t, b)) == 1 }, waitFor, tick)
	assert.Equal(t, []string{`{"id":7}`}, texts(t, b))

	// Give a stray echo time to show up before checking there is none.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{`{"id":7}`}, texts(t, a), "own relay messages are not re-delivered")
	assert.Equal(t, int64(1), e1.Stats()[control.MetricRelayPublished])
	assert.Equal(t, int64(1), e2.Stats()[control.MetricRelayReceived])

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}
	}
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
}

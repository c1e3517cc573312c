// File: server/server.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine upgrades HTTP requests to WebSocket connections, reads frames on a
// goroutine per connection and rebroadcasts every text message to all open
// connections, sender included.

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/momentics/hioload-broadcast/adapters"
	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/control"
	"github.com/momentics/hioload-broadcast/internal/transport"
	"github.com/momentics/hioload-broadcast/protocol"
	"github.com/momentics/hioload-broadcast/registry"
	"github.com/momentics/hioload-broadcast/relay"
)

const tracerName = "github.com/momentics/hioload-broadcast/server"

// Engine is an http.Handler serving the broadcast protocol.
type Engine struct {
	cfg        *Config
	log        *zap.Logger
	reg        *registry.Registry
	ctrl       *adapters.ControlAdapter
	handler    api.Handler
	middleware []adapters.Middleware
	relay      relay.Relay
	tp         trace.TracerProvider
	tracer     trace.Tracer
	listenCfg  transport.ListenConfig

	conns sync.WaitGroup

	mu      sync.Mutex
	addr    net.Addr
	ready   chan struct{}
	runCtx  context.Context
	closing bool
}

// ErrServerClosed is returned by Attach once Close has started.
var ErrServerClosed = errors.New("server closed")

// NewEngine builds an engine. cfg may be nil for defaults.
func NewEngine(cfg *Config, opts ...ServerOption) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:       cfg,
		log:       zap.NewNop(),
		listenCfg: transport.DefaultListenConfig(),
		ready:     make(chan struct{}),
		runCtx:    context.Background(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.ctrl == nil {
		e.ctrl = adapters.NewControlAdapter()
	}
	if e.tp == nil {
		e.tp = otel.GetTracerProvider()
	}
	e.tracer = e.tp.Tracer(tracerName)

	e.reg = registry.New(
		registry.WithMaxConns(cfg.MaxConnections),
		registry.WithLogger(e.log),
	)
	if e.handler == nil {
		e.handler = adapters.DefaultChain(e.log, e.ctrl.Metrics())
	}
	if len(e.middleware) > 0 {
		mh := adapters.NewMiddlewareHandler(e.handler)
		for _, mw := range e.middleware {
			mh.Use(mw)
		}
		e.handler = mh
	}
	e.ctrl.RegisterDebugProbe("registry.len", func() any { return e.reg.Len() })
	return e
}

// Registry exposes the set of open connections.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Stats returns metrics counters and debug probe output.
func (e *Engine) Stats() map[string]any { return e.ctrl.Stats() }

// ServeHTTP answers plain requests with a status line and upgrades WebSocket requests.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !protocol.IsUpgradeRequest(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, StatusBody)
		return
	}

	key, err := protocol.ValidateUpgrade(r, e.cfg.StrictVersion)
	if err != nil {
		e.ctrl.Metrics().Inc(control.MetricHandshakeErrors)
		e.log.Warn("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit := e.cfg.MaxConnections; limit > 0 && e.reg.Len() >= limit {
		e.ctrl.Metrics().Inc(control.MetricConnsRejected)
		e.log.Warn("connection limit reached", zap.String("remote", r.RemoteAddr), zap.Int("limit", limit))
		http.Error(w, registry.ErrRegistryFull.Error(), http.StatusServiceUnavailable)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		e.log.Error("response writer does not support hijacking")
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		e.log.Error("hijack failed", zap.Error(err))
		return
	}
	if err := protocol.WriteHandshakeResponse(netConn, protocol.ComputeAcceptKey(key)); err != nil {
		e.log.Warn("handshake write failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		_ = netConn.Close()
		return
	}

	tr := transport.NewConnTransport(netConn, brw.Reader, e.cfg.ReadBuffer, e.cfg.WriteTimeout)
	if _, err := e.Attach(tr); err != nil {
		e.log.Warn("connection not registered", zap.String("remote", r.RemoteAddr), zap.Error(err))
	}
}

// Attach registers an upgraded transport and starts its read loop.
// On error the transport has already been closed.
func (e *Engine) Attach(t api.Transport) (*registry.Conn, error) {
	c := registry.NewConn(t)
	c.MarkOpen()
	if err := e.reg.Add(c); err != nil {
		e.ctrl.Metrics().Inc(control.MetricConnsRejected)
		_ = c.Send(protocol.EncodeCloseFrame(protocol.CloseTryAgainLater))
		_ = c.Close()
		return nil, err
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		_ = c.Send(protocol.EncodeCloseFrame(protocol.CloseGoingAway))
		e.closeConn(c, "server shutting down")
		return nil, ErrServerClosed
	}
	e.conns.Add(1)
	e.mu.Unlock()

	e.ctrl.Metrics().Inc(control.MetricConnsAccepted)
	e.ctrl.Metrics().Set(control.MetricConnsActive, int64(e.reg.Len()))
	e.log.Info("connection opened", zap.String("conn", c.ID()), zap.String("remote", c.RemoteAddr()))

	go e.serveConn(c)
	return c, nil
}

// serveConn is the read loop of one connection. Whatever ends it, the
// connection is closed on the way out and no other connection is affected.
func (e *Engine) serveConn(c *registry.Conn) {
	reason := "peer closed"
	defer e.conns.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("connection goroutine panic recovered",
				zap.String("conn", c.ID()), zap.Any("panic", r), zap.Stack("stack"))
			reason = "panic"
		}
		e.closeConn(c, reason)
	}()

	parser := protocol.NewFrameParser(e.cfg.MaxPayload)
	for {
		chunk, err := c.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, api.ErrConnClosed), errors.Is(err, api.ErrTransportClosed):
				reason = "closed locally"
			default:
				reason = "read error"
				e.log.Debug("read failed", zap.String("conn", c.ID()), zap.Error(err))
			}
			return
		}
		// Frames completed ahead of a bad header are still handled, in order.
		ferr := parser.Feed(chunk)
		for {
			f, ok := parser.Next()
			if !ok {
				break
			}
			if !e.handleFrame(c, f) {
				reason = "close frame"
				if f.Opcode != protocol.OpClose {
					reason = "unsupported frame"
				}
				return
			}
		}
		if ferr != nil {
			reason = "decode error"
			e.decodeFailed(c, ferr)
			code := protocol.CloseProtocolError
			if errors.Is(ferr, protocol.ErrPayloadTooLarge) {
				code = protocol.CloseMessageTooBig
			}
			_ = c.Send(protocol.EncodeCloseFrame(uint16(code)))
			return
		}
	}
}

// handleFrame acts on one frame and reports whether the connection stays open.
func (e *Engine) handleFrame(c *registry.Conn, f *protocol.Frame) bool {
	e.ctrl.Metrics().Inc(control.MetricFramesReceived)

	switch {
	case f.Opcode == protocol.OpClose:
		code := protocol.CloseCode(f.Payload)
		e.log.Debug("close frame received", zap.String("conn", c.ID()), zap.Uint16("code", code))
		reply := uint16(protocol.CloseNormalClosure)
		if protocol.SendableCloseCode(code) {
			reply = code
		}
		_ = c.Send(protocol.EncodeCloseFrame(reply))
		return false

	case f.Opcode == protocol.OpText && f.Fin:
		msg := &api.Message{ConnID: c.ID(), Payload: f.Payload}
		if err := e.handler.Handle(msg); err != nil {
			var ce *api.MessageContentError
			if errors.As(err, &ce) {
				e.log.Warn("invalid message content", zap.String("conn", c.ID()), zap.Error(err))
			} else {
				e.log.Error("message handler failed", zap.String("conn", c.ID()), zap.Error(err))
			}
		}
		e.Broadcast(e.context(), f.Payload)
		e.publish(f.Payload)
		return true

	case f.Opcode == protocol.OpText:
		e.decodeFailed(c, api.NewFrameDecodeError("fragmented text message"))
		_ = c.Send(protocol.EncodeCloseFrame(protocol.CloseUnsupportedData))
		return false

	default:
		e.decodeFailed(c, api.NewFrameDecodeError("unsupported opcode %s", f.Opcode))
		_ = c.Send(protocol.EncodeCloseFrame(protocol.CloseUnsupportedData))
		return false
	}
}

func (e *Engine) decodeFailed(c *registry.Conn, err error) {
	e.ctrl.Metrics().Inc(control.MetricDecodeErrors)
	e.log.Warn("frame decode failed", zap.String("conn", c.ID()), zap.Error(err))
}

// closeConn removes c from the registry and releases it. Safe to call more than once.
func (e *Engine) closeConn(c *registry.Conn, reason string) {
	removed := e.reg.Remove(c)
	if err := c.Close(); err != nil {
		e.log.Debug("close failed", zap.String("conn", c.ID()), zap.Error(err))
	}
	if removed {
		e.ctrl.Metrics().Set(control.MetricConnsActive, int64(e.reg.Len()))
		e.log.Info("connection closed", zap.String("conn", c.ID()), zap.String("reason", reason))
	}
}

// Broadcast sends payload as one text frame to every open connection and
// returns how many writes succeeded. A failed write closes only that connection.
func (e *Engine) Broadcast(ctx context.Context, payload []byte) int {
	_, span := e.tracer.Start(ctx, "broadcast",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("message.bytes", len(payload))),
	)
	defer span.End()

	frame := protocol.EncodeTextFrame(payload)
	delivered, failed := 0, 0
	e.reg.ForEach(func(c *registry.Conn) {
		if err := c.Send(frame); err != nil {
			failed++
			e.log.Debug("broadcast write failed", zap.String("conn", c.ID()), zap.Error(err))
			e.closeConn(c, "write failed")
			return
		}
		delivered++
	})

	m := e.ctrl.Metrics()
	m.Inc(control.MetricMessagesBroadcast)
	m.Add(control.MetricDeliveries, int64(delivered))
	m.Add(control.MetricDeliveryFailures, int64(failed))

	span.SetAttributes(
		attribute.Int("broadcast.delivered", delivered),
		attribute.Int("broadcast.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "some deliveries failed")
	}
	return delivered
}

// publish forwards a locally received message to the relay, if any.
func (e *Engine) publish(payload []byte) {
	if e.relay == nil {
		return
	}
	if err := e.relay.Publish(e.context(), payload); err != nil {
		e.log.Warn("relay publish failed", zap.Error(err))
		return
	}
	e.ctrl.Metrics().Inc(control.MetricRelayPublished)
}

// fromRelay broadcasts a message published by another instance. It is not
// re-published.
func (e *Engine) fromRelay(payload []byte) {
	e.ctrl.Metrics().Inc(control.MetricRelayReceived)
	e.Broadcast(e.context(), payload)
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}

// Close sends a going-away CLOSE to every connection, closes them and waits
// for their read loops to finish. The goodbye phase is bounded by
// ShutdownTimeout; closing the transports cuts short any write still pending.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	e.sayGoodbye(protocol.EncodeCloseFrame(protocol.CloseGoingAway))
	if n := e.reg.CloseAll(); n > 0 {
		e.ctrl.Metrics().Set(control.MetricConnsActive, int64(e.reg.Len()))
		e.log.Info("connections closed on shutdown", zap.Int("count", n))
	}
	e.conns.Wait()
	e.ctrl.UnregisterDebugProbe("registry.len")
}

// sayGoodbye offers frame to every connection concurrently. A connection that
// is in the middle of another write is skipped.
func (e *Engine) sayGoodbye(frame []byte) {
	var wg sync.WaitGroup
	e.reg.ForEach(func(c *registry.Conn) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.TrySend(frame)
		}()
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(e.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.log.Warn("going-away frames not delivered in time", zap.Duration("timeout", e.cfg.ShutdownTimeout))
	}
}

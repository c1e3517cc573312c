// File: server/run.go
// Package server implements listener startup, relay subscription and
// graceful shutdown for the Engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-broadcast/internal/transport"
)

// ErrAlreadyRunning is returned when Run or Serve is called twice.
var ErrAlreadyRunning = errors.New("server already running")

// Run listens on cfg.Addr and serves until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ln, err := transport.Listen(ctx, e.cfg.Addr, e.listenCfg)
	if err != nil {
		return err
	}
	return e.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then shuts down: stop accepting,
// close every connection, wait for their goroutines. ln is closed on return.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	e.mu.Lock()
	if e.addr != nil {
		e.mu.Unlock()
		_ = ln.Close()
		return ErrAlreadyRunning
	}
	e.addr = ln.Addr()
	e.runCtx = ctx
	close(e.ready)
	e.mu.Unlock()

	srv := &http.Server{
		Handler:           e,
		ReadHeaderTimeout: e.cfg.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(e.log.Named("http")),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		e.log.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	if e.relay != nil {
		g.Go(func() error {
			if err := e.relay.Subscribe(gctx, e.fromRelay); err != nil {
				return fmt.Errorf("relay: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		e.log.Info("server shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		// Hijacked connections are not tracked by http.Server.
		e.Close()
		if e.relay != nil {
			if cerr := e.relay.Close(); cerr != nil {
				e.log.Debug("relay close failed", zap.Error(cerr))
			}
		}
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Ready is closed once the engine is listening.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Addr is the bound listener address, or nil before Serve.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

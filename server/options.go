// File: server/options.go
// Package server defines functional options for the Engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/momentics/hioload-broadcast/adapters"
	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/internal/transport"
	"github.com/momentics/hioload-broadcast/relay"
)

// ServerOption customizes engine initialization.
type ServerOption func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) ServerOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithHandler replaces the default message chain. The handler observes each
// text message before it is broadcast; its error is logged, never fatal.
func WithHandler(h api.Handler) ServerOption {
	return func(e *Engine) {
		e.handler = h
	}
}

// WithMiddleware wraps the message handler, first one outermost.
func WithMiddleware(mw ...adapters.Middleware) ServerOption {
	return func(e *Engine) {
		e.middleware = append(e.middleware, mw...)
	}
}

// WithRelay fans broadcasts out to other instances.
func WithRelay(r relay.Relay) ServerOption {
	return func(e *Engine) {
		e.relay = r
	}
}

// WithTracerProvider sets where broadcast spans go. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) ServerOption {
	return func(e *Engine) {
		e.tp = tp
	}
}

// WithControl shares a metrics/probe bundle with the caller.
func WithControl(c *adapters.ControlAdapter) ServerOption {
	return func(e *Engine) {
		e.ctrl = c
	}
}

// WithListenConfig overrides listener socket options used by Run.
func WithListenConfig(lc transport.ListenConfig) ServerOption {
	return func(e *Engine) {
		e.listenCfg = lc
	}
}

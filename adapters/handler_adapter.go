// File: adapters/handler_adapter.go
// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Message handler chain with logging, recovery and metrics middleware.

package adapters

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-broadcast/api"
	"github.com/momentics/hioload-broadcast/control"
)

// MetricHandled counts messages that went through a MetricsMiddleware.
const MetricHandled = "handler.processed"

// Middleware wraps a handler with extra behaviour.
type Middleware func(api.Handler) api.Handler

// MiddlewareHandler wraps a base Handler and applies middleware in chain.
// The first middleware added is the outermost.
type MiddlewareHandler struct {
	handler    api.Handler
	middleware []Middleware
	chain      api.Handler
}

// NewMiddlewareHandler creates a new MiddlewareHandler for the given base handler.
func NewMiddlewareHandler(handler api.Handler) *MiddlewareHandler {
	return &MiddlewareHandler{handler: handler, chain: handler}
}

// Use appends a middleware to the chain. Not safe to call once Handle is in use.
func (m *MiddlewareHandler) Use(mw Middleware) *MiddlewareHandler {
	m.middleware = append(m.middleware, mw)
	h := m.handler
	for i := len(m.middleware) - 1; i >= 0; i-- {
		h = m.middleware[i](h)
	}
	m.chain = h
	return m
}

// Handle runs msg through the chain.
func (m *MiddlewareHandler) Handle(msg *api.Message) error {
	return m.chain.Handle(msg)
}

// LoggingMiddleware traces each message and its outcome at debug level.
// Handler errors are still returned; reporting them is the caller's job.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next api.Handler) api.Handler {
		return api.HandlerFunc(func(msg *api.Message) error {
			log.Debug("handling message", zap.String("conn", msg.ConnID), zap.Int("bytes", len(msg.Payload)))
			err := next.Handle(msg)
			if err != nil {
				log.Debug("message handler failed", zap.String("conn", msg.ConnID), zap.Error(err))
			}
			return err
		})
	}
}

// RecoveryMiddleware turns a panic in the handler into an error.
func RecoveryMiddleware(log *zap.Logger) Middleware {
	return func(next api.Handler) api.Handler {
		return api.HandlerFunc(func(msg *api.Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered", zap.String("conn", msg.ConnID), zap.Any("panic", r))
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next.Handle(msg)
		})
	}
}

// MetricsMiddleware counts handled messages and content errors.
func MetricsMiddleware(m *control.MetricsRegistry) Middleware {
	return func(next api.Handler) api.Handler {
		return api.HandlerFunc(func(msg *api.Message) error {
			m.Inc(MetricHandled)
			err := next.Handle(msg)
			var ce *api.MessageContentError
			if errors.As(err, &ce) {
				m.Inc(control.MetricContentErrors)
			}
			return err
		})
	}
}

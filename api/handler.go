// File: api/handler.go
// Package api defines Handler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler observes decoded text messages before they are broadcast.
// A returned error is logged by the engine and never closes the connection.
type Handler interface {
	Handle(msg *Message) error
}

// HandlerFunc converts a function into a Handler.
type HandlerFunc func(msg *Message) error

// Handle calls the underlying function.
func (f HandlerFunc) Handle(msg *Message) error {
	return f(msg)
}

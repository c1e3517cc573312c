// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by the protocol, registry and server packages.
// Every per-connection error is isolated to that connection.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrTransportClosed = errors.New("transport is closed")
	ErrConnClosed      = errors.New("connection is closed")
)

// HandshakeError rejects an upgrade request. The connection never reaches OPEN.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake: %s: %v", e.Reason, e.Err)
	}
	return "handshake: " + e.Reason
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// FrameDecodeError marks a malformed, truncated or unsupported frame.
// The engine closes the offending connection when it sees one.
type FrameDecodeError struct {
	Reason string
	Err    error
}

func (e *FrameDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("frame decode: %s: %v", e.Reason, e.Err)
	}
	return "frame decode: " + e.Reason
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }

// NewFrameDecodeError builds a FrameDecodeError from a format string.
func NewFrameDecodeError(format string, args ...any) *FrameDecodeError {
	return &FrameDecodeError{Reason: fmt.Sprintf(format, args...)}
}

// MessageContentError reports a text payload that is not the expected structured content.
// It is logged and otherwise ignored; the message is still broadcast.
type MessageContentError struct {
	ConnID string
	Err    error
}

func (e *MessageContentError) Error() string {
	return fmt.Sprintf("message content from %s: %v", e.ConnID, e.Err)
}

func (e *MessageContentError) Unwrap() error { return e.Err }

// TransportError wraps a read or write failure on one connection.
type TransportError struct {
	Op  string // "read" or "write"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsFrameDecodeError reports whether err carries a FrameDecodeError.
func IsFrameDecodeError(err error) bool {
	var fe *FrameDecodeError
	return errors.As(err, &fe)
}

// IsHandshakeError reports whether err carries a HandshakeError.
func IsHandshakeError(err error) bool {
	var he *HandshakeError
	return errors.As(err, &he)
}

// IsTransportError reports whether err carries a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

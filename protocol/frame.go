// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame model and masking.

package protocol

import "fmt"

// Opcode is the 4-bit frame type tag.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

// Frame is one decoded WebSocket frame. Payload is already unmasked and
// does not alias the buffer it was decoded from.
type Frame struct {
	Fin        bool
	Opcode     Opcode
	Masked     bool
	PayloadLen uint64
	MaskKey    [4]byte // zero unless Masked
	Payload    []byte
}

// MaskBytes XORs b in place with key, starting at key position 0.
// Applying it twice with the same key restores the original bytes.
func MaskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

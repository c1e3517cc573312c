// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations.

package api

// ConnState enumerates the lifecycle of a peer connection.
// The only transitions are Handshaking -> Open -> Closed.
type ConnState int32

const (
	StateHandshaking ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one decoded text payload together with the connection it came from.
type Message struct {
	ConnID  string
	Payload []byte
}
